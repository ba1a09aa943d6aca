// Package ws implements the WebSocket hub for the presencewatch server.
//
// Hub sends the current snapshot to each client on connect and then every
// interval, and pushes a "transition" event whenever an observation changes a
// target's presence.
//
// Message format sent to clients:
//
//	{"event": "snapshot",   "data": { /* same schema as GET /api/v1/snapshot */ }}
//	{"event": "transition", "data": {"target_id": "...", "from": "...", "to": "...", ...}}
//
// The upgrader accepts all origins. The endpoint is mounted at /ws/stream.
package ws
