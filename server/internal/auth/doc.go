// Package auth provides authentication middleware for the presencewatch
// server.
//
// APIKeyMiddleware(mode, header, key) returns a gorilla/mux middleware that
// validates the API key from the named HTTP header. When mode != "apikey" or
// key == "", every request passes through, which suits local development.
package auth
