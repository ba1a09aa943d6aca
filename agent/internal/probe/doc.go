// Package probe measures round-trip times to tracked targets.
//
// Each Prober performs one timed exchange per call and returns a Sample. A
// failed exchange is data, not an error: the Sample comes back with Err set
// and the compute engine counts it towards offline detection instead of
// feeding it to the classifier. Probe only returns an error for problems the
// next call cannot fix, such as an unparseable request.
//
// Implemented probers: http (http.go), tcp and tls handshakes (dial.go),
// blackbox-exporter style Prometheus gauges (prometheus.go) and MQTT echo
// (mqtt.go). Factory: New(config.Target, timeout).
//
// HTTP-based probers share the authRoundTripper in probe.go, which applies
// apikey, bearer, basic and mTLS settings from the target's auth block.
package probe
