// Package gateway wires the recorder-gateway components together and serves
// them over HTTP.
//
// # Routes
//
//	GET  /health             liveness, always "OK"
//	GET  /health/ready       200 once the audit database answers
//	GET  /metrics            Prometheus metrics (metrics.enabled)
//	POST /register           registration handshake, unauthenticated
//	POST /recording/start    signed; body is an optional filename format
//	POST /recording/stop     signed
//	POST /recording/status   signed
//
// Unknown paths get 404 {"message":"not found"}. Every error body is
// {"message": "..."}.
//
// # Listeners
//
// By default the gateway listens on 127.0.0.1:4444 and relies on loopback for
// transport security. With tailscale.enabled it joins the tailnet through
// tsnet and serves on :80, or on :443 with a tailnet certificate when
// tailscale.https is set.
//
// # Lifecycle
//
// New opens the audit database and starts the consent gate. Run blocks until
// its context is canceled, then shuts down within five seconds; registrations
// still waiting on the user are denied.
package gateway
