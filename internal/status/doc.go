// Package status serves a small JSON API for inspecting and driving a running
// node, and provides the HTTP client the peerlink CLI uses against it.
//
// Endpoints:
//   - GET  /api/status    node summary
//   - GET  /api/peers     live registry contents
//   - GET  /api/sessions  live sessions
//   - POST /api/connect   {"address": "host:port"}
//   - POST /api/send      {"peer": "...", "kind": "text", "body": "..."}
//   - GET  /metrics       prometheus exposition
//
// Failures are reported with a non-2xx status and a body of the form
// {"error": "..."}.
package status
