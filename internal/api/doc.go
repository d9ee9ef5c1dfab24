// Package api implements the HTTP API and WebSocket server for cmdbroker.
//
// This package provides:
//   - Queue endpoints: POST /command, GET /next-command,
//     POST /complete/{id}, GET /queue-status
//   - Inspection endpoints for single commands, stats and history
//   - WebSocket hub pushing command lifecycle events to subscribers
//   - Optional bearer authentication with role-based permissions
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - A background sweeper applying the retention policy between requests
//
// Every JSON response carries a "status" field: "success", "no_command"
// or "error". Error bodies add a human-readable "message".
//
// # Security
//
// With security.auth.enabled, every route except /health requires an HS256
// bearer token. WebSocket connections use single-use tickets so the token
// never appears in a URL.
package api
