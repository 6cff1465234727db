// Package api defines the request and response types of the agentrelay HTTP
// API.
//
// # API Overview
//
// agentrelay exposes:
//   - Direct chat with a delegating agent (blocking, SSE and WebSocket)
//   - Workflow graph definitions and their execution as tasks
//   - Task control: cancel, pause and runtime instructions
//   - Trace and handoff audit queries
//   - Health and version endpoints; Prometheus metrics on a separate port
//
// Every JSON endpoint answers with the envelope
//
//	{"success": true, "data": {...}, "timestamp": "...", "request_id": "..."}
//
// # Caller identity
//
// When the X-User-ID header is set the server scopes workflows, tasks and
// traces to that user. Authentication itself is left to the fronting proxy.
//
// # Base URL
//
//	http://localhost:8080
//
// # Generating Documentation
//
//	swag init -g cmd/agentrelay/main.go -o api --parseDependency --parseInternal
package api
