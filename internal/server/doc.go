// Package server provides the MCP server context, the OAuth handshake
// HTTP surface, and the operational endpoints of the terminly application.
//
// # Key Components
//
// ServerContext carries the shared dependencies (state signer, credential
// manager, scheduler, provider registry) and coordinates shutdown.
//
// ConnectHandler serves the calendar connect handshake:
//   - GET /calendar/{provider}/auth-url issues a signed state and consent URL
//   - GET /calendar/{provider}/callback completes the code exchange and
//     notifies the opening frontend window via postMessage
//   - DELETE /calendar/{provider} disconnects a location
//
// HTTPServer is the public listener for the streamable-http transport:
// it mounts the MCP endpoint on /mcp next to the connect handshake and
// the health probes.
//
// HealthChecker exposes /healthz and /readyz for Kubernetes probes, and
// MetricsServer serves Prometheus metrics on a dedicated port so
// operational data stays off the public listener.
package server
