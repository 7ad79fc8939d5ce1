// ABOUTME: Package documentation for the operational HTTP and gRPC surface.
// ABOUTME: Health, readiness and dispatcher statistics.

// Package server exposes the bot's operational endpoints.
//
// HTTP:
//   - GET /health - Liveness check
//   - GET /health/ready - Ready once at least one session is connected
//   - GET /stats - Dispatcher statistics as JSON
//
// gRPC:
//   - grpc.health.v1.Health, serving while the bot is ready
package server
