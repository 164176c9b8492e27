// Package server exposes a scout's state to people and tools.
//
// Two surfaces share one Server:
//
// # MCP
//
// MCP serves Model Context Protocol tools over stdio (or any go-sdk
// transport):
//   - scout_stats: counters of the live or most recent run
//   - scout_discoveries: recorded discoveries, best score first
//   - scout_discovery: one discovery by coordinate key
//   - scout_analyze: run the cascade on a local image file
//
// Tool results are JSON documents in a single text content block. Tool
// failures are reported as tool errors, never as protocol errors.
//
// # HTTP
//
// Router serves a read-only JSON status API:
//
//	GET /health
//	GET /stats
//	GET /discoveries?limit=N
//	GET /discoveries/{key}
package server
