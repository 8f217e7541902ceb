// Package mcp provides a Model Context Protocol server for live room feedback.
//
// The server is a thin proxy: every tool call becomes a request against the
// local REST API started by the serve command, so stdio agents and the
// HTTP /mcp endpoint see the same rooms and live streams.
//
// MCP Tools:
//   - room_info: resolve a room code
//   - feedback: current tally, rendered as one bar per rank
//   - room_stats: room activity counters
//   - vote: cast a vote (very_good, good, bad, very_bad or a-d)
//   - watch_room: keep a live stream open for a room
//   - list_watches: rooms with an open stream
//
// Usage:
//
//	client := mcp.NewClient("http://localhost:8080")
//	server.ServeStdio(client.GetMCPServer())
package mcp
