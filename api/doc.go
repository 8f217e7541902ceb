// Package api provides the local HTTP REST API of the feedback relay.
//
// Endpoints:
//
// Rooms:
//   - GET /api/rooms/{code} - Resolve a room code
//   - GET /api/rooms/{code}/stats - Room activity counters
//
// Feedback:
//   - GET /api/rooms/{code}/feedback - Current tally (live if the room is watched)
//   - POST /api/rooms/{code}/vote - Submit a vote: {"value": "good"}
//
// Live streams:
//   - GET /api/watches - List watched rooms
//   - POST /api/rooms/{code}/watch - Start streaming a room
//   - DELETE /api/rooms/{code}/watch - Stop streaming a room
//
// Other:
//   - GET /api/health - Liveness
//   - GET /ws?room={code} - WebSocket relay of live snapshots
//   - GET /metrics - Prometheus exposition
//
// Usage:
//
//	server := api.NewServer(feedbackService, hub)
//	http.ListenAndServe(":8080", server)
//
// Error Handling:
//
// Errors are returned as JSON with an HTTP status derived from the failure:
// unknown rooms are 404, invalid votes 400, upstream failures 502.
//
//	{
//	  "error": "resolve room: requested room '12345678' not found"
//	}
package api
