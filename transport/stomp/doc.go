// Package stomp encodes and decodes the handful of STOMP text frames used by
// the live-feedback socket.
//
// Only four frame kinds are supported:
//   - CONNECT: sent once, first, carrying the bearer token
//   - SUBSCRIBE: sent once, right after CONNECT, for a room's feedback topic
//   - SEND: one per outgoing vote, with a JSON CreateFeedback body
//   - MESSAGE: inbound; decoded only when it carries a FeedbackChanged body
//
// Every outgoing frame is terminated by a NUL byte. The package performs no
// I/O; callers write the rendered strings as websocket text messages.
//
// Decoding is deliberately lenient. The socket also carries receipts,
// heartbeats and other housekeeping traffic, so ParseFeedback reports
// "not ours" with a false result instead of an error.
package stomp
