// Package client talks to an ARSnova-style live feedback service.
//
// The package provides two core types. [Client] is unauthenticated: it holds
// the API endpoint, the HTTP transport and the websocket dialer, and its only
// service operation is [Client.GuestLogin]. A successful login returns a
// [Session], which carries the bearer token and exposes everything else:
// resolving a room code ([Session.RoomInfo]), point-in-time reads
// ([Session.Feedback], [Session.RoomStats]), the local user id
// ([Session.UserID]) and live streaming ([Session.OnFeedbackChanged],
// [Session.RegisterFeedbackReceiver]). [Session.Logout] hands the Client back
// and discards the token.
//
// Streaming:
//
// A stream owns one websocket for its whole lifetime. It sends CONNECT and
// SUBSCRIBE, then multiplexes three sources in a single select loop: frames
// from the socket reader goroutine, votes from the caller, and a fixed
// keep-alive ticker. The loop goroutine is the only writer and the reader
// goroutine the only reader, so the socket is never shared.
//
// Consumers choose one of three handler shapes:
//
//	session.OnFeedbackChanged(ctx, "12345678", client.HandleFunc(func(fb feedback.Feedback) { ... }))
//	session.OnFeedbackChanged(ctx, "12345678", client.SendTo(snapshots))
//	session.OnFeedbackChanged(ctx, "12345678", client.Exchange(snapshots, votes))
//
// A failed socket read ends the stream and is returned wrapped in
// [ErrStreamEnded]. Failed vote and keep-alive writes are logged and the
// stream carries on. There is no reconnect: start a new stream instead.
//
// Errors:
//
// Setup failures are returned as [*Error] carrying an [ErrorKind] and the
// stage that failed. Use [IsKind] to test for a kind.
package client
