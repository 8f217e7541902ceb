// Package service provides the business logic layer of the local feedback relay.
//
// The service package implements:
//   - Room resolution with an in-memory cache of room identities
//   - Point-in-time reads of feedback and room activity
//   - One live stream per watched room, shared by every local consumer
//   - Vote fan-in from local consumers into the room's stream
//   - Snapshot fan-out to a Broadcaster (the websocket relay hub)
//
// Core Interfaces:
//
// FeedbackService is the interface the transports (REST, websocket, MCP)
// program against. Backend is what the service needs from the remote
// feedback service; SessionBackend adapts a *client.Session to it.
//
// Usage:
//
//	session, err := c.GuestLogin(ctx)
//	if err != nil {
//		return err
//	}
//
//	svc := service.NewFeedbackService(service.SessionBackend{Session: session}, service.Config{
//		Buffer:      10,
//		Broadcaster: hub,
//	})
//	defer svc.Close()
//
//	// Start streaming a room; snapshots now reach the hub
//	room, err := svc.Watch(ctx, "12345678")
//
//	// Vote through the room's stream
//	err = svc.Vote(ctx, "12345678", feedback.Good)
//
// Watches:
//
// A watch lives until Unwatch, Close, or the end of its socket. It is not
// tied to the context of the request that started it. A watch whose stream
// has ended is forgotten, and the next Watch or Vote opens a new stream.
package service
