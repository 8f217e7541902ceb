// Package websocket relays live feedback to local viewers over WebSocket.
//
// The package implements:
//   - Room-aware viewer connections (?room=<code>)
//   - Fan-out of every live snapshot to the viewers of its room
//   - Votes sent by viewers, forwarded to a per-connection VoteFunc
//   - Connection lifecycle management with ping/pong keep-alive
//
// Architecture:
//
// The package uses a hub-and-spoke model where a central Hub owns the
// registry of viewers. Registration, removal and broadcasts are serialized
// through the hub's event loop; each viewer runs a read pump and a write pump.
//
// Message Protocol:
//
// Messages are JSON-encoded:
//   - Outgoing: {"room":"12345678","event":"feedback","feedback":{...},"votes":10}
//   - Outgoing: {"room":"12345678","event":"joined","viewer":"<uuid>"}
//   - Outgoing: {"room":"12345678","event":"vote_accepted","vote":"good"}
//   - Outgoing: {"room":"12345678","event":"error","error":"..."}
//   - Incoming: {"vote":"good"} (names, letters a-d, case-insensitive)
//
// Usage:
//
//	hub := websocket.NewHub(websocket.HubConfig{Metrics: m})
//	go hub.Run(ctx)
//
//	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
//		room := r.URL.Query().Get("room")
//		hub.ServeWS(w, r, room, func(v feedback.Value) error {
//			return svc.Vote(context.Background(), room, v)
//		})
//	})
//
// Viewers whose send buffer fills up are dropped rather than slowing down
// the hub.
package websocket
