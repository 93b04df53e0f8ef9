// Package connection implements the market-data Feed Connection.
//
// The Feed:
//   - Authorizes with the provider and dials a single WebSocket
//   - Runs one receive loop that hands every frame, in arrival order, to a FrameHandler
//   - Sends subscribe/unsubscribe control messages serialized by the client's write lock
//   - Moves to DISCONNECTED on transport loss and never reconnects on its own
//
// Subscription bookkeeping and health fields live in session.Session.
package connection
