// Package ws implements the WebSocket hub for casewatch.
//
// Hub manages a set of connected clients and broadcasts the current derived
// tables to all of them on a configurable interval, so dashboard renderers
// get fresh incremental counts without polling.
//
// New(store, interval) creates a Hub.
// Hub.Run(ctx) starts the broadcast ticker — blocks until ctx is cancelled,
// then closes all active connections.
// Hub.ServeHTTP upgrades an HTTP connection to WebSocket, sends the current
// tables immediately on connect, then streams updates on each tick.
//
// Message format sent to clients:
//
//	{
//	  "event": "tables",
//	  "data":  { /* same schema as GET /api/v1/snapshot */ }
//	}
//
// The upgrader accepts all origins. Apply CORS restrictions at the reverse
// proxy level. The WebSocket endpoint is mounted at /ws by the server.
package ws
