// Package realtime streams export progress over WebSocket.
//
// A client connects to the configured path (default /ws/exports) with its
// API key and sends JSON messages:
//
//	{"type":"identify"}                       -> {"type":"identified","userId":"..."}
//	{"type":"subscribe","exportId":"..."}     -> {"type":"export_progress",...}
//	{"type":"unsubscribe","exportId":"..."}   -> {"type":"unsubscribed",...}
//	{"type":"ping"}                           -> {"type":"pong"}
//
// A subscription is accepted only for exports the caller may access. The
// current snapshot is sent immediately and every later change follows as an
// export_progress message:
//
//	{"type":"export_progress","exportId":"...",
//	 "progress":{"status":"generating","progress":55,"message":"..."}}
//
// Rejected requests are answered with {"type":"error","message":"..."}.
// Subscriptions end when the connection closes. A client whose send buffer
// fills up is disconnected.
package realtime
