// Package ws provides the host's WebSocket endpoints.
//
// Live view (GET /sessions/:id/live):
//
// Server → Client:
//   - render: {"type":"render","version":3,"html":"..."} after every change
//   - result: reply to an event, echoing its "ref"
//   - error: reply to a failed event or a malformed message
//   - terminated: the session ended; the server closes the connection
//   - pong: reply to ping
//
// Client → Server:
//   - event: {"type":"event","ref":"1","node_id":"btn","prop":"onPress","args":[]}
//   - ping
//
// Sandbox attach (GET /sandbox/attach?script_url=...):
//
// A remote worker started with "remoteui sandbox --connect" dials this
// endpoint. The connection becomes the session's channel and the session
// lives as long as the socket does.
package ws
