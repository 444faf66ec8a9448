/*
Package rpc layers call, response and error semantics over a transport.Conn.

# Overview

Each side of the bridge owns one Endpoint. An Endpoint can:

  - Call a method the peer exposed and wait for its result
  - Expose local functions under a method name
  - Send and receive fire-and-forget notifications
  - Pass functions as values: a Func inside call arguments or results is
    registered in a per-endpoint table and reaches the peer as a RemoteFunc
    stub. Sending a stub back to its owner yields the original Func.

# Wire format

Frames are JSON objects encoded with sonic:

	{"k":"call","id":7,"m":"load","a":["https://cdn.example/app.js"]}
	{"k":"call","id":8,"fn":"f3","a":[{"label":"Go"}]}
	{"k":"result","id":7,"r":null}
	{"k":"error","id":8,"e":"boom"}
	{"k":"notify","m":"ready"}
	{"k":"release","fn":"f3"}

Function references are encoded as {"$fn":"f3"} (owned by the sender) or
{"$ref":"f3"} (owned by the receiver).

# Ordering

One reader goroutine routes responses as they arrive. Inbound calls and
notifications go through one dispatcher goroutine, so local handlers run one
at a time in arrival order. Responses may complete out of call order.

# Failure

Terminate, or any transport error, rejects every pending call with an error
matching ErrChannelClosed. Handler errors and panics reject only their own
call, as *CallError on the caller's side. The endpoint never retries and
never imposes a timeout; callers bound their waits with ctx.
*/
package rpc
