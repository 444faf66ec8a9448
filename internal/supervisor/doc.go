/*
Package supervisor owns the lifecycle of sandbox sessions.

A Session launches one sandbox context, binds an RPC endpoint to it, waits
for the context's ready signal, loads the third-party script and hands the
script a write capability into the session's receiver. States move strictly
forward:

	created -> loading -> ready -> rendering -> terminated

Any failure, including loss of the channel, moves the session to terminated:
the endpoint is closed, the context destroyed, the tree cleared and the
renderer shows the session fallback. Terminate is idempotent.

Manager keeps sessions keyed by ULID session ids.
*/
package supervisor
