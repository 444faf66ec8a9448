/*
Package receiver holds the host's mirror of the UI tree described by
sandboxed code.

The sandbox never touches host state directly. It is handed one capability,
a function accepting a single mutation map, and every change to the tree
flows through it:

	{"op":"insert","parent_id":"root","index":0,"node":{"id":"1","type":"Card","props":{}}}
	{"op":"update","id":"1","props":{"title":"Hi","subtitle":null}}
	{"op":"move","id":"2","parent_id":"root","index":0}
	{"op":"remove","id":"1"}

Mutations are applied one at a time. Listeners observe each committed change
in order and receive views of only the affected subtrees.
*/
package receiver
