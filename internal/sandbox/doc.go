/*
Package sandbox runs untrusted UI scripts in an isolated context.

# Overview

A sandbox context is a goja VM reachable only through a transport.Conn. The
host never touches the VM; it drives it over RPC:

  - load(scriptUrl) fetches and evaluates the script
  - render(write) calls the script's global render(ui) function, where every
    ui method forwards one mutation to the host's write capability

The worker notifies "ready" as soon as its endpoint serves, and accepts an
advisory "init" notification from the host.

# Isolation

Contexts run either in-process on their own goroutine (InProcessLauncher),
in a child process speaking length-prefixed frames over stdio
(ProcessLauncher), or in a remote worker attached over a websocket (Attach).
In every mode only copied frames cross the boundary.

Inside the VM, require, process, module and exports are removed, timers are
inert and console output goes to the worker's logger. Each entry into the VM
is bounded by ExecTimeout.

# Script JavaScript API

	function render(ui) {
	  const card = ui.insert(ui.root, 0, {id: "1", type: "Card", props: {title: "Hi"}});
	  ui.insert(card, 0, {id: "2", type: "Button", props: {
	    label: "Go",
	    onPress: () => ui.update("2", {label: "Gone"}),
	  }});
	}

Functions inside props reach the host as callable references and run back in
this VM when the host invokes them.
*/
package sandbox
