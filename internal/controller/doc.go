// Package controller maps remote node types to host component
// implementations.
//
// A Registry is built once and never changes. Each Implementation pairs a
// Factory with a prop Schema and an optional custom validator. Props that
// arrive from the sandbox are validated and sanitised before an instance
// sees them; a failure affects only the offending node.
package controller
