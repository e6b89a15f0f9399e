// Package app loads the node configuration and wires the core components into
// a running peerlink node.
//
// New builds the dependency graph from a Config: logging backend, identity,
// registry, connection manager, discovery beacon, message service and status
// API. App.Start brings the node up; a discovery bind failure degrades to
// manual connections only. App.Stop tears everything down in reverse order.
package app
