// Package commands defines the peerlink CLI.
//
// Commands
//
//   - run          Start a node in the foreground
//   - peers        List peers discovered by a running node
//   - sessions     List a running node's sessions
//   - connect      Ask a running node to connect to host:port
//   - send         Ask a running node to send a message to a peer
//   - genconfig    Write a default config file with a fresh secret
//   - fingerprint  Print the fingerprint of the shared secret
//
// # Implementation
//
// run builds the node from the TOML config (see internal/app) with a few
// flags layered on top. The other commands that talk to a node go through its
// status API, whose address comes from --api or the config file.
package commands
