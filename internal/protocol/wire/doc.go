// Package wire frames session traffic on a stream connection.
//
// Each frame is a 4-byte big-endian length followed by that many bytes. Empty
// frames and frames above MaxFrameSize are protocol errors; the caller is
// expected to drop the connection.
package wire
