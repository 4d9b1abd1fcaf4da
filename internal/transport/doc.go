// Package transport defines the frame-level contract between the stream
// loop and a concrete streaming connection (see transport/websocket).
package transport
