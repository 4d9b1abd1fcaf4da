// Package pipeline runs the push stream's connection loop.
//
// One Loop owns one connection for its whole life:
//
//	Connecting -> Reading -> Terminated
//
// Frames are handled strictly one at a time in arrival order. Text frames are
// decoded into envelopes, resolved into notification requests and handed to
// the Sink synchronously. Binary and ping frames are discarded, pongs are
// logged, and a close frame or read error ends the loop. A failed connect is
// terminal as well: the loop never reconnects.
package pipeline
