package transport

import (
	"context"
	"errors"
	"strconv"
)

// ErrSourceClosed is returned by Source.Next once the connection is gone and
// every frame it produced has been delivered.
var ErrSourceClosed = errors.New("transport: source closed")

// FrameKind classifies one unit received from the stream.
type FrameKind int

const (
	FrameText FrameKind = iota + 1
	FrameBinary
	FramePing
	FramePong
	FrameClose
)

func (k FrameKind) String() string {
	switch k {
	case FrameText:
		return "text"
	case FrameBinary:
		return "binary"
	case FramePing:
		return "ping"
	case FramePong:
		return "pong"
	case FrameClose:
		return "close"
	default:
		return "unknown(" + strconv.Itoa(int(k)) + ")"
	}
}

// Frame is one discrete unit received from the streaming transport.
type Frame struct {
	Kind FrameKind
	Data []byte

	// Close frames only.
	CloseCode int
	CloseText string
}

// Source yields frames from one established connection, in arrival order.
//
// Next blocks until a frame arrives, the connection fails, or ctx is done.
// After Next returns an error, the source is unusable.
type Source interface {
	Next(ctx context.Context) (Frame, error)
	Close() error
}

// Dialer establishes streaming connections.
type Dialer interface {
	Dial(ctx context.Context, url string) (Source, error)
}
