package pipeline

import (
	"errors"
	"strconv"
)

// ErrClosed marks a loop that ended because the server sent a close frame.
var ErrClosed = errors.New("stream closed by server")

// ConnectError reports that the stream could not be established.
type ConnectError struct {
	URL string
	Err error
}

func (e *ConnectError) Error() string { return "connect " + e.URL + ": " + e.Err.Error() }

func (e *ConnectError) Unwrap() error { return e.Err }

// Reason says why an established stream ended.
type Reason string

const (
	ReasonClosed    Reason = "closed"
	ReasonReadError Reason = "read_error"
)

// TerminatedError reports the end of the Reading state.
type TerminatedError struct {
	Reason    Reason
	CloseCode int    // ReasonClosed only
	CloseText string // ReasonClosed only
	Err       error
}

func (e *TerminatedError) Error() string {
	switch e.Reason {
	case ReasonClosed:
		s := "stream terminated: server closed (code " + strconv.Itoa(e.CloseCode)
		if e.CloseText != "" {
			s += ", " + strconv.Quote(e.CloseText)
		}
		return s + ")"
	default:
		return "stream terminated: " + string(e.Reason) + ": " + e.Err.Error()
	}
}

func (e *TerminatedError) Unwrap() error { return e.Err }
