package peersync

import "errors"

var (
	ErrTransportUnavailable = errors.New("transport unavailable")
	ErrRequestTimedOut      = errors.New("request timed out")
	ErrInvalidPairing       = errors.New("invalid pairing payload")
	ErrFrameTooLarge        = errors.New("message frame too large")

	// ErrMalformedMessage is returned by Conn.Receive for a frame that is not
	// a message. The connection stays usable.
	ErrMalformedMessage = errors.New("malformed message")

	errAlreadyConnected = errors.New("already connected")
	errEngineClosed     = errors.New("engine closed")
)

// PeerError is an error message sent by the other side
type PeerError struct {
	Message string
}

func (e *PeerError) Error() string {
	return "peer error: " + e.Message
}
