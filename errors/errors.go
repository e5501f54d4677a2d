package errors

import "fmt"

var (
	ErrInvalidInput         = fmt.Errorf("invalid input")
	ErrCapacityExceeded     = fmt.Errorf("capacity exceeded")
	ErrConnectivityDegraded = fmt.Errorf("connectivity degraded")
	ErrTransportFailure     = fmt.Errorf("transport failure")

	ErrInvalidEvent     = fmt.Errorf("invalid event")
	ErrInvalidPayload   = fmt.Errorf("invalid payload")
	ErrUnsupportedMedia = fmt.Errorf("unsupported media type")
	ErrLogClosed        = fmt.Errorf("event log closed")

	ErrNotStarted     = fmt.Errorf("session not started")
	ErrAlreadyStarted = fmt.Errorf("session already started")
	ErrSessionStopped = fmt.Errorf("session stopped")

	ErrPeerUnknown           = fmt.Errorf("peer unknown")
	ErrRendezvousUnavailable = fmt.Errorf("rendezvous unavailable")
	ErrLinkClosed            = fmt.Errorf("link closed")

	ErrWorkerPanic = fmt.Errorf("worker panic")
)
