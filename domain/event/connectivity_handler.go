package event

import (
	"log/slog"
	"peer-chat/errors"
)

// ConnectivityHandler reports degraded rooms and transport failures.
// Neither is fatal: the session keeps serving the peers it can reach.
type ConnectivityHandler struct {
	log     *slog.Logger
	counter *Counter
}

func NewConnectivityHandler(log *slog.Logger, counter *Counter) *ConnectivityHandler {
	return &ConnectivityHandler{log: log, counter: counter}
}

func (h *ConnectivityHandler) Handle(event Event) {
	switch event.Type {
	case ConnectivityDegradedType:
		payload, ok := event.Payload.(ConnectivityDegraded)
		if !ok {
			h.log.Error(errors.ErrInvalidPayload.Error())
			return
		}
		h.counter.Increment(ConnectivityDegradedType)
		h.log.Warn("Connectivity degraded",
			"room", payload.Room,
			"unreachable", len(payload.Unreachable),
			"connected", payload.Connected,
			"error", payload.Err,
		)
	case TransportFailureType:
		payload, ok := event.Payload.(TransportFailure)
		if !ok {
			h.log.Error(errors.ErrInvalidPayload.Error())
			return
		}
		h.counter.Increment(TransportFailureType)
		h.log.Warn("Transport failure", "room", payload.Room, "peer", payload.Peer.Short(), "op", payload.Op, "error", payload.Err)
	}
}
