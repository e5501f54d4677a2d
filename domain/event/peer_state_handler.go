package event

import (
	"log/slog"
	"peer-chat/domain"
	"peer-chat/errors"
)

// PeerStateHandler logs every peer transition and counts the ones reaching connected.
type PeerStateHandler struct {
	log     *slog.Logger
	counter *Counter
}

func NewPeerStateHandler(log *slog.Logger, counter *Counter) *PeerStateHandler {
	return &PeerStateHandler{log: log, counter: counter}
}

func (h *PeerStateHandler) Handle(event Event) {
	switch event.Type {
	case PeerStateChangedType:
		payload, ok := event.Payload.(PeerStateChanged)
		if !ok {
			h.log.Error(errors.ErrInvalidPayload.Error())
			return
		}
		h.counter.Increment(PeerStateChangedType)
		attrs := []any{
			"room", payload.Room,
			"peer", payload.Peer.ID.Short(),
			"nickname", payload.Peer.Nickname,
			"from", payload.Previous.String(),
			"to", payload.Current.String(),
		}
		switch payload.Current {
		case domain.PeerFailed:
			h.log.Warn("Peer unreachable", append(attrs, "error", payload.Err)...)
		case domain.PeerDisconnected:
			h.log.Info("Peer disconnected", attrs...)
		default:
			h.log.Debug("Peer state changed", attrs...)
		}
	}
}
