package event

import (
	"log/slog"
	"time"
)

// LatencyHandler measures how long merged events took to reach us,
// based on the author's advisory timestamp.
type LatencyHandler struct {
	log              *slog.Logger
	counter          *Counter
	latencyThreshold time.Duration
}

func NewLatencyHandler(log *slog.Logger, counter *Counter, latencyThreshold time.Duration) *LatencyHandler {
	return &LatencyHandler{log: log, counter: counter, latencyThreshold: latencyThreshold}
}

func (h *LatencyHandler) Handle(e Event) {
	payload, ok := e.Payload.(EventsMerged)
	if !ok {
		return
	}
	h.counter.Add(EventsMergedType, uint64(payload.Count))
	leadTime := e.CreatedAt.Sub(payload.Oldest)

	h.log.Debug("telemetry: merge latency",
		"room", payload.Room,
		"from", payload.From.Short(),
		"count", payload.Count,
		"lead_time_ms", leadTime.Milliseconds(),
	)

	// Anti-entropy replays old events on purpose, only live batches are worth a warning.
	if payload.Count == 1 && leadTime > h.latencyThreshold {
		h.log.Warn("high latency detected", "from", payload.From.Short(), "lead_time", leadTime)
	}
}
