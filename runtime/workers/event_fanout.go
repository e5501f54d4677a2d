package workers

import (
	"context"
	"log/slog"
	"peer-chat/contract"
	"peer-chat/domain"
	"sync"
	"time"
)

// EventFanout hands every newly merged chat event to the in-process consumers
// (archive, search index, timeline, UI printer).
//
// Delivery is synchronous and best-effort: a failing or slow sink is logged
// and skipped, it never blocks the others for longer than sinkTimeout.
// EventFanout is safe for concurrent use by multiple goroutines.
type EventFanout struct {
	log         *slog.Logger
	mu          sync.RWMutex
	sinks       []contract.EventSink
	sinkTimeout time.Duration
}

func NewEventFanout(log *slog.Logger, sinkTimeout time.Duration, sinks ...contract.EventSink) *EventFanout {
	return &EventFanout{log: log, sinkTimeout: sinkTimeout, sinks: sinks}
}

func (f *EventFanout) Add(sinks ...contract.EventSink) *EventFanout {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, sinks...)
	return f
}

func (f *EventFanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.sinks)
}

// Fanout One sink for each event, events in the given order
func (f *EventFanout) Fanout(ctx context.Context, events []domain.ChatEvent) {
	f.mu.RLock()
	sinks := f.sinks
	f.mu.RUnlock()

	for _, evt := range events {
		for _, sink := range sinks {
			f.consume(ctx, sink, evt)
		}
	}
}

func (f *EventFanout) consume(ctx context.Context, sink contract.EventSink, evt domain.ChatEvent) {
	if f.sinkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.sinkTimeout)
		defer cancel()
	}
	if err := sink.Consume(ctx, evt); err != nil {
		f.log.Warn("Sink failed to consume event",
			"sink", sinkName(sink),
			"event", evt.ID.String(),
			"error", err,
		)
	}
}

func sinkName(sink contract.EventSink) string {
	if named, ok := sink.(interface{ Name() string }); ok {
		return named.Name()
	}
	return "anonymous"
}
