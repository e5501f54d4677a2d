package workers

import (
	"context"
	"log/slog"
	"peer-chat/contract"
	"time"
)

// TickerWorker calls Tick at a fixed interval until its context ends.
// Used for anti-entropy rounds and presence heartbeats.
type TickerWorker struct {
	log      *slog.Logger
	name     contract.WorkerName
	interval time.Duration
	tick     func(ctx context.Context)
}

func NewTickerWorker(log *slog.Logger, name string, interval time.Duration, tick func(ctx context.Context)) *TickerWorker {
	return &TickerWorker{log: log, name: contract.WorkerName(name), interval: interval, tick: tick}
}

func (w *TickerWorker) GetName() contract.WorkerName { return w.name }

func (w *TickerWorker) Run(ctx context.Context) error {
	if w.interval <= 0 {
		w.log.Debug("Ticker disabled", "name", w.name)
		return nil
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}
