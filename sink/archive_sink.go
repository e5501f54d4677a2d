package sink

import (
	"context"
	"fmt"
	"log/slog"
	"peer-chat/domain"
	"peer-chat/repositories"
)

// ArchiveSink keeps every event of the room in the event repository.
type ArchiveSink struct {
	repository repositories.IEventRepository
	room       string
	log        *slog.Logger
}

func NewArchiveSink(repository repositories.IEventRepository, room string, log *slog.Logger) ArchiveSink {
	return ArchiveSink{repository: repository, room: room, log: log}
}

func (a ArchiveSink) Consume(ctx context.Context, e domain.ChatEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.repository.StoreEvent(a.room, e); err != nil {
		return fmt.Errorf("archiving %s: %w", e.ID, err)
	}
	a.log.Debug("Event archived", "room", a.room, "id", e.ID.String())
	return nil
}
