package sink

import (
	"context"
	"errors"
	"log/slog"
	"peer-chat/domain"
	"peer-chat/mocks"
	"testing"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestArchiveSink_StoresEventUnderRoom(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	repository := mocks.NewMockIEventRepository(ctrl)
	evt := domain.ChatEvent{ID: domain.EventID{Participant: "alice", Seq: 1}, Lamport: 1, Kind: domain.KindText}

	// Given a sink on room lobby
	archive := NewArchiveSink(repository, "lobby", logs.GetLoggerFromLevel(slog.LevelDebug))
	repository.EXPECT().StoreEvent("lobby", evt).Return(nil).Times(1)

	// When an event is consumed
	err := archive.Consume(context.Background(), evt)

	// Then it was stored
	req.NoError(err)
}

func TestArchiveSink_WrapsRepositoryError(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	repository := mocks.NewMockIEventRepository(ctrl)
	boom := errors.New("disk full")
	repository.EXPECT().StoreEvent(gomock.Any(), gomock.Any()).Return(boom)

	archive := NewArchiveSink(repository, "lobby", logs.GetLoggerFromLevel(slog.LevelDebug))
	err := archive.Consume(context.Background(), domain.ChatEvent{ID: domain.EventID{Participant: "alice", Seq: 3}})

	req.ErrorIs(err, boom)
	req.ErrorContains(err, "alice/3")
}

func TestArchiveSink_CanceledContextSkipsStore(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	repository := mocks.NewMockIEventRepository(ctrl)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewArchiveSink(repository, "lobby", logs.GetLoggerFromLevel(slog.LevelDebug)).Consume(ctx, domain.ChatEvent{})

	req.ErrorIs(err, context.Canceled)
}
