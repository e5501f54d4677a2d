package main

import (
	"bytes"
	"context"
	"log/slog"
	"peer-chat/domain"
	"peer-chat/domain/event"
	"peer-chat/projection"
	"peer-chat/repositories"
	"peer-chat/search"
	"peer-chat/session"
	"peer-chat/sink"
	"peer-chat/transport/memory"
	"strings"
	"testing"

	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	cli      *commands
	chat     *session.Session
	out      *bytes.Buffer
	timeline *projection.Timeline
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	color.Disable()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	db, err := repositories.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	page := 2
	archive := repositories.NewEventRepository(db, log, &page)

	index, err := search.NewIndex(log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })

	timeline := projection.NewTimeline()
	counter := event.NewCounter()
	chat := session.New(log, memory.NewNetwork(log),
		session.WithParticipantID("alice"),
		session.WithAntiEntropyInterval(0),
		session.WithSinks(sink.NewArchiveSink(archive, "lobby", log), index, timeline),
		session.WithStatusHandlers(event.NewPeerStateHandler(log, counter)),
	)
	require.NoError(t, chat.Start(context.Background(), "lobby", "Alice"))
	t.Cleanup(func() { _ = chat.Stop() })

	out := &bytes.Buffer{}
	return fixture{
		cli:      newCommands(chat, archive, index, timeline, counter, out),
		chat:     chat,
		out:      out,
		timeline: timeline,
	}
}

func TestCommands_PlainTextIsSent(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)

	quit := f.cli.handle(context.Background(), "  hello room  ")

	req.False(quit)
	events := f.chat.CurrentMessages()
	req.Len(events, 1)
	req.Equal("hello room", events[0].Text())
	req.Empty(f.out.String())
}

func TestCommands_ReactAndTimeline(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()

	f.cli.handle(ctx, "ship it?")
	f.cli.handle(ctx, "/react alice/1 🚀")
	f.cli.handle(ctx, "/timeline")

	req.Len(f.chat.CurrentMessages(), 2)
	req.Contains(f.out.String(), "ship it?")
	req.Contains(f.out.String(), "[🚀 x1]")

	f.out.Reset()
	f.cli.handle(ctx, "/react nonsense 🚀")
	req.Contains(f.out.String(), "malformed event id")
}

func TestCommands_HistoryPagesBackwards(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	for _, text := range []string{"m1", "m2", "m3"} {
		f.cli.handle(ctx, text)
	}

	f.cli.handle(ctx, "/history")
	first := f.out.String()
	req.True(strings.Index(first, "m2") < strings.Index(first, "m3"))
	req.NotContains(first, "m1")

	f.out.Reset()
	f.cli.handle(ctx, "/history")
	req.Contains(f.out.String(), "m1")

	f.out.Reset()
	f.cli.handle(ctx, "/history")
	req.Contains(f.out.String(), "start of the room")
}

func TestCommands_SearchPeersDebugAndQuit(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	ctx := context.Background()
	f.cli.handle(ctx, "lunch at noon")
	f.cli.handle(ctx, "deploy done")

	f.cli.handle(ctx, "/search lunch")
	req.Contains(f.out.String(), "lunch at noon")
	req.NotContains(f.out.String(), "deploy done")

	f.out.Reset()
	f.cli.handle(ctx, "/peers")
	req.Contains(strings.ToUpper(f.out.String()), "NICKNAME")

	f.out.Reset()
	f.cli.handle(ctx, "/debug")
	req.Contains(f.out.String(), "alice")

	f.out.Reset()
	f.cli.handle(ctx, "/dance")
	req.Contains(f.out.String(), "unknown command")

	req.True(f.cli.handle(ctx, "/quit"))
}

func TestFormatEvent(t *testing.T) {
	req := require.New(t)
	color.Disable()
	target := domain.EventID{Participant: "alice", Seq: 1}

	req.Contains(formatEvent(domain.ChatEvent{ID: target, Kind: domain.KindText, Author: "Alice", Payload: []byte("hi")}), "<Alice> hi alice/1")
	req.Contains(formatEvent(domain.ChatEvent{Kind: domain.KindReaction, Author: "Bob", Payload: []byte("👍"), Target: &target}), "Bob reacted 👍 to alice/1")
	req.Contains(formatEvent(domain.ChatEvent{Kind: domain.KindImage, Author: "Bob", MIME: "image/png", Payload: make([]byte, 4)}), "[image image/png, 4 bytes]")
}
