package search

import (
	"context"
	"log/slog"
	"peer-chat/domain"
	query "peer-chat/domain/search"
	"testing"

	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func newIndex(t *testing.T) *Index {
	t.Helper()
	index, err := NewIndex(logs.GetLoggerFromLevel(slog.LevelDebug))
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })
	return index
}

func indexed(t *testing.T, index *Index, events ...domain.ChatEvent) {
	t.Helper()
	for _, e := range events {
		require.NoError(t, index.Consume(context.Background(), e))
	}
}

func textEvent(participant domain.ParticipantID, seq, lamport uint64, author, text string) domain.ChatEvent {
	return domain.ChatEvent{
		ID:      domain.EventID{Participant: participant, Seq: seq},
		Lamport: lamport,
		Kind:    domain.KindText,
		Author:  author,
		Payload: []byte(text),
	}
}

func hitIDs(hits []Hit) []domain.EventID {
	return lo.Map(hits, func(h Hit, _ int) domain.EventID { return h.ID })
}

func TestIndex_FindsTextByTerms(t *testing.T) {
	req := require.New(t)
	index := newIndex(t)
	lunch := textEvent("alice", 1, 1, "Alice", "Lunch at noon?")
	deploy := textEvent("bob", 1, 2, "Bob", "deploy is done")
	later := textEvent("bob", 2, 3, "Bob", "lunch works for me")
	indexed(t, index, lunch, deploy, later)

	// When searching a word present twice
	hits, err := index.Search(context.Background(), query.NewSearchQuery("/search lunch"))

	// Then both hits come back, newest first, case insensitive
	req.NoError(err)
	req.Equal([]domain.EventID{later.ID, lunch.ID}, hitIDs(hits))
	req.Equal("Bob", hits[0].Author)
	req.Equal("lunch works for me", hits[0].Content)
	req.Equal(uint64(3), hits[0].Lamport)
}

func TestIndex_FiltersByAuthorAndLimit(t *testing.T) {
	req := require.New(t)
	index := newIndex(t)
	indexed(t, index,
		textEvent("alice", 1, 1, "Alice", "status update one"),
		textEvent("bob", 1, 2, "Bob", "status update two"),
		textEvent("alice", 2, 3, "Alice", "status update three"),
	)

	hits, err := index.Search(context.Background(), query.NewSearchQuery("/search status --author alice"))
	req.NoError(err)
	req.Len(hits, 2)
	req.True(lo.EveryBy(hits, func(h Hit) bool { return h.Author == "Alice" }))

	hits, err = index.Search(context.Background(), query.NewSearchQuery("/search --author Bob"))
	req.NoError(err)
	req.Len(hits, 1)

	hits, err = index.Search(context.Background(), query.NewSearchQuery("/search status --limit 1"))
	req.NoError(err)
	req.Len(hits, 1)
	req.Equal(uint64(3), hits[0].Lamport)
}

func TestIndex_SkipsNonTextAndDuplicates(t *testing.T) {
	req := require.New(t)
	index := newIndex(t)
	msg := textEvent("alice", 1, 1, "Alice", "hello")
	reaction := textEvent("bob", 1, 2, "Bob", "hello")
	reaction.Kind = domain.KindReaction
	reaction.Target = &msg.ID
	image := domain.ChatEvent{ID: domain.EventID{Participant: "bob", Seq: 2}, Lamport: 3, Kind: domain.KindImage, Payload: []byte{0x89, 'P', 'N', 'G'}}

	// The same event consumed twice, plus a reaction and an image
	indexed(t, index, msg, msg, reaction, image)

	hits, err := index.Search(context.Background(), query.NewSearchQuery("/search"))
	req.NoError(err)
	req.Equal([]domain.EventID{msg.ID}, hitIDs(hits))
}
