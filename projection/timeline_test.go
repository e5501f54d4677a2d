package projection

import (
	"context"
	"peer-chat/domain"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func message(participant domain.ParticipantID, seq, lamport uint64, text string) domain.ChatEvent {
	return domain.ChatEvent{
		ID:      domain.EventID{Participant: participant, Seq: seq},
		Lamport: lamport,
		Kind:    domain.KindText,
		Author:  string(participant),
		Payload: []byte(text),
	}
}

func reaction(participant domain.ParticipantID, seq, lamport uint64, emoji string, target domain.EventID) domain.ChatEvent {
	e := message(participant, seq, lamport, emoji)
	e.Kind = domain.KindReaction
	e.Target = &target
	return e
}

func consumeAll(t *testing.T, timeline *Timeline, events ...domain.ChatEvent) {
	t.Helper()
	for _, e := range events {
		require.NoError(t, timeline.Consume(context.Background(), e))
	}
}

func texts(entries []Entry) []string {
	return lo.Map(entries, func(e Entry, _ int) string { return e.Event.Text() })
}

func TestTimeline_Consume_OrdersAndDeduplicates(t *testing.T) {
	req := require.New(t)
	timeline := NewTimeline()

	// Given events arriving out of order, one of them twice
	consumeAll(t, timeline,
		message("bob", 1, 2, "second"),
		message("alice", 1, 1, "first"),
		message("bob", 1, 2, "second"),
		message("alice", 2, 2, "tie"),
	)

	// Then the timeline follows (lamport, participant)
	req.Equal([]string{"first", "tie", "second"}, texts(timeline.Entries()))
	req.Equal(3, timeline.Len())
	req.Equal([]string{"tie", "second"}, texts(timeline.Last(2)))
}

func TestTimeline_ReactionsResolvedWhateverTheOrder(t *testing.T) {
	req := require.New(t)
	target := message("alice", 1, 1, "ship it?")
	thumbs := reaction("bob", 1, 2, "👍", target.ID)
	party := reaction("carol", 1, 3, "🎉", target.ID)
	again := reaction("carol", 2, 4, "👍", target.ID)

	orders := [][]domain.ChatEvent{
		{target, thumbs, party, again},
		{again, party, thumbs, target},
		{thumbs, target, again, party},
	}
	for _, order := range orders {
		timeline := NewTimeline()
		consumeAll(t, timeline, order...)

		entries := timeline.Entries()
		req.Len(entries, 1)
		req.Equal(map[string][]string{"👍": {"bob", "carol"}, "🎉": {"carol"}}, entries[0].Reactions)
		req.Zero(timeline.Pending())
	}
}

func TestTimeline_ReactionBeforeItsTargetIsPending(t *testing.T) {
	req := require.New(t)
	timeline := NewTimeline()
	target := domain.EventID{Participant: "alice", Seq: 7}

	consumeAll(t, timeline, reaction("bob", 1, 9, "👀", target))

	req.Zero(timeline.Len())
	req.Equal(1, timeline.Pending())
}
