// Package projection builds local timelines from observed events.
// Handles ordering, deduplication, and reactions.
// Does not emit events or interact with UI directly.
package projection

import (
	"context"
	"peer-chat/domain"
	"slices"
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Entry is one message of the timeline with the reactions it received.
type Entry struct {
	Event     domain.ChatEvent
	Reactions map[string][]string // emoji -> authors
}

// Timeline holds a simple local timeline.
// Reactions are attached by target id whatever the order they arrive in.
type Timeline struct {
	mu       sync.RWMutex
	entries  []domain.ChatEvent
	seen     map[domain.EventID]struct{}
	reaction map[domain.EventID][]domain.ChatEvent
}

func NewTimeline() *Timeline {
	return &Timeline{
		seen:     make(map[domain.EventID]struct{}),
		reaction: make(map[domain.EventID][]domain.ChatEvent),
	}
}

func (t *Timeline) Consume(_ context.Context, e domain.ChatEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.seen[e.ID]; ok {
		return nil
	}
	t.seen[e.ID] = struct{}{}

	if e.Kind == domain.KindReaction && e.Target != nil {
		t.reaction[*e.Target] = append(t.reaction[*e.Target], e)
		return nil
	}
	i := sort.Search(len(t.entries), func(i int) bool { return !t.entries[i].Less(e) })
	t.entries = slices.Insert(t.entries, i, e)
	return nil
}

// Entries returns the timeline in log order.
func (t *Timeline) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return lo.Map(t.entries, func(e domain.ChatEvent, _ int) Entry {
		return Entry{Event: e, Reactions: t.reactionsOf(e.ID)}
	})
}

// Last returns at most n entries, the most recent ones.
func (t *Timeline) Last(n int) []Entry {
	entries := t.Entries()
	if n >= 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries
}

func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Pending counts reactions whose target has not been seen yet.
func (t *Timeline) Pending() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pending := 0
	for target, reactions := range t.reaction {
		if _, ok := t.seen[target]; !ok {
			pending += len(reactions)
		}
	}
	return pending
}

func (t *Timeline) reactionsOf(id domain.EventID) map[string][]string {
	reactions := t.reaction[id]
	if len(reactions) == 0 {
		return nil
	}
	sorted := slices.Clone(reactions)
	slices.SortFunc(sorted, domain.CompareEvents)
	out := make(map[string][]string)
	for _, r := range sorted {
		emoji := r.Text()
		if !lo.Contains(out[emoji], r.Author) {
			out[emoji] = append(out[emoji], r.Author)
		}
	}
	return out
}
