// Package eventlog is the replicated, append-only chat log of one participant.
//
// Every replica holds a Log. Local events are appended with the next seq of the
// owner and a fresh Lamport stamp; remote events are merged. Merge is idempotent,
// commutative and deterministic: replicas that merged the same set of events
// expose the same sequence, ordered by (Lamport, participant, seq).
//
// A Log is not safe for concurrent use. It belongs to the goroutine driving the
// session and every subscriber runs on that goroutine.
package eventlog

import (
	"fmt"
	"log/slog"
	"math"
	"peer-chat/domain"
	"peer-chat/errors"
	"slices"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/samber/lo"
)

type Subscriber func(added []domain.ChatEvent)

type Log struct {
	log   *slog.Logger
	owner domain.ParticipantID
	now   func() time.Time

	seq   uint64 // last seq handed to a local event
	clock uint64 // Lamport clock

	events  []domain.ChatEvent
	ids     mapset.Set[domain.EventID]
	version domain.VersionVector

	subscribers map[int]Subscriber
	nextSub     int
	closed      bool
}

type Option func(*Log)

// WithClock replaces the wall clock used for advisory timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

func New(log *slog.Logger, owner domain.ParticipantID, opts ...Option) *Log {
	l := &Log{
		log:         log,
		owner:       owner,
		now:         func() time.Time { return time.Now().UTC() },
		ids:         mapset.NewThreadUnsafeSet[domain.EventID](),
		version:     domain.VersionVector{},
		subscribers: make(map[int]Subscriber),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Log) Owner() domain.ParticipantID { return l.owner }

// Append creates a local event and inserts it.
func (l *Log) Append(kind domain.Kind, author string, payload []byte) (domain.ChatEvent, error) {
	return l.AppendDraft(domain.Draft{Kind: kind, Author: author, Payload: payload})
}

// AppendDraft is Append for events that need a MIME type or a reaction target.
// On error nothing is changed.
func (l *Log) AppendDraft(d domain.Draft) (domain.ChatEvent, error) {
	if l.closed {
		return domain.ChatEvent{}, errors.ErrLogClosed
	}
	if l.seq == math.MaxUint64 || l.clock == math.MaxUint64 {
		return domain.ChatEvent{}, fmt.Errorf("%w: seq=%d lamport=%d", errors.ErrCapacityExceeded, l.seq, l.clock)
	}

	evt := domain.ChatEvent{
		ID:        domain.EventID{Participant: l.owner, Seq: l.seq + 1},
		Lamport:   l.clock + 1,
		Kind:      d.Kind,
		Author:    d.Author,
		Timestamp: l.now(),
		Payload:   d.Payload,
		MIME:      d.MIME,
		Target:    d.Target,
	}
	if err := evt.Validate(); err != nil {
		return domain.ChatEvent{}, err
	}
	evt = evt.Clone()

	l.seq = evt.ID.Seq
	l.clock = evt.Lamport
	l.insert(evt)
	l.notify([]domain.ChatEvent{evt})
	return evt, nil
}

// Merge inserts the remote events not seen yet and returns them in total order.
// Invalid events are skipped. Merging what is already known returns nothing and
// notifies nobody.
func (l *Log) Merge(remote []domain.ChatEvent) []domain.ChatEvent {
	if l.closed {
		return nil
	}
	var added []domain.ChatEvent
	for _, evt := range remote {
		if l.ids.Contains(evt.ID) {
			continue
		}
		if err := evt.Validate(); err != nil {
			l.log.Warn("Skipping remote event", "id", evt.ID.String(), "error", err)
			continue
		}
		evt = evt.Clone()
		l.insert(evt)
		l.clock = max(l.clock, evt.Lamport)
		if evt.ID.Participant == l.owner {
			// Our own id came back with a seq we never issued: never reuse it.
			l.seq = max(l.seq, evt.ID.Seq)
		}
		added = append(added, evt)
	}
	if len(added) == 0 {
		return nil
	}
	slices.SortFunc(added, domain.CompareEvents)
	l.notify(added)
	return added
}

// Snapshot returns the ordered sequence. Payload bytes are shared with the log
// and must be treated as read only.
func (l *Log) Snapshot() []domain.ChatEvent {
	return slices.Clone(l.events)
}

// Missing returns the events a replica with the given version has not seen.
func (l *Log) Missing(known domain.VersionVector) []domain.ChatEvent {
	return lo.Filter(l.events, func(e domain.ChatEvent, _ int) bool {
		return !known.Covers(e.ID)
	})
}

// Version is the contiguous seen map: events above a gap are not counted, so a
// peer asked for Missing(Version()) re-sends the gap.
func (l *Log) Version() domain.VersionVector {
	return l.version.Clone()
}

func (l *Log) Get(id domain.EventID) (domain.ChatEvent, bool) {
	if !l.ids.Contains(id) {
		return domain.ChatEvent{}, false
	}
	return lo.Find(l.events, func(e domain.ChatEvent) bool { return e.ID == id })
}

func (l *Log) Contains(id domain.EventID) bool { return l.ids.Contains(id) }

func (l *Log) Len() int { return len(l.events) }

func (l *Log) Clock() uint64 { return l.clock }

// Subscribe registers fn for every non-empty change. The returned func removes it.
func (l *Log) Subscribe(fn Subscriber) func() {
	id := l.nextSub
	l.nextSub++
	l.subscribers[id] = fn
	return func() { delete(l.subscribers, id) }
}

// Close drops subscribers and makes further appends fail.
func (l *Log) Close() {
	l.closed = true
	clear(l.subscribers)
}

func (l *Log) insert(evt domain.ChatEvent) {
	i, _ := slices.BinarySearchFunc(l.events, evt, domain.CompareEvents)
	l.events = slices.Insert(l.events, i, evt)
	l.ids.Add(evt.ID)

	p := evt.ID.Participant
	for next := l.version[p] + 1; l.ids.Contains(domain.EventID{Participant: p, Seq: next}); next++ {
		l.version[p] = next
	}
}

func (l *Log) notify(added []domain.ChatEvent) {
	keys := lo.Keys(l.subscribers)
	slices.Sort(keys)
	for _, k := range keys {
		if fn, ok := l.subscribers[k]; ok {
			fn(added)
		}
	}
}
