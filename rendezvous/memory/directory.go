// Package memory is a rendezvous directory living in the current process.
package memory

import (
	"context"
	"fmt"
	"peer-chat/domain"
	"peer-chat/errors"
	"slices"
	"strings"
	"sync"

	"github.com/samber/lo"
)

const watchBuffer = 64

type watcher struct {
	ch   chan domain.PeerInfo
	done <-chan struct{}
}

// Directory keeps room members and notifies watchers of every announcement.
type Directory struct {
	mu       sync.Mutex
	rooms    map[string]map[domain.ParticipantID]domain.PeerInfo
	watchers map[string][]*watcher
}

func NewDirectory() *Directory {
	return &Directory{
		rooms:    make(map[string]map[domain.ParticipantID]domain.PeerInfo),
		watchers: make(map[string][]*watcher),
	}
}

func (d *Directory) Announce(ctx context.Context, room string, self domain.PeerInfo) error {
	if strings.TrimSpace(room) == "" || self.ID == "" {
		return fmt.Errorf("%w: room and participant are required", errors.ErrInvalidInput)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.rooms[room]; !ok {
		d.rooms[room] = make(map[domain.ParticipantID]domain.PeerInfo)
	}
	d.rooms[room][self.ID] = self
	for _, w := range d.watchers[room] {
		w.push(self)
	}
	return nil
}

// Discover streams current members first, then every later announcement,
// until ctx ends.
func (d *Directory) Discover(ctx context.Context, room string) (<-chan domain.PeerInfo, error) {
	w := &watcher{ch: make(chan domain.PeerInfo, watchBuffer), done: ctx.Done()}

	d.mu.Lock()
	members := lo.Values(d.rooms[room])
	slices.SortFunc(members, func(a, b domain.PeerInfo) int { return strings.Compare(string(a.ID), string(b.ID)) })
	for _, m := range members {
		w.push(m)
	}
	d.watchers[room] = append(d.watchers[room], w)
	d.mu.Unlock()

	go func() {
		<-ctx.Done()
		d.mu.Lock()
		defer d.mu.Unlock()
		d.watchers[room] = lo.Without(d.watchers[room], w)
		if len(d.watchers[room]) == 0 {
			delete(d.watchers, room)
		}
		close(w.ch)
	}()
	return w.ch, nil
}

func (d *Directory) Withdraw(ctx context.Context, room string, self domain.ParticipantID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if members, ok := d.rooms[room]; ok {
		delete(members, self)
		if len(members) == 0 {
			delete(d.rooms, room)
		}
	}
	return nil
}

// Members lists who is currently announced in a room.
func (d *Directory) Members(room string) []domain.PeerInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return lo.Values(d.rooms[room])
}

// push is called with the directory lock held, so it never blocks.
func (w *watcher) push(info domain.PeerInfo) {
	select {
	case <-w.done:
	case w.ch <- info:
	default:
	}
}
