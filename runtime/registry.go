package runtime

import (
	"peer-chat/domain"
	"slices"
	"sync"

	"github.com/samber/lo"
)

// Registry keeps who is in which room and the endpoint reaching them.
// A participant may sit in several rooms with a distinct endpoint each.
type Registry[S any] struct {
	mu          sync.RWMutex
	roomMembers map[string]map[domain.ParticipantID]S
}

func NewRegistry[S any]() *Registry[S] {
	return &Registry[S]{roomMembers: make(map[string]map[domain.ParticipantID]S)}
}

// Subscribe registers a participant's endpoint in a room.
// If the room does not yet exist in the registry, it is initialized on the fly.
func (r *Registry[S]) Subscribe(participantID domain.ParticipantID, room string, sink S) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.roomMembers[room]; !ok {
		r.roomMembers[room] = make(map[domain.ParticipantID]S)
	}
	r.roomMembers[room][participantID] = sink
}

// Unsubscribe removes a participant from a room.
// No empty room is left behind.
func (r *Registry[S]) Unsubscribe(participantID domain.ParticipantID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if members, ok := r.roomMembers[room]; ok {
		delete(members, participantID)
		if len(members) == 0 {
			delete(r.roomMembers, room)
		}
	}
}

// Get returns the endpoint of a participant in a room.
func (r *Registry[S]) Get(participantID domain.ParticipantID, room string) (S, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sink, ok := r.roomMembers[room][participantID]
	return sink, ok
}

// Members lists the participants of a room in a stable order.
func (r *Registry[S]) Members(room string) []domain.ParticipantID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := lo.Keys(r.roomMembers[room])
	slices.Sort(members)
	return members
}

// GetSinksForRoom retrieves the endpoints of every member of a room, except the one given.
// Returns nil if the room doesn't exist or has no other member.
func (r *Registry[S]) GetSinksForRoom(room string, except domain.ParticipantID) []S {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sinks []S
	for participantID, sink := range r.roomMembers[room] {
		if participantID != except {
			sinks = append(sinks, sink)
		}
	}
	return sinks
}

func (r *Registry[S]) Rooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.roomMembers)
}
