package runtime

import (
	"peer-chat/domain"
	"testing"

	"github.com/stretchr/testify/require"
)

type endpoint struct {
	name string
}

func TestRegistry_Subscribe_One_Room_One_Participant(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry[endpoint]()
	alice := domain.NewParticipantID()
	sink := endpoint{name: "alice"}

	// Given no room exists
	req.Zero(registry.Rooms())

	// When a participant subscribes a room
	registry.Subscribe(alice, "lobby", sink)

	// Then
	req.Equal(1, registry.Rooms())
	req.Equal([]domain.ParticipantID{alice}, registry.Members("lobby"))
	got, ok := registry.Get(alice, "lobby")
	req.True(ok)
	req.Equal(sink, got)
	req.Empty(registry.GetSinksForRoom("lobby", alice))
}

func TestRegistry_Subscribe_One_Room_Multiple_Participants(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry[endpoint]()

	// Given alice and bob in the lobby
	registry.Subscribe("alice", "lobby", endpoint{name: "alice"})
	registry.Subscribe("bob", "lobby", endpoint{name: "bob"})

	// Then each one sees the other only
	req.Equal([]endpoint{{name: "bob"}}, registry.GetSinksForRoom("lobby", "alice"))
	req.Equal([]endpoint{{name: "alice"}}, registry.GetSinksForRoom("lobby", "bob"))
	req.Equal([]domain.ParticipantID{"alice", "bob"}, registry.Members("lobby"))
}

func TestRegistry_Same_Participant_Two_Rooms(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry[endpoint]()

	registry.Subscribe("alice", "lobby", endpoint{name: "alice@lobby"})
	registry.Subscribe("alice", "dev", endpoint{name: "alice@dev"})

	got, _ := registry.Get("alice", "dev")
	req.Equal("alice@dev", got.name)
	req.Equal(2, registry.Rooms())
}

func TestRegistry_Unsubscribe_Removes_Empty_Room(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry[endpoint]()
	registry.Subscribe("alice", "lobby", endpoint{name: "alice"})
	registry.Subscribe("bob", "lobby", endpoint{name: "bob"})

	// When both leave
	registry.Unsubscribe("alice", "lobby")
	req.Equal([]domain.ParticipantID{"bob"}, registry.Members("lobby"))
	registry.Unsubscribe("bob", "lobby")

	// Then no room is left behind
	req.Zero(registry.Rooms())
	_, ok := registry.Get("bob", "lobby")
	req.False(ok)

	// And unsubscribing again is harmless
	registry.Unsubscribe("bob", "lobby")
}
