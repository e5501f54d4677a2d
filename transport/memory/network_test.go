package memory

import (
	"context"
	"log/slog"
	"peer-chat/contract"
	"peer-chat/domain"
	"peer-chat/errors"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func join(t *testing.T, n *Network, room string, id domain.ParticipantID) contract.Link {
	t.Helper()
	l, err := n.Join(context.Background(), room, domain.PeerInfo{ID: id, Nickname: string(id)})
	require.NoError(t, err)
	return l
}

func next(t *testing.T, l contract.Link) domain.LinkEvent {
	t.Helper()
	select {
	case evt := <-l.Events():
		return evt
	case <-time.After(time.Second):
		require.FailNow(t, "no link event received")
		return nil
	}
}

func states(t *testing.T, l contract.Link, n int) []domain.PeerState {
	t.Helper()
	var out []domain.PeerState
	for range n {
		evt, ok := next(t, l).(domain.PeerStateChanged)
		require.True(t, ok)
		out = append(out, evt.State)
	}
	return out
}

var handshake = []domain.PeerState{domain.PeerDiscovering, domain.PeerNegotiating, domain.PeerConnected}

func TestNetwork_JoinConnectsBothSides(t *testing.T) {
	req := require.New(t)
	n := NewNetwork(logs.GetLoggerFromLevel(slog.LevelDebug))

	// Given alice alone in the lobby
	alice := join(t, n, "lobby", "alice")

	// When bob joins
	bob := join(t, n, "lobby", "bob")

	// Then both walk through the whole handshake
	req.Equal(handshake, states(t, alice, 3))
	req.Equal(handshake, states(t, bob, 3))
}

func TestNetwork_RoomsAreIsolated(t *testing.T) {
	req := require.New(t)
	n := NewNetwork(logs.GetLoggerFromLevel(slog.LevelDebug))

	alice := join(t, n, "lobby", "alice")
	join(t, n, "dev", "bob")

	req.NoError(alice.Broadcast(context.Background(), domain.NewSyncFrame("alice", nil)))
	select {
	case evt := <-alice.Events():
		req.Failf("unexpected event", "%#v", evt)
	case <-time.After(50 * time.Millisecond):
	}
	req.ErrorIs(alice.SendTo(context.Background(), "bob", domain.NewSyncFrame("alice", nil)), errors.ErrPeerUnknown)
}

func TestNetwork_BroadcastReachesOthersOnly(t *testing.T) {
	req := require.New(t)
	n := NewNetwork(logs.GetLoggerFromLevel(slog.LevelDebug))
	alice := join(t, n, "lobby", "alice")
	bob := join(t, n, "lobby", "bob")
	states(t, alice, 3)
	states(t, bob, 3)

	// When alice broadcasts an event
	evt := domain.ChatEvent{ID: domain.EventID{Participant: "alice", Seq: 1}, Lamport: 1, Kind: domain.KindText, Payload: []byte("hi")}
	req.NoError(alice.Broadcast(context.Background(), domain.NewEventsFrame("alice", []domain.ChatEvent{evt})))

	// Then bob receives it tagged with the channel identity
	got, ok := next(t, bob).(domain.FrameReceived)
	req.True(ok)
	req.Equal(domain.ParticipantID("alice"), got.From)
	req.Equal("hi", got.Frame.Events[0].Text())

	// And alice got nothing back
	select {
	case evt := <-alice.Events():
		req.Failf("unexpected event", "%#v", evt)
	default:
	}
}

func TestNetwork_PartitionAndHeal(t *testing.T) {
	req := require.New(t)
	n := NewNetwork(logs.GetLoggerFromLevel(slog.LevelDebug))
	alice := join(t, n, "lobby", "alice")
	bob := join(t, n, "lobby", "bob")
	states(t, alice, 3)
	states(t, bob, 3)

	// When the pair is partitioned
	n.Partition("lobby", "alice", "bob")

	// Then both see a disconnection and frames no longer pass
	req.Equal([]domain.PeerState{domain.PeerDisconnected}, states(t, alice, 1))
	req.Equal([]domain.PeerState{domain.PeerDisconnected}, states(t, bob, 1))
	req.NoError(alice.Broadcast(context.Background(), domain.NewSyncFrame("alice", nil)))
	req.ErrorIs(alice.SendTo(context.Background(), "bob", domain.NewSyncFrame("alice", nil)), errors.ErrPeerUnknown)

	// When healed
	n.Heal("lobby", "alice", "bob")

	// Then they reconnect and the next frame goes through
	req.Equal(handshake, states(t, alice, 3))
	req.Equal(handshake, states(t, bob, 3))
	req.NoError(alice.SendTo(context.Background(), "bob", domain.NewSyncFrame("alice", domain.VersionVector{"alice": 3})))
	got, ok := next(t, bob).(domain.FrameReceived)
	req.True(ok)
	req.Equal(uint64(3), got.Frame.Version.Get("alice"))
}

func TestNetwork_UnreachablePeerFails(t *testing.T) {
	req := require.New(t)
	n := NewNetwork(logs.GetLoggerFromLevel(slog.LevelDebug))
	n.Unreachable("alice", "bob")

	alice := join(t, n, "lobby", "alice")
	join(t, n, "lobby", "bob")

	got := states(t, alice, 3)
	req.Equal([]domain.PeerState{domain.PeerDiscovering, domain.PeerNegotiating, domain.PeerFailed}, got)
}

func TestNetwork_CloseDisconnectsOthers(t *testing.T) {
	req := require.New(t)
	n := NewNetwork(logs.GetLoggerFromLevel(slog.LevelDebug))
	alice := join(t, n, "lobby", "alice")
	bob := join(t, n, "lobby", "bob")
	states(t, alice, 3)
	states(t, bob, 3)

	req.NoError(bob.Close())
	req.NoError(bob.Close())

	evt, ok := next(t, alice).(domain.PeerStateChanged)
	req.True(ok)
	req.Equal(domain.PeerDisconnected, evt.State)
	req.Equal(domain.ParticipantID("bob"), evt.Peer.ID)
	req.ErrorIs(bob.Broadcast(context.Background(), domain.NewSyncFrame("bob", nil)), errors.ErrLinkClosed)

	// And bob may join again
	join(t, n, "lobby", "bob")
}

func TestNetwork_FramesAreCopied(t *testing.T) {
	req := require.New(t)
	n := NewNetwork(logs.GetLoggerFromLevel(slog.LevelDebug))
	alice := join(t, n, "lobby", "alice")
	bob := join(t, n, "lobby", "bob")
	states(t, alice, 3)
	states(t, bob, 3)

	payload := []byte("hi")
	evt := domain.ChatEvent{ID: domain.EventID{Participant: "alice", Seq: 1}, Lamport: 1, Kind: domain.KindText, Payload: payload}
	req.NoError(alice.Broadcast(context.Background(), domain.NewEventsFrame("alice", []domain.ChatEvent{evt})))
	payload[0] = 'x'

	got := next(t, bob).(domain.FrameReceived)
	req.Equal("hi", got.Frame.Events[0].Text())
}
