package p2p

import (
	"context"
	"log/slog"
	"peer-chat/contract"
	"peer-chat/domain"
	"peer-chat/errors"
	rendezvous "peer-chat/rendezvous/memory"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		ListenAddr:         "127.0.0.1:0",
		NegotiationTimeout: 2 * time.Second,
		DialBackoff:        20 * time.Millisecond,
		RedialDelay:        50 * time.Millisecond,
	}
}

func newTransport(t *testing.T, dir *rendezvous.Directory, cfg Config) *Transport {
	t.Helper()
	tr := New(logs.GetLoggerFromLevel(slog.LevelDebug), cfg, dir)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

// waitFor reads link events until match accepts one.
func waitFor(t *testing.T, l contract.Link, match func(domain.LinkEvent) bool) domain.LinkEvent {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case evt := <-l.Events():
			if match(evt) {
				return evt
			}
		case <-timeout:
			require.FailNow(t, "expected link event never came")
			return nil
		}
	}
}

func stateIs(peer domain.ParticipantID, state domain.PeerState) func(domain.LinkEvent) bool {
	return func(evt domain.LinkEvent) bool {
		change, ok := evt.(domain.PeerStateChanged)
		return ok && change.Peer.ID == peer && change.State == state
	}
}

func frameOf(kind domain.FrameType) func(domain.LinkEvent) bool {
	return func(evt domain.LinkEvent) bool {
		received, ok := evt.(domain.FrameReceived)
		return ok && received.Frame.Type == kind
	}
}

func TestTransport_PeersConnectAndExchangeFrames(t *testing.T) {
	req := require.New(t)
	dir := rendezvous.NewDirectory()
	ctx := context.Background()

	// Given two nodes joining the same room through the same directory
	alice, err := newTransport(t, dir, testConfig()).Join(ctx, "lobby", domain.PeerInfo{ID: "alice", Nickname: "Alice"})
	req.NoError(err)
	bob, err := newTransport(t, dir, testConfig()).Join(ctx, "lobby", domain.PeerInfo{ID: "bob", Nickname: "Bob"})
	req.NoError(err)

	// Then both see the other connected
	waitFor(t, alice, stateIs("bob", domain.PeerConnected))
	waitFor(t, bob, stateIs("alice", domain.PeerConnected))

	// When alice broadcasts an event
	evt := domain.ChatEvent{
		ID:      domain.EventID{Participant: "alice", Seq: 1},
		Lamport: 1,
		Kind:    domain.KindText,
		Author:  "Alice",
		Payload: []byte("hello over the wire"),
	}
	req.NoError(alice.Broadcast(ctx, domain.NewEventsFrame("alice", []domain.ChatEvent{evt})))

	// Then bob receives it from alice's channel
	got := waitFor(t, bob, frameOf(domain.FrameEvents)).(domain.FrameReceived)
	req.Equal(domain.ParticipantID("alice"), got.From)
	req.Equal("hello over the wire", got.Frame.Events[0].Text())

	// When bob answers with his version on the same channel
	req.NoError(bob.SendTo(ctx, "alice", domain.NewSyncFrame("bob", domain.VersionVector{"alice": 1})))

	// Then alice gets it
	sync := waitFor(t, alice, frameOf(domain.FrameSync)).(domain.FrameReceived)
	req.Equal(uint64(1), sync.Frame.Version.Get("alice"))
}

func TestTransport_LeavingPeerDisconnects(t *testing.T) {
	req := require.New(t)
	dir := rendezvous.NewDirectory()
	ctx := context.Background()

	alice, err := newTransport(t, dir, testConfig()).Join(ctx, "lobby", domain.PeerInfo{ID: "alice"})
	req.NoError(err)
	bob, err := newTransport(t, dir, testConfig()).Join(ctx, "lobby", domain.PeerInfo{ID: "bob"})
	req.NoError(err)
	waitFor(t, alice, stateIs("bob", domain.PeerConnected))

	// When bob leaves the room
	req.NoError(bob.Close())
	req.NoError(bob.Close())

	// Then alice sees him disconnected and can no longer address him
	waitFor(t, alice, stateIs("bob", domain.PeerDisconnected))
	req.ErrorIs(alice.SendTo(ctx, "bob", domain.NewSyncFrame("alice", nil)), errors.ErrPeerUnknown)
	req.ErrorIs(bob.Broadcast(ctx, domain.NewSyncFrame("bob", nil)), errors.ErrLinkClosed)
	req.Len(dir.Members("lobby"), 1)
}

func TestTransport_UnreachablePeerFails(t *testing.T) {
	req := require.New(t)
	dir := rendezvous.NewDirectory()
	ctx := context.Background()

	// Given a member announced on an address nobody listens to
	req.NoError(dir.Announce(ctx, "lobby", domain.PeerInfo{ID: "zed", Addr: "127.0.0.1:1"}))
	cfg := testConfig()
	cfg.NegotiationTimeout = 300 * time.Millisecond

	// When alice joins, she is the one dialing
	alice, err := newTransport(t, dir, cfg).Join(ctx, "lobby", domain.PeerInfo{ID: "alice"})
	req.NoError(err)

	// Then the peer walks to failed with a transport failure
	waitFor(t, alice, stateIs("zed", domain.PeerNegotiating))
	failed := waitFor(t, alice, stateIs("zed", domain.PeerFailed)).(domain.PeerStateChanged)
	req.ErrorIs(failed.Err, errors.ErrTransportFailure)
}

func TestTransport_SilentPeerFailsOnWaitingSide(t *testing.T) {
	req := require.New(t)
	dir := rendezvous.NewDirectory()
	ctx := context.Background()

	// Given a member with a smaller id that never dials
	req.NoError(dir.Announce(ctx, "lobby", domain.PeerInfo{ID: "aaa", Addr: "127.0.0.1:1"}))
	cfg := testConfig()
	cfg.NegotiationTimeout = 200 * time.Millisecond

	bob, err := newTransport(t, dir, cfg).Join(ctx, "lobby", domain.PeerInfo{ID: "bob"})
	req.NoError(err)

	waitFor(t, bob, stateIs("aaa", domain.PeerDiscovering))
	waitFor(t, bob, stateIs("aaa", domain.PeerFailed))
}

func TestTransport_JoinTwiceSameRoomFails(t *testing.T) {
	req := require.New(t)
	tr := newTransport(t, rendezvous.NewDirectory(), testConfig())

	_, err := tr.Join(context.Background(), "lobby", domain.PeerInfo{ID: "alice"})
	req.NoError(err)
	_, err = tr.Join(context.Background(), "lobby", domain.PeerInfo{ID: "alice"})
	req.ErrorIs(err, errors.ErrTransportFailure)
	req.NotEmpty(tr.Addr())
}

func TestTransport_RoomNamesAreEscaped(t *testing.T) {
	req := require.New(t)
	dir := rendezvous.NewDirectory()
	ctx := context.Background()
	room := "team/ops #1"

	alice, err := newTransport(t, dir, testConfig()).Join(ctx, room, domain.PeerInfo{ID: "alice"})
	req.NoError(err)
	_, err = newTransport(t, dir, testConfig()).Join(ctx, room, domain.PeerInfo{ID: "bob"})
	req.NoError(err)

	waitFor(t, alice, stateIs("bob", domain.PeerConnected))
}

func TestTransport_AcceptingSideWalksTheWholeCycle(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	// Given bob listening on a directory alice is absent from
	bobDir := rendezvous.NewDirectory()
	bob, err := newTransport(t, bobDir, testConfig()).Join(ctx, "lobby", domain.PeerInfo{ID: "bob"})
	req.NoError(err)
	members := bobDir.Members("lobby")
	req.Len(members, 1)

	// When alice finds him elsewhere and dials
	aliceDir := rendezvous.NewDirectory()
	req.NoError(aliceDir.Announce(ctx, "lobby", members[0]))
	_, err = newTransport(t, aliceDir, testConfig()).Join(ctx, "lobby", domain.PeerInfo{ID: "alice"})
	req.NoError(err)

	// Then bob reports every step for alice, starting at discovering
	var states []domain.PeerState
	waitFor(t, bob, func(evt domain.LinkEvent) bool {
		change, ok := evt.(domain.PeerStateChanged)
		if !ok || change.Peer.ID != "alice" {
			return false
		}
		states = append(states, change.State)
		return change.State == domain.PeerConnected
	})
	req.Equal([]domain.PeerState{domain.PeerDiscovering, domain.PeerNegotiating, domain.PeerConnected}, states)
}
