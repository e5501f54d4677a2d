package memory

import (
	"context"
	"peer-chat/domain"
	"peer-chat/errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan domain.PeerInfo) domain.PeerInfo {
	t.Helper()
	select {
	case info := <-ch:
		return info
	case <-time.After(time.Second):
		require.FailNow(t, "nothing discovered")
		return domain.PeerInfo{}
	}
}

func TestDirectory_DiscoverExistingThenNewMembers(t *testing.T) {
	req := require.New(t)
	d := NewDirectory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Given alice already announced
	req.NoError(d.Announce(ctx, "lobby", domain.PeerInfo{ID: "alice", Addr: "10.0.0.1:7000"}))

	// When bob starts discovering then carol announces
	found, err := d.Discover(ctx, "lobby")
	req.NoError(err)
	req.NoError(d.Announce(ctx, "lobby", domain.PeerInfo{ID: "carol", Addr: "10.0.0.3:7000"}))

	// Then bob learns about both, in that order
	req.Equal(domain.ParticipantID("alice"), receive(t, found).ID)
	req.Equal(domain.ParticipantID("carol"), receive(t, found).ID)
}

func TestDirectory_RoomsAreKeyedByName(t *testing.T) {
	req := require.New(t)
	d := NewDirectory()
	ctx := context.Background()

	req.NoError(d.Announce(ctx, "lobby", domain.PeerInfo{ID: "alice"}))
	req.NoError(d.Announce(ctx, "dev", domain.PeerInfo{ID: "bob"}))

	req.Len(d.Members("lobby"), 1)
	req.Equal(domain.ParticipantID("bob"), d.Members("dev")[0].ID)
}

func TestDirectory_WithdrawAndClose(t *testing.T) {
	req := require.New(t)
	d := NewDirectory()
	ctx, cancel := context.WithCancel(context.Background())

	req.NoError(d.Announce(ctx, "lobby", domain.PeerInfo{ID: "alice"}))
	req.NoError(d.Withdraw(ctx, "lobby", "alice"))
	req.Empty(d.Members("lobby"))

	found, err := d.Discover(ctx, "lobby")
	req.NoError(err)
	cancel()

	// Then the discovery stream ends with the context
	select {
	case _, ok := <-found:
		req.False(ok)
	case <-time.After(time.Second):
		req.Fail("discovery stream not closed")
	}
}

func TestDirectory_AnnounceValidatesInput(t *testing.T) {
	req := require.New(t)
	d := NewDirectory()

	req.ErrorIs(d.Announce(context.Background(), " ", domain.PeerInfo{ID: "alice"}), errors.ErrInvalidInput)
	req.ErrorIs(d.Announce(context.Background(), "lobby", domain.PeerInfo{}), errors.ErrInvalidInput)
}
