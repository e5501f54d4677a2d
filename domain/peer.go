package domain

import "time"

// PeerState follows discovering -> negotiating -> connected -> disconnected | failed.
// A rediscovered peer may go through the cycle again.
type PeerState int

const (
	PeerDiscovering PeerState = iota
	PeerNegotiating
	PeerConnected
	PeerDisconnected
	PeerFailed
)

func (s PeerState) String() string {
	switch s {
	case PeerDiscovering:
		return "discovering"
	case PeerNegotiating:
		return "negotiating"
	case PeerConnected:
		return "connected"
	case PeerDisconnected:
		return "disconnected"
	case PeerFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PeerSession is the session side view of one remote participant.
// Sent and Received are the delta exchange cursors of this channel.
type PeerSession struct {
	Peer     PeerInfo
	State    PeerState
	Since    time.Time
	LastErr  error
	Sent     VersionVector
	Received VersionVector
	Remote   VersionVector
}

func NewPeerSession(info PeerInfo, state PeerState, at time.Time) *PeerSession {
	return &PeerSession{
		Peer:     info,
		State:    state,
		Since:    at,
		Sent:     VersionVector{},
		Received: VersionVector{},
		Remote:   VersionVector{},
	}
}

// Snapshot copies the session so it can leave the session loop.
func (p *PeerSession) Snapshot() PeerSession {
	return PeerSession{
		Peer:     p.Peer,
		State:    p.State,
		Since:    p.Since,
		LastErr:  p.LastErr,
		Sent:     p.Sent.Clone(),
		Received: p.Received.Clone(),
		Remote:   p.Remote.Clone(),
	}
}

// Record advances a cursor with the ids of the given events.
func Record(cursor VersionVector, events []ChatEvent) {
	for _, e := range events {
		cursor.Observe(e.ID.Participant, e.ID.Seq)
	}
}
