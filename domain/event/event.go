// Package event carries the status signals a session emits besides chat events:
// peer lifecycle, connectivity, merges and supervision.
package event

import (
	"peer-chat/domain"
	"time"
)

type Type string

const (
	PeerStateChangedType     Type = "PEER_STATE_CHANGED"
	ConnectivityDegradedType Type = "CONNECTIVITY_DEGRADED"
	TransportFailureType     Type = "TRANSPORT_FAILURE"
	EventsMergedType         Type = "EVENTS_MERGED"
	RestartedAfterPanicType  Type = "WORKER_RESTARTED_AFTER_PANIC"
)

type Event struct {
	Type      Type
	CreatedAt time.Time
	Payload   any
}

func New(t Type, payload any) Event {
	return Event{Type: t, CreatedAt: time.Now().UTC(), Payload: payload}
}

type PeerStateChanged struct {
	Room     string
	Peer     domain.PeerInfo
	Previous domain.PeerState
	Current  domain.PeerState
	Err      error
}

// ConnectivityDegraded is raised when at least one expected peer is unreachable.
// The session keeps running with whoever is connected.
type ConnectivityDegraded struct {
	Room        string
	Unreachable []domain.ParticipantID
	Connected   int
	Err         error
}

type TransportFailure struct {
	Room string
	Peer domain.ParticipantID
	Op   string
	Err  error
}

type EventsMerged struct {
	Room    string
	From    domain.ParticipantID
	Count   int
	Oldest  time.Time
	Version domain.VersionVector
}

type WorkerRestartedAfterPanic struct {
	WorkerName string
}
