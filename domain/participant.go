// Package domain contains core concepts of the chat system.
// This file defines Participant entities and related invariants.
// No runtime, network, or UI logic should be added here.
package domain

import (
	"strings"

	"github.com/google/uuid"
)

// ParticipantID identifies one replica for the lifetime of a session.
// A fresh id is drawn each time a session starts.
type ParticipantID string

func NewParticipantID() ParticipantID {
	return ParticipantID(uuid.NewString())
}

func (p ParticipantID) String() string { return string(p) }

// Short is the first block of the id, enough to tell peers apart in logs.
func (p ParticipantID) Short() string {
	s := string(p)
	if i := strings.IndexByte(s, '-'); i > 0 {
		return s[:i]
	}
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// PeerInfo is what a participant advertises through rendezvous.
type PeerInfo struct {
	ID       ParticipantID `json:"id"`
	Nickname string        `json:"nickname,omitempty"`
	Addr     string        `json:"addr,omitempty"`
}
