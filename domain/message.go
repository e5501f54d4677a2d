// Package domain contains core concepts of the chat system.
// This file defines chat events and related rules.
// Events are immutable once created and validated by the domain.
package domain

import (
	"cmp"
	"fmt"
	"peer-chat/errors"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindAudio    Kind = "audio"
	KindSystem   Kind = "system"
	KindReaction Kind = "reaction"
)

func (k Kind) Valid() bool {
	switch k {
	case KindText, KindImage, KindAudio, KindSystem, KindReaction:
		return true
	}
	return false
}

// IsTextual reports whether the payload of this kind is UTF-8 text.
func (k Kind) IsTextual() bool {
	return k == KindText || k == KindSystem || k == KindReaction
}

// EventID is unique across all replicas: a participant never reuses a seq.
type EventID struct {
	Participant ParticipantID `json:"participant"`
	Seq         uint64        `json:"seq"`
}

func (id EventID) String() string {
	return fmt.Sprintf("%s/%d", id.Participant, id.Seq)
}

func (id EventID) IsZero() bool {
	return id.Participant == "" && id.Seq == 0
}

// ParseEventID reads the form produced by EventID.String.
func ParseEventID(s string) (EventID, error) {
	i := strings.LastIndexByte(s, '/')
	if i <= 0 || i == len(s)-1 {
		return EventID{}, fmt.Errorf("%w: malformed event id %q", errors.ErrInvalidInput, s)
	}
	seq, err := strconv.ParseUint(s[i+1:], 10, 64)
	if err != nil || seq == 0 {
		return EventID{}, fmt.Errorf("%w: malformed event seq %q", errors.ErrInvalidInput, s)
	}
	return EventID{Participant: ParticipantID(s[:i]), Seq: seq}, nil
}

// ChatEvent represents an immutable chat event.
// Timestamp is the author's wall clock and never takes part in ordering.
type ChatEvent struct {
	ID        EventID   `json:"id"`
	Lamport   uint64    `json:"lamport"`
	Kind      Kind      `json:"kind"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
	Payload   []byte    `json:"payload,omitempty"`
	MIME      string    `json:"mime,omitempty"`
	Target    *EventID  `json:"target,omitempty"`
}

// Draft carries what a local author decides; the log assigns the rest.
type Draft struct {
	Kind    Kind
	Author  string
	Payload []byte
	MIME    string
	Target  *EventID
}

// CompareEvents is the total order shared by every replica:
// Lamport first, participant id as tie-breaker, seq last.
func CompareEvents(a, b ChatEvent) int {
	if c := cmp.Compare(a.Lamport, b.Lamport); c != 0 {
		return c
	}
	if c := cmp.Compare(a.ID.Participant, b.ID.Participant); c != 0 {
		return c
	}
	return cmp.Compare(a.ID.Seq, b.ID.Seq)
}

func (e ChatEvent) Less(other ChatEvent) bool {
	return CompareEvents(e, other) < 0
}

// Text returns the payload as a string for textual kinds.
func (e ChatEvent) Text() string {
	if !e.Kind.IsTextual() {
		return ""
	}
	return string(e.Payload)
}

// Clone copies the payload so the result shares no memory with e.
func (e ChatEvent) Clone() ChatEvent {
	out := e
	if e.Payload != nil {
		out.Payload = append([]byte(nil), e.Payload...)
	}
	if e.Target != nil {
		target := *e.Target
		out.Target = &target
	}
	return out
}

// Validate checks the structural rules every replica enforces before merging.
func (e ChatEvent) Validate() error {
	switch {
	case e.ID.Participant == "":
		return fmt.Errorf("%w: missing participant", errors.ErrInvalidEvent)
	case e.ID.Seq == 0:
		return fmt.Errorf("%w: seq must start at 1", errors.ErrInvalidEvent)
	case e.Lamport == 0:
		return fmt.Errorf("%w: lamport must start at 1", errors.ErrInvalidEvent)
	case !e.Kind.Valid():
		return fmt.Errorf("%w: unknown kind %q", errors.ErrInvalidEvent, e.Kind)
	case e.Kind == KindReaction && (e.Target == nil || e.Target.IsZero()):
		return fmt.Errorf("%w: reaction without target", errors.ErrInvalidEvent)
	case e.Kind.IsTextual() && !utf8.Valid(e.Payload):
		return fmt.Errorf("%w: payload is not valid UTF-8", errors.ErrInvalidEvent)
	}
	return nil
}
