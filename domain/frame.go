package domain

import "encoding/base64"

type FrameType string

const (
	FrameHello  FrameType = "hello"
	FrameSync   FrameType = "sync"
	FrameEvents FrameType = "events"
)

// Frame is the unit exchanged on a peer channel.
// A sync frame carries the sender's version vector, an events frame a batch of events.
type Frame struct {
	Type     FrameType     `json:"type"`
	From     ParticipantID `json:"from"`
	Room     string        `json:"room,omitempty"`
	Nickname string        `json:"nickname,omitempty"`
	Version  VersionVector `json:"version,omitempty"`
	Events   []ChatEvent   `json:"events,omitempty"`
}

func NewSyncFrame(from ParticipantID, version VersionVector) Frame {
	return Frame{Type: FrameSync, From: from, Version: version}
}

func NewEventsFrame(from ParticipantID, events []ChatEvent) Frame {
	return Frame{Type: FrameEvents, From: from, Events: events}
}

const (
	// EventWireOverhead bounds the JSON of an event besides its payload:
	// ids, author, kind, mime, timestamp and target.
	EventWireOverhead = 1 << 10
	// FrameWireOverhead bounds the envelope of a frame around its events.
	FrameWireOverhead = 4 << 10
)

// WireSize is an upper bound of the encoded size of an event carrying
// payloadBytes; the payload travels base64 encoded.
func WireSize(payloadBytes int) int {
	return base64.StdEncoding.EncodedLen(payloadBytes) + EventWireOverhead
}

func (e ChatEvent) WireSize() int { return WireSize(len(e.Payload)) }

// SplitBySize cuts events into batches of at most maxEvents events whose
// summed WireSize stays under maxBytes. A batch always holds one event,
// even one larger than maxBytes on its own.
func SplitBySize(events []ChatEvent, maxEvents, maxBytes int) [][]ChatEvent {
	var batches [][]ChatEvent
	start, size := 0, 0
	for i, e := range events {
		n := e.WireSize()
		if i > start && (i-start >= maxEvents || size+n > maxBytes) {
			batches = append(batches, events[start:i])
			start, size = i, 0
		}
		size += n
	}
	if start < len(events) {
		batches = append(batches, events[start:])
	}
	return batches
}

// LinkEvent is what a transport link queues for its session.
type LinkEvent interface {
	PeerID() ParticipantID
}

// PeerStateChanged reports a step of the per peer state machine.
type PeerStateChanged struct {
	Peer  PeerInfo
	State PeerState
	Err   error
}

func (e PeerStateChanged) PeerID() ParticipantID { return e.Peer.ID }

// FrameReceived carries a frame and the identity of the channel it came from.
type FrameReceived struct {
	From  ParticipantID
	Frame Frame
}

func (e FrameReceived) PeerID() ParticipantID { return e.From }
