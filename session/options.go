package session

import (
	"peer-chat/contract"
	"peer-chat/domain"
	"peer-chat/domain/event"
	"time"
)

const (
	defaultAntiEntropyInterval = 10 * time.Second
	defaultSyncBatchSize       = 256
	defaultSyncBatchBytes      = 32<<20 - domain.FrameWireOverhead
	defaultMaxPayloadBytes     = 8 << 20
	defaultSinkTimeout         = 2 * time.Second
	defaultTaskBuffer          = 64
)

type options struct {
	participantID       domain.ParticipantID
	now                 func() time.Time
	sinks               []contract.EventSink
	handlers            []event.Handler
	antiEntropyInterval time.Duration
	syncBatchSize       int
	syncBatchBytes      int
	maxPayloadBytes     int
	sinkTimeout         time.Duration
	restartInterval     time.Duration
	announceJoin        bool
}

func defaultOptions() options {
	return options{
		now:                 func() time.Time { return time.Now().UTC() },
		antiEntropyInterval: defaultAntiEntropyInterval,
		syncBatchSize:       defaultSyncBatchSize,
		syncBatchBytes:      defaultSyncBatchBytes,
		maxPayloadBytes:     defaultMaxPayloadBytes,
		sinkTimeout:         defaultSinkTimeout,
	}
}

type Option func(*options)

// WithParticipantID fixes the replica id instead of drawing a random one.
func WithParticipantID(id domain.ParticipantID) Option {
	return func(o *options) { o.participantID = id }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithSinks registers consumers fed with every event entering the log.
func WithSinks(sinks ...contract.EventSink) Option {
	return func(o *options) { o.sinks = append(o.sinks, sinks...) }
}

// WithStatusHandlers registers handlers for status signals.
func WithStatusHandlers(handlers ...event.Handler) Option {
	return func(o *options) { o.handlers = append(o.handlers, handlers...) }
}

// WithAntiEntropyInterval sets the period of sync rounds; zero disables them.
func WithAntiEntropyInterval(interval time.Duration) Option {
	return func(o *options) { o.antiEntropyInterval = interval }
}

func WithSyncBatchSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.syncBatchSize = size
		}
	}
}

// WithSyncBatchBytes bounds the encoded size of the events of one sync reply.
// It must leave room for the frame envelope under the transport's frame limit.
func WithSyncBatchBytes(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.syncBatchBytes = size
		}
	}
}

func WithMaxPayloadBytes(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.maxPayloadBytes = size
		}
	}
}

func WithSinkTimeout(timeout time.Duration) Option {
	return func(o *options) { o.sinkTimeout = timeout }
}

func WithRestartInterval(interval time.Duration) Option {
	return func(o *options) { o.restartInterval = interval }
}

// WithJoinAnnouncement appends a system event "<nickname> joined the room" on start.
func WithJoinAnnouncement(enabled bool) Option {
	return func(o *options) { o.announceJoin = enabled }
}
