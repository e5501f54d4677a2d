//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"peer-chat/domain"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	if named, ok := w.(interface{ GetName() WorkerName }); ok && named.GetName() != "" {
		return string(named.GetName())
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink consumes chat events after they entered the local log.
type EventSink interface {
	Consume(ctx context.Context, e domain.ChatEvent) error
}

// Transport joins rooms. Implementations are safe for concurrent use.
type Transport interface {
	Join(ctx context.Context, room string, self domain.PeerInfo) (Link, error)
}

// Link is the handle on one joined room.
// Events delivers peer lifecycle changes and received frames in arrival order.
type Link interface {
	Broadcast(ctx context.Context, frame domain.Frame) error
	SendTo(ctx context.Context, peer domain.ParticipantID, frame domain.Frame) error
	Events() <-chan domain.LinkEvent
	Close() error
}

// Rendezvous only helps peers of a room find each other. No chat payload goes through it.
type Rendezvous interface {
	Announce(ctx context.Context, room string, self domain.PeerInfo) error
	Discover(ctx context.Context, room string) (<-chan domain.PeerInfo, error)
	Withdraw(ctx context.Context, room string, self domain.ParticipantID) error
}
