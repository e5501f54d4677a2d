// Package memory is an in-process transport. Every participant joined to the
// same Network reaches the others directly, unless the pair was partitioned.
// It backs tests and single-process demos with the exact semantics of a real
// mesh: best-effort delivery, per peer state changes, reconnection.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"peer-chat/contract"
	"peer-chat/domain"
	"peer-chat/errors"
	"peer-chat/runtime"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

const (
	defaultBufferSize      = 256
	defaultDeliveryTimeout = time.Second
)

type pair struct {
	a, b domain.ParticipantID
}

func newPair(a, b domain.ParticipantID) pair {
	if b < a {
		a, b = b, a
	}
	return pair{a: a, b: b}
}

type Network struct {
	log             *slog.Logger
	registry        *runtime.Registry[*link]
	bufferSize      int
	deliveryTimeout time.Duration

	mu          sync.Mutex
	partitioned mapset.Set[pair]
	unreachable mapset.Set[pair]
}

type Option func(*Network)

func WithBufferSize(size int) Option {
	return func(n *Network) { n.bufferSize = size }
}

func WithDeliveryTimeout(timeout time.Duration) Option {
	return func(n *Network) { n.deliveryTimeout = timeout }
}

func NewNetwork(log *slog.Logger, opts ...Option) *Network {
	n := &Network{
		log:             log,
		registry:        runtime.NewRegistry[*link](),
		bufferSize:      defaultBufferSize,
		deliveryTimeout: defaultDeliveryTimeout,
		partitioned:     mapset.NewSet[pair](),
		unreachable:     mapset.NewSet[pair](),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Join puts self in the room and walks every reachable member through
// discovering, negotiating and connected, on both sides.
func (n *Network) Join(ctx context.Context, room string, self domain.PeerInfo) (contract.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, exists := n.registry.Get(self.ID, room); exists {
		return nil, fmt.Errorf("%w: %s already joined %q", errors.ErrTransportFailure, self.ID.Short(), room)
	}
	l := &link{
		network: n,
		room:    room,
		self:    self,
		events:  make(chan domain.LinkEvent, n.bufferSize),
		closed:  make(chan struct{}),
	}
	others := n.registry.GetSinksForRoom(room, self.ID)
	n.registry.Subscribe(self.ID, room, l)
	n.log.Debug("Joined in-memory room", "room", room, "peer", self.ID.Short(), "members", len(others)+1)

	for _, other := range others {
		n.introduce(l, other)
	}
	return l, nil
}

// Partition cuts the channel between a and b. Both sides see the peer disconnect.
func (n *Network) Partition(room string, a, b domain.ParticipantID) {
	n.mu.Lock()
	n.partitioned.Add(newPair(a, b))
	n.mu.Unlock()

	la, okA := n.registry.Get(a, room)
	lb, okB := n.registry.Get(b, room)
	if okA && okB {
		la.deliver(domain.PeerStateChanged{Peer: lb.self, State: domain.PeerDisconnected})
		lb.deliver(domain.PeerStateChanged{Peer: la.self, State: domain.PeerDisconnected})
	}
}

// Heal restores the channel between a and b and reconnects them.
func (n *Network) Heal(room string, a, b domain.ParticipantID) {
	n.mu.Lock()
	n.partitioned.Remove(newPair(a, b))
	n.unreachable.Remove(newPair(a, b))
	n.mu.Unlock()

	la, okA := n.registry.Get(a, room)
	lb, okB := n.registry.Get(b, room)
	if okA && okB {
		n.introduce(la, lb)
	}
}

// Unreachable makes every future negotiation between a and b fail.
func (n *Network) Unreachable(a, b domain.ParticipantID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.unreachable.Add(newPair(a, b))
}

func (n *Network) connected(a, b domain.ParticipantID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	p := newPair(a, b)
	return !n.partitioned.Contains(p) && !n.unreachable.Contains(p)
}

func (n *Network) introduce(a, b *link) {
	for _, state := range []domain.PeerState{domain.PeerDiscovering, domain.PeerNegotiating} {
		a.deliver(domain.PeerStateChanged{Peer: b.self, State: state})
		b.deliver(domain.PeerStateChanged{Peer: a.self, State: state})
	}

	n.mu.Lock()
	failed := n.unreachable.Contains(newPair(a.self.ID, b.self.ID))
	if !failed {
		n.partitioned.Remove(newPair(a.self.ID, b.self.ID))
	}
	n.mu.Unlock()

	if failed {
		err := fmt.Errorf("%w: negotiation with %s failed", errors.ErrTransportFailure, b.self.ID.Short())
		a.deliver(domain.PeerStateChanged{Peer: b.self, State: domain.PeerFailed, Err: err})
		b.deliver(domain.PeerStateChanged{Peer: a.self, State: domain.PeerFailed, Err: err})
		return
	}
	a.deliver(domain.PeerStateChanged{Peer: b.self, State: domain.PeerConnected})
	b.deliver(domain.PeerStateChanged{Peer: a.self, State: domain.PeerConnected})
}

type link struct {
	network *Network
	room    string
	self    domain.PeerInfo
	events  chan domain.LinkEvent

	closeOnce sync.Once
	closed    chan struct{}
}

func (l *link) Events() <-chan domain.LinkEvent { return l.events }

func (l *link) Broadcast(ctx context.Context, frame domain.Frame) error {
	if l.isClosed() {
		return errors.ErrLinkClosed
	}
	for _, other := range l.network.registry.GetSinksForRoom(l.room, l.self.ID) {
		if !l.network.connected(l.self.ID, other.self.ID) {
			continue
		}
		other.offer(domain.FrameReceived{From: l.self.ID, Frame: copyFrame(frame)})
	}
	return nil
}

func (l *link) SendTo(ctx context.Context, peer domain.ParticipantID, frame domain.Frame) error {
	if l.isClosed() {
		return errors.ErrLinkClosed
	}
	other, ok := l.network.registry.Get(peer, l.room)
	if !ok || !l.network.connected(l.self.ID, peer) {
		return fmt.Errorf("%w: %s", errors.ErrPeerUnknown, peer.Short())
	}
	other.offer(domain.FrameReceived{From: l.self.ID, Frame: copyFrame(frame)})
	return nil
}

// Close leaves the room. The others see a disconnection.
func (l *link) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.network.registry.Unsubscribe(l.self.ID, l.room)
		for _, other := range l.network.registry.GetSinksForRoom(l.room, l.self.ID) {
			if l.network.connected(l.self.ID, other.self.ID) {
				other.deliver(domain.PeerStateChanged{Peer: l.self, State: domain.PeerDisconnected})
			}
		}
	})
	return nil
}

func (l *link) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

// offer drops the frame when the queue is full, like a congested channel would.
func (l *link) offer(evt domain.LinkEvent) {
	if l.isClosed() {
		return
	}
	select {
	case l.events <- evt:
	default:
		l.network.log.Warn("In-memory link congested, frame dropped", "room", l.room, "to", l.self.ID.Short())
	}
}

// deliver waits for room in the queue, state changes must not get lost.
func (l *link) deliver(evt domain.LinkEvent) {
	timer := time.NewTimer(l.network.deliveryTimeout)
	defer timer.Stop()
	select {
	case l.events <- evt:
	case <-l.closed:
	case <-timer.C:
		l.network.log.Warn("In-memory link stalled, state change dropped", "room", l.room, "to", l.self.ID.Short())
	}
}

func copyFrame(frame domain.Frame) domain.Frame {
	out := frame
	out.Version = frame.Version.Clone()
	out.Events = make([]domain.ChatEvent, len(frame.Events))
	for i, e := range frame.Events {
		out.Events[i] = e.Clone()
	}
	return out
}
