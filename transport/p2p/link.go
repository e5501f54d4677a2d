package p2p

import (
	"context"
	"fmt"
	"net/url"
	"peer-chat/domain"
	"peer-chat/errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
)

type link struct {
	t    *Transport
	room string
	self domain.PeerInfo

	ctx    context.Context
	cancel context.CancelFunc
	events chan domain.LinkEvent
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	peers   map[domain.ParticipantID]*peerConn
	pending map[domain.ParticipantID]struct{}
	states  map[domain.ParticipantID]domain.PeerState

	closeOnce sync.Once
	closeErr  error
}

func newLink(t *Transport, room string, self domain.PeerInfo) *link {
	ctx, cancel := context.WithCancel(context.Background())
	return &link{
		t:       t,
		room:    room,
		self:    self,
		ctx:     ctx,
		cancel:  cancel,
		events:  make(chan domain.LinkEvent, t.cfg.EventBufferSize),
		peers:   make(map[domain.ParticipantID]*peerConn),
		pending: make(map[domain.ParticipantID]struct{}),
		states:  make(map[domain.ParticipantID]domain.PeerState),
	}
}

func (l *link) Events() <-chan domain.LinkEvent { return l.events }

func (l *link) Broadcast(ctx context.Context, frame domain.Frame) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return errors.ErrLinkClosed
	}
	peers := make([]*peerConn, 0, len(l.peers))
	for _, p := range l.peers {
		peers = append(peers, p)
	}
	l.mu.Unlock()

	for _, p := range peers {
		if !p.enqueue(frame) {
			l.t.log.Warn("Send queue full, frame dropped", "room", l.room, "peer", p.info.ID.Short(), "type", frame.Type)
		}
	}
	return nil
}

func (l *link) SendTo(ctx context.Context, peer domain.ParticipantID, frame domain.Frame) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return errors.ErrLinkClosed
	}
	p, ok := l.peers[peer]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrPeerUnknown, peer.Short())
	}
	if !p.enqueue(frame) {
		return fmt.Errorf("%w: send queue full for %s", errors.ErrTransportFailure, peer.Short())
	}
	return nil
}

// Close leaves the room: peers get a normal closure and do not try to reconnect.
func (l *link) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		peers := l.peers
		l.peers = make(map[domain.ParticipantID]*peerConn)
		l.mu.Unlock()

		l.cancel()
		for _, p := range peers {
			p.leave()
		}

		ctx, cancel := context.WithTimeout(context.Background(), l.t.cfg.WriteWait)
		defer cancel()
		if err := l.t.rendezvous.Withdraw(ctx, l.room, l.self.ID); err != nil {
			l.closeErr = fmt.Errorf("%w: %w", errors.ErrTransportFailure, err)
		}
		l.wg.Wait()
		l.t.removeLink(l)
		l.t.log.Info("Left room", "room", l.room, "peer", l.self.ID.Short())
	})
	return l.closeErr
}

// spawn runs fn in a tracked goroutine unless the link is closing.
func (l *link) spawn(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		fn()
	}()
	return true
}

func (l *link) emit(evt domain.LinkEvent) {
	select {
	case l.events <- evt:
	case <-l.ctx.Done():
	}
}

// setState emits a transition, repeated states are swallowed.
func (l *link) setState(info domain.PeerInfo, state domain.PeerState, err error) {
	l.mu.Lock()
	previous, known := l.states[info.ID]
	if known && previous == state {
		l.mu.Unlock()
		return
	}
	l.states[info.ID] = state
	l.mu.Unlock()
	l.emit(domain.PeerStateChanged{Peer: info, State: state, Err: err})
}

func (l *link) discover(found <-chan domain.PeerInfo) {
	for {
		select {
		case <-l.ctx.Done():
			return
		case info, ok := <-found:
			if !ok {
				return
			}
			l.consider(info)
		}
	}
}

// consider starts connecting to a discovered member unless a channel exists
// or a negotiation is already running.
func (l *link) consider(info domain.PeerInfo) {
	if info.ID == "" || info.ID == l.self.ID {
		return
	}
	l.mu.Lock()
	_, connected := l.peers[info.ID]
	_, negotiating := l.pending[info.ID]
	full := len(l.peers) >= l.t.cfg.MaxPeers
	if l.closed || connected || negotiating {
		l.mu.Unlock()
		return
	}
	if full {
		l.mu.Unlock()
		l.t.log.Warn("Peer limit reached, ignoring member", "room", l.room, "peer", info.ID.Short())
		return
	}
	l.pending[info.ID] = struct{}{}
	l.mu.Unlock()

	l.setState(info, domain.PeerDiscovering, nil)
	if !l.spawn(func() { l.connect(info) }) {
		l.clearPending(info.ID)
	}
}

func (l *link) clearPending(id domain.ParticipantID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.pending, id)
}

func (l *link) connect(info domain.PeerInfo) {
	defer l.clearPending(info.ID)

	if l.self.ID > info.ID {
		l.awaitInbound(info)
		return
	}

	l.setState(info, domain.PeerNegotiating, nil)
	ws, err := l.negotiate(info)
	if err != nil {
		if l.ctx.Err() == nil {
			l.setState(info, domain.PeerFailed, fmt.Errorf("%w: negotiation with %s: %v", errors.ErrTransportFailure, info.ID.Short(), err))
		}
		return
	}
	l.attach(info, ws)
}

// awaitInbound waits for the dialing side. Nothing within the negotiation
// timeout means the peer cannot reach us.
func (l *link) awaitInbound(info domain.PeerInfo) {
	timer := time.NewTimer(l.t.cfg.NegotiationTimeout)
	defer timer.Stop()
	select {
	case <-l.ctx.Done():
	case <-timer.C:
		l.mu.Lock()
		_, connected := l.peers[info.ID]
		l.mu.Unlock()
		if !connected {
			l.setState(info, domain.PeerFailed, fmt.Errorf("%w: no channel from %s", errors.ErrTransportFailure, info.ID.Short()))
		}
	}
}

// negotiate dials the peer and exchanges hellos, retrying with exponential
// backoff until the negotiation timeout.
func (l *link) negotiate(info domain.PeerInfo) (*websocket.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.t.cfg.DialBackoff
	b.MaxInterval = l.t.cfg.NegotiationTimeout / 4
	b.MaxElapsedTime = l.t.cfg.NegotiationTimeout

	var ws *websocket.Conn
	operation := func() error {
		ctx, cancel := context.WithTimeout(l.ctx, l.t.cfg.NegotiationTimeout)
		defer cancel()
		conn, err := l.handshake(ctx, info)
		if err != nil {
			return err
		}
		ws = conn
		return nil
	}
	notify := func(err error, wait time.Duration) {
		l.t.log.Debug("Negotiation attempt failed", "room", l.room, "peer", info.ID.Short(), "retry_in", wait, "error", err)
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(b, l.ctx), notify); err != nil {
		return nil, err
	}
	return ws, nil
}

func (l *link) handshake(ctx context.Context, info domain.PeerInfo) (*websocket.Conn, error) {
	u := url.URL{
		Scheme:  "ws",
		Host:    info.Addr,
		Path:    "/rooms/" + l.room + "/peers",
		RawPath: "/rooms/" + url.PathEscape(l.room) + "/peers",
	}
	ws, _, err := l.t.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	deadline, _ := ctx.Deadline()
	_ = ws.SetWriteDeadline(deadline)
	_ = ws.SetReadDeadline(deadline)

	if err = ws.WriteJSON(l.hello()); err != nil {
		_ = ws.Close()
		return nil, err
	}
	var reply domain.Frame
	if err = ws.ReadJSON(&reply); err != nil {
		_ = ws.Close()
		return nil, err
	}
	if reply.Type != domain.FrameHello || reply.From != info.ID || reply.Room != l.room {
		_ = ws.Close()
		return nil, fmt.Errorf("unexpected hello from %s for room %q", reply.From.Short(), reply.Room)
	}
	_ = ws.SetWriteDeadline(time.Time{})
	_ = ws.SetReadDeadline(time.Time{})
	return ws, nil
}

// accept runs on the listener side of a channel.
func (l *link) accept(ws *websocket.Conn, remoteAddr string) {
	ws.SetReadLimit(l.t.cfg.MaxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(l.t.cfg.NegotiationTimeout))

	var hello domain.Frame
	if err := ws.ReadJSON(&hello); err != nil {
		l.t.log.Debug("No hello received", "room", l.room, "remote", remoteAddr, "error", err)
		_ = ws.Close()
		return
	}
	if hello.Type != domain.FrameHello || hello.Room != l.room || hello.From == "" || hello.From == l.self.ID {
		l.reject(ws, "bad hello")
		return
	}
	info := domain.PeerInfo{ID: hello.From, Nickname: hello.Nickname, Addr: remoteAddr}

	l.mu.Lock()
	_, connected := l.peers[info.ID]
	full := len(l.peers) >= l.t.cfg.MaxPeers
	l.mu.Unlock()
	if connected || full {
		l.reject(ws, "already connected or room full")
		return
	}

	// The dialer may be unknown to our rendezvous, the cycle still starts at discovering.
	l.setState(info, domain.PeerDiscovering, nil)
	l.setState(info, domain.PeerNegotiating, nil)
	_ = ws.SetWriteDeadline(time.Now().Add(l.t.cfg.WriteWait))
	if err := ws.WriteJSON(l.hello()); err != nil {
		_ = ws.Close()
		l.setState(info, domain.PeerFailed, fmt.Errorf("%w: hello to %s: %v", errors.ErrTransportFailure, info.ID.Short(), err))
		return
	}
	_ = ws.SetWriteDeadline(time.Time{})
	_ = ws.SetReadDeadline(time.Time{})
	l.attach(info, ws)
}

func (l *link) reject(ws *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(l.t.cfg.WriteWait))
	_ = ws.Close()
}

func (l *link) hello() domain.Frame {
	return domain.Frame{Type: domain.FrameHello, From: l.self.ID, Room: l.room, Nickname: l.self.Nickname}
}

// attach registers an established channel and starts its pumps.
func (l *link) attach(info domain.PeerInfo, ws *websocket.Conn) {
	p := newPeerConn(l, info, ws)

	l.mu.Lock()
	if _, exists := l.peers[info.ID]; exists || l.closed {
		l.mu.Unlock()
		_ = ws.Close()
		return
	}
	l.peers[info.ID] = p
	l.mu.Unlock()

	l.setState(info, domain.PeerConnected, nil)
	if !l.spawn(p.writePump) || !l.spawn(p.readPump) {
		p.close()
	}
}

// dropPeer forgets a channel after a read error. An abnormal loss schedules
// a new connection attempt.
func (l *link) dropPeer(p *peerConn, err error) {
	l.mu.Lock()
	current, ok := l.peers[p.info.ID]
	if ok && current == p {
		delete(l.peers, p.info.ID)
	}
	closing := l.closed
	l.mu.Unlock()

	p.close()
	if !ok || current != p || closing {
		return
	}

	l.setState(p.info, domain.PeerDisconnected, err)
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return
	}
	info := p.info
	l.spawn(func() {
		select {
		case <-l.ctx.Done():
		case <-time.After(l.t.cfg.RedialDelay):
			l.consider(info)
		}
	})
}
