// Package session is the single entry point a user interface talks to.
//
// A Session owns the event log of one participant in one room. All of its
// state is driven by one goroutine, the session loop: public methods hand a
// closure to the loop and wait for it, and the transport link queues its
// network callbacks for the same loop. Subscribers, status handlers and sinks
// therefore run one at a time, on the loop, and must not call blocking
// Session methods themselves.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"peer-chat/contract"
	"peer-chat/domain"
	"peer-chat/domain/event"
	"peer-chat/errors"
	"peer-chat/eventlog"
	"peer-chat/runtime/workers"
	"slices"
	"strings"
	"sync"

	"github.com/samber/lo"
)

type lifecycle int

const (
	idle lifecycle = iota
	starting
	running
	stopped
)

type Session struct {
	log       *slog.Logger
	transport contract.Transport
	opts      options

	mu         sync.Mutex
	state      lifecycle
	self       domain.PeerInfo
	room       string
	cancel     context.CancelFunc
	done       chan struct{}
	tasks      chan func()
	supervisor *workers.Supervisor

	stopOnce sync.Once
	stopErr  error

	subMu       sync.Mutex
	subscribers map[int]func([]domain.ChatEvent)
	handlers    map[int]event.Handler
	nextSub     int

	// Owned by the session loop once started.
	loopCtx context.Context
	events  *eventlog.Log
	link    contract.Link
	peers   map[domain.ParticipantID]*domain.PeerSession
	fanout  *workers.EventFanout
}

func New(log *slog.Logger, transport contract.Transport, opts ...Option) *Session {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	s := &Session{
		log:         log,
		transport:   transport,
		opts:        o,
		subscribers: make(map[int]func([]domain.ChatEvent)),
		handlers:    make(map[int]event.Handler),
	}
	for _, h := range o.handlers {
		s.OnStatus(h)
	}
	return s
}

// Start joins room as nickname. Inputs are trimmed and validated before the
// transport is touched. A failed join leaves the session ready for another Start.
func (s *Session) Start(ctx context.Context, room, nickname string) error {
	req, err := newStartRequest(room, nickname)
	if err != nil {
		return err
	}

	s.mu.Lock()
	switch s.state {
	case starting, running:
		s.mu.Unlock()
		return errors.ErrAlreadyStarted
	case stopped:
		s.mu.Unlock()
		return errors.ErrSessionStopped
	}
	s.state = starting
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	id := s.opts.participantID
	if id == "" {
		id = domain.NewParticipantID()
	}
	s.self = domain.PeerInfo{ID: id, Nickname: req.Nickname}
	s.room = req.Room
	self := s.self
	s.mu.Unlock()

	// Stop must be able to interrupt a join in progress.
	joinCtx, joinCancel := context.WithCancel(ctx)
	stopJoin := context.AfterFunc(runCtx, joinCancel)
	link, err := s.transport.Join(joinCtx, req.Room, self)
	stopJoin()
	joinCancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stopped {
		if link != nil {
			_ = link.Close()
		}
		return errors.ErrSessionStopped
	}
	if err != nil {
		s.state = idle
		cancel()
		return fmt.Errorf("%w: join %q: %w", errors.ErrTransportFailure, req.Room, err)
	}

	s.loopCtx = runCtx
	s.link = link
	s.events = eventlog.New(s.log, id, eventlog.WithClock(s.opts.now))
	s.events.Subscribe(s.onLogChange)
	s.peers = make(map[domain.ParticipantID]*domain.PeerSession)
	s.fanout = workers.NewEventFanout(s.log, s.opts.sinkTimeout, s.opts.sinks...)
	s.tasks = make(chan func(), defaultTaskBuffer)
	s.done = make(chan struct{})
	s.supervisor = workers.NewSupervisor(s.log, s.opts.restartInterval, event.HandlerFunc(s.reportFromWorker))
	s.supervisor.Add(
		&loopWorker{session: s},
		workers.NewTickerWorker(s.log, "anti-entropy", s.opts.antiEntropyInterval, s.antiEntropyTick),
	)
	s.state = running

	if s.opts.announceJoin {
		announcement := domain.Draft{
			Kind:    domain.KindSystem,
			Author:  self.Nickname,
			Payload: []byte(fmt.Sprintf("%s joined the room", self.Nickname)),
		}
		s.tasks <- func() { s.appendLocal(announcement) }
	}

	done, supervisor := s.done, s.supervisor
	go func() {
		defer close(done)
		supervisor.Run(runCtx)
	}()
	s.log.Info("Session started", "room", req.Room, "nickname", req.Nickname, "participant", id.Short())
	return nil
}

// Send appends a local event and broadcasts it to the connected peers.
func (s *Session) Send(ctx context.Context, kind domain.Kind, payload []byte) (domain.ChatEvent, error) {
	draft, err := draftFor(kind, s.Self().Nickname, payload, s.opts.maxPayloadBytes)
	if err != nil {
		return domain.ChatEvent{}, err
	}
	return s.append(ctx, draft)
}

func (s *Session) SendText(ctx context.Context, text string) (domain.ChatEvent, error) {
	return s.Send(ctx, domain.KindText, []byte(text))
}

// React attaches an emoji to an event. The target does not need to be known
// locally yet: reactions are resolved by id, whatever the arrival order.
func (s *Session) React(ctx context.Context, target domain.EventID, emoji string) (domain.ChatEvent, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || target.Participant == "" || target.Seq == 0 {
		return domain.ChatEvent{}, fmt.Errorf("%w: reaction needs an emoji and a target", errors.ErrInvalidInput)
	}
	return s.append(ctx, domain.Draft{
		Kind:    domain.KindReaction,
		Author:  s.Self().Nickname,
		Payload: []byte(emoji),
		Target:  &target,
	})
}

func (s *Session) append(ctx context.Context, draft domain.Draft) (domain.ChatEvent, error) {
	var evt domain.ChatEvent
	err := s.do(ctx, func() error {
		var err error
		draft.Author = s.self.Nickname
		evt, err = s.events.AppendDraft(draft)
		return err
	})
	return evt, err
}

// CurrentMessages returns the ordered log, nil when the session is not running.
func (s *Session) CurrentMessages() []domain.ChatEvent {
	var snapshot []domain.ChatEvent
	err := s.do(context.Background(), func() error {
		snapshot = s.events.Snapshot()
		return nil
	})
	if err != nil {
		return nil
	}
	return snapshot
}

// Peers lists the known peers ordered by id.
func (s *Session) Peers() []domain.PeerSession {
	var peers []domain.PeerSession
	_ = s.do(context.Background(), func() error {
		for _, p := range s.peers {
			peers = append(peers, p.Snapshot())
		}
		return nil
	})
	slices.SortFunc(peers, func(a, b domain.PeerSession) int {
		return strings.Compare(string(a.Peer.ID), string(b.Peer.ID))
	})
	return peers
}

// Version is the local contiguous version vector.
func (s *Session) Version() domain.VersionVector {
	var version domain.VersionVector
	_ = s.do(context.Background(), func() error {
		version = s.events.Version()
		return nil
	})
	return version
}

func (s *Session) Self() domain.PeerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// Subscribe registers fn to receive the whole ordered log after every change.
func (s *Session) Subscribe(fn func([]domain.ChatEvent)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subscribers, id)
	}
}

// OnStatus registers a handler for status signals.
func (s *Session) OnStatus(h event.Handler) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.handlers[id] = h
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.handlers, id)
	}
}

// Stop leaves the room and releases the log. It can be called at any time,
// more than once, but never from a subscriber or handler. Once it returns no
// callback runs anymore.
func (s *Session) Stop() error {
	s.stopOnce.Do(func() {
		s.stopErr = s.teardown()
	})
	return s.stopErr
}

func (s *Session) teardown() error {
	s.mu.Lock()
	previous := s.state
	s.state = stopped
	cancel, done, link := s.cancel, s.done, s.link
	s.mu.Unlock()

	switch previous {
	case idle:
		return nil
	case starting:
		// Start sees the stopped state when Join returns and closes the link.
		cancel()
		return nil
	}

	cancel()
	<-done
	err := link.Close()
	s.events.Close()
	s.log.Info("Session stopped", "room", s.room, "participant", s.self.ID.Short())
	if err != nil {
		return fmt.Errorf("%w: leaving %q: %w", errors.ErrTransportFailure, s.room, err)
	}
	return nil
}

// do runs fn on the session loop and waits for it.
func (s *Session) do(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	state, tasks, done := s.state, s.tasks, s.done
	s.mu.Unlock()
	switch state {
	case idle, starting:
		return errors.ErrNotStarted
	case stopped:
		return errors.ErrSessionStopped
	}

	finished := make(chan struct{})
	err := errors.ErrWorkerPanic
	task := func() {
		defer close(finished)
		err = fn()
	}
	select {
	case tasks <- task:
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return errors.ErrSessionStopped
	}
	select {
	case <-finished:
		return err
	case <-done:
		return errors.ErrSessionStopped
	}
}

type loopWorker struct {
	session *Session
}

func (w *loopWorker) GetName() contract.WorkerName { return "session-loop" }

func (w *loopWorker) Run(ctx context.Context) error {
	s := w.session
	inbound := s.link.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case task := <-s.tasks:
			task()
		case evt, ok := <-inbound:
			if !ok {
				s.log.Warn("Transport link closed its event stream", "room", s.room)
				inbound = nil
				continue
			}
			s.handleLinkEvent(ctx, evt)
		}
	}
}

func (s *Session) appendLocal(draft domain.Draft) {
	if _, err := s.events.AppendDraft(draft); err != nil {
		s.log.Error("Failed to append local event", "kind", draft.Kind, "error", err)
	}
}

// onLogChange runs synchronously after every append or merge that added events.
func (s *Session) onLogChange(added []domain.ChatEvent) {
	ctx := s.loopCtx
	local := lo.Filter(added, func(e domain.ChatEvent, _ int) bool {
		return e.ID.Participant == s.self.ID
	})
	if len(local) > 0 {
		s.broadcast(ctx, local)
	}
	s.fanout.Fanout(ctx, added)

	s.subMu.Lock()
	subscribers := lo.Values(s.subscribers)
	s.subMu.Unlock()
	for _, fn := range subscribers {
		fn(s.events.Snapshot())
	}
}

func (s *Session) broadcast(ctx context.Context, events []domain.ChatEvent) {
	if err := s.link.Broadcast(ctx, domain.NewEventsFrame(s.self.ID, events)); err != nil {
		s.transportFailure("", "broadcast", err)
		return
	}
	for _, p := range s.peers {
		if p.State == domain.PeerConnected {
			domain.Record(p.Sent, events)
		}
	}
}

func (s *Session) handleLinkEvent(ctx context.Context, evt domain.LinkEvent) {
	switch e := evt.(type) {
	case domain.PeerStateChanged:
		s.onPeerState(ctx, e)
	case domain.FrameReceived:
		s.onFrame(ctx, e)
	default:
		s.log.Warn("Unknown link event", "type", fmt.Sprintf("%T", evt))
	}
}

func (s *Session) onPeerState(ctx context.Context, e domain.PeerStateChanged) {
	now := s.opts.now()
	p, known := s.peers[e.Peer.ID]
	previous := e.State
	if !known {
		p = domain.NewPeerSession(e.Peer, e.State, now)
		s.peers[e.Peer.ID] = p
	} else {
		previous = p.State
		p.State = e.State
		p.Since = now
		if e.Peer.Nickname != "" {
			p.Peer.Nickname = e.Peer.Nickname
		}
		if e.Peer.Addr != "" {
			p.Peer.Addr = e.Peer.Addr
		}
	}
	p.LastErr = e.Err

	s.emitStatus(event.New(event.PeerStateChangedType, event.PeerStateChanged{
		Room:     s.room,
		Peer:     p.Peer,
		Previous: previous,
		Current:  e.State,
		Err:      e.Err,
	}))

	switch e.State {
	case domain.PeerConnected:
		// A new channel starts with fresh cursors: what the old one carried may be lost.
		p.Sent, p.Received, p.Remote = domain.VersionVector{}, domain.VersionVector{}, domain.VersionVector{}
		s.sendSync(ctx, p)
	case domain.PeerFailed:
		s.emitStatus(event.New(event.ConnectivityDegradedType, event.ConnectivityDegraded{
			Room:        s.room,
			Unreachable: s.peersIn(domain.PeerFailed),
			Connected:   len(s.peersIn(domain.PeerConnected)),
			Err:         fmt.Errorf("%w: %w", errors.ErrConnectivityDegraded, e.Err),
		}))
	}
}

func (s *Session) onFrame(ctx context.Context, e domain.FrameReceived) {
	p, ok := s.peers[e.From]
	if !ok {
		p = domain.NewPeerSession(domain.PeerInfo{ID: e.From}, domain.PeerConnected, s.opts.now())
		s.peers[e.From] = p
	}

	switch e.Frame.Type {
	case domain.FrameSync:
		p.Remote = e.Frame.Version.Clone()
		missing := s.events.Missing(e.Frame.Version)
		for _, batch := range domain.SplitBySize(missing, s.opts.syncBatchSize, s.opts.syncBatchBytes) {
			if err := s.link.SendTo(ctx, e.From, domain.NewEventsFrame(s.self.ID, batch)); err != nil {
				s.transportFailure(e.From, "sync reply", err)
				return
			}
			domain.Record(p.Sent, batch)
		}
		if e.Frame.Version.Ahead(s.events.Version()) {
			s.sendSync(ctx, p)
		}
	case domain.FrameEvents:
		domain.Record(p.Received, e.Frame.Events)
		added := s.events.Merge(e.Frame.Events)
		if len(added) == 0 {
			return
		}
		oldest := lo.MinBy(added, func(a, b domain.ChatEvent) bool { return a.Timestamp.Before(b.Timestamp) })
		s.emitStatus(event.New(event.EventsMergedType, event.EventsMerged{
			Room:    s.room,
			From:    e.From,
			Count:   len(added),
			Oldest:  oldest.Timestamp,
			Version: s.events.Version(),
		}))
	case domain.FrameHello:
	default:
		s.log.Warn("Unknown frame type", "type", e.Frame.Type, "from", e.From.Short())
	}
}

func (s *Session) sendSync(ctx context.Context, p *domain.PeerSession) {
	if err := s.link.SendTo(ctx, p.Peer.ID, domain.NewSyncFrame(s.self.ID, s.events.Version())); err != nil {
		s.transportFailure(p.Peer.ID, "sync", err)
	}
}

func (s *Session) antiEntropyTick(ctx context.Context) {
	select {
	case s.tasks <- func() { s.syncAll(ctx) }:
	case <-ctx.Done():
	}
}

func (s *Session) syncAll(ctx context.Context) {
	for _, p := range s.peers {
		if p.State == domain.PeerConnected {
			s.sendSync(ctx, p)
		}
	}
}

func (s *Session) peersIn(state domain.PeerState) []domain.ParticipantID {
	var ids []domain.ParticipantID
	for id, p := range s.peers {
		if p.State == state {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

func (s *Session) transportFailure(peer domain.ParticipantID, op string, err error) {
	s.emitStatus(event.New(event.TransportFailureType, event.TransportFailure{
		Room: s.room,
		Peer: peer,
		Op:   op,
		Err:  fmt.Errorf("%w: %w", errors.ErrTransportFailure, err),
	}))
}

func (s *Session) emitStatus(e event.Event) {
	s.subMu.Lock()
	handlers := lo.Values(s.handlers)
	s.subMu.Unlock()
	for _, h := range handlers {
		h.Handle(e)
	}
}

// reportFromWorker is called by the supervisor goroutine, the signal is
// forwarded to the loop so handlers keep running there only.
func (s *Session) reportFromWorker(e event.Event) {
	select {
	case s.tasks <- func() { s.emitStatus(e) }:
	default:
		s.log.Warn("Status signal dropped", "type", e.Type)
	}
}
