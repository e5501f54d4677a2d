// Package p2p connects the participants of a room directly to each other over
// websocket channels. Rendezvous is only used to learn who is in the room and
// where to reach them; chat frames never leave the peer channels.
//
// Every node serves one HTTP listener. For each pair of peers the one with the
// smaller participant id dials, the other accepts, so a pair never ends up with
// two channels.
package p2p

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"peer-chat/contract"
	"peer-chat/domain"
	"peer-chat/errors"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const peerPath = "/rooms/{room}/peers"

type Config struct {
	ListenAddr         string
	AdvertiseHost      string
	NegotiationTimeout time.Duration
	DialBackoff        time.Duration
	RedialDelay        time.Duration
	PongWait           time.Duration
	WriteWait          time.Duration
	SendBufferSize     int
	EventBufferSize    int
	MaxPeers           int
	MaxFrameBytes      int64
}

func (c Config) withDefaults() Config {
	if c.ListenAddr == "" {
		c.ListenAddr = "0.0.0.0:0"
	}
	if c.NegotiationTimeout <= 0 {
		c.NegotiationTimeout = 15 * time.Second
	}
	if c.DialBackoff <= 0 {
		c.DialBackoff = 100 * time.Millisecond
	}
	if c.RedialDelay <= 0 {
		c.RedialDelay = time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 30 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = 64
	}
	if c.EventBufferSize <= 0 {
		c.EventBufferSize = 256
	}
	if c.MaxPeers <= 0 {
		c.MaxPeers = 20
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = 32 << 20
	}
	return c
}

type Transport struct {
	log        *slog.Logger
	cfg        Config
	rendezvous contract.Rendezvous
	upgrader   websocket.Upgrader
	dialer     *websocket.Dialer

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	links    map[string]*link
}

func New(log *slog.Logger, cfg Config, rendezvous contract.Rendezvous) *Transport {
	return &Transport{
		log:        log,
		cfg:        cfg.withDefaults(),
		rendezvous: rendezvous,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.withDefaults().NegotiationTimeout,
		},
		links: make(map[string]*link),
	}
}

// Listen starts the peer listener. Calling it again is a no-op.
func (t *Transport) Listen() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener != nil {
		return nil
	}

	ln, err := net.Listen("tcp", t.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("%w: listen on %s: %v", errors.ErrTransportFailure, t.cfg.ListenAddr, err)
	}
	t.listener = ln
	t.server = &http.Server{Handler: t.router(), ReadHeaderTimeout: t.cfg.NegotiationTimeout}

	go func() {
		t.log.Info("Peer listener started", "address", ln.Addr().String())
		if err := t.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			t.log.Error("Peer listener stopped", "error", err)
		}
	}()
	return nil
}

func (t *Transport) router() *mux.Router {
	r := mux.NewRouter().UseEncodedPath()
	r.HandleFunc(peerPath, t.handlePeer).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	return r
}

// Addr is the address peers should dial, empty before Listen.
func (t *Transport) Addr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return ""
	}
	tcp, ok := t.listener.Addr().(*net.TCPAddr)
	if !ok {
		return t.listener.Addr().String()
	}
	host := t.cfg.AdvertiseHost
	if host == "" {
		host = tcp.IP.String()
		if tcp.IP == nil || tcp.IP.IsUnspecified() {
			host = "127.0.0.1"
		}
	}
	return net.JoinHostPort(host, strconv.Itoa(tcp.Port))
}

// Join announces self in the room and starts connecting to the members found.
func (t *Transport) Join(ctx context.Context, room string, self domain.PeerInfo) (contract.Link, error) {
	if err := t.Listen(); err != nil {
		return nil, err
	}
	self.Addr = t.Addr()

	t.mu.Lock()
	if _, exists := t.links[room]; exists {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: room %q already joined", errors.ErrTransportFailure, room)
	}
	l := newLink(t, room, self)
	t.links[room] = l
	t.mu.Unlock()

	if err := t.rendezvous.Announce(ctx, room, self); err != nil {
		t.removeLink(l)
		l.cancel()
		return nil, fmt.Errorf("%w: %w", errors.ErrTransportFailure, err)
	}
	found, err := t.rendezvous.Discover(l.ctx, room)
	if err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("%w: %w", errors.ErrTransportFailure, err)
	}
	l.spawn(func() { l.discover(found) })
	t.log.Info("Joined room", "room", room, "peer", self.ID.Short(), "address", self.Addr)
	return l, nil
}

func (t *Transport) handlePeer(w http.ResponseWriter, r *http.Request) {
	room, err := url.PathUnescape(mux.Vars(r)["room"])
	if err != nil {
		http.Error(w, "bad room", http.StatusBadRequest)
		return
	}
	t.mu.Lock()
	l := t.links[room]
	t.mu.Unlock()
	if l == nil {
		http.Error(w, "unknown room", http.StatusNotFound)
		return
	}

	ws, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.log.Debug("Websocket upgrade failed", "room", room, "error", err)
		return
	}
	l.accept(ws, r.RemoteAddr)
}

func (t *Transport) removeLink(l *link) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.links[l.room] == l {
		delete(t.links, l.room)
	}
}

// Close leaves every room and stops the listener.
func (t *Transport) Close() error {
	t.mu.Lock()
	links := make([]*link, 0, len(t.links))
	for _, l := range t.links {
		links = append(links, l)
	}
	server := t.server
	t.mu.Unlock()

	for _, l := range links {
		_ = l.Close()
	}
	if server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.WriteWait)
	defer cancel()
	return server.Shutdown(ctx)
}
