// Package mdns announces and finds room members on the local network with
// multicast DNS service discovery. No infrastructure is needed.
package mdns

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"peer-chat/domain"
	"peer-chat/errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	Service = "_peerchat._tcp"
	Domain  = "local."

	txtRoom = "room="
	txtID   = "id="
	txtNick = "nick="

	defaultRebrowseInterval = 20 * time.Second
)

type Rendezvous struct {
	log              *slog.Logger
	rebrowseInterval time.Duration

	mu      sync.Mutex
	servers map[string]*zeroconf.Server
}

func New(log *slog.Logger, rebrowseInterval time.Duration) *Rendezvous {
	if rebrowseInterval <= 0 {
		rebrowseInterval = defaultRebrowseInterval
	}
	return &Rendezvous{log: log, rebrowseInterval: rebrowseInterval, servers: make(map[string]*zeroconf.Server)}
}

func serverKey(room string, id domain.ParticipantID) string {
	return room + "\x00" + string(id)
}

// Announce publishes self on the LAN. The address port is the one peers dial;
// the host part is resolved by the browsers themselves.
func (r *Rendezvous) Announce(ctx context.Context, room string, self domain.PeerInfo) error {
	_, portStr, err := net.SplitHostPort(self.Addr)
	if err != nil {
		return fmt.Errorf("%w: advertised address %q: %v", errors.ErrInvalidInput, self.Addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("%w: advertised port %q: %v", errors.ErrInvalidInput, portStr, err)
	}

	server, err := zeroconf.Register(string(self.ID), Service, Domain, port, txtRecords(room, self), nil)
	if err != nil {
		return fmt.Errorf("%w: mdns register: %v", errors.ErrRendezvousUnavailable, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if previous, ok := r.servers[serverKey(room, self.ID)]; ok {
		previous.Shutdown()
	}
	r.servers[serverKey(room, self.ID)] = server
	r.log.Debug("mDNS service registered", "service", Service, "room", room, "port", port)
	return nil
}

// Discover browses the LAN and keeps the members of room. Browsing restarts
// every rebrowse interval so peers seen before are reported again.
func (r *Rendezvous) Discover(ctx context.Context, room string) (<-chan domain.PeerInfo, error) {
	out := make(chan domain.PeerInfo)
	go func() {
		defer close(out)
		for ctx.Err() == nil {
			if err := r.browse(ctx, room, out); err != nil {
				r.log.Warn("mDNS browse failed", "room", room, "error", err)
				select {
				case <-ctx.Done():
				case <-time.After(time.Second):
				}
			}
		}
	}()
	return out, nil
}

func (r *Rendezvous) browse(ctx context.Context, room string, out chan<- domain.PeerInfo) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("%w: mdns resolver: %v", errors.ErrRendezvousUnavailable, err)
	}
	browseCtx, cancel := context.WithTimeout(ctx, r.rebrowseInterval)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err = resolver.Browse(browseCtx, Service, Domain, entries); err != nil {
		return err
	}
	for {
		select {
		case <-browseCtx.Done():
			return nil
		case entry, ok := <-entries:
			if !ok {
				<-browseCtx.Done()
				return nil
			}
			info, match := peerFromEntry(entry, room)
			if !match {
				continue
			}
			select {
			case out <- info:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (r *Rendezvous) Withdraw(ctx context.Context, room string, self domain.ParticipantID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if server, ok := r.servers[serverKey(room, self)]; ok {
		server.Shutdown()
		delete(r.servers, serverKey(room, self))
	}
	return nil
}

func (r *Rendezvous) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, server := range r.servers {
		server.Shutdown()
		delete(r.servers, key)
	}
	return nil
}

func txtRecords(room string, self domain.PeerInfo) []string {
	return []string{txtRoom + room, txtID + string(self.ID), txtNick + self.Nickname}
}

// peerFromEntry turns a browse result into a PeerInfo when it belongs to room.
func peerFromEntry(entry *zeroconf.ServiceEntry, room string) (domain.PeerInfo, bool) {
	if entry == nil {
		return domain.PeerInfo{}, false
	}
	var entryRoom string
	var info domain.PeerInfo
	for _, txt := range entry.Text {
		switch {
		case strings.HasPrefix(txt, txtRoom):
			entryRoom = strings.TrimPrefix(txt, txtRoom)
		case strings.HasPrefix(txt, txtID):
			info.ID = domain.ParticipantID(strings.TrimPrefix(txt, txtID))
		case strings.HasPrefix(txt, txtNick):
			info.Nickname = strings.TrimPrefix(txt, txtNick)
		}
	}
	if entryRoom != room || info.ID == "" {
		return domain.PeerInfo{}, false
	}
	var host string
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	default:
		return domain.PeerInfo{}, false
	}
	info.Addr = net.JoinHostPort(host, strconv.Itoa(entry.Port))
	return info, true
}
