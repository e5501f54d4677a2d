// Package redis implements room rendezvous on top of Redis.
//
// A room is a set of participant ids. Each member also owns a key holding its
// PeerInfo, kept alive by a heartbeat: once the key expires the member is
// considered gone, whatever the set says. New members are pushed on a pub/sub
// channel so watchers do not have to wait for the next poll.
package redis

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"peer-chat/domain"
	"peer-chat/errors"
	"peer-chat/runtime/workers"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	roomKeyFormat         = "rendezvous:room:%s"
	memberKeyFormat       = "rendezvous:member:%s:%s"
	announceChannelFormat = "rendezvous:announce:%s"

	defaultTTL = 30 * time.Second
)

func roomKey(room string) string { return fmt.Sprintf(roomKeyFormat, room) }

func memberKey(room string, id domain.ParticipantID) string {
	return fmt.Sprintf(memberKeyFormat, room, id)
}

func announceChannel(room string) string { return fmt.Sprintf(announceChannelFormat, room) }

type Presence struct {
	rdb          *goredis.Client
	log          *slog.Logger
	ttl          time.Duration
	pollInterval time.Duration

	mu         sync.Mutex
	heartbeats map[string]heartbeat
	wg         sync.WaitGroup
}

// heartbeat is done once its last tick returned.
type heartbeat struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (h heartbeat) stop() {
	h.cancel()
	<-h.done
}

// NewPresence uses ttl for member keys and polls the room every ttl/2 while discovering.
func NewPresence(rdb *goredis.Client, log *slog.Logger, ttl time.Duration) *Presence {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Presence{
		rdb:          rdb,
		log:          log,
		ttl:          ttl,
		pollInterval: ttl / 2,
		heartbeats:   make(map[string]heartbeat),
	}
}

// Announce registers self in the room and keeps the registration alive until Withdraw.
func (p *Presence) Announce(ctx context.Context, room string, self domain.PeerInfo) error {
	info, err := json.Marshal(self)
	if err != nil {
		return err
	}
	if err = p.register(ctx, room, self.ID, info); err != nil {
		return err
	}
	p.startHeartbeat(room, self.ID, info)
	return nil
}

func (p *Presence) register(ctx context.Context, room string, id domain.ParticipantID, info []byte) error {
	pipe := p.rdb.Pipeline()
	pipe.SAdd(ctx, roomKey(room), string(id))
	pipe.Set(ctx, memberKey(room, id), info, p.ttl)
	pipe.Publish(ctx, announceChannel(room), info)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: announce in %q: %v", errors.ErrRendezvousUnavailable, room, err)
	}
	return nil
}

func (p *Presence) startHeartbeat(room string, id domain.ParticipantID, info []byte) {
	key := memberKey(room, id)
	hbCtx, cancel := context.WithCancel(context.Background())

	hb := heartbeat{cancel: cancel, done: make(chan struct{})}

	p.mu.Lock()
	previous, ok := p.heartbeats[key]
	p.heartbeats[key] = hb
	p.mu.Unlock()
	if ok {
		previous.stop()
	}

	worker := workers.NewTickerWorker(p.log, "presence-heartbeat", p.ttl/3, func(ctx context.Context) {
		refreshed, err := p.rdb.Expire(ctx, key, p.ttl).Result()
		if err != nil {
			p.log.Warn("Presence heartbeat failed", "room", room, "error", err)
			return
		}
		if !refreshed && ctx.Err() == nil {
			// Expired while we were away: register again.
			if err := p.register(ctx, room, id, info); err != nil {
				p.log.Warn("Presence re-announce failed", "room", room, "error", err)
			}
		}
	})
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(hb.done)
		_ = worker.Run(hbCtx)
	}()
}

// Discover streams alive members, then new announcements, re-polling the room
// periodically. The stream closes with ctx.
func (p *Presence) Discover(ctx context.Context, room string) (<-chan domain.PeerInfo, error) {
	pubsub := p.rdb.Subscribe(ctx, announceChannel(room))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("%w: subscribe to %q: %v", errors.ErrRendezvousUnavailable, room, err)
	}

	out := make(chan domain.PeerInfo)
	go func() {
		defer close(out)
		defer pubsub.Close()

		emit := func(info domain.PeerInfo) bool {
			select {
			case out <- info:
				return true
			case <-ctx.Done():
				return false
			}
		}
		poll := func() bool {
			members, err := p.AliveMembers(ctx, room)
			if err != nil {
				p.log.Warn("Presence poll failed", "room", room, "error", err)
				return ctx.Err() == nil
			}
			for _, m := range members {
				if !emit(m) {
					return false
				}
			}
			return true
		}

		if !poll() {
			return
		}
		ticker := time.NewTicker(p.pollInterval)
		defer ticker.Stop()
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var info domain.PeerInfo
				if err := json.Unmarshal([]byte(msg.Payload), &info); err != nil {
					p.log.Warn("Ignoring malformed announcement", "room", room, "error", err)
					continue
				}
				if !emit(info) {
					return
				}
			case <-ticker.C:
				if !poll() {
					return
				}
			}
		}
	}()
	return out, nil
}

// AliveMembers lists the members whose heartbeat key still exists.
// Members of the set without a key are removed from it.
func (p *Presence) AliveMembers(ctx context.Context, room string) ([]domain.PeerInfo, error) {
	ids, err := p.rdb.SMembers(ctx, roomKey(room)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := p.rdb.Pipeline()
	cmds := make([]*goredis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, memberKey(room, domain.ParticipantID(id)))
	}
	if _, err = pipe.Exec(ctx); err != nil && !stderrors.Is(err, goredis.Nil) {
		return nil, err
	}

	var alive []domain.PeerInfo
	var stale []any
	for i, cmd := range cmds {
		raw, err := cmd.Bytes()
		if stderrors.Is(err, goredis.Nil) {
			stale = append(stale, ids[i])
			continue
		}
		if err != nil {
			return nil, err
		}
		var info domain.PeerInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			p.log.Warn("Ignoring malformed member", "room", room, "id", ids[i], "error", err)
			continue
		}
		alive = append(alive, info)
	}
	if len(stale) > 0 {
		if err := p.rdb.SRem(ctx, roomKey(room), stale...).Err(); err != nil {
			p.log.Debug("Failed to prune stale members", "room", room, "error", err)
		}
	}
	return alive, nil
}

// Withdraw stops the heartbeat and removes self from the room.
func (p *Presence) Withdraw(ctx context.Context, room string, self domain.ParticipantID) error {
	key := memberKey(room, self)
	p.mu.Lock()
	hb, ok := p.heartbeats[key]
	delete(p.heartbeats, key)
	p.mu.Unlock()
	// A tick in flight must not register again behind the deletion.
	if ok {
		hb.stop()
	}

	pipe := p.rdb.Pipeline()
	pipe.SRem(ctx, roomKey(room), string(self))
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: withdraw from %q: %v", errors.ErrRendezvousUnavailable, room, err)
	}
	return nil
}

// Close stops every heartbeat. Registrations then expire on their own.
func (p *Presence) Close() error {
	p.mu.Lock()
	for key, hb := range p.heartbeats {
		hb.cancel()
		delete(p.heartbeats, key)
	}
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}
