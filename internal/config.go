package internal

import (
	"fmt"
	"peer-chat/domain"
	"time"

	env "github.com/Netflix/go-env"
)

const (
	RendezvousMDNS  = "mdns"
	RendezvousRedis = "redis"
)

type Config struct {
	Room     string `env:"ROOM"`
	Nickname string `env:"NICKNAME"`
	LogLevel string `env:"LOG_LEVEL,default=INFO"`

	ListenAddr         string        `env:"LISTEN_ADDR,default=0.0.0.0:0"`
	AdvertiseHost      string        `env:"ADVERTISE_HOST"`
	NegotiationTimeout time.Duration `env:"NEGOTIATION_TIMEOUT,default=10s"`
	SendBufferSize     int           `env:"SEND_BUFFER_SIZE,default=256"`
	MaxPeers           int           `env:"MAX_PEERS,default=64"`
	MaxFrameBytes      int           `env:"MAX_FRAME_BYTES,default=33554432"`

	Rendezvous    string        `env:"RENDEZVOUS,default=mdns"`
	RedisAddr     string        `env:"REDIS_ADDR,default=127.0.0.1:6379"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	PresenceTTL   time.Duration `env:"PRESENCE_TTL,default=15s"`

	AntiEntropyInterval time.Duration `env:"ANTI_ENTROPY_INTERVAL,default=10s"`
	AnnounceJoin        bool          `env:"ANNOUNCE_JOIN,default=true"`
	MaxPayloadBytes     int           `env:"MAX_PAYLOAD_BYTES,default=8388608"`
	HistoryPageSize     *int          `env:"HISTORY_PAGE_SIZE"`
	LatencyThreshold    time.Duration `env:"LATENCY_THRESHOLD,default=5s"`
	RestartInterval     time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	SinkTimeout         time.Duration `env:"SINK_TIMEOUT,default=2s"`
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() (Config, error) {
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return config, err
	}
	return config, config.Validate()
}

func (c Config) Validate() error {
	switch c.Rendezvous {
	case RendezvousMDNS, RendezvousRedis:
	default:
		return fmt.Errorf("RENDEZVOUS must be %q or %q, got %q", RendezvousMDNS, RendezvousRedis, c.Rendezvous)
	}
	if c.SendBufferSize <= 0 || c.MaxPeers <= 0 {
		return fmt.Errorf("SEND_BUFFER_SIZE and MAX_PEERS must be positive")
	}
	// One event at the payload limit must fit in a frame, encoding included.
	if c.MaxPayloadBytes <= 0 {
		return fmt.Errorf("MAX_PAYLOAD_BYTES must be positive, got %d", c.MaxPayloadBytes)
	}
	if need := domain.WireSize(c.MaxPayloadBytes) + domain.FrameWireOverhead; need > c.MaxFrameBytes {
		return fmt.Errorf("MAX_FRAME_BYTES %d cannot carry a MAX_PAYLOAD_BYTES event, it needs %d", c.MaxFrameBytes, need)
	}
	if c.HistoryPageSize != nil && *c.HistoryPageSize <= 0 {
		return fmt.Errorf("HISTORY_PAGE_SIZE must be positive, got %d", *c.HistoryPageSize)
	}
	return nil
}

// SyncBatchBytes is the event budget of one frame once its envelope is accounted for.
func (c Config) SyncBatchBytes() int {
	return c.MaxFrameBytes - domain.FrameWireOverhead
}
