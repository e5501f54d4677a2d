package main

import (
	"bufio"
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"peer-chat/contract"
	"peer-chat/domain/event"
	"peer-chat/errors"
	"peer-chat/internal"
	"peer-chat/projection"
	"peer-chat/rendezvous/mdns"
	"peer-chat/rendezvous/redis"
	"peer-chat/repositories"
	"peer-chat/search"
	"peer-chat/session"
	"peer-chat/sink"
	"peer-chat/transport/p2p"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	goredis "github.com/redis/go-redis/v9"
)

// Exit codes to provide meaningful status to the operating system or service manager.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "peerchat terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component and keeps the deferred cleanups ahead of os.Exit.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	config, err := internal.LoadConfig()
	if err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	room := flag.String("room", config.Room, "room to join")
	nickname := flag.String("nick", config.Nickname, "nickname shown to the room")
	flag.Parse()
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Rendezvous & Transport
	rendezvous, closeRendezvous, err := buildRendezvous(ctx, config, log)
	if err != nil {
		return exitRuntime, err
	}
	defer closeRendezvous()

	transport := p2p.New(log, p2p.Config{
		ListenAddr:         config.ListenAddr,
		AdvertiseHost:      config.AdvertiseHost,
		NegotiationTimeout: config.NegotiationTimeout,
		SendBufferSize:     config.SendBufferSize,
		MaxPeers:           config.MaxPeers,
		MaxFrameBytes:      int64(config.MaxFrameBytes),
	}, rendezvous)
	defer func() { _ = transport.Close() }()

	// 3. Consumers of the log
	db, err := repositories.OpenInMemory()
	if err != nil {
		return exitRuntime, fmt.Errorf("archive opening failed: %w", err)
	}
	defer func() {
		log.Debug("Closing archive...")
		_ = db.Close()
	}()
	archive := repositories.NewEventRepository(db, log, config.HistoryPageSize)

	index, err := search.NewIndex(log)
	if err != nil {
		return exitRuntime, err
	}
	defer func() { _ = index.Close() }()

	timeline := projection.NewTimeline()
	console := newConsole(os.Stdout)
	counter := event.NewCounter()

	// 4. Session
	chat := session.New(log, transport,
		session.WithSinks(sink.NewArchiveSink(archive, *room, log), index, timeline, console),
		session.WithStatusHandlers(
			event.NewPeerStateHandler(log, counter),
			event.NewConnectivityHandler(log, counter),
			event.NewLatencyHandler(log, counter, config.LatencyThreshold),
			event.NewWorkerRestartedAfterPanicHandler(log, counter),
			console,
		),
		session.WithAntiEntropyInterval(config.AntiEntropyInterval),
		session.WithMaxPayloadBytes(config.MaxPayloadBytes),
		session.WithSyncBatchBytes(config.SyncBatchBytes()),
		session.WithSinkTimeout(config.SinkTimeout),
		session.WithRestartInterval(config.RestartInterval),
		session.WithJoinAnnouncement(config.AnnounceJoin),
	)
	if err := chat.Start(ctx, *room, *nickname); err != nil {
		if stderrors.Is(err, errors.ErrInvalidInput) {
			return exitConfig, fmt.Errorf("-room and -nick are required: %w", err)
		}
		return exitRuntime, err
	}
	defer func() {
		if err := chat.Stop(); err != nil {
			log.Warn("Session stopped with error", "error", err)
		}
	}()
	console.Banner(chat.Room(), chat.Self(), transport.Addr())

	// 5. Read commands until /quit, EOF or a signal
	cli := newCommands(chat, archive, index, timeline, counter, os.Stdout)
	lines := readLines(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			log.Info("Shutting down gracefully...")
			return exitOK, nil
		case line, ok := <-lines:
			if !ok || cli.handle(ctx, line) {
				return exitOK, nil
			}
		}
	}
}

func buildRendezvous(ctx context.Context, config internal.Config, log *slog.Logger) (contract.Rendezvous, func(), error) {
	switch config.Rendezvous {
	case internal.RendezvousRedis:
		rdb := goredis.NewClient(&goredis.Options{Addr: config.RedisAddr, Password: config.RedisPassword})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("%w: redis at %s: %w", errors.ErrRendezvousUnavailable, config.RedisAddr, err)
		}
		presence := redis.NewPresence(rdb, log, config.PresenceTTL)
		return presence, func() {
			_ = presence.Close()
			_ = rdb.Close()
		}, nil
	default:
		lan := mdns.New(log, 0)
		return lan, func() { _ = lan.Close() }, nil
	}
}

// readLines never blocks the caller: stdin has no deadline to cancel a read.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1<<20)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}
