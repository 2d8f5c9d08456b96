package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"relaybot/internal/config"
	"relaybot/internal/directory"
	"relaybot/internal/eventbus"
	"relaybot/internal/ingest"
	"relaybot/internal/livefeed"
	"relaybot/internal/quoteindex"
	"relaybot/internal/relay"
	"relaybot/internal/retention"
	"relaybot/internal/storage"
	"relaybot/internal/transport/telegram"
	logx "relaybot/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	set, err := cfg.Materialize()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logsvc, log := logx.New(set.Logging)
	defer logsvc.Close()
	mgr.SetLogger(log.With(logx.String("svc", "config")))

	store, err := storage.Open(set.Storage, log.With(logx.String("svc", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	var eph quoteindex.Store
	if set.Quote.RedisURL != "" {
		eph, err = quoteindex.OpenRedis(ctx, set.Quote.RedisURL)
		if err != nil {
			return fmt.Errorf("open redis: %w", err)
		}
	} else {
		eph = quoteindex.NewMemory()
	}
	defer eph.Close()
	index := quoteindex.New(eph, store, set.Quote.TTL, log.With(logx.String("svc", "quoteindex")))

	adapter, err := telegram.New(telegram.Config{
		Token:       set.TelegramToken,
		PollTimeout: set.TelegramPollTimeout,
	}, log.With(logx.String("svc", "telegram")))
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	bus := eventbus.New()

	dir := directory.NewStatic(set.LobbyMembers)
	relayer := relay.NewRelayer(set.Relay, adapter, store, index, dir, dir, dir, bus,
		log.With(logx.String("svc", "relay")))
	relayer.SetRetention(set.Ret)
	albums := relay.NewCoalescer(relayer, log.With(logx.String("svc", "albums")))
	dispatcher := relay.NewDispatcher(relayer, albums, log.With(logx.String("svc", "dispatch")))
	editor := relay.NewPropagator(adapter, store, dir, log.With(logx.String("svc", "edits")))

	ingest.Attach(adapter.Bot(), dispatcher, editor, log.With(logx.String("svc", "ingest")))

	feed := livefeed.New(livefeed.Config{
		Enabled: set.LivefeedEnabled,
		URL:     set.LivefeedURL,
		Timeout: set.LivefeedTimeout,
	}, bus, log.With(logx.String("svc", "livefeed")))
	feed.Start(ctx)
	defer feed.Stop()

	sweeper := retention.NewSweeper(set.Sweep, store, log.With(logx.String("svc", "retention")))
	if err := sweeper.Start(); err != nil {
		return fmt.Errorf("retention sweeper: %w", err)
	}
	defer sweeper.Stop()

	// Hot reload: logging and fan-out tuning apply live; transport, storage
	// and quote-index tiers need a restart.
	sub := mgr.Subscribe(1)
	defer mgr.Unsubscribe(sub)
	go func() {
		if err := mgr.Watch(ctx); err != nil {
			log.Warn("config watcher stopped", logx.Err(err))
		}
	}()
	go func() {
		for next := range sub {
			ns, err := next.Materialize()
			if err != nil {
				continue
			}
			logsvc.Apply(ns.Logging)
			relayer.Apply(ns.Relay)
			relayer.SetRetention(ns.Ret)
			dir.SetMembers(ns.LobbyMembers)
			log.Info("runtime settings applied")
		}
	}()

	go func() {
		<-ctx.Done()
		adapter.Bot().Stop()
	}()

	log.Info("relay bot starting",
		logx.Int("lobby_members", len(set.LobbyMembers)),
		logx.Bool("livefeed", set.LivefeedEnabled))
	adapter.Bot().Start()
	log.Info("relay bot stopped")
	return nil
}
