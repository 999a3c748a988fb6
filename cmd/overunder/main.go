package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nhowze/overunder/config"
	"github.com/nhowze/overunder/internal/adapters/auth"
	"github.com/nhowze/overunder/internal/adapters/client"
	"github.com/nhowze/overunder/internal/adapters/events"
	"github.com/nhowze/overunder/internal/adapters/lock"
	"github.com/nhowze/overunder/internal/adapters/notify"
	"github.com/nhowze/overunder/internal/adapters/storage"
	"github.com/nhowze/overunder/internal/application/settlement"
	"github.com/nhowze/overunder/internal/ports"
	"github.com/nhowze/overunder/internal/server"
)

const usage = `usage: overunder [flags] <command> [command flags]

commands:
  serve     run the HTTP API
  audit     reconcile every pool against custody
  keygen    print a fresh signing key and its address
  report    print a pool and its receipts
  balance   print an account balance
  open      open a pool (admin)
  deposit   credit an account (admin)
  bet       place a bet
  publish   publish a pool result (pool authority)
  claim     claim a settled receipt
  withdraw  withdraw accrued fees (admin)
  list      list a receipt for sale
  delist    take a listing down (seller)
  buy       buy a listed receipt
  reclaim   recover an escrowed token (owner)

flags:
`

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	keyHex := flag.String("key", "", "caller private key in hex (default $OVERUNDER_KEY)")
	remote := flag.String("remote", "", "venue server URL; commands go over HTTP instead of the local ledger")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if args[0] == "keygen" {
		if err := runKeygen(); err != nil {
			slog.Error("keygen failed", "err", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *keyHex == "" {
		*keyHex = os.Getenv("OVERUNDER_KEY")
	}

	var a *app
	if *remote != "" {
		a, err = newRemoteApp(*remote, *keyHex)
	} else {
		a, err = newApp(ctx, cfg)
	}
	if err != nil {
		slog.Error("startup failed", "err", err)
		os.Exit(1)
	}

	err = dispatch(ctx, a, args[0], args[1:], *keyHex)
	a.close()
	switch {
	case errors.Is(err, flag.ErrHelp):
		os.Exit(2)
	case err != nil:
		slog.Error("command failed", "command", args[0], "err", err)
		os.Exit(1)
	}
}

// app contiene todo lo que necesita un comando. venue es el motor local o un
// cliente de un servidor remoto; en el caso remoto store, engine y nonces son nil.
type app struct {
	cfg     *config.Config
	venue   server.Venue
	store   *storage.SQLiteStorage
	engine  *settlement.Engine
	nonces  ports.NonceStore
	console *notify.Console
	closers []func() error
}

func newRemoteApp(url, keyHex string) (*app, error) {
	var signer *auth.Signer
	if keyHex != "" {
		var err error
		if signer, err = auth.NewSigner(keyHex); err != nil {
			return nil, err
		}
	}
	slog.Info("using remote venue", "url", url)
	return &app{venue: client.New(url, signer), console: notify.NewConsole()}, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	engineCfg, err := cfg.Settlement()
	if err != nil {
		return nil, err
	}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("open storage %q: %w", cfg.Storage.DSN, err)
	}
	a := &app{cfg: cfg, store: store, nonces: store, console: notify.NewConsole()}
	a.closers = append(a.closers, store.Close)

	var locker ports.Locker = lock.NewMemory()
	if cfg.Lock.RedisAddr != "" {
		r, err := lock.NewRedis(ctx, lock.RedisConfig{
			Addr:       cfg.Lock.RedisAddr,
			Password:   cfg.Lock.RedisPassword,
			DB:         cfg.Lock.RedisDB,
			TLSEnabled: cfg.Lock.RedisTLS,
			Prefix:     cfg.Lock.Prefix,
			Retry:      cfg.Lock.Retry,
		})
		if err != nil {
			a.close()
			return nil, err
		}
		locker = r
		a.nonces = r
		a.closers = append(a.closers, r.Close)
		slog.Info("using redis locks", "addr", cfg.Lock.RedisAddr)
	}

	var sinks events.Fanout
	if cfg.Events.Console {
		sinks = append(sinks, a.console)
	}
	if len(cfg.Events.KafkaBrokers) > 0 {
		ks := events.NewKafkaSink(events.NewWriter(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic))
		sinks = append(sinks, ks)
		a.closers = append(a.closers, ks.Close)
		slog.Info("publishing events to kafka", "brokers", cfg.Events.KafkaBrokers, "topic", cfg.Events.KafkaTopic)
	}

	a.engine, err = settlement.New(store, locker, engineCfg, settlement.WithEventSink(sinks))
	if err != nil {
		a.close()
		return nil, err
	}
	a.venue = a.engine
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("close failed", "err", err)
		}
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
