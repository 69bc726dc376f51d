package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	tomb "gopkg.in/tomb.v2"

	"github.com/research-ag/icrc1-auction/internal/auction"
	"github.com/research-ag/icrc1-auction/internal/config"
	"github.com/research-ag/icrc1-auction/internal/crypto"
	"github.com/research-ag/icrc1-auction/internal/history"
	"github.com/research-ag/icrc1-auction/internal/ledger"
	"github.com/research-ag/icrc1-auction/internal/metrics"
	"github.com/research-ag/icrc1-auction/internal/net"
	"github.com/research-ag/icrc1-auction/internal/reporter"
)

func main() {
	app := cli.NewApp()
	app.Name = "auctiond"
	app.Usage = "call auction daemon"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "optional config file, overridden by AUCTION_* variables",
			EnvVars: []string{"AUCTION_CONFIG"},
		},
	}
	app.Action = func(c *cli.Context) error {
		cfg, err := config.Load(c.String("config"))
		if err != nil {
			return err
		}
		return run(cfg)
	}

	if err := app.Run(os.Args); err != nil {
		log := zerolog.New(os.Stderr)
		log.Fatal().Err(err).Msg("auctiond failed")
	}
}

func newLogger(cfg config.Config) zerolog.Logger {
	var log zerolog.Logger
	if cfg.LogPretty {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(cfg.LogLevel).With().Timestamp().Logger()
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	log := newLogger(cfg)

	var store history.Store = history.NewMemoryStore()
	if cfg.Datadir != "" {
		badgerStore, err := history.OpenBadgerStore(cfg.Datadir, log.With().Str("component", "history").Logger())
		if err != nil {
			return err
		}
		store = badgerStore
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("unable to close history")
		}
	}()

	var decryptor crypto.Decryptor = crypto.Passthrough{}
	if cfg.DecryptionKey != nil {
		box, err := crypto.NewSecretBox(cfg.DecryptionKey)
		if err != nil {
			return err
		}
		decryptor = box
	}

	// No ledger client is configured: every principal is served by an
	// in-memory ledger.
	ledgers := ledger.NewAdapter(cfg.SelfPrincipal, log.With().Str("component", "ledger").Logger())
	ledgers.SetFallback(func(principal string) ledger.TokenLedger {
		log.Warn().Str("ledger", principal).Msg("using in-memory token ledger")
		return ledger.NewMockLedger()
	})

	svc := auction.New(cfg.Auction(), store, ledgers, decryptor, time.Now(), log)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewCollector(svc),
	)

	srv := net.New(cfg.HTTPAddr, svc, registry, log.With().Str("component", "http").Logger())
	reporters := reporter.Multi{reporter.NewLog(log), srv.Feed()}
	if len(cfg.KafkaBrokers) > 0 {
		kafka := reporter.NewKafka(reporter.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		}, log.With().Str("component", "kafka").Logger())
		defer kafka.Close()
		reporters = append(reporters, kafka)
	}
	svc.SetReporter(reporters)

	t, _ := tomb.WithContext(ctx)
	t.Go(func() error {
		return svc.Clock().Run(t)
	})
	t.Go(func() error {
		return srv.Run(t)
	})

	log.Info().
		Str("address", cfg.HTTPAddr).
		Dur("interval", cfg.SessionInterval).
		Time("next", svc.NextSession().Timestamp).
		Msg("auction running")

	err := t.Wait()
	log.Info().Msg("auction stopped")
	return err
}
