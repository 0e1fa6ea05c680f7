package main

import (
	"context"
	"errors"
	"flag"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/spbarathg/callsbotonchain-sub000/internal/alerts"
	"github.com/spbarathg/callsbotonchain-sub000/internal/broker"
	"github.com/spbarathg/callsbotonchain-sub000/internal/config"
	"github.com/spbarathg/callsbotonchain-sub000/internal/logging"
	"github.com/spbarathg/callsbotonchain-sub000/internal/metrics"
	"github.com/spbarathg/callsbotonchain-sub000/internal/portfolio"
	"github.com/spbarathg/callsbotonchain-sub000/internal/risk"
	"github.com/spbarathg/callsbotonchain-sub000/internal/store"
	"github.com/spbarathg/callsbotonchain-sub000/internal/trader"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	logging.Setup("trader", cfg.General)
	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Bool("dry_run", cfg.Broker.DryRun).
		Float64("bankroll_usd", cfg.Risk.BankrollUSD).
		Msg("trader starting")

	logs, err := logging.OpenStandardLogs(cfg.General.DataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("open event logs")
	}
	defer logs.Close()

	var rec *metrics.Recorder
	if cfg.Metrics.Enabled {
		rec = metrics.New()
		go rec.Serve(cfg.Metrics.Port)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var positions store.PositionStore
	if dsn := cfg.Storage.DSN; dsn != "" {
		pg, err := store.NewPostgres(ctx, dsn)
		if err != nil {
			log.Fatal().Err(err).Msg("connect postgres")
		}
		defer pg.Close()
		positions = pg
	} else {
		positions = store.NewMemory()
		log.Warn().Msg("no storage dsn, positions are in-memory only")
	}

	if cfg.Redis.Addr == "" {
		log.Fatal().Msg("redis addr is required, the trader consumes the signal queue")
	}
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	exec, err := broker.New(cfg.Broker, rec)
	if err != nil {
		log.Fatal().Err(err).Msg("init broker")
	}

	tr := trader.New(cfg, trader.Deps{
		Exec:      exec,
		Positions: positions,
		Portfolio: portfolio.NewManager(cfg.Portfolio),
		Breaker:   risk.NewBreaker(cfg.Risk, rec),
		Rebuy:     risk.NewRebuyCooldown(cfg.Risk.RebuyCooldown),
		SellRetry: risk.NewSellRetry(cfg.Risk.MaxSellFailures),
		Signals:   alerts.NewSignalQueue(redisClient, cfg.Redis.SignalList, cfg.Trader.MaxSignalAge),
		TradeLog:  logs.Trading,
		Metrics:   rec,
	})

	if err := tr.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("trader loop failed")
	}

	log.Info().Msg("trader stopped")
}
