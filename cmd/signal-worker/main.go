package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/spbarathg/callsbotonchain-sub000/internal/alerts"
	"github.com/spbarathg/callsbotonchain-sub000/internal/budget"
	"github.com/spbarathg/callsbotonchain-sub000/internal/config"
	"github.com/spbarathg/callsbotonchain-sub000/internal/feed"
	"github.com/spbarathg/callsbotonchain-sub000/internal/funnel"
	"github.com/spbarathg/callsbotonchain-sub000/internal/logging"
	"github.com/spbarathg/callsbotonchain-sub000/internal/metrics"
	"github.com/spbarathg/callsbotonchain-sub000/internal/scoring"
	"github.com/spbarathg/callsbotonchain-sub000/internal/stats"
	"github.com/spbarathg/callsbotonchain-sub000/internal/store"
	"github.com/spbarathg/callsbotonchain-sub000/internal/toggles"
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

	logging.Setup("signal-worker", cfg.General)
	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Str("environment", cfg.General.Environment).
		Msg("signal worker starting")

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

	budgetMgr, err := budget.New(cfg.Budget)
	if err != nil {
		log.Fatal().Err(err).Msg("init credit budget")
	}
	deny, err := stats.NewDenyList(cfg.Stats.DenyStatePath)
	if err != nil {
		log.Fatal().Err(err).Msg("init deny state")
	}

	provider := stats.NewProvider(cfg.Stats, budgetMgr, deny, rec)
	poller := feed.NewPoller(cfg.Feed, budgetMgr, rec)
	poller.SetProcessLog(logs.Process)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var alertDB store.AlertStore
	var activity store.ActivityStore
	if dsn := cfg.Storage.DSN; dsn != "" {
		pg, err := store.NewPostgres(ctx, dsn)
		if err != nil {
			log.Fatal().Err(err).Msg("connect postgres")
		}
		defer pg.Close()
		alertDB, activity = pg, pg
		log.Info().Msg("using postgres stores")
	} else {
		mem := store.NewMemory()
		alertDB, activity = mem, mem
		log.Warn().Msg("no storage dsn, alert dedup is in-memory only")
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	sinks := []alerts.Sink{alerts.NewJSONLSink(logs.Alerts)}
	if redisClient != nil {
		sinks = append(sinks, alerts.NewRedisListSink(redisClient, cfg.Redis.AlertList))
	}
	if cfg.Telegram.Enabled {
		tg, err := alerts.NewTelegramSink(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			log.Error().Err(err).Msg("telegram sink disabled")
		} else {
			sinks = append(sinks, tg)
		}
	}

	var signalQueue funnel.SignalPusher
	if redisClient != nil {
		signalQueue = alerts.NewSignalQueue(redisClient, cfg.Redis.SignalList, cfg.Trader.MaxSignalAge)
	}

	fn := funnel.New(cfg.Funnel, funnel.Deps{
		Provider:   provider,
		AlertDB:    alertDB,
		Activity:   activity,
		Scorer:     scoring.NewScorer(cfg.Scoring),
		Gates:      scoring.NewGates(cfg.Gates),
		Sinks:      alerts.NewFanOut(sinks...),
		Signals:    signalQueue,
		Metrics:    rec,
		BaseAssets: cfg.Gates.StableMints,
	})

	items := make(chan feed.Item, 256)
	gated := make(chan feed.Item, 256)

	go poller.Run(ctx, items)
	go funnel.NewTracker(cfg.Funnel, provider, alertDB, logs.Tracking).Run(ctx)

	// The signals toggle is re-read per item so operators can pause alert
	// generation without stopping the poller.
	go func() {
		defer close(gated)
		for {
			select {
			case <-ctx.Done():
				return
			case item, ok := <-items:
				if !ok {
					return
				}
				if !toggles.Load(cfg.Trader.TogglesPath).SignalsEnabled {
					continue
				}
				select {
				case gated <- item:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	fn.Run(ctx, gated)

	log.Info().Msg("signal worker stopped")
	os.Exit(0)
}
