package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tickwatch/tickwatch/internal/application"
	"github.com/tickwatch/tickwatch/internal/cache"
	"github.com/tickwatch/tickwatch/internal/detect"
	"github.com/tickwatch/tickwatch/internal/evidence"
	"github.com/tickwatch/tickwatch/internal/httpapi"
	"github.com/tickwatch/tickwatch/internal/linkcheck"
	"github.com/tickwatch/tickwatch/internal/metrics"
	"github.com/tickwatch/tickwatch/internal/notify"
	"github.com/tickwatch/tickwatch/internal/persistence"
	"github.com/tickwatch/tickwatch/internal/persistence/memory"
	"github.com/tickwatch/tickwatch/internal/persistence/postgres"
	"github.com/tickwatch/tickwatch/internal/pipeline"
	"github.com/tickwatch/tickwatch/internal/rank"
)

const (
	appName = "tickwatch"
	version = "v0.3.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	var configPath string

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Price move alerting pipeline",
		Version: version,
		Long: `tickwatch watches price ticks for significant moves, collects and
vets evidence explaining each move, ranks the reasons, and decides when a
change is worth re-notifying about.`,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/tickwatch.yaml", "path to YAML config")

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Process price ticks from stdin",
		Long: `Reads one JSON tick per line from stdin and writes one JSON outcome
per processed tick to stdout. Without redis/postgres settings everything
runs in memory.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd.Context(), configPath)
		},
	}
	rootCmd.AddCommand(watchCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// tickLine is the stdin wire format for one tick.
type tickLine struct {
	Symbol            string    `json:"symbol"`
	Market            string    `json:"market"`
	BaselinePrice     float64   `json:"baseline_price"`
	CurrentPrice      float64   `json:"current_price"`
	WindowMinutes     int       `json:"window_minutes"`
	DetectedAt        time.Time `json:"detected_at"`
	SessionLabel      string    `json:"session_label,omitempty"`
	ThresholdOverride *float64  `json:"threshold_override,omitempty"`
}

func runWatch(ctx context.Context, configPath string) error {
	cfg, err := application.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger := log.Logger

	registry := prometheus.NewRegistry()
	p, cleanup, err := buildPipeline(cfg, registry, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	server := httpapi.NewServer(cfg.HTTP.Addr, registry, logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("ops server failed")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	encoder := json.NewEncoder(os.Stdout)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var tick tickLine
		if err := json.Unmarshal(line, &tick); err != nil {
			logger.Warn().Err(err).Msg("skipping malformed tick line")
			continue
		}
		if tick.DetectedAt.IsZero() {
			tick.DetectedAt = time.Now().UTC()
		}

		outcome, err := p.ProcessTick(ctx, detect.TickInput{
			Symbol:            tick.Symbol,
			Market:            tick.Market,
			BaselinePrice:     tick.BaselinePrice,
			CurrentPrice:      tick.CurrentPrice,
			WindowMinutes:     tick.WindowMinutes,
			DetectedAt:        tick.DetectedAt,
			SessionLabel:      tick.SessionLabel,
			ThresholdOverride: tick.ThresholdOverride,
		})
		if err != nil {
			logger.Warn().Err(err).Str("symbol", tick.Symbol).Msg("tick rejected")
			continue
		}
		if err := encoder.Encode(outcome); err != nil {
			return fmt.Errorf("write outcome: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read ticks: %w", err)
	}
	return nil
}

func buildPipeline(cfg *application.Config, registry *prometheus.Registry, logger zerolog.Logger) (*pipeline.Pipeline, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	var ttlCache cache.TTLCache
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cleanups = append(cleanups, func() { client.Close() })
		ttlCache = cache.NewRedis(client)
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("debounce cache on redis")
	} else {
		ttlCache = cache.NewMemory()
		logger.Info().Msg("debounce cache in memory")
	}

	var repos persistence.Repository
	if cfg.Postgres.DSN != "" {
		db, err := sqlx.Connect("postgres", cfg.Postgres.DSN)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		cleanups = append(cleanups, func() { db.Close() })
		timeout := cfg.Postgres.Timeout()
		repos = persistence.Repository{
			Events:    postgres.NewEventRepo(db, timeout),
			Reasons:   postgres.NewReasonRepo(db, timeout),
			Snapshots: postgres.NewSnapshotRepo(db, timeout),
			Cooldowns: postgres.NewCooldownRepo(db, timeout),
		}
		logger.Info().Msg("persistence on postgres")
	} else {
		repos = memory.NewStore().Repository()
		logger.Info().Msg("persistence in memory")
	}

	var adapters []evidence.SourceAdapter
	if cfg.Sources.EvidenceFile != "" {
		adapters = append(adapters, evidence.NewFileAdapter(cfg.Sources.EvidenceFile))
	}

	var dispatcher pipeline.Dispatcher
	if cfg.Webhook.URL != "" {
		dispatcher = notify.NewWebhookDispatcher(cfg.Webhook.URL, cfg.Webhook.Timeout(), logger)
	}

	checker := linkcheck.New(cfg.LinkCheck.Checker(), logger)
	debounce := detect.NewDebounceGate(ttlCache, logger)
	detector := detect.NewDetector(cfg.Detector, debounce, repos.Events, logger)
	gate := evidence.NewQualityGate(cfg.Evidence, checker, logger)
	ranker := rank.NewRanker(repos.Reasons, logger)
	reg := metrics.NewRegistry(registry)

	p := pipeline.New(
		detector,
		adapters,
		evidence.NewDeduplicator(cfg.Dedup.Tolerance()),
		gate,
		ranker,
		repos,
		dispatcher,
		cfg.Policy,
		reg,
		logger,
	)
	return p, cleanup, nil
}
