package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/wesense/mesh-ingester/internal/config"
	"github.com/wesense/mesh-ingester/internal/database"
	"github.com/wesense/mesh-ingester/internal/dedup"
	"github.com/wesense/mesh-ingester/internal/geocode"
	httpserver "github.com/wesense/mesh-ingester/internal/http"
	"github.com/wesense/mesh-ingester/internal/ingest"
	"github.com/wesense/mesh-ingester/internal/mesh"
	"github.com/wesense/mesh-ingester/internal/metrics"
	"github.com/wesense/mesh-ingester/internal/publish"
	"github.com/wesense/mesh-ingester/internal/source"
)

var version = "dev"

func main() {
	envFile := flag.String("env", ".env", "path to env file")
	flag.Parse()

	// Config
	cfg, err := config.Load(*envFile)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Str("mode", cfg.Mode).Msg("mesh-ingester starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Source registry
	var sources []config.Source
	if cfg.Mode == "community" {
		sources = cfg.CommunitySources()
	} else {
		sources, err = config.LoadSources(cfg.SourcesFile)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load sources")
		}
	}
	var enabled []config.Source
	for _, src := range sources {
		if src.Enabled {
			enabled = append(enabled, src)
		} else {
			log.Info().Str("source", src.Label).Msg("source disabled, skipping")
		}
	}
	if len(enabled) == 0 {
		log.Fatal().Msg("no enabled sources")
	}

	// Analytical store
	ch, err := database.NewClickHouse(database.ClickHouseConfig{
		Host:     cfg.ClickHouseHost,
		Port:     cfg.ClickHousePort,
		Database: cfg.ClickHouseDatabase,
		Table:    cfg.ClickHouseTable,
		User:     cfg.ClickHouseUser,
		Password: cfg.ClickHousePassword,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open clickhouse")
	}
	defer ch.Close()
	if err := ch.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("clickhouse unreachable at startup, writes will buffer")
	}
	writer := database.NewBufferedWriter(ch, cfg.BatchSize, cfg.FlushInterval, log)

	// Geocoder
	geo, err := geocode.Load(cfg.GeocodeDataset, log)
	if err != nil {
		log.Warn().Err(err).Msg("geocode dataset unavailable, readings will carry unknown geo")
	} else {
		defer geo.Close()
	}

	// Downstream publisher
	pub, err := publish.Connect(publish.Options{
		Broker:   cfg.OutputBroker,
		Port:     cfg.OutputPort,
		Username: cfg.OutputUsername,
		Password: cfg.OutputPassword,
		ClientID: fmt.Sprintf("mesh-ingester-pub-%s", cfg.IngestionNodeID),
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect downstream publisher")
	}

	// Future-timestamp sink
	futureLog, closeFuture, err := ingest.NewFutureLog(cfg.FutureTSLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open future-timestamp log")
	}
	defer func() { _ = closeFuture() }()

	// Correlation engine
	deps := ingest.Deps{
		Decoder:   mesh.NewDecoder(cfg.ChannelKey),
		Dedup:     dedup.New(),
		Publisher: pub,
		Writer:    writer,
		FutureLog: futureLog,
	}
	if geo != nil {
		deps.Geocoder = geo
	}
	engine := ingest.New(cfg, enabled, deps, log)
	engine.LoadState()

	prometheus.MustRegister(metrics.NewCollector(engine))

	// Background loops
	engineCtx, stopEngine := context.WithCancel(context.Background())
	writerCtx, stopWriter := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); engine.Run(engineCtx) }()
	go func() { defer wg.Done(); writer.Run(writerCtx) }()
	go func() { defer wg.Done(); engine.RunStats(engineCtx, cfg.StatsInterval) }()

	// Source clients
	var clients []*source.Client
	for _, src := range enabled {
		client, err := source.Connect(src, fmt.Sprintf("mesh-ingester-%s", cfg.IngestionNodeID), engine.HandleRaw, log)
		if err != nil {
			log.Error().Err(err).Str("source", src.Label).Msg("source unreachable, continuing without it")
			continue
		}
		clients = append(clients, client)
	}
	if len(clients) == 0 {
		log.Fatal().Msg("no source could be reached")
	}

	// Operational endpoints
	srv := httpserver.NewServer(cfg.HTTPAddr, func() bool {
		for _, c := range clients {
			if c.IsConnected() {
				return true
			}
		}
		return false
	}, log)
	srv.Start()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	// Ordered shutdown: stop intake, drain, flush, persist, disconnect.
	for _, c := range clients {
		c.Close()
	}
	stopEngine()
	stopWriter()
	wg.Wait()
	writer.Drain(context.Background())
	engine.PersistAll()
	pub.Close()
	srv.Shutdown(context.Background())

	log.Info().
		Int64("committed", engine.Committed()).
		Int64("written", writer.TotalWritten()).
		Msg("mesh-ingester stopped")
}
