package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/spatialkit/anchorsession/config"
	"github.com/spatialkit/anchorsession/internal/logging"
	"github.com/spatialkit/anchorsession/provider"
	"github.com/spatialkit/anchorsession/provider/azure"
	"github.com/spatialkit/anchorsession/session"
	"github.com/spatialkit/anchorsession/spatial"
	"github.com/spatialkit/anchorsession/telemetry"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "Path to configuration file")
	configCheck := flag.Bool("config-check", false, "Validate configuration and exit")
	create := flag.Bool("create", false, "Create an anchor at the origin")
	find := flag.String("find", "", "Comma separated anchor ids to locate")
	remove := flag.String("delete", "", "Comma separated anchor ids to delete")
	watch := flag.Duration("watch", 0, "Keep the locate watcher running for this long")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *configCheck {
		fmt.Println("Configuration OK.")
		return
	}

	logger, cleanup, err := logging.Setup(cfg.Logging)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup logger")
	}
	defer cleanup()
	log.Logger = logger

	collector, err := newTelemetryCollector(cfg.Telemetry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "telemetry disabled: %v\n", err)
		collector = telemetry.Noop()
	}

	prov, err := azure.NewProvider(azure.Settings{
		Endpoint:      cfg.Account.Endpoint,
		AccountID:     cfg.Account.AccountID,
		AccountKey:    cfg.Account.AccountKey,
		TenantID:      cfg.Account.TenantID,
		ClientID:      cfg.Account.ClientID,
		ClientSecret:  cfg.Account.ClientSecret,
		Scope:         cfg.Account.Scope,
		WatchInterval: cfg.Account.WatchInterval.Duration,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create provider")
	}

	manager, err := session.New(prov, provider.StaticTracking(true), logger,
		session.WithReadinessInterval(cfg.ReadinessInterval()),
		session.WithTelemetry(collector),
		session.WithLocateFilter(cfg.Session.LocateFilter),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create session manager")
	}
	defer manager.Close()

	unsubscribe := manager.Subscribe(func(ev session.Event) {
		logEvent(logger, ev)
	})
	defer unsubscribe()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := manager.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start session")
	}

	if *create {
		id, err := manager.CreateAnchor(ctx, spatial.IdentityPose(), time.Now().Add(cfg.DefaultExpiration()))
		if err != nil {
			logger.Fatal().Err(err).Msg("anchor creation failed")
		}
		fmt.Println(id)
	}

	if ids := splitIDs(*remove); len(ids) > 0 {
		if err := manager.DeleteAnchors(ctx, ids); err != nil {
			logger.Fatal().Err(err).Msg("anchor deletion failed")
		}
	}

	if ids := splitIDs(*find); len(ids) > 0 {
		if !manager.FindAnchors(ids) {
			logger.Fatal().Msg("find anchors rejected")
		}
		if *watch <= 0 {
			*watch = 30 * time.Second
		}
	}

	if *watch > 0 {
		shutdownMetrics := serveMetrics(cfg.Telemetry, logger)
		defer shutdownMetrics()
		select {
		case <-ctx.Done():
		case <-time.After(*watch):
		}
	}

	manager.Stop()
}

func splitIDs(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	return ids
}

func newTelemetryCollector(cfg config.TelemetryConfig) (telemetry.Collector, error) {
	if !cfg.Enabled {
		return telemetry.Noop(), nil
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "", "prometheus":
		collector, err := telemetry.NewPrometheusCollector(nil)
		if err != nil {
			return nil, err
		}
		return collector, nil
	default:
		return telemetry.Noop(), fmt.Errorf("unsupported telemetry provider %q", cfg.Provider)
	}
}

func serveMetrics(cfg config.TelemetryConfig, logger zerolog.Logger) func() {
	if !cfg.Enabled || cfg.Listen == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: cfg.Listen, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}
}

func logEvent(logger zerolog.Logger, ev session.Event) {
	switch event := ev.(type) {
	case session.SessionInitialized:
		logger.Info().Msg("event: session initialized")
	case session.SessionStarted:
		logger.Info().Msg("event: session started")
	case session.SessionEnded:
		logger.Info().Msg("event: session ended")
	case session.SessionError:
		logger.Error().Err(event.Err).Msg("event: session error")
	case session.CreateAnchorStarted:
		logger.Info().Msg("event: create anchor started")
	case session.CreateAnchorSucceeded:
		logger.Info().Str("anchor", event.ID).Msg("event: create anchor succeeded")
	case session.CreateAnchorFailed:
		logger.Error().Err(event.Err).Msg("event: create anchor failed")
	case session.FindAnchorStarted:
		logger.Info().Strs("ids", event.IDs).Msg("event: find anchors started")
	case session.AnchorLocated:
		logger.Info().Str("anchor", event.Record.ID).Bool("placeholder", event.Record.Placeholder).Msg("event: anchor located")
	case session.AnchorUpdated:
		logger.Info().Str("anchor", event.ID).Msg("event: anchor updated")
	case session.AnchorDeleted:
		logger.Info().Str("anchor", event.ID).Msg("event: anchor deleted")
	case session.StatusMessage:
		logger.Info().Msg(event.Text)
	}
}
