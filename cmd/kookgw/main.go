package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rickgao/kook-gateway/internal/api"
	"github.com/rickgao/kook-gateway/internal/auth"
	"github.com/rickgao/kook-gateway/internal/config"
	"github.com/rickgao/kook-gateway/internal/connection"
	"github.com/rickgao/kook-gateway/internal/dispatch"
	"github.com/rickgao/kook-gateway/internal/logger"
	"github.com/rickgao/kook-gateway/internal/metrics"
	"github.com/rickgao/kook-gateway/internal/ratelimit"
	"github.com/rickgao/kook-gateway/internal/sink"
	"github.com/rickgao/kook-gateway/internal/store"
	"github.com/rickgao/kook-gateway/internal/tracer"
	"github.com/rickgao/kook-gateway/internal/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "configs/kookgw.yaml", "path to config file")
	envFile := flag.String("env", ".env", "optional dotenv file loaded before the config")
	flag.Parse()

	// Variables from the dotenv file feed ${VAR} expansion in the config.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
		return 1
	}

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	// Set up structured logging
	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logger: %v\n", err)
		return 1
	}
	defer closeLog()
	slog.SetDefault(log)

	log.Info("starting kookgw",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"mode", cfg.Gateway.Mode,
		"store", cfg.Store.Driver,
	)

	// Cancelled on SIGINT / SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		log.Error("failed to set up tracing", "error", err)
		return 1
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownTracer(tctx)
	}()

	creds, err := auth.LoadCredentials(cfg.Bot.Token, cfg.Bot.TokenFile)
	if err != nil {
		log.Error("failed to load bot credentials", "error", err)
		return 1
	}

	// REST client
	buckets := ratelimit.NewRegistry(ratelimit.WithLogger(log))
	defer buckets.Close()

	apiClient := api.NewClient(
		cfg.API.BaseURL,
		creds,
		api.WithLogger(log),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, cfg.API.RetryBackoff),
		api.WithBuckets(buckets),
		api.WithRateLimit(cfg.API.RateLimit, cfg.API.Burst),
		api.WithBreaker(api.BreakerConfig{
			MaxFailures: cfg.API.Breaker.MaxFailures,
			Timeout:     cfg.API.Breaker.Timeout,
			Interval:    cfg.API.Breaker.Interval,
		}),
	)

	// Session persistence
	st, err := store.Open(ctx, cfg.Store, log)
	if err != nil {
		log.Error("failed to open session store", "error", err)
		return 1
	}
	defer st.Close()

	flusher := store.NewFlusher(st, cfg.Store.FlushInterval, log)

	// Event delivery
	events := sink.NewBuffered(cfg.Sink.BufferSize, log)
	if cfg.Sink.Log {
		events.Register("log", sink.LogHandler(log))
	}
	if cfg.Sink.NATS.URL != "" {
		nc, err := sink.ConnectNATS(cfg.Sink.NATS, log)
		if err != nil {
			log.Error("failed to connect to nats", "error", err)
			return 1
		}
		defer nc.Drain()
		events.Register("nats", sink.NewNATSHandler(nc, cfg.Sink.NATS.SubjectPrefix))
	}

	// Frame dispatcher
	mode, err := dispatch.ParseMode(cfg.Gateway.Mode)
	if err != nil {
		log.Error("invalid gateway mode", "error", err)
		return 1
	}
	dispatcher := dispatch.New(dispatch.Config{
		Mode:          mode,
		WindowSize:    cfg.Gateway.WindowSize,
		SweepSchedule: cfg.Gateway.SweepSchedule,
	}, events, log)
	dispatcher.SetPersister(flusher)

	meta, err := st.Load(ctx)
	switch {
	case err == nil:
		dispatcher.Restore(meta)
	case errors.Is(err, store.ErrNotFound):
		log.Info("no saved session, starting fresh")
	default:
		log.Warn("failed to load saved session, starting fresh", "error", err)
	}

	if err := dispatcher.StartSweeper(ctx); err != nil {
		log.Error("failed to start window sweeper", "error", err)
		return 1
	}

	// Gateway connector
	connector := connection.NewConnector(connection.ConnectorConfig{
		Compress:          cfg.Gateway.Compress,
		HandshakeTimeout:  cfg.Gateway.HandshakeTimeout,
		HandshakeAttempts: cfg.Gateway.HandshakeAttempts,
		ResumeAttempts:    cfg.Gateway.ResumeAttempts,
		HeartbeatInterval: cfg.Gateway.HeartbeatInterval,
		PongTimeout:       cfg.Gateway.PongTimeout,
		PingRetries:       cfg.Gateway.PingRetries,
		ReconnectBaseWait: cfg.Gateway.ReconnectBaseWait,
		ReconnectMaxWait:  cfg.Gateway.ReconnectMaxWait,
		StableAfter:       cfg.Gateway.StableAfter,
		SkipOfflineCheck:  cfg.Gateway.SkipOfflineCheck,
		Client: connection.ClientConfig{
			HandshakeTimeout: cfg.Gateway.HandshakeTimeout,
			WriteTimeout:     cfg.Gateway.WriteTimeout,
			BufferSize:       cfg.Gateway.BufferSize,
		},
	}, apiClient, dispatcher,
		connection.WithLogger(log),
		connection.WithWorker("store_flusher", flusher.Run),
		connection.WithWorker("sink", events.Run),
	)
	dispatcher.SetControl(connector)

	// Start health server early so startup can be observed
	var healthServer *http.Server
	if cfg.Metrics.Enabled {
		healthServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler: createHealthHandler(cfg.Metrics.Path, connector, dispatcher, apiClient, events),
		}
		go func() {
			log.Info("starting health server", "port", cfg.Metrics.Port)
			if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
				log.Error("health server error", "error", err)
			}
		}()
	}

	exitCode := 0
	if err := connector.Start(ctx); err != nil {
		log.Error("failed to connect to gateway", "error", err)
		exitCode = 1
	} else {
		log.Info("kookgw running", "session_id", dispatcher.SessionID())

		// Wait for shutdown or a fatal gateway error
		select {
		case <-ctx.Done():
			log.Info("received shutdown signal")
		case err := <-connector.Fatal():
			log.Error("gateway failed permanently", "error", err)
			exitCode = 1
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := connector.Stop(shutdownCtx); err != nil {
			log.Warn("connector stop", "error", err)
		}
	}

	if healthServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		healthServer.Shutdown(shutdownCtx)
	}

	log.Info("kookgw stopped", "exit_code", exitCode)
	return exitCode
}

// createHealthHandler serves /health and the Prometheus endpoint.
func createHealthHandler(metricsPath string, connector *connection.Connector, dispatcher *dispatch.Dispatcher, apiClient *api.Client, events *sink.Buffered) http.Handler {
	mux := http.NewServeMux()

	mux.Handle(metricsPath, metrics.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		conn := connector.Snapshot()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status: "healthy",
			Components: map[string]any{
				"gateway":      conn,
				"session":      dispatcher.Snapshot(),
				"rest_breaker": apiClient.BreakerState().String(),
				"rate_buckets": apiClient.Buckets().Snapshot(),
				"sink":         events.Stats(),
			},
		}

		switch conn.State {
		case connection.StateConnected.String(), connection.StateAwaitingPong.String():
		case connection.StateTimedOut.String(), connection.StateResuming.String(), connection.StateConnecting.String():
			health.Status = "degraded"
		default:
			health.Status = "unhealthy"
		}

		// Set response
		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	return mux
}
