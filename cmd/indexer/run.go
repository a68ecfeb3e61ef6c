package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"waveScope/internal/analytics"
	"waveScope/internal/broadcast"
	"waveScope/internal/config"
	"waveScope/internal/metrics"
	"waveScope/internal/reconcile"
	"waveScope/internal/router"
	"waveScope/internal/storage"
	"waveScope/internal/storage/postgres"
	"waveScope/internal/supervisor"
)

const shutdownTimeout = 10 * time.Second

func runPipeline(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	store, err := postgres.NewStore(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()

	hub := broadcast.NewHub(
		broadcast.WithHubLogger(logger),
		broadcast.WithHubMetrics(m),
		broadcast.WithInitial(func(ctx context.Context) (broadcast.Message, error) {
			return broadcast.LeaderboardMessage(ctx, store, cfg.LeaderboardSize)
		}),
	)
	defer hub.Close()

	sinks := broadcast.Sinks{hub}
	if cfg.NATSURL != "" {
		ns, err := broadcast.DialNATS(cfg.NATSURL, cfg.NATSSubjectPrefix, logger)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer ns.Close()
		if err := ns.RelayAdmin(hub); err != nil {
			return err
		}
		sinks = append(sinks, ns)
	}

	notifier := broadcast.NewNotifier(sinks, store, cfg.LeaderboardSize, logger)
	notifier.Start(ctx)
	defer notifier.Stop()

	cache := analytics.New(store, analytics.Config{
		Days:     cfg.AnalyticsDays,
		MaxAge:   cfg.AnalyticsMaxAge,
		Debounce: cfg.AnalyticsDebounce,
		Location: loc,
	},
		analytics.WithLogger(logger),
		analytics.WithMetrics(m),
		analytics.WithPublisher(notifier),
	)
	cache.Start(ctx)
	defer cache.Stop()

	engine := reconcile.New(store,
		reconcile.WithLogger(logger),
		reconcile.WithPublisher(notifier),
		reconcile.WithAnalytics(cache),
		reconcile.WithAuditLog(storage.NewAuditLog(cfg.AuditLog)),
	)

	challenge, pool := cfg.Contracts()
	decoder, err := router.NewDecoder(challenge, pool)
	if err != nil {
		return err
	}

	// The supervisor is created before the router so the router can resolve
	// block times through whichever connection is current.
	var rt *router.Router
	sup, err := supervisor.New(supervisor.Config{
		Endpoint:       cfg.WSURL,
		Contracts:      []common.Address{challenge, pool},
		ReconnectDelay: cfg.ReconnectDelay,
	}, func(ctx context.Context, log types.Log) {
		rt.HandleLog(ctx, log)
	},
		supervisor.WithLogger(logger),
		supervisor.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	rt = router.New(decoder, engine, router.Config{Workers: cfg.DispatchWorkers},
		router.WithLogger(logger),
		router.WithMetrics(m),
		router.WithBlockTime(sup.BlockTime),
	)
	// Queued events are drained on Stop even after the signal fires.
	rt.Start(context.WithoutCancel(ctx))
	defer rt.Stop()

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]string{"state": sup.State().String(), "db": "ok"}
		if err := store.Ping(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body["db"] = err.Error()
		}
		writeJSON(w, status, body)
	})
	mux.HandleFunc("/analytics", func(w http.ResponseWriter, r *http.Request) {
		days := cfg.AnalyticsDays
		if raw := r.URL.Query().Get("days"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "days must be an integer"})
				return
			}
			days = n
		}
		snapshot, err := cache.Get(r.Context(), days)
		if err != nil {
			logger.Warn("analytics request failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "analytics unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
	})

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	srvErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	logger.Info("pipeline start",
		zap.String("ws_url", cfg.WSURL),
		zap.String("challenge", challenge.Hex()),
		zap.String("pool", pool.Hex()),
		zap.String("listen", cfg.Listen),
		zap.Int("workers", cfg.DispatchWorkers),
		zap.Bool("nats", cfg.NATSURL != ""),
	)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	go func() {
		if err, ok := <-srvErr; ok && err != nil {
			logger.Error("http server failed", zap.Error(err))
			cancelRun()
		}
	}()

	runErr := sup.Run(runCtx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}

	logger.Info("pipeline stopped", zap.String("state", sup.State().String()))
	return runErr
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
