// Package main runs the fieldsync agent: the offline action queue behind a
// local REST and WebSocket API on 127.0.0.1:8090.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cpltrack/fieldsync/cmd/agent/handlers"
	"github.com/cpltrack/fieldsync/internal/backend"
	"github.com/cpltrack/fieldsync/internal/config"
	"github.com/cpltrack/fieldsync/internal/connectivity"
	"github.com/cpltrack/fieldsync/internal/logging"
	"github.com/cpltrack/fieldsync/internal/notify"
	"github.com/cpltrack/fieldsync/internal/offline"
	"github.com/cpltrack/fieldsync/internal/store"
)

const serviceName = "fieldsync-agent"

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to the YAML configuration file")
	ephemeral := flag.Bool("ephemeral", false, "keep the queue in memory only")
	flag.Parse()

	if err := run(*configPath, *ephemeral); err != nil {
		logging.Error("Agent stopped with error", err)
		_ = logging.Get().Sync()
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if p := os.Getenv("FIELDSYNC_CONFIG"); p != "" {
		return p
	}
	return "config/config.yaml"
}

func run(configPath string, ephemeral bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if ephemeral {
		cfg.Store.Driver = "memory"
	}

	logger, err := logging.Setup(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kv, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	queueStore := store.NewQueueStore(kv, cfg.Store.QueueKey)
	defer func() {
		if err := queueStore.Close(); err != nil {
			logging.Warn("Failed to close store", map[string]interface{}{"error": err.Error()})
		}
	}()

	client := backend.New(cfg.Backend)

	hub := NewWSHub(cfg.Server.AllowedOrigins)
	defer hub.Close()
	notifier := notify.Multi{notify.Log{}, hub}

	prober, monitor, err := startConnectivity(ctx, cfg.Connectivity, client, notifier)
	if err != nil {
		return err
	}
	if prober != nil {
		defer prober.Stop()
	}

	manager := offline.NewManager(ctx, queueStore, client, offline.WithNotifier(notifier))
	svc := offline.NewService(manager, monitor, hub)

	server := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           newRouter(svc, hub),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logging.Info("Agent listening", map[string]interface{}{
			"addr":    cfg.Server.HTTPAddr,
			"store":   cfg.Store.Driver,
			"backend": client.BaseURL,
			"pending": manager.Len(),
			"log":     string(logger.Level()),
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logging.Info("Shutting down agent", nil)
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	svc.StopReplays()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Warn("Server forced to shutdown", map[string]interface{}{"error": err.Error()})
	}
	svc.Close(shutdownCtx)

	logging.Info("Agent exited properly", nil)
	return nil
}

// startConnectivity seeds the monitor from one probe and schedules the next ones.
func startConnectivity(ctx context.Context, cfg config.ConnectivityConfig, client *backend.Client, notifier notify.Notifier) (*connectivity.Prober, *connectivity.Monitor, error) {
	if !cfg.ProbeEnabled {
		return nil, connectivity.NewMonitor(true, notifier), nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, cfg.ProbeTimeout)
	online := client.Health(probeCtx) == nil
	cancel()

	monitor := connectivity.NewMonitor(online, notifier)
	prober, err := connectivity.NewProber(client, monitor, cfg.ProbeSchedule, cfg.ProbeTimeout)
	if err != nil {
		return nil, nil, err
	}
	prober.Start()

	logging.Info("Initial connectivity", map[string]interface{}{"online": online})
	return prober, monitor, nil
}

func newRouter(svc handlers.OfflineService, hub *WSHub) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok","service":"` + serviceName + `"}`))
		})
		handlers.NewOfflineHandler(svc).Register(r)
	})
	r.Get("/ws", HandleWebSocket(hub))

	return r
}

// requestLogger logs each request through the agent logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logging.Debug("HTTP request", map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		})
	})
}
