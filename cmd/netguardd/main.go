package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/netguard/netguard-go/internal/classify"
	"github.com/netguard/netguard-go/internal/db"
	"github.com/netguard/netguard-go/internal/decision"
	"github.com/netguard/netguard-go/internal/enforce"
	"github.com/netguard/netguard-go/internal/handlers"
	"github.com/netguard/netguard-go/internal/intercept"
	"github.com/netguard/netguard-go/internal/lexicon"
	"github.com/netguard/netguard-go/internal/monitor"
	"github.com/netguard/netguard-go/internal/ratelimit"
	"github.com/netguard/netguard-go/internal/sampler"
	"github.com/netguard/netguard-go/internal/server"
	"github.com/netguard/netguard-go/internal/sse"
	"github.com/netguard/netguard-go/internal/ws"
)

func main() {
	logger := server.SetupLogger(os.Getenv("LOG_LEVEL"))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to PostgreSQL
	database, err := db.Connect(ctx, logger)
	if err != nil {
		logger.Error("failed to connect to database", "err", err)
		os.Exit(1)
	}
	defer database.Close()

	// Keyword tables and classifier
	lex, err := lexicon.Load(os.Getenv("NETGUARD_LEXICON_DIR"))
	if err != nil {
		logger.Error("failed to load lexicons", "err", err)
		os.Exit(1)
	}
	classifier := classify.New(logger, lex)
	if err := classifier.Train(); err != nil {
		logger.Error("initial training failed", "err", err)
		os.Exit(1)
	}

	// Decision engine, restoring persisted sensitivity
	engine := decision.New(logger, loadSensitivity(ctx, database, logger))

	// Hosts file enforcement
	hostsPath := os.Getenv("NETGUARD_HOSTS_FILE")
	if hostsPath == "" {
		hostsPath = defaultHostsPath()
	}
	reconciler := enforce.New(logger, hostsPath)

	// Connection sampler with reverse DNS enrichment
	pollInterval := sampler.DefaultInterval
	if v := os.Getenv("NETGUARD_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			pollInterval = d
		} else {
			logger.Warn("invalid NETGUARD_POLL_INTERVAL, using default", "value", v)
		}
	}
	idleTimeout := sampler.DefaultIdleTimeout
	if v := os.Getenv("NETGUARD_IDLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			idleTimeout = d
		} else {
			logger.Warn("invalid NETGUARD_IDLE_TIMEOUT, using default", "value", v)
		}
	}
	rdns := sampler.NewRDNS(logger, "/etc/resolv.conf")
	smp := sampler.New(logger, rdns, pollInterval, idleTimeout)

	sseHub := sse.NewHub(logger)
	limiter := ratelimit.New()
	wsManager := ws.NewManager(database, logger)

	mon := monitor.New(monitor.Config{
		Log:        logger,
		DB:         database,
		Classifier: classifier,
		Engine:     engine,
		Reconciler: reconciler,
		Sampler:    smp,
		Hub:        sseHub,
		WS:         wsManager,
	})

	// Interception proxy; the CA is optional, without it dev mode only
	// tunnels.
	ring := intercept.NewRing(0)
	var ca *intercept.CA
	caDir := os.Getenv("NETGUARD_CA_DIR")
	if caDir == "" {
		caDir = defaultCADir()
	}
	if loaded, err := intercept.LoadOrCreateCA(caDir); err != nil {
		logger.Warn("certificate authority unavailable, interception disabled", "err", err)
	} else {
		ca = loaded
	}

	proxyAddr := os.Getenv("NETGUARD_PROXY_ADDR")
	if proxyAddr == "" {
		proxyAddr = intercept.DefaultAddr
	}
	proxy, err := intercept.Start(proxyAddr, intercept.Config{
		Log:       logger,
		CA:        ca,
		Ring:      ring,
		Gate:      mon.IsBlocked,
		OnCapture: mon.HandleCapture,
	})
	if err != nil {
		logger.Error("failed to start proxy", "err", err)
		os.Exit(1)
	}
	defer proxy.Close()
	mon.AttachProxy(proxy)
	restoreDevMode(ctx, database, proxy, logger)

	// Monitoring resumes if it was on before the last shutdown.
	if wasMonitoring(ctx, database) {
		if err := mon.Start(ctx); err != nil {
			logger.Error("failed to resume monitoring", "err", err)
		}
	}

	// HTTP handlers
	api := handlers.NewAPI(database, mon, classifier, engine, limiter, logger)
	streamHandler := handlers.NewStreamHandler(sseHub)

	// Build router
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(corsMiddleware)

	r.Get("/ping", api.Ping)
	r.Get("/ws/traffic", wsManager.HandleWS)

	r.Route("/api", func(rt chi.Router) {
		rt.Get("/stats", api.Stats)
		rt.Get("/detections", api.Detections)
		rt.Get("/connections", api.Connections)
		rt.Get("/traffic", api.Traffic)
		rt.Get("/bandwidth", api.Bandwidth)
		rt.Post("/monitoring", api.SetMonitoring)

		rt.Post("/sites/block", api.BlockSite)
		rt.Post("/sites/unblock", api.UnblockSite)
		rt.Get("/sites/blocked", api.BlockedSites)
		rt.Post("/sites/import", api.ImportSites)

		rt.Get("/settings", api.GetSettings)
		rt.Post("/settings", api.UpdateSettings)
		rt.Post("/feedback", api.Feedback)
		rt.Post("/cleanup", api.Cleanup)
		rt.Get("/model", api.Model)

		rt.Get("/stream/events", streamHandler.HandleSSE)
	})

	// Idle rate-limit buckets accumulate per client IP; sweep hourly.
	go server.Every(ctx, time.Hour, func(ctx context.Context) {
		limiter.Sweep(time.Hour)
	})

	// Start HTTP server
	port := os.Getenv("PORT")
	if port == "" {
		port = "8090"
	}
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE + WebSocket need unlimited write time
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutdown signal received")
		mon.Stop(context.Background())
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "err", err)
		}
	}()

	logger.Info("server starting", "port", port, "proxy", proxy.Addr(), "hosts", hostsPath)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func loadSensitivity(ctx context.Context, database *db.DB, logger *slog.Logger) int {
	v, err := database.GetSetting(ctx, monitor.SettingSensitivity)
	if err != nil {
		return decision.DefaultSensitivity
	}
	s, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn("stored sensitivity unreadable, using default", "value", v)
		return decision.DefaultSensitivity
	}
	return s
}

func restoreDevMode(ctx context.Context, database *db.DB, proxy *intercept.Proxy, logger *slog.Logger) {
	v, err := database.GetSetting(ctx, monitor.SettingDevMode)
	if err != nil {
		return
	}
	on, err := strconv.ParseBool(v)
	if err != nil {
		logger.Warn("stored dev mode unreadable", "value", v)
		return
	}
	proxy.SetDevMode(on)
}

func wasMonitoring(ctx context.Context, database *db.DB) bool {
	v, err := database.GetSetting(ctx, monitor.SettingMonitoring)
	if err != nil {
		return false
	}
	on, _ := strconv.ParseBool(v)
	return on
}

// corsMiddleware allows the dashboard frontend to call from any origin.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
