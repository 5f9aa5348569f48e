package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ccgw/cc-gw/api/handlers"
	"github.com/ccgw/cc-gw/config"
	"github.com/ccgw/cc-gw/internal/keys"
	"github.com/ccgw/cc-gw/internal/metrics"
	"github.com/ccgw/cc-gw/internal/server"
	"github.com/ccgw/cc-gw/internal/store"
	"github.com/ccgw/cc-gw/internal/telemetry"
	"github.com/ccgw/cc-gw/internal/vault"
	"github.com/ccgw/cc-gw/internal/websession"
	"github.com/ccgw/cc-gw/protocol"
	"github.com/ccgw/cc-gw/providers"
	"github.com/ccgw/cc-gw/router"
	"github.com/ccgw/cc-gw/types"
)

const maintenanceInterval = 24 * time.Hour

// runServer assembles the gateway and serves until SIGINT or SIGTERM.
// Exit code 2 means the configuration document failed validation.
func runServer(home string, portOverride int) int {
	cs := config.NewStore(config.FilePath(home), nil)
	if err := cs.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		if types.GetErrorCode(err) == types.ErrConfigInvalid {
			return 2
		}
		return 1
	}
	cfg := cs.Get()

	logger, err := buildLogger(home, cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting cc-gw",
		zap.String("version", Version),
		zap.String("home", home),
	)

	v, err := vault.Open(config.KeyPath(home), logger)
	if err != nil {
		logger.Error("open vault", zap.Error(err))
		return 1
	}

	collector := metrics.NewCollector("ccgw", logger)

	if err := os.MkdirAll(config.DataDir(home), 0o755); err != nil {
		logger.Error("create data dir", zap.Error(err))
		return 1
	}
	st, err := store.Open(config.DBPath(home), store.Options{QueueGauge: collector.QueueGauge()}, logger)
	if err != nil {
		logger.Error("open store", zap.Error(err))
		return 1
	}
	defer func() { _ = st.Close() }()

	cs.SetPanicHook(func(recovered any) {
		st.InsertEventAsync(&store.GatewayEvent{
			Timestamp: time.Now().UnixMilli(),
			Level:     store.EventLevelError,
			Type:      store.EventTypeConfig,
			Title:     "config listener panicked",
			Message:   fmt.Sprint(recovered),
		})
	})

	kr, err := keys.New(st, v, logger)
	if err != nil {
		logger.Error("init api keys", zap.Error(err))
		return 1
	}
	sessions := websession.NewManager(logger)

	conns := providers.NewRegistry(cfg, providers.DefaultTimeouts(), logger)
	cs.OnChange(func(next *config.Config) { conns.Rebuild(next) })

	tel, err := telemetry.Init(cfg.Telemetry, Version, logger)
	if err != nil {
		logger.Error("init telemetry", zap.Error(err))
		return 1
	}

	proxy := handlers.NewProxy(cs, router.New(logger), conns, kr, st, collector, logger)
	admin := handlers.NewAdmin(cs, st, kr, sessions, conns, Version, cfg.TLS != nil, proxy.ActiveRequests, logger)

	mux := buildMux(cfg, proxy, admin, logger)
	middlewares := []Middleware{
		Recovery(logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(logger.Named("http")),
		CORS(),
	}
	if tel.Enabled() {
		middlewares = append(middlewares, Tracing("cc-gw"))
	}
	middlewares = append(middlewares,
		RateLimit(cs, logger),
		SessionGate(admin),
	)
	handler := Chain(mux, middlewares...)

	port := cfg.Listen.Port
	if portOverride > 0 {
		port = portOverride
	}
	srvCfg := server.DefaultConfig(cfg.Listen.Host + ":" + strconv.Itoa(port))
	if cfg.TLS != nil {
		srvCfg.CertFile = cfg.TLS.CertFile
		srvCfg.KeyFile = cfg.TLS.KeyFile
	}
	mgr := server.NewManager(handler, srvCfg, logger)
	if err := mgr.Start(); err != nil {
		logger.Error("start listener", zap.Error(err))
		return 1
	}

	if err := writePID(home, os.Getpid()); err != nil {
		logger.Warn("write pidfile", zap.Error(err))
	}
	defer os.Remove(config.PIDPath(home))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case err := <-mgr.Errors():
			return err
		}
	})
	g.Go(func() error {
		runMaintenance(gctx, cs, st, logger)
		return nil
	})

	exit := 0
	if err := g.Wait(); err != nil {
		logger.Error("server failed", zap.Error(err))
		exit = 1
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown", zap.Error(err))
	}
	return exit
}

// buildLogger configures zap per the log section: json or console encoding,
// writing to stdout and the rotating-agnostic file under ~/.cc-gw/logs.
func buildLogger(home string, lc config.LogConfig) (*zap.Logger, error) {
	if err := os.MkdirAll(config.LogDir(home), 0o755); err != nil {
		return nil, err
	}

	level, err := zap.ParseAtomicLevel(lc.Level)
	if err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	zc := zap.NewProductionConfig()
	zc.Level = level
	if lc.Format == "console" {
		zc = zap.NewDevelopmentConfig()
		zc.Level = level
	}
	zc.OutputPaths = []string{"stdout", config.LogFilePath(home)}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}

// buildMux registers the model endpoints, the management API, and the
// static UI. Custom endpoint paths are bound at startup; changing them in
// the config requires a restart.
func buildMux(cfg *config.Config, proxy *handlers.Proxy, admin *handlers.Admin, logger *zap.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	registered := make(map[string]bool)
	post := func(path string, endpoint protocol.Endpoint) {
		pattern := "POST " + path
		if registered[pattern] {
			logger.Warn("duplicate endpoint path skipped", zap.String("path", path))
			return
		}
		registered[pattern] = true
		mux.HandleFunc(pattern, proxy.Handler(endpoint))
	}

	post("/anthropic/v1/messages", protocol.EndpointAnthropic)
	post("/openai/v1/chat/completions", protocol.EndpointOpenAIChat)
	post("/openai/v1/responses", protocol.EndpointResponses)
	// Bare aliases for clients that cannot set a path prefix.
	post("/v1/messages", protocol.EndpointAnthropic)
	post("/v1/chat/completions", protocol.EndpointOpenAIChat)
	post("/v1/responses", protocol.EndpointResponses)

	for _, ce := range cfg.CustomEndpoints {
		switch ce.Protocol {
		case "anthropic":
			post(ce.Path, protocol.EndpointAnthropic)
		case "openai-chat":
			post(ce.Path, protocol.EndpointOpenAIChat)
		case "openai-responses":
			post(ce.Path, protocol.EndpointResponses)
		}
	}

	mux.HandleFunc("GET /healthz", admin.Health)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/status", admin.Status)
	mux.HandleFunc("GET /api/config", admin.GetConfig)
	mux.HandleFunc("PUT /api/config", admin.PutConfig)
	mux.HandleFunc("GET /api/stats/overview", admin.StatsOverview)
	mux.HandleFunc("GET /api/stats/daily", admin.StatsDaily)
	mux.HandleFunc("GET /api/stats/model", admin.StatsByModel)
	mux.HandleFunc("GET /api/logs", admin.Logs)
	mux.HandleFunc("GET /api/logs/{id}", admin.LogByID)
	mux.HandleFunc("POST /api/logs/cleanup", admin.CleanupLogs)
	mux.HandleFunc("GET /api/keys", admin.ListKeys)
	mux.HandleFunc("POST /api/keys", admin.CreateKey)
	mux.HandleFunc("PUT /api/keys/{id}", admin.UpdateKey)
	mux.HandleFunc("DELETE /api/keys/{id}", admin.DeleteKey)
	mux.HandleFunc("GET /api/events", admin.Events)
	mux.HandleFunc("GET /api/db/info", admin.DBInfo)
	mux.HandleFunc("POST /api/db/compact", admin.CompactDB)
	mux.HandleFunc("POST /api/auth/login", admin.Login)
	mux.HandleFunc("POST /api/auth/logout", admin.Logout)
	mux.HandleFunc("GET /api/auth/session", admin.Session)

	if root := config.UIRoot(); root != "" {
		mux.Handle("GET /", spaHandler(root))
	}
	return mux
}

// spaHandler serves static assets with an index.html fallback so client-side
// routes deep-link correctly.
func spaHandler(root string) http.Handler {
	fs := http.FileServer(http.Dir(root))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := filepath.Join(root, filepath.Clean("/"+r.URL.Path))
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			if r.URL.Path != "/" {
				http.ServeFile(w, r, filepath.Join(root, "index.html"))
				return
			}
		}
		fs.ServeHTTP(w, r)
	})
}

// runMaintenance sweeps expired request logs on a daily cadence, using the
// retention window from the live config snapshot.
func runMaintenance(ctx context.Context, cs *config.Store, st *store.Store, logger *zap.Logger) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			days := cs.Get().Log.RetentionDays
			deleted, err := st.Sweep(days)
			if err != nil {
				logger.Warn("retention sweep failed", zap.Error(err))
				continue
			}
			if deleted > 0 {
				logger.Info("retention sweep",
					zap.Int64("deleted", deleted),
					zap.Int("retentionDays", days),
				)
			}
		}
	}
}
