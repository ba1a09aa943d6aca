package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/presencewatch/presencewatch/server/internal/alerts"
	"github.com/presencewatch/presencewatch/server/internal/api"
	"github.com/presencewatch/presencewatch/server/internal/auth"
	"github.com/presencewatch/presencewatch/server/internal/config"
	"github.com/presencewatch/presencewatch/server/internal/history"
	"github.com/presencewatch/presencewatch/server/internal/receiver"
	"github.com/presencewatch/presencewatch/server/internal/store"
	"github.com/presencewatch/presencewatch/server/internal/ws"
)

// pruneInterval is how often the history database is pruned.
const pruneInterval = time.Hour

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	uiDir := flag.String("ui-dir", "", "serve the dashboard static files from this directory (e.g. ui/dist); leave empty to disable")
	flag.Parse()

	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	slog.Info("presencewatch-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(cfg.Server.Level())

	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"brokers", cfg.Server.Kafka.Brokers,
		"topic", cfg.Server.Kafka.Topic,
		"group_id", cfg.Server.Kafka.GroupID,
		"snapshot_ttl", cfg.Server.Snapshot.TTL,
		"storage", cfg.Server.Storage.Path,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Live state with background TTL eviction.
	st := store.New(cfg.Server.Snapshot.TTL)
	go st.Run(ctx)

	hist, err := history.Open(cfg.Server.Storage.Path)
	if err != nil {
		slog.Error("failed to open history database", "path", cfg.Server.Storage.Path, "err", err)
		os.Exit(1)
	}
	defer hist.Close()
	go hist.Run(ctx, cfg.Server.Storage.Retention, pruneInterval)

	alertEngine, err := alerts.New(cfg.Server.Alerts)
	if err != nil {
		slog.Error("invalid alert rules", "err", err)
		os.Exit(1)
	}

	hub := ws.New(st, cfg.Server.Snapshot.BroadcastInterval)
	go hub.Run(ctx)

	rcv := receiver.New(cfg.Server.Kafka, st, hist,
		receiver.SinkFunc(alertEngine.Evaluate),
		hub,
	)
	rcvDone := make(chan struct{})
	go func() {
		defer close(rcvDone)
		slog.Info("receiver consuming", "topic", cfg.Server.Kafka.Topic)
		rcv.Run(ctx)
	}()

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           newRouter(cfg.Server, st, hist, alertEngine, hub, *uiDir),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("presencewatch-server shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
	<-rcvDone
	alertEngine.Wait()
}

// newRouter assembles the HTTP surface: the REST API and WebSocket stream
// behind API key auth, and the optional dashboard.
func newRouter(cfg config.ServerConfig, st *store.Store, hist *history.History,
	al *alerts.Engine, hub *ws.Hub, uiDir string) http.Handler {
	root := mux.NewRouter()

	protected := root.NewRoute().Subrouter()
	protected.Use(auth.APIKeyMiddleware(cfg.Auth.Mode, cfg.Auth.EffectiveHeader(), cfg.Auth.Key()))
	protected.PathPrefix("/api/").Handler(handlers.CompressHandler(api.New(st, hist, al)))
	protected.Handle("/ws/stream", hub)

	// The "/" catch-all serves index.html for any unknown path (SPA routing).
	if uiDir != "" {
		fs := http.FileServer(http.Dir(uiDir))
		root.PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := uiDir + r.URL.Path
			if _, err := os.Stat(path); os.IsNotExist(err) {
				http.ServeFile(w, r, uiDir+"/index.html")
				return
			}
			fs.ServeHTTP(w, r)
		})
		slog.Info("serving UI static files", "dir", uiDir)
	}

	cors := []handlers.CORSOption{
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", cfg.Auth.EffectiveHeader()}),
	}
	if len(cfg.CORSOrigins) > 0 {
		cors = append(cors, handlers.AllowedOrigins(cfg.CORSOrigins))
	}

	var h http.Handler = root
	h = handlers.CustomLoggingHandler(io.Discard, h, logRequest)
	h = handlers.CORS(cors...)(h)
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{}), handlers.PrintRecoveryStack(true))(h)
	return h
}

// logRequest writes one debug record per HTTP request.
func logRequest(_ io.Writer, p handlers.LogFormatterParams) {
	slog.Debug("http: request",
		"method", p.Request.Method,
		"path", p.URL.Path,
		"status", p.StatusCode,
		"bytes", p.Size,
		"duration", time.Since(p.TimeStamp),
	)
}

// recoveryLogger routes recovered panics to slog.
type recoveryLogger struct{}

func (recoveryLogger) Println(v ...interface{}) {
	slog.Error("http: recovered panic", "panic", fmt.Sprint(v...))
}
