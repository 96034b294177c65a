package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"portal/threads/internal/app"
	"portal/threads/internal/clock"
	"portal/threads/internal/commentapi"
	"portal/threads/internal/config"
	"portal/threads/internal/logger"
	"portal/threads/internal/rbac"
	"portal/threads/internal/realtime"
	"portal/threads/internal/session"
	"portal/threads/internal/snapshot"
	"portal/threads/internal/telemetry"
)

func main() {
	cfg := config.Load()

	zlog, err := logger.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatalf("logger setup failed: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:    cfg.OTelEndpoint,
		Headers:     cfg.OTelHeaders,
		ServiceName: cfg.OTelServiceName,
	})
	if err != nil {
		zlog.Fatal("telemetry setup failed", zap.Error(err))
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	tokens := cfg.Tokens()
	bindings := make(map[rbac.Role]commentapi.Binding)
	for _, role := range []rbac.Role{rbac.RoleStudent, rbac.RoleAdmin} {
		token, ok := tokens[role]
		if !ok && role != cfg.DefaultRole {
			continue
		}
		bindings[role] = commentapi.NewClient(cfg.APIURL, role, token, httpClient, zlog)
	}

	trusted := clock.New(clock.NewHTTPSource(cfg.APIURL, httpClient), zlog)
	syncCtx, cancelSync := context.WithTimeout(ctx, 5*time.Second)
	if err := trusted.Sync(syncCtx); err != nil {
		zlog.Warn("trusted clock sync failed, using local time until the next sync", zap.Error(err))
	}
	cancelSync()

	deps := app.Deps{
		Selector: commentapi.NewSelector(bindings, cfg.DefaultRole),
		Clock:    trusted,
		Viewer: session.Viewer{
			Role:        cfg.DefaultRole,
			ActorID:     cfg.ActorID,
			DisplayName: cfg.ActorName,
		},
		PageLimit: cfg.PageLimit,
		NodeID:    cfg.SnowflakeNode,
		Log:       zlog,
	}
	if cfg.RedisEnabled() {
		store, err := snapshot.NewRedisStore(cfg.RedisURL, cfg.SnapshotTTL)
		if err != nil {
			zlog.Fatal("redis connection failed", zap.Error(err))
		}
		defer store.Close()
		deps.Snapshots = store
		deps.Events = app.RedisEvents(realtime.NewRedisSubscriber(store.Client(), cfg.EventsChannel, zlog))
		zlog.Info("using redis for snapshots and live updates")
	} else {
		zlog.Info("REDIS_URL not set, running without snapshots or live updates")
	}

	service, err := app.New(deps)
	if err != nil {
		zlog.Fatal("service setup failed", zap.Error(err))
	}
	go service.Run(ctx)
	go resyncClock(ctx, trusted, zlog)

	if cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	serviceName := ""
	if cfg.TracingEnabled() {
		serviceName = cfg.OTelServiceName
	}
	httpServer := app.NewHTTPServer(service, zlog, serviceName)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		zlog.Info("portal threads listening", zap.String("addr", cfg.Addr), zap.String("backend", cfg.APIURL))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zlog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error("shutdown error", zap.Error(err))
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		zlog.Error("telemetry shutdown error", zap.Error(err))
	}
}

// resyncClock re-measures the server offset so long-running processes do
// not drift.
func resyncClock(ctx context.Context, trusted *clock.Service, zlog *zap.Logger) {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			syncCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := trusted.Sync(syncCtx); err != nil {
				zlog.Warn("trusted clock resync failed", zap.Error(err))
			}
			cancel()
		}
	}
}
