package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"congregation-admin-go/internal/accounts"
	"congregation-admin-go/internal/config"
	"congregation-admin-go/internal/handlers"
	"congregation-admin-go/internal/identity"
	"congregation-admin-go/internal/jobs"
	"congregation-admin-go/internal/notify"
	"congregation-admin-go/internal/recycle"
	"congregation-admin-go/internal/store"
	"congregation-admin-go/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	telemetry.SetupLogger(cfg.Log.Format, cfg.Log.Level)
	for _, w := range cfg.Warnings() {
		slog.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg)
	if err != nil {
		slog.Error("failed to open store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("database migrations completed", "driver", cfg.StoreDriver)

	st.AddAuditListener(store.AuditListenerFunc(telemetry.CountAuditEntry))

	// Redis is optional: it carries the live event stream and the sweep lock.
	var redisStore *store.RedisStore
	if cfg.Redis.Addr != "" {
		redisStore = store.NewRedisStore(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisStore.Ping(ctx); err != nil {
			slog.Warn("redis unavailable, continuing without live events", "addr", cfg.Redis.Addr, "error", err)
			redisStore.Close()
			redisStore = nil
		} else {
			defer redisStore.Close()
			st.AddAuditListener(redisStore)
		}
	}

	var users identity.Provider
	if cfg.Identity.InMemory() {
		slog.Warn("using the in-memory identity provider")
		users = identity.NewMemoryProvider()
	} else {
		users = identity.NewClient(cfg.Identity.APIURL, cfg.Identity.SecretKey, cfg.Identity.Timeout)
	}

	recycleSvc := recycle.NewService(users, st, recycle.Options{
		RestoreRemovesBinItem: cfg.RestoreRemovesBinItem,
		SweepPolicy:           cfg.SweepPolicy(),
	})

	accountSvc := accounts.NewService(users, st, st)
	if err := accountSvc.EnsureDefaultAdmin(ctx, cfg.Admin.DefaultUsername, cfg.Admin.DefaultPassword); err != nil {
		slog.Error("failed to create default admin", "error", err)
		os.Exit(1)
	}

	pusher, err := notify.NewPusher(st, cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey, cfg.Push.Subscriber)
	if err != nil {
		slog.Error("failed to set up web push", "error", err)
		os.Exit(1)
	}

	h := handlers.NewHandler(recycleSvc, accountSvc, pusher, handlers.NewSessionStore(cfg.SessionSecret, cfg.SessionSecure))
	h.CronSecret = cfg.CronSecret
	h.AllowedOrigins = cfg.CORSAllowedOrigins
	if redisStore != nil {
		h.Events = redisStore
	}

	if cfg.Sweep.Enabled {
		sweeper := jobs.NewBinSweeper(recycleSvc, cfg.Sweep.Interval).WithNotifier(pusher)
		if redisStore != nil {
			sweeper.WithLocker(redisStore)
		}
		go sweeper.Start(ctx)
		defer sweeper.Stop()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.NewRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("listening", "addr", srv.Addr, "store", cfg.StoreDriver, "redis", redisStore != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.StoreDriver == config.DriverMemory {
		slog.Warn("using the in-memory store; data is lost on restart")
		return store.NewMemoryStore(), nil
	}
	pg, err := store.NewPostgresStore(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return pg, nil
}
