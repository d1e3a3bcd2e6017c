// Package app wires the parley server runtime: config, logging, storage
// selection, the TCP chat listener, and the admin HTTP surface.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"parley/cmd/internal/chat"
	"parley/cmd/internal/store"
	"parley/cmd/security/password"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

// App is the parley server runtime.
type App struct {
	cfg Config
	log Logger

	gw        store.Gateway
	kv        *store.KV
	dbPool    *pgxpool.Pool
	dbEnabled bool

	srv *chat.Server
	reg *prometheus.Registry
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	gw, kv, dbPool, dbEnabled, err := newGateway(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := chat.NewMetrics(reg)

	srv, err := chat.NewServer(log, chat.Config{
		WorldConvID:         cfg.WorldConvID,
		WorldName:           cfg.WorldName,
		MaxLineBytes:        cfg.MaxLineBytes,
		MaxPendingSendBytes: cfg.MaxPendingSendBytes,
		HistoryDefaultLimit: cfg.HistoryDefaultLimit,
		HistoryMaxLimit:     cfg.HistoryMaxLimit,
		CacheTTL:            cfg.CacheTTL,
		AvatarDir:           cfg.AvatarDir,
	}, gw, password.New(cfg.PasswordMode), metrics)
	if err != nil {
		gw.Close()
		return nil, err
	}

	return &App{
		cfg:       cfg,
		log:       log,
		gw:        gw,
		kv:        kv,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		srv:       srv,
		reg:       reg,
	}, nil
}

// Run starts the TCP listener and the admin HTTP server and blocks until
// context cancellation or a fatal error.
func (a *App) Run(ctx context.Context) error {
	bootCtx, bootCancel := context.WithTimeout(ctx, 10*time.Second)
	err := a.srv.Bootstrap(bootCtx)
	bootCancel()
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", a.cfg.ListenAddr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.srv, a.reg)

	admin := &http.Server{
		Addr:              a.cfg.AdminAddr,
		Handler:           WithSecurityHeaders(WithRequestLogging(mux, a.log)),
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
	}

	a.log.Info("server.start",
		"listen_addr", a.cfg.ListenAddr,
		"admin_addr", a.cfg.AdminAddr,
		"db_enabled", a.dbEnabled,
		"kv_enabled", a.kv != nil,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.srv.Serve(gctx, ln)
	})

	g.Go(func() error {
		if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		a.srv.RunCacheSweeper(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()

		if err := admin.Shutdown(shutdownCtx); err != nil {
			a.log.Error("admin.shutdown.fail", "err", err)
		}
		a.srv.Shutdown()
		return nil
	})

	err = g.Wait()

	a.gw.Close()
	if a.kv != nil {
		_ = a.kv.Close()
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		a.log.Error("server.fail", "err", err)
		return err
	}
	a.log.Info("server.stopped")
	return nil
}

// newGateway decides between Postgres-backed persistence and the in-memory
// dev store, with the optional redis KV sidecar.
func newGateway(ctx context.Context, cfg Config, log Logger) (store.Gateway, *store.KV, *pgxpool.Pool, bool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return store.NewMemory(), nil, nil, false, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, nil, false, err
	}

	var kv *store.KV
	if cfg.RedisAddr != "" {
		kv, err = store.NewKV(ctx, store.KVConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			PoolSize: cfg.RedisPoolSize,
		})
		if err != nil {
			pool.Close()
			return nil, nil, nil, false, err
		}
		log.Info("kv.enabled.redis", "addr", cfg.RedisAddr)
	}

	opts := []store.PostgresOption{store.WithSchema(cfg.DBSchema)}
	if kv != nil {
		opts = append(opts, store.WithKV(kv))
	}

	gw, err := store.NewPostgres(pool, opts...)
	if err != nil {
		if kv != nil {
			_ = kv.Close()
		}
		pool.Close()
		return nil, nil, nil, false, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
	return gw, kv, pool, true, nil
}
