package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"pkgsearch/internal/adapters/registry"
	"pkgsearch/internal/adapters/search"
	"pkgsearch/internal/core/record"
	"pkgsearch/internal/ops"
	"pkgsearch/internal/platform/config"
	"pkgsearch/internal/platform/logger"
	"pkgsearch/internal/platform/observability"
	"pkgsearch/internal/platform/store"

	watchmod "pkgsearch/internal/services/watch/module"
)

func main() {
	root := config.New()
	l := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// state store
	dbCfg := root.Prefix("STATE_PGSQL_")
	st, err := store.Open(ctx, store.Config{
		URL:      dbCfg.MustString("URL"),
		MaxConns: int32(dbCfg.MayInt("MAX_CONNS", 4)),
	}, store.WithLogger(*l))
	if err != nil {
		l.Panic().Err(err).Msg("store.Open failed")
	}
	defer st.Close()

	// metrics
	obsCfg := root.Prefix("OTEL_METRICS_")
	mp, err := observability.InitMeterProvider(ctx, observability.Options{
		Enabled:     obsCfg.MayBool("ENABLED", false),
		ServiceName: "pkgsearch-watcher",
		ExportEvery: obsCfg.MayDuration("EXPORT_EVERY", 15*time.Second),
	})
	if err != nil {
		l.Panic().Err(err).Msg("meter provider init failed")
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mp.Shutdown(shCtx); err != nil {
			l.Warn().Err(err).Msg("meter provider shutdown failed")
		}
	}()
	metrics, err := observability.NewWatchMetrics()
	if err != nil {
		l.Panic().Err(err).Msg("metric registration failed")
	}

	// upstream registry
	regCfg := root.Prefix("REGISTRY_")
	reg := registry.NewClient(registry.Options{
		BaseURL:   regCfg.MustString("URL"),
		Database:  regCfg.MayString("DATABASE", "registry"),
		Heartbeat: regCfg.MayDuration("HEARTBEAT", 30*time.Second),
	})

	// downstream index
	idxCfg := root.Prefix("SEARCH_")
	sc := search.NewClient(search.Options{
		BaseURL: idxCfg.MustString("URL"),
		AppID:   idxCfg.MayString("APP_ID", ""),
		APIKey:  idxCfg.MayString("API_KEY", ""),
	})
	live := sc.Index(idxCfg.MayString("INDEX", "packages"))
	lost := sc.Index(idxCfg.MayString("LOST_INDEX", "packages-lost"))

	mod, err := watchmod.New(watchmod.Deps{
		Log:      *l,
		Cfg:      root,
		PG:       st.PG,
		Registry: reg,
		Index:    live,
		Lost:     lost,
		Format:   record.New(),
		Metrics:  metrics,
	}, watchmod.Options{})
	if err != nil {
		l.Panic().Err(err).Msg("watch module init failed")
	}
	if err := mod.EnsureSchema(ctx); err != nil {
		l.Panic().Err(err).Msg("watch schema init failed")
	}
	ports := mod.Ports()

	// ops surface is optional; skip when no addr is configured
	opsCfg := root.Prefix("OPS_")
	if addr := opsCfg.MayString("ADDR", ""); addr != "" {
		srv := ops.NewServer(ops.Options{
			Addr: addr,
			Slow: opsCfg.MayDuration("SLOW", 500*time.Millisecond),
		}, ports.Status)
		go func() {
			l.Info().Str("addr", addr).Msg("ops server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				l.Error().Err(err).Msg("ops server failed")
			}
		}()
		go func() {
			<-ctx.Done()
			shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shCtx)
		}()
	}

	if err := ports.Watcher.Run(ctx); err != nil {
		l.Panic().Err(err).Msg("watcher failed")
	}
	l.Info().Msg("bye")
}
