package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ccamacho/madison/internal/annotation"
	"github.com/ccamacho/madison/internal/app"
	"github.com/ccamacho/madison/internal/config"
	"github.com/ccamacho/madison/internal/export"
	"github.com/ccamacho/madison/internal/logging"
	"github.com/ccamacho/madison/internal/search"
	"github.com/ccamacho/madison/internal/store"
)

func main() {
	cfg := config.Load()
	logger := logging.New(os.Stdout, cfg.LogLevel)
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, store.Migrations()); err != nil {
		logger.Fatal().Err(err).Msg("migrations failed")
	}

	engine := annotation.NewEngine(store.NewPostgresStore(db), logger)
	annotator := export.NewAnnotator(cfg.Consumer)
	exports := export.NewService(engine, annotator)

	var index search.Index
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, cfg.MeiliIndex, logger)
		defer meili.Close()
		index = meili
	}

	var actions search.ActionStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisActions, err := search.NewRedisActions(cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, legacy actions disabled")
		} else {
			defer redisActions.Close()
			actions = redisActions
		}
	}

	legacy := search.NewService(index, actions, logger).WithFallback(search.NewPgFTS(db), engine, annotator)
	defer legacy.Wait()

	service := app.New(cfg, engine, legacy, exports, annotator, dbPinger{db}, logger)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("madison api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
}

type dbPinger struct {
	db interface {
		PingContext(context.Context) error
	}
}

func (p dbPinger) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}
