package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"findshop/internal/chatbox"
	"findshop/internal/httpapi"
	"findshop/internal/ingest"
	"findshop/internal/logging"
	"findshop/internal/query"
	"findshop/internal/store"
	"findshop/internal/sweeper"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := logging.New(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("database unavailable")
	}
	defer db.Close()

	catalogStore := store.New(db)
	queries := query.New(catalogStore, query.Options{
		PageSize:  cfg.PageSize,
		ChatWidth: cfg.ChatWidth,
	})

	go sweeper.New(catalogStore, cfg.Retention, cfg.SweepInterval, logger).Run(ctx)

	if cfg.ChatboxURL != "" {
		handler := chatbox.NewHandler(queries, chatbox.HandlerConfig{
			Aliases:  cfg.ChatAliases,
			HelpLink: cfg.HelpLink,
		}, logger)
		client := chatbox.NewClient(cfg.ChatboxURL, cfg.ChatboxName, handler, logger)
		go func() {
			if err := client.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("chatbox client stopped")
			}
		}()
	} else {
		logger.Warn().Msg("CHATBOX_URL not set, chat front end disabled")
	}

	api := httpapi.Recovery(logger)(httpapi.RequestLogging(logger)(httpapi.New(queries).Routes()))

	// The websocket endpoint bypasses the logging middleware: its
	// response writer wrapper would hide the Hijacker the upgrade needs.
	mux := http.NewServeMux()
	mux.Handle("/api/v1/listen", ingest.NewHandler(cfg.IngestToken, catalogStore, logger))
	mux.Handle("/", api)

	srv := &http.Server{Addr: cfg.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	logger.Info().Str("addr", cfg.Addr).Msg("findshop listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("server error")
	}
}
