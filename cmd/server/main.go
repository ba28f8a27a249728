package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kit-notes-server/internal/config"
	"kit-notes-server/internal/handler"
	"kit-notes-server/internal/oracle"
	"kit-notes-server/internal/repository"
	"kit-notes-server/internal/service"
	"kit-notes-server/internal/websocket"
	"kit-notes-server/pkg/logger"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logs, err := logger.New().
		WithLevel(cfg.Logging.Level).
		WithFormat(cfg.Logging.Format).
		ToFile(cfg.Logging.File).
		Make()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logs.Close()
	log := logs.Logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to open note store")
	}
	defer store.Close()

	gemini, err := oracle.NewGeminiOracle(ctx, oracle.GeminiConfig{
		APIKey: cfg.Oracle.APIKey,
		Model:  cfg.Oracle.Model,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create oracle")
	}

	dispatcher := service.NewActionDispatcher(store, log).
		WithLocation(cfg.Server.Location).
		WithTagSuggester(gemini)
	chatService := service.NewChatService(gemini, dispatcher, cfg.Oracle.Timeout, log)
	noteService := service.NewNoteService(store, cfg.Server.Location)

	wsManager := websocket.NewManager(websocket.Config{
		MaxConnPerUser: cfg.WebSocket.MaxConnPerUser,
		WriteWait:      cfg.WebSocket.WriteWait,
		PongWait:       cfg.WebSocket.PongWait,
		PingPeriod:     cfg.WebSocket.PingPeriod,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
	}, log)
	wsManager.SetMessageHandler(handler.NewWebSocketMessageHandler(chatService, log))

	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		wsManager.Run(hubCtx)
		close(hubDone)
	}()

	r := handler.NewRouter(handler.RouterDeps{
		Notes:     noteService,
		Chat:      chatService,
		WSManager: wsManager,
		WebSocket: cfg.WebSocket,
		Auth:      cfg.Auth,
		CORS:      cfg.CORS,
		Logger:    log,
	})

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	// WriteTimeout stays above the oracle timeout so POST /chat can answer.
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Oracle.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", addr).
			Str("env", cfg.Server.Env).
			Str("store", cfg.Store.Driver).
			Bool("auth", cfg.Auth.Enabled()).
			Msg("starting KIT notes server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		log.Error().Err(err).Msg("server failed")
	}

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	stopHub()
	<-hubDone

	inflight := make(chan struct{})
	go func() {
		wsManager.Wait()
		close(inflight)
	}()
	select {
	case <-inflight:
	case <-shutdownCtx.Done():
		log.Warn().Msg("gave up waiting for in-flight chat requests")
	}

	log.Info().Msg("server stopped gracefully")
}

func openStore(ctx context.Context, cfg config.StoreConfig, log zerolog.Logger) (repository.NoteStore, error) {
	switch cfg.Driver {
	case config.DriverCouchDB:
		client, err := kivik.New("couch", cfg.CouchDB.URL())
		if err != nil {
			return nil, fmt.Errorf("connect to couchdb: %w", err)
		}
		created, err := repository.EnsureCouchDB(ctx, client, cfg.CouchDB.Name)
		if err != nil {
			return nil, err
		}
		if created {
			log.Info().Str("database", cfg.CouchDB.Name).Msg("created database")
		}
		log.Info().Str("host", cfg.CouchDB.Host).Str("port", cfg.CouchDB.Port).Msg("connected to CouchDB")
		return repository.NewCouchNoteStore(client, cfg.CouchDB.Name, log), nil

	default:
		store, err := repository.NewSQLiteNoteStore(repository.SQLiteConfig{Path: cfg.SQLitePath}, log)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", cfg.SQLitePath).Msg("opened SQLite store")
		return store, nil
	}
}
