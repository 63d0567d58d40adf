package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tobrady/witbridge/internal/config"
	"github.com/tobrady/witbridge/internal/handler"
	"github.com/tobrady/witbridge/internal/handler/webhook"
	"github.com/tobrady/witbridge/internal/model/session"
	"github.com/tobrady/witbridge/internal/service/bot"
	"github.com/tobrady/witbridge/internal/service/messenger"
	"github.com/tobrady/witbridge/internal/service/wit"
	"github.com/tobrady/witbridge/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	var sessions session.Store
	if cfg.Session.DBPath != "" {
		db, err := store.Open(cfg.Session.DBPath)
		if err != nil {
			log.Fatalf("failed to open session database: %v", err)
		}
		defer db.Close()
		sessions = store.NewSessionStore(db, cfg.Session.LookupFallthrough)
		log.Printf("session store: sqlite at %s", cfg.Session.DBPath)
	} else {
		sessions = session.NewMemoryStore()
		log.Println("session store: in-memory (set SESSION_DB_PATH to persist sessions)")
	}

	sender := messenger.NewClient(cfg.Messenger.APIBaseURL, cfg.Messenger.PageToken)
	actions := bot.NewRegistry(sessions, sender)
	engine := wit.NewClient(cfg.Wit.APIBaseURL, cfg.Wit.Token, actions)

	webhookHandler := webhook.New(sessions, engine, sender, cfg.Messenger.AppSecret, cfg.Messenger.VerifyToken)
	router := handler.NewRouter(webhookHandler)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("webhook bridge listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
