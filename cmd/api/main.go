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

	"github.com/mleone/profile-chatbot/backend/internal/abuse"
	"github.com/mleone/profile-chatbot/backend/internal/config"
	"github.com/mleone/profile-chatbot/backend/internal/guard"
	"github.com/mleone/profile-chatbot/backend/internal/handler"
	"github.com/mleone/profile-chatbot/backend/internal/model/profile"
	"github.com/mleone/profile-chatbot/backend/internal/quota"
	"github.com/mleone/profile-chatbot/backend/internal/service/ai"
	chatService "github.com/mleone/profile-chatbot/backend/internal/service/chat"
	"github.com/mleone/profile-chatbot/backend/pkg/utils"
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

	// Profile persona backing the chatbot.
	prof := profile.Load(cfg.Profile.ResumePath)

	// Abuse filter, with an operator-supplied rule set when configured.
	patterns := abuse.DefaultPatterns()
	if cfg.Limits.AbusePatternsFile != "" {
		loaded, err := abuse.LoadPatterns(cfg.Limits.AbusePatternsFile)
		if err != nil {
			log.Fatalf("failed to load abuse patterns: %v", err)
		}
		patterns = loaded
		log.Printf("loaded %d abuse patterns from %s", len(patterns), cfg.Limits.AbusePatternsFile)
	}
	filter := abuse.New(patterns)

	// Quota stores: shared Redis when configured, otherwise in-process.
	limits := quota.Limits{
		MaxRequestsPerSession: cfg.Limits.MaxRequestsPerSession,
		MaxTokensPerSession:   cfg.Limits.MaxTokensPerSession,
		MaxSessionsPerIP:      cfg.Limits.MaxSessionsPerIP,
		SessionExpiry:         cfg.Limits.SessionExpiry,
	}

	var sessions quota.SessionStore
	var ledger quota.IPLedger
	if cfg.Limits.RedisURL != "" {
		redisSessions, err := quota.NewRedisSessionStore(cfg.Limits.RedisURL, limits)
		if err != nil {
			log.Fatalf("failed to initialize redis session store: %v", err)
		}
		defer redisSessions.Close()

		redisLedger, err := quota.NewRedisIPLedger(cfg.Limits.RedisURL, limits)
		if err != nil {
			log.Fatalf("failed to initialize redis ip ledger: %v", err)
		}
		defer redisLedger.Close()

		sessions = redisSessions
		ledger = redisLedger
		log.Println("quota stores backed by redis")
	} else {
		sessions = quota.NewMemorySessionStore(limits)
		ledger = quota.NewMemoryIPLedger(limits)
		log.Println("quota stores in memory; single-instance deployment assumed")
	}

	estimator := utils.NewTokenEstimator(cfg.AI.Model, cfg.Limits.MaxTokensPerRequest)
	admissionGuard := guard.New(filter, sessions, ledger, estimator)

	// Conversation memory: S3 in production, local files otherwise.
	var history chatService.HistoryStore
	if cfg.Memory.UseS3 {
		history, err = chatService.NewS3HistoryStore(ctx, cfg.Memory.S3Bucket, cfg.Memory.AWSRegion)
		if err != nil {
			log.Fatalf("failed to initialize s3 history store: %v", err)
		}
		log.Printf("conversation memory in s3 bucket %s", cfg.Memory.S3Bucket)
	} else {
		history, err = chatService.NewFileHistoryStore(cfg.Memory.LocalDir)
		if err != nil {
			log.Fatalf("failed to initialize file history store: %v", err)
		}
		log.Printf("conversation memory in %s", cfg.Memory.LocalDir)
	}
	chatSvc := chatService.NewService(history)

	// Model service is optional; without credentials the API serves
	// refusals and health only.
	var aiSvc *ai.Service
	if cfg.AI.Enabled() {
		aiSvc, err = ai.NewService(ctx, prof, cfg.AI)
		if err != nil {
			log.Printf("warning: failed to initialize AI service: %v", err)
			log.Println("continuing without AI functionality - check the Ark model environment variables")
		} else {
			log.Println("AI service initialized successfully")
		}
	} else {
		log.Println("model credentials not configured, skipping AI initialization")
	}

	router := handler.NewRouter(cfg, admissionGuard, chatSvc, aiSvc)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("profile chatbot backend listening on %s", serverCfg.Addr)
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
