// Package main is the sandbox backend: a reference implementation of the
// chat REST and realtime contract the SDK consumes, for local end-to-end
// runs without the production service.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/clarabridge/chat-sdk-go/internal/config"
	"github.com/clarabridge/chat-sdk-go/internal/llm"
	"github.com/clarabridge/chat-sdk-go/internal/middleware"
	"github.com/clarabridge/chat-sdk-go/internal/model"
	"github.com/clarabridge/chat-sdk-go/pkg/logger"
	"github.com/clarabridge/chat-sdk-go/pkg/tracing"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting sandbox backend", zap.String("app_id", cfg.AppID))

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chat-sandbox", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	var natsConn *nats.Conn
	opts := []nats.Option{nats.MaxReconnects(-1), nats.ReconnectWait(2 * time.Second)}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}
	natsConn, err = nats.Connect(cfg.NATSURL, opts...)
	if err != nil {
		log.Warn("NATS unavailable, realtime delivery disabled", zap.Error(err))
		natsConn = nil
	} else {
		defer natsConn.Close()
	}

	var llmClient llm.Client
	if cfg.AnthropicAPIKey != "" {
		llmClient, err = llm.NewAnthropicClient(cfg.AnthropicAPIKey)
		if err != nil {
			log.Warn("failed to create Anthropic client, auto-reply disabled", zap.Error(err))
		}
	} else if cfg.OpenAIAPIKey != "" {
		llmClient, err = llm.NewOpenAIClient(cfg.OpenAIAPIKey)
		if err != nil {
			log.Warn("failed to create OpenAI client, auto-reply disabled", zap.Error(err))
		}
	}

	st := newStore()
	pub := newPublisher(natsConn, log)
	h := newHandlers(cfg, st, pub, llmClient, log)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Bootstrap config needs no session; everything under /v2 does except
	// user creation and login, which mint the session.
	r.Get("/sdk/v2/integrations/{integrationID}/config", h.getConfig)

	r.Route("/v2/apps/{appID}", func(r chi.Router) {
		r.Post("/appusers", h.createUser)
		r.Post("/login", h.login)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWTSecret))
			r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

			r.Route("/appusers/{appUserID}", func(r chi.Router) {
				r.Get("/", h.getUser)
				r.Put("/", h.updateUser)
				r.Post("/logout", h.logout)
				r.Post("/conversations", h.createConversation)
				r.Get("/conversations", h.listConversations)
				r.Put("/pushToken", h.pushToken)
			})

			r.Route("/conversations/{conversationID}", func(r chi.Router) {
				r.Get("/", h.getConversation)
				r.Post("/subscribe", h.subscribe)
				r.Post("/messages", h.postMessage)
				r.Post("/images", h.upload(model.MessageTypeImage))
				r.Post("/files", h.upload(model.MessageTypeFile))
				r.Post("/activity", h.activity)
				r.Post("/postback", h.postback)
			})
		})
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	log.Info("server stopped")
}
