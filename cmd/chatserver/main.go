// Package main is the entry point for the reference chat server.
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

	"go.uber.org/zap"

	"github.com/capitalize-ai/chatsync/internal/config"
	"github.com/capitalize-ai/chatsync/internal/handler"
	"github.com/capitalize-ai/chatsync/internal/hub"
	"github.com/capitalize-ai/chatsync/internal/llm"
	natsclient "github.com/capitalize-ai/chatsync/internal/nats"
	"github.com/capitalize-ai/chatsync/internal/service"
	"github.com/capitalize-ai/chatsync/internal/store"
	"github.com/capitalize-ai/chatsync/pkg/logger"
	"github.com/capitalize-ai/chatsync/pkg/tracing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "chatserver: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	logger.SetGlobal(log)

	log.Info("starting chat server", zap.String("store", cfg.StoreBackend))

	ctx := context.Background()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chatserver", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer func() { _ = tp.Shutdown(context.Background()) }()
		}
	}

	// Storage
	memory := store.NewMemory()
	var messages store.MessageStore = memory
	ready := map[string]handler.Pinger{}

	switch cfg.StoreBackend {
	case "memory":
	case "nats":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		natsClient, err := natsclient.Connect(connectCtx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		cancel()
		if err != nil {
			return err
		}
		defer natsClient.Close()

		streamManager := natsclient.NewStreamManager(natsClient)
		if err := streamManager.EnsureStream(ctx); err != nil {
			return err
		}
		messages = store.NewLogMessages(streamManager)
		ready["nats"] = natsClient
	default:
		return fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	// Services
	h := hub.New(log)
	var opts []service.MessageOption
	if agent := newAgent(cfg, log); agent != nil {
		opts = append(opts, service.WithAgent(agent, cfg.LLMModel))
	}
	chatSvc := service.NewChatService(memory, messages, log)
	messageSvc := service.NewMessageService(memory, messages, h, log, opts...)

	router := handler.NewRouter(handler.RouterConfig{
		Chats:             chatSvc,
		Messages:          messageSvc,
		Hub:               h,
		Logger:            log,
		JWTSecret:         cfg.JWTSecret,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		Ready:             ready,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	messageSvc.Wait()

	log.Info("server stopped")
	return nil
}

// newAgent picks the reply provider: the configured default when its key is
// set, then any provider with a key, then the echo agent.
func newAgent(cfg *config.Config, log *logger.Logger) llm.Client {
	if !cfg.AgentEnabled {
		log.Info("agent replies disabled")
		return nil
	}

	keys := map[llm.Provider]string{
		llm.ProviderAnthropic: cfg.AnthropicAPIKey,
		llm.ProviderOpenAI:    cfg.OpenAIAPIKey,
	}
	order := []llm.Provider{llm.Provider(cfg.DefaultLLM), llm.ProviderAnthropic, llm.ProviderOpenAI}
	for _, provider := range order {
		key := keys[provider]
		if key == "" {
			continue
		}
		client, err := llm.NewClient(provider, key)
		if err != nil {
			log.Warn("failed to create LLM client", zap.String("provider", string(provider)), zap.Error(err))
			continue
		}
		log.Info("agent replies enabled", zap.String("provider", client.Name()))
		return client
	}

	log.Info("no LLM key configured, using echo agent")
	return llm.NewEchoClient()
}
