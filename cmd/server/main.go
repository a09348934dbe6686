package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"

	"agora/auth"
	"agora/broker"
	"agora/contract"
	"agora/infrastructure/httpapi"
	"agora/infrastructure/ws"
	"agora/internal"
	"agora/mentions"
	"agora/observability"
	"agora/repositories"
	"agora/runtime"
	"agora/runtime/workers"
	"agora/services"
)

// Exit codes to provide meaningful status to the operating system or
// service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

const shutdownTimeout = 10 * time.Second

func main() {
	// The main function acts as a thin wrapper.
	// Its only responsibility is to call run() and handle the OS exit code.
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Server terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run initializes all components, manages the server lifecycle, and
// centralizes error reporting. This pattern keeps every defer (database
// close, index flush) on the path to the OS exit.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()

	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return exitConfig, err
	}

	logger := internal.LoggerFromString(config.LogLevel)
	ctx := context.Background()

	// 2. Storage (BadgerDB + Bluge)
	db, err := badger.Open(buildBadgerOpts(config, logger, ctx))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	blugeWriter, err := bluge.OpenWriter(bluge.DefaultConfig(config.BlugeFilepath))
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to open bluge writer: %w", err)
	}
	defer func() {
		logger.Info("Closing Bluge...")
		_ = blugeWriter.Close()
	}()

	monitor := observability.NewMonitor(logger)

	if config.DebugPort != nil {
		endpoint := "/inspect"
		logger.Info("Debug Badger inspector available",
			"url", fmt.Sprintf("http://localhost:%d%s", *config.DebugPort, endpoint))
		internal.StartDebugServer(db, *config.DebugPort, endpoint,
			internal.MessageMapper, monitor.StatsMap)
	}

	// 3. Broker
	var eventBroker contract.Broker
	switch config.Broker {
	case "redis":
		redisBroker, err := broker.NewRedisBroker(ctx, config.RedisURL, logger)
		if err != nil {
			return exitRuntime, fmt.Errorf("redis broker init failed: %w", err)
		}
		eventBroker = redisBroker
	case "memory":
		eventBroker = broker.NewMemoryBroker(logger)
	}

	// 4. Repositories & core runtime
	agentRepository := repositories.NewAgentRepository(db, logger)
	chatRepository := repositories.NewChatRepository(db, logger)
	messageRepository := repositories.NewMessageRepository(db, logger)
	searchRepository := repositories.NewSearchRepository(blugeWriter, logger)

	resolver := mentions.NewResolver(mentions.Policy(config.MentionPolicy), config.ExtractContentMentions)
	dispatcher := runtime.NewDispatcher(logger, agentRepository, chatRepository,
		messageRepository, resolver, monitor, config.BufferSize)
	registry := runtime.NewRegistry()
	pipeline := runtime.NewPipeline(logger, eventBroker, registry, monitor,
		config.SinkTimeout, config.ResubscribeBackoff, config.ResubscribeBackoffMax)
	catchup := runtime.NewCatchup(messageRepository, config.CatchupPageSize, monitor)

	// 5. Services
	issuer := auth.NewTokenIssuer(config.AuthSecret, config.AuthTokenDuration)
	authService := services.NewAuthService(logger, agentRepository, issuer)
	chatService := services.NewChatService(logger, agentRepository, chatRepository,
		messageRepository, searchRepository, dispatcher)

	// 6. Context & Signals
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 7. Supervised workers
	sup := workers.NewSupervisor(logger, config.RestartInterval)
	sup.Add(
		pipeline,
		workers.NewPublisherWorker(logger, eventBroker, dispatcher.Outbox(), monitor,
			config.PublishBackoff, config.PublishBackoffMax, config.PublishRetries),
		workers.NewIndexerWorker(logger, searchRepository, dispatcher.IndexQueue()),
		workers.NewHealthWorker(logger, monitor, config.HealthInterval),
	)
	supDone := make(chan struct{})
	go func() {
		defer close(supDone)
		sup.Run(ctx)
	}()

	// 8. HTTP & WebSocket servers on one listener
	handler := httpapi.NewHandler(logger, authService, chatService)
	wsServer := ws.NewServer(logger, authService, chatService, registry, pipeline,
		catchup, monitor, config.ConnectionBufferSize)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsServer.HandleWebSocket)
	mux.Handle("/", httpapi.NewRouter(logger, handler, authService))

	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	server := &http.Server{Addr: address, Handler: mux}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "address", address, "broker", config.Broker)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// 9. Wait for stop or error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errChan:
		return exitRuntime, err
	}

	// 10. Graceful shutdown: stop accepting, then drain workers.
	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	sup.Stop()
	<-supDone
	logger.Info("Program stopped cleanly")

	return exitOK, nil
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)

	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG).
			WithBypassLockGuard(true)
	} else {
		options = options.WithLoggingLevel(badger.INFO)
	}

	return options
}
