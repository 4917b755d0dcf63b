package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"chat-hub/auth"
	"chat-hub/infrastructure/httpapi"
	"chat-hub/infrastructure/ws"
	"chat-hub/moderation"
	"chat-hub/repositories"
	"chat-hub/runtime"
	"chat-hub/runtime/workers"
	"chat-hub/services"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the server lifecycle, and centralizes error reporting.
// This pattern is preferred over calling os.Exit or panic directly because:
// 1. It ensures all 'defer' statements (like database cleanup) are executed before the program exits.
// 2. It improves testability by decoupling the initialization logic from the main entry point.
// 3. It provides a structured way to handle graceful shutdowns for the server and background workers.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.INFO))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Moderation
	censored, err := runtime.LoadCensoredWords()
	if err != nil {
		return fmt.Errorf("censored words loading failed: %w", err)
	}
	log.Info(fmt.Sprintf("%d censored words loaded [%s]",
		len(censored.Words), strings.Join(censored.Languages, ",")))

	censorRune, err := characterRune(config.ModerationChar)
	if err != nil {
		return err
	}
	moderator, err := moderation.NewModerator(censored.Words, censorRune)
	if err != nil {
		return fmt.Errorf("moderator build failed: %w", err)
	}

	// 4. Core wiring: registry, presence, router, repositories
	registry := runtime.NewRegistry()
	presence := runtime.NewPresenceTracker(log, registry)
	messageRepository := repositories.NewMessageRepository(db, log, config.LimitMessages)
	chatRepository := repositories.NewChatRepository(db, log)

	deliveries := make(chan workers.Delivery, config.BufferSize)
	router := runtime.NewRouter(log, registry, chatRepository, messageRepository, moderator, deliveries)
	verifier := auth.NewVerifier(config.JWTSecret)

	// 5. Supervision
	sup := workers.NewSupervisor(log, config.RestartInterval)
	sup.Add(workers.NewDeliveryWorker(log, registry, deliveries))
	sup.Add(workers.NewHeartbeatWorker(log, registry, config.HeartbeatInterval))

	// 6. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	supDone := make(chan struct{})
	go func() {
		defer close(supDone)
		sup.Run(ctx)
	}()

	// 7. HTTP & WebSocket server
	origins := strings.Split(config.AllowedOrigins, ",")
	wsHandler := ws.NewHandler(ctx, log, verifier, presence, router,
		config.ConnectionBufferSize, config.IdleTimeout, config.MaxFrameSize, origins)

	service := services.NewChatService(router, registry, messageRepository, chatRepository)
	api := httpapi.NewServer(log, service, verifier)

	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	server := &http.Server{Addr: address, Handler: api.Routes(wsHandler)}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting hub server", "address", address, "at", time.Now().UTC())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	// 8. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	// 9. Final Cleanup
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("Server shutdown incomplete", "err", err)
	}
	router.Drain()
	sup.Stop()
	<-supDone
	log.Info("Program stopped cleanly")

	return nil
}

// characterRune validates that the configured replacement is one rune.
func characterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"MODERATION_CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
