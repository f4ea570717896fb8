// Command server runs the staffdesk approval workflow API.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"staffdesk/internal/config"
	"staffdesk/internal/middleware"
	"staffdesk/internal/server"
)

// @title Staffdesk API
// @version 1.0
// @description Approval workflows for community staff: leave, ban appeals, infractions, peer reviews and role changes.

// @contact.name Staff Operations
// @contact.email staff-ops@staffdesk.dev

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8375
// @BasePath /api
// @schemes http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and the gateway-issued JWT.

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	srv, err := server.NewServer(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		middleware.Logger.Info().Str("signal", sig.String()).Msg("shutting down server")
	case err := <-errCh:
		if err != nil {
			middleware.Logger.Error().Err(err).Msg("server stopped unexpectedly")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		middleware.Logger.Error().Err(err).Msg("server shutdown error")
		os.Exit(1)
	}
}
