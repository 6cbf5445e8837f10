// Package main initializes and starts the passlock sync relay,
// setting up configuration, logging, the database connection,
// repositories, services, and handlers. TLS termination is expected
// in front of the relay.
package main

import (
	"cmp"
	"fmt"

	nethttp "net/http"

	"go.uber.org/zap"

	"github.com/dmagur/passlock/internal/config"
	"github.com/dmagur/passlock/internal/db"
	"github.com/dmagur/passlock/internal/logger"
	"github.com/dmagur/passlock/internal/repository"
	"github.com/dmagur/passlock/internal/server/handler/http"
	"github.com/dmagur/passlock/internal/service"
)

var (
	// version holds the build version set via ldflags.
	version string
	// buildDate holds the build timestamp set via ldflags.
	buildDate string
)

func main() {
	// Parse command-line and environment configuration.
	options := config.Parse()

	// Print build metadata (or "N/A" if unset).
	fmt.Printf("Build version: %s\n", cmp.Or(version, "N/A"))
	fmt.Printf("Build date: %s\n", cmp.Or(buildDate, "N/A"))

	// Initialize structured logging.
	log := logger.New()
	if err := log.Init(options.LogLevel); err != nil {
		panic(err)
	}
	defer func() { _ = log.Log.Sync() }()
	zapLogger := log.Log

	// Initialize PostgreSQL connection and schema.
	postgresDB, err := db.InitPostgres(options.DatabaseDSN)
	if err != nil {
		zapLogger.Fatal("cannot init database", zap.Error(err))
	}
	defer postgresDB.Close()

	// Initialize repositories for authentication and synchronization.
	authRepo := repository.NewPostgresAuthRepository(postgresDB)
	syncRepo := repository.NewPostgresSyncRepository(postgresDB)

	// Initialize business-logic services.
	authService := service.NewAuthService(authRepo)
	syncService := service.NewSyncService(syncRepo)

	// Create HTTP handlers for auth and sync endpoints.
	authHandler := &http.AuthHandler{AuthService: authService}
	syncHandler := &http.SyncHandler{SyncService: syncService}

	// Build the router with middleware and routes. The auth service
	// doubles as the bearer-token validator.
	router := http.NewRouter(authHandler, syncHandler, authService, zapLogger)

	server := &nethttp.Server{
		Addr:    options.Addr,
		Handler: router,
	}

	zapLogger.Info("starting relay", zap.String("addr", options.Addr))
	if err := server.ListenAndServe(); err != nil {
		zapLogger.Fatal("relay stopped", zap.Error(err))
	}
}
