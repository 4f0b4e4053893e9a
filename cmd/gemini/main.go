// Package main provides the GEMINI validity-and-provisioning engine service.
//
// The engine accepts observation records for field-trial research, validates
// each record's (producer, dataset, experiment, season, site) combination
// against the entity registry, and auto-provisions datasets and plots along
// the way.
package main

import (
	"flag"
	"log"
	"log/slog"
	"os"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/GEMINI-Breeding/gemini-engine/internal/aliasing"
	"github.com/GEMINI-Breeding/gemini-engine/internal/api"
	"github.com/GEMINI-Breeding/gemini-engine/internal/api/middleware"
	"github.com/GEMINI-Breeding/gemini-engine/internal/config"
	"github.com/GEMINI-Breeding/gemini-engine/internal/storage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "gemini-engine"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("Starting GEMINI engine",
		slog.String("service", name),
		slog.String("version", version),
	)

	logger.Info("Loaded server configuration",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.Duration("read_timeout", serverConfig.ReadTimeout),
		slog.Duration("write_timeout", serverConfig.WriteTimeout),
		slog.Duration("shutdown_timeout", serverConfig.ShutdownTimeout),
		slog.String("log_level", serverConfig.LogLevel.String()),
	)

	middlewareConfig := middleware.LoadConfig()

	// Graceful shutdown of the limiter is handled by server.shutdown().
	rateLimiter := middleware.NewInMemoryRateLimiter(middlewareConfig)

	logger.Info("Rate limiter initialized",
		slog.Int("global_rps", middlewareConfig.GlobalRPS),
		slog.Int("global_burst", middlewareConfig.GlobalBurst),
		slog.Int("client_rps", middlewareConfig.ClientRPS),
		slog.Int("client_burst", middlewareConfig.ClientBurst),
		slog.Int("unauth_rps", middlewareConfig.UnAuthRPS),
		slog.Int("unauth_burst", middlewareConfig.UnAuthBurst),
	)

	storageConfig := storage.LoadConfig()

	dbConn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = dbConn.Close()
	}()

	var keyStore storage.KeyStore

	authEnabled := config.GetEnvBool("GEMINI_AUTH_ENABLED", false)
	if authEnabled {
		persistentStore, err := storage.NewPersistentKeyStore(dbConn)
		if err != nil {
			logger.Error("Failed to connect to persistent key store", slog.String("error", err.Error()))

			_ = dbConn.Close()
			//nolint:gocritic // Explicit cleanup before os.Exit is intentional (defer won't run)
			os.Exit(1)
		}

		keyStore = persistentStore

		logger.Info("Client authentication enabled",
			slog.String("database_url", storageConfig.MaskDatabaseURL()),
		)
	} else {
		logger.Warn("Client authentication disabled",
			slog.String("security", "Only use in trusted networks (localhost, VPN, internal)"),
			slog.String("note", "Set GEMINI_AUTH_ENABLED=true to enable API key authentication"),
		)
	}

	aliasConfig, err := aliasing.LoadConfigFromEnv()
	if err != nil {
		logger.Error("Failed to load alias configuration", slog.String("error", err.Error()))

		_ = dbConn.Close()
		os.Exit(1)
	}

	resolver := aliasing.NewResolver(aliasConfig)

	logger.Info("Name alias resolution configured",
		slog.Int("alias_count", resolver.AliasCount()),
	)

	recordStore, err := storage.NewRecordStore(dbConn, storage.WithAliasResolver(resolver))
	if err != nil {
		logger.Error("Failed to create record store", slog.String("error", err.Error()))

		_ = dbConn.Close()
		os.Exit(1)
	}

	registryStore, err := storage.NewRegistryStore(dbConn)
	if err != nil {
		logger.Error("Failed to create registry store", slog.String("error", err.Error()))

		_ = dbConn.Close()
		os.Exit(1)
	}

	logger.Info("Storage initialized",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Int("database_max_open_conns", storageConfig.MaxOpenConns),
		slog.Int("database_max_idle_conns", storageConfig.MaxIdleConns),
		slog.Duration("database_conn_max_lifetime", storageConfig.ConnMaxLifetime),
		slog.Duration("database_conn_max_idle_time", storageConfig.ConnMaxIdleTime),
	)

	server := api.NewServer(serverConfig, recordStore, registryStore, keyStore, rateLimiter)

	if err := server.Start(); err != nil {
		logger.Error("Server failed to start",
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger.Info("GEMINI engine stopped")
}
