package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"lexmemo/backend/internal/api"
	"lexmemo/backend/internal/auth"
	"lexmemo/backend/internal/config"
	"lexmemo/backend/internal/engine"
	"lexmemo/backend/internal/logging"
	"lexmemo/backend/internal/mcp"
	"lexmemo/backend/internal/registry"
	"lexmemo/backend/internal/repository"
	"lexmemo/backend/internal/services"
	"lexmemo/backend/internal/tls"
)

func main() {
	ctx := context.Background()

	// Initialize logging
	logger := logging.NewLogger()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)
		log.Fatalf("Configuration loading failed: %v", err)
	}

	logger.Info("Starting Litigation Research Memo Service")

	// Initialize database connection
	dbPool, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize database: %v", err)
		log.Fatalf("Database initialization failed: %v", err)
	}
	defer dbPool.Close()

	logger.Info("Database connected")

	// Initialize repository layer
	runStore := repository.NewPostgresRunStore(dbPool, logger)
	if err := runStore.Migrate(ctx); err != nil {
		logger.Error("Failed to migrate database: %v", err)
		log.Fatalf("Database migration failed: %v", err)
	}

	// Register workflow definitions
	reg := registry.New()
	if err := reg.Register(engine.ResearchMemoWorkflow()); err != nil {
		logger.Error("Failed to register workflow: %v", err)
		log.Fatalf("Workflow registration failed: %v", err)
	}
	reg.Freeze()

	// Initialize collaborator clients and the engine
	retriever := services.NewHTTPRetriever(cfg.Retriever.URL, cfg.Retriever.Timeout)
	generator := services.NewHTTPGenerator(cfg.Generator.URL, cfg.Generator.Timeout)
	eng := engine.New(runStore, reg, retriever, generator, logger, engine.Options{
		GroundingTopK:  cfg.Engine.GroundingTopK,
		CaseLawTopK:    cfg.Engine.CaseLawTopK,
		ValidationTopK: cfg.Engine.ValidationTopK,
	})

	logger.Info("Engine initialized")

	// Create Echo server
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("lexmemo"))

	// Initialize authentication
	authz, err := auth.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize auth: %v", err)
		log.Fatalf("Auth initialization failed: %v", err)
	}

	// Register auth handlers
	e.GET("/login", authz.LoginHandler)
	e.GET("/auth/callback", authz.CallbackHandler)
	e.GET("/logout", authz.LogoutHandler)

	// Mount REST API handlers under /api/v1 with auth middleware
	server := api.NewServer(eng, runStore, reg, logger)
	e.GET("/healthz", server.HandleHealth)
	apiGroup := e.Group("/api/v1")
	apiGroup.Use(authz.RequireAuth)
	server.RegisterRoutes(apiGroup)

	logger.Info("REST API handlers mounted")

	// Mount MCP protocol handlers
	mcpServer := mcp.NewServer(eng, runStore, reg)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers))

	logger.Info("MCP protocol handlers mounted")

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	if cfg.TLS.Enable {
		addr = ":8443"
	}
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting on %s (tls=%t)", addr, cfg.TLS.Enable)
		if cfg.TLS.Enable {
			if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
				logger.Error("TLS enabled but cert/key file not provided")
				serverErrors <- httpServer.ListenAndServe()
				return
			}
			// generate if missing and hostnames provided
			if _, err := os.Stat(cfg.TLS.CertFile); os.IsNotExist(err) {
				if len(cfg.TLS.Hostnames) > 0 {
					err := tls.GenerateSelfSignedCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames, tls.Options{
						Organization: cfg.TLS.Organization,
						Validity:     time.Duration(cfg.TLS.ValidityDays) * 24 * time.Hour,
					})
					if err != nil {
						logger.Error("Failed to generate self-signed cert: %v", err)
					}
				}
			}
			serverErrors <- httpServer.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErrors <- httpServer.ListenAndServe()
		}
	}()

	// Wait for shutdown signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			logger.Error("Server error: %v", err)
			log.Fatalf("Server error: %v", err)
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received: %v", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error: %v", err)
			if err := httpServer.Close(); err != nil {
				logger.Error("Server close error: %v", err)
			}
		}

		logger.Info("Server stopped gracefully")
	}
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
