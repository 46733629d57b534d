package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Claudio-code/rinha-de-backend-2024/internal/cache"
	"github.com/Claudio-code/rinha-de-backend-2024/internal/handler"
	"github.com/Claudio-code/rinha-de-backend-2024/internal/logging"
	"github.com/Claudio-code/rinha-de-backend-2024/internal/metrics"
	"github.com/Claudio-code/rinha-de-backend-2024/internal/repository"
	"github.com/Claudio-code/rinha-de-backend-2024/internal/service"
)

type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	ServerPort string
	Storage    string
	RedisAddr  string
	CacheTTL   time.Duration
}

func main() {
	// Initialise logger
	logger, err := logging.NewFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialise logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Load configuration
	config := loadConfig()

	// Initialise the ledger store
	store, err := buildStore(config, logger)
	if err != nil {
		logger.Error("failed to initialise ledger store", zap.Error(err))
		os.Exit(1)
	}
	defer store.Close()

	// Optional statement cache; the service runs fine without it
	var statementCache *cache.StatementCache
	if config.RedisAddr != "" {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.Addr = config.RedisAddr
		cacheCfg.TTL = config.CacheTTL
		statementCache, err = cache.New(cacheCfg, logger)
		if err != nil {
			logger.Warn("statement cache disabled", zap.Error(err))
			statementCache = nil
		} else {
			defer statementCache.Close()
		}
	}

	// Metrics registry
	m := metrics.New("crebito")
	registry := prometheus.NewRegistry()
	if err := m.Register(registry); err != nil {
		logger.Error("failed to register metrics", zap.Error(err))
		os.Exit(1)
	}
	registry.MustRegister(collectors.NewGoCollector())

	// Initialise services
	transactionService := service.NewTransactionService(store, statementCache, m, logger)
	statementService := service.NewStatementService(store, statementCache, m, logger)

	// Initialise handlers
	clientHandler := handler.NewClientHandler(transactionService, statementService, logger)

	// Setup router
	router := mux.NewRouter()
	clientHandler.RegisterRoutes(router)

	// Health check endpoint probes the store
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := store.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	// Middleware: request logging + HTTP metrics
	router.Use(loggingMiddleware(logger))
	router.Use(metricsMiddleware(m))

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + config.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a go routine
	go func() {
		logger.Info("starting server", zap.String("port", config.ServerPort), zap.String("storage", config.Storage))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("failed to start server", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")

	// Create context with timeout for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited gracefully")
}

// loads config from environment variables
func loadConfig() Config {
	cacheTTL := 2 * time.Second
	if raw := getEnv("STATEMENT_CACHE_TTL", ""); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			cacheTTL = parsed
		}
	}

	return Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "crebito"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),
		ServerPort: getEnv("SERVER_PORT", "8080"),
		Storage:    getEnv("STORAGE", "postgres"),
		RedisAddr:  getEnv("REDIS_ADDR", ""),
		CacheTTL:   cacheTTL,
	}
}

// getEnv fetches environment variable or returns default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// buildStore selects the storage backend. The in-memory backend exists for
// dependency-free runs and keeps the same per-account atomicity guarantees.
func buildStore(cfg Config, logger *zap.Logger) (repository.LedgerStore, error) {
	if cfg.Storage == "memory" {
		logger.Info("using in-memory ledger store")
		return repository.NewMemoryStore(), nil
	}

	db, err := connectDB(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to database successfully")

	store := repository.NewPostgresStore(db)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// connectDB establishes a connection to the Postgres database
func connectDB(cfg Config) (*sql.DB, error) {
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Contention concentrates on five rows; a modest pool is plenty
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(10 * time.Minute)

	// Verify connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// loggingMiddleware logs incoming HTTP requests with a correlation id
func loggingMiddleware(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := uuid.New().String()
			w.Header().Set("X-Request-Id", requestID)

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			logger.Info("incoming request",
				zap.String("request_id", requestID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.statusCode),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

// metricsMiddleware records request counts and latency per route template
func metricsMiddleware(m *metrics.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if template, err := current.GetPathTemplate(); err == nil {
					route = template
				}
			}

			m.ObserveHTTPRequest(r.Method, route, strconv.Itoa(wrapped.statusCode), time.Since(start))
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
