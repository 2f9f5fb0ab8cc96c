package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/yumendev/taskvault/internal/auth"
	"github.com/yumendev/taskvault/internal/cache"
	"github.com/yumendev/taskvault/internal/config"
	"github.com/yumendev/taskvault/internal/health"
	"github.com/yumendev/taskvault/internal/logger"
	"github.com/yumendev/taskvault/internal/metrics"
	"github.com/yumendev/taskvault/internal/middleware"
	"github.com/yumendev/taskvault/internal/ratelimit"
	"github.com/yumendev/taskvault/internal/repository"
	"github.com/yumendev/taskvault/internal/sanitizer"
	"github.com/yumendev/taskvault/internal/todo"
)

var version = "dev"

func main() {
	cfg := config.Load()
	log := logger.New(logger.DefaultConfig())
	slog.SetDefault(log)

	if cfg.JWT.Secret == "" {
		log.Error("JWT_SECRET environment variable is required")
		os.Exit(1)
	}

	dbPool, err := setupDatabase(cfg, log)
	if err != nil {
		log.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer dbPool.Close()

	sqlxDB, err := sqlx.Open("postgres", cfg.Database.DSN())
	if err != nil {
		log.Error("failed to open sqlx connection", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer sqlxDB.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
	})
	defer redisClient.Close()

	store := cache.NewStore(redisClient, cfg.Redis.CommandTimeout, log)
	invalidator := cache.NewInvalidator(store, log)

	userRepo := repository.NewUserRepository(dbPool)
	todoRepo := repository.NewTodoRepo(sqlxDB)

	tokenService := auth.NewTokenService(auth.TokenServiceConfig{
		Secret:      cfg.JWT.Secret,
		TokenExpiry: cfg.JWT.TokenExpiry,
		Issuer:      cfg.JWT.Issuer,
		Audience:    cfg.JWT.Audience,
	})
	sessionManager := auth.NewSessionManager(tokenService, store, log)
	lockoutPolicy := auth.NewLockoutPolicy(userRepo, invalidator,
		cfg.Lockout.MaxFailedAttempts, cfg.Lockout.LockDuration, log)
	passwordValidator := auth.NewPasswordValidator()

	limiter := ratelimit.New(store, cfg.RateLimit, log)

	authService := auth.NewAuthService(userRepo, sessionManager, lockoutPolicy,
		passwordValidator, store, invalidator, log)
	authHandler := auth.NewAuthHandler(authService, limiter)

	todoService := todo.NewTodoService(todoRepo, store, invalidator, sanitizer.New(), log)
	todoHandler := todo.NewTodoHandler(todoService)

	authMiddleware := middleware.NewAuthMiddleware(sessionManager)
	rateLimit := middleware.NewRateLimitMiddleware(limiter)

	healthHandler := health.NewHandler(health.Config{
		DBPool:      dbPool,
		RedisClient: redisClient,
		Version:     version,
	})

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(middleware.StructuredLogger(log))
	r.Use(metrics.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler.Health)
	r.Get("/health/live", healthHandler.Liveness)
	r.Get("/health/ready", healthHandler.Readiness)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rateLimit.ByClient(ratelimit.ClassAPI))

		auth.RegisterRoutes(r, authHandler, authMiddleware.Authenticate, auth.RouteLimits{
			Registration:  rateLimit.ByIP(ratelimit.ClassRegistration),
			Login:         rateLimit.Login,
			PasswordReset: rateLimit.ByIP(ratelimit.ClassPasswordReset),
		})

		todo.RegisterRoutes(r, todoHandler, authMiddleware.Authenticate,
			rateLimit.ByClient(ratelimit.ClassQuery))
	})

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("starting server", slog.String("addr", addr), slog.String("version", version))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	healthHandler.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("forced shutdown", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log.Info("server exited")
}

// setupDatabase creates and configures the database connection pool
func setupDatabase(cfg *config.Config, log *slog.Logger) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 5 * time.Minute
	poolConfig.MaxConnIdleTime = 1 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("connected to database",
		slog.String("database", cfg.Database.DBName),
		slog.String("host", cfg.Database.Host))
	return pool, nil
}
