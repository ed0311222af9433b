package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/notify/internal/config"
	"github.com/ehr/notify/internal/domain/chat"
	"github.com/ehr/notify/internal/domain/notification"
	"github.com/ehr/notify/internal/domain/reminder"
	"github.com/ehr/notify/internal/platform/auth"
	"github.com/ehr/notify/internal/platform/db"
	"github.com/ehr/notify/internal/platform/directory"
	"github.com/ehr/notify/internal/platform/metrics"
	"github.com/ehr/notify/internal/platform/middleware"
	"github.com/ehr/notify/internal/platform/websocket"
)

const (
	version         = "0.1.0"
	requestTimeout  = 30 * time.Second
	bodyLimit       = "1M"
	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notify-server",
		Short: "Notification, reminder and chat server",
	}
	cmd.AddCommand(serveCmd())
	cmd.AddCommand(migrateCmd())
	cmd.AddCommand(remindersCmd())
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			fmt.Printf("Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", db.DefaultSchema, "Target schema for migrations")
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", db.DefaultSchema, "Target schema for migrations")
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func remindersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reminders",
		Short: "Operate the reminder scheduler",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Fire every due reminder once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			store, closeStore, err := buildJobStore(cfg, pool)
			if err != nil {
				return err
			}
			defer closeStore()

			// No channels are open in a one-shot process; reminders are
			// persisted and picked up by clients through the list endpoint.
			registry := websocket.NewRegistry(nil)
			fanout := websocket.NewFanout(registry, logger, nil)
			dir := directory.NewPG(pool)
			notifier := notification.NewService(notification.NewRepoPG(pool), dir, fanout,
				notification.WithLogger(logger))

			scheduler, err := newScheduler(cfg, store, dir, notifier, nil, logger)
			if err != nil {
				return err
			}

			res, err := scheduler.Sweep(ctx)
			if err != nil {
				return fmt.Errorf("sweep failed: %w", err)
			}
			fmt.Printf("Claimed %d, fired %d, skipped %d, failed %d.\n",
				res.Claimed, res.Fired, res.Skipped, res.Failed)
			return nil
		},
	})

	return cmd
}

func newLogger() zerolog.Logger {
	if os.Getenv("ENV") == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// buildJobStore selects the durable reminder store named by REMINDER_STORE.
// The returned func releases any connection the store opened.
func buildJobStore(cfg *config.Config, pool *pgxpool.Pool) (reminder.JobStore, func(), error) {
	switch cfg.ReminderStore {
	case config.ReminderStoreRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		return reminder.NewStoreRedis(client), func() { client.Close() }, nil
	case config.ReminderStorePostgres, "":
		return reminder.NewStorePG(pool), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown reminder store %q", cfg.ReminderStore)
	}
}

func newScheduler(cfg *config.Config, store reminder.JobStore, dir directory.AppointmentResolver,
	notifier reminder.Notifier, m *metrics.Metrics, logger zerolog.Logger) (*reminder.Scheduler, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return reminder.NewScheduler(store, dir, notifier,
		reminder.WithLocation(loc),
		reminder.WithHour(cfg.ReminderHour),
		reminder.WithBatchSize(cfg.ReminderBatchSize),
		reminder.WithMetrics(m),
		reminder.WithLogger(logger),
	), nil
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	if cfg.IsDev() {
		return auth.DevAuthMiddleware()
	}
	return auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: []byte(cfg.AuthSigningKey),
	})
}

func runServer() error {
	// Logger
	logger := newLogger()

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	store, closeStore, err := buildJobStore(cfg, pool)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open reminder store")
	}
	defer closeStore()
	logger.Info().Str("store", cfg.ReminderStore).Msg("reminder store ready")

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Delivery
	registry := websocket.NewRegistry(m)
	fanout := websocket.NewFanout(registry, logger, m)
	dir := directory.NewPG(pool)

	notifSvc := notification.NewService(notification.NewRepoPG(pool), dir, fanout,
		notification.WithWindow(cfg.NotificationWindow),
		notification.WithPageSize(cfg.NotificationPageSize),
		notification.WithMetrics(m),
		notification.WithLogger(logger),
	)
	scheduler, err := newScheduler(cfg, store, dir, notifSvc, m, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build reminder scheduler")
	}
	events := reminder.NewEvents(scheduler, notifSvc, dir, dir, logger)
	chatSvc := chat.NewService(chat.NewRepoPG(pool), dir, fanout, registry,
		chat.WithPageSize(cfg.ChatPageSize),
		chat.WithMetrics(m),
		chat.WithLogger(logger),
	)
	wsHandler := websocket.NewHandler(registry, chatSvc, logger, websocket.HandlerConfig{
		SendBuffer:   cfg.WSSendBuffer,
		PingInterval: cfg.WSPingInterval,
	})

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", auth.DevUserHeader},
	}))

	// Unauthenticated health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", metrics.Handler(reg))

	// API
	apiV1 := e.Group("/api/v1", authMiddleware(cfg))
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))
	apiV1.Use(middleware.BodyLimit(bodyLimit))
	apiV1.Use(middleware.RequestTimeout(requestTimeout))

	notification.NewHandler(notifSvc).RegisterRoutes(apiV1)
	chat.NewHandler(chatSvc).RegisterRoutes(apiV1)
	reminder.NewHandler(events, scheduler).RegisterRoutes(apiV1)

	// Delivery channels
	e.GET("/ws", wsHandler.HandleConnect, authMiddleware(cfg))

	// Reminder sweep
	go scheduler.Run(ctx, cfg.ReminderSweepInterval)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
