package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/wardwatch/wardwatch/internal/config"
	"github.com/wardwatch/wardwatch/internal/domain/detail"
	"github.com/wardwatch/wardwatch/internal/domain/monitoring"
	"github.com/wardwatch/wardwatch/internal/domain/records"
	"github.com/wardwatch/wardwatch/internal/domain/snapshot"
	"github.com/wardwatch/wardwatch/internal/platform/cache"
	"github.com/wardwatch/wardwatch/internal/platform/db"
	"github.com/wardwatch/wardwatch/internal/platform/metrics"
	"github.com/wardwatch/wardwatch/internal/platform/middleware"
	"github.com/wardwatch/wardwatch/internal/platform/scheduler"
	"github.com/wardwatch/wardwatch/internal/platform/temporal"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "wardwatch-server",
		Short: "Ward monitoring snapshot server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(snapshotCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the monitoring API server",
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

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

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
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Manage stored snapshots",
	}

	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Rebuild the monitoring and patient detail snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			threshold, _ := cmd.Flags().GetInt("hours-threshold")
			asOf, _ := cmd.Flags().GetString("as-of")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if threshold <= 0 {
				threshold = cfg.HoursThreshold
			}

			now := time.Now().UTC()
			if asOf != "" {
				now, err = temporal.ParseDateTime(asOf)
				if err != nil {
					return fmt.Errorf("invalid --as-of value: %w", err)
				}
			}

			logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			repo := records.NewRepo(pool)
			store := snapshot.NewStore(pool)
			runTx := db.NewTxRunner(pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})

			monSvc := monitoring.NewService(monitoring.NewBuilder(repo, logger), store, runTx, logger)
			monSvc.SetReleaseGrace(cfg.ReleaseGrace())
			detSvc := detail.NewService(detail.NewBuilder(repo, logger), store, runTx, logger)
			detSvc.SetReleaseGrace(cfg.ReleaseGrace())

			snap, entries, err := monSvc.Refresh(ctx, now, threshold)
			if err != nil {
				return fmt.Errorf("monitoring refresh failed: %w", err)
			}
			fmt.Printf("Monitoring snapshot %d stored (%d candidate(s), threshold %dh).\n", snap.ID, entries, threshold)

			patients, err := detSvc.RefreshAll(ctx, now)
			if err != nil {
				return fmt.Errorf("detail refresh failed: %w", err)
			}
			fmt.Printf("Detail snapshots stored for %d patient(s).\n", patients)
			return nil
		},
	}
	refreshCmd.Flags().Int("hours-threshold", 0, "Minimum stay hours for monitoring candidates (defaults to HOURS_THRESHOLD)")
	refreshCmd.Flags().String("as-of", "", "Reference instant, DD.MM.YYYY HH:MM:SS (defaults to now)")
	cmd.AddCommand(refreshCmd)

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Cache (optional)
	var kv cache.KV
	if cfg.RedisURL != "" {
		redis, err := cache.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redis.Close()
		kv = redis
		logger.Info().Msg("connected to redis")
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(metrics.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Content-Type", "X-Request-ID"},
	}))

	// API group
	api := e.Group("/api")

	// Rate limiting middleware
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	api.Use(middleware.RateLimit(rateLimitCfg))

	// Domain wiring
	repo := records.NewRepo(pool)
	store := snapshot.NewStore(pool)
	runTx := db.NewTxRunner(pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})

	monSvc := monitoring.NewService(monitoring.NewBuilder(repo, logger), store, runTx, logger)
	monSvc.SetReleaseGrace(cfg.ReleaseGrace())
	monSvc.SetStaleAfter(cfg.MonitoringStaleAfter)
	if kv != nil {
		monSvc.SetCache(kv, cfg.CacheTTL)
	}
	monHandler := monitoring.NewHandler(monSvc, cfg.HoursThreshold)
	monHandler.RegisterRoutes(api)

	detSvc := detail.NewService(detail.NewBuilder(repo, logger), store, runTx, logger)
	detSvc.SetReleaseGrace(cfg.ReleaseGrace())
	detSvc.SetStaleAfter(cfg.DetailStaleAfter)
	if kv != nil {
		detSvc.SetCache(kv, cfg.CacheTTL)
	}
	detHandler := detail.NewHandler(detSvc)
	detHandler.RegisterRoutes(api)

	// Operator hook: rebuild everything now instead of waiting for the ticker.
	api.POST("/snapshots/refresh", func(c echo.Context) error {
		now := time.Now().UTC()
		snap, entries, err := monSvc.Refresh(c.Request().Context(), now, cfg.HoursThreshold)
		if err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "snapshot refresh failed")
		}
		patients, err := detSvc.RefreshAll(c.Request().Context(), now)
		if err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "snapshot refresh failed")
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"monitoring_snapshot_id": snap.ID,
			"candidate_count":        entries,
			"detail_snapshots":       patients,
		})
	})

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})

	// DB health check endpoint
	e.GET("/health/db", db.HealthHandler(pool))

	// Prometheus metrics
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	// Background refresh loops
	jobs := scheduler.New(logger)
	jobs.Add(scheduler.Job{
		Name:     "monitoring-refresh",
		Interval: cfg.MonitoringRefreshInterval,
		Run: func(ctx context.Context) error {
			_, _, err := monSvc.Refresh(ctx, time.Now().UTC(), cfg.HoursThreshold)
			return err
		},
	})
	jobs.Add(scheduler.Job{
		Name:     "detail-refresh",
		Interval: cfg.DetailRefreshInterval,
		Run: func(ctx context.Context) error {
			_, err := detSvc.RefreshAll(ctx, time.Now().UTC())
			return err
		},
	})
	jobs.Add(scheduler.Job{
		Name:     "pool-stats",
		Interval: 15 * time.Second,
		Run: func(ctx context.Context) error {
			metrics.RecordDBConnections(int(pool.Stat().TotalConns()))
			return nil
		},
	})

	jobCtx, stopJobs := context.WithCancel(ctx)
	go jobs.Start(jobCtx)

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
	stopJobs()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
