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
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/billerly/rcm/internal/config"
	"github.com/billerly/rcm/internal/domain/encounter"
	"github.com/billerly/rcm/internal/domain/identity"
	"github.com/billerly/rcm/internal/domain/revenue"
	"github.com/billerly/rcm/internal/platform/auth"
	"github.com/billerly/rcm/internal/platform/db"
	"github.com/billerly/rcm/internal/platform/metrics"
	"github.com/billerly/rcm/internal/platform/middleware"
	"github.com/billerly/rcm/internal/platform/reporting"
	"github.com/billerly/rcm/internal/platform/sandbox"
	"github.com/billerly/rcm/internal/platform/scheduling"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rcm-server",
		Short: "Revenue cycle management API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
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

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

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

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
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

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Seed demo users and revenue cycle data",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

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

			identitySvc, encounterSvc, engine := buildServices(cfg, pool, logger)
			seeder := sandbox.NewSeeder(identitySvc, encounterSvc, engine, logger)

			report, err := seeder.Run(ctx)
			if err != nil {
				return fmt.Errorf("seeding failed: %w", err)
			}
			fmt.Printf("Seeded %d users, %d charges, %d claims, %d denials, %d invoices.\n",
				report.Users, report.Charges, report.Claims, report.Denials, report.Invoices)
			return nil
		},
	}
}

func newLogger() zerolog.Logger {
	if os.Getenv("ENV") == "development" || os.Getenv("ENV") == "" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func sessionConfig(cfg *config.Config) auth.SessionConfig {
	return auth.SessionConfig{
		SigningKey: []byte(cfg.SessionSigningKey),
		TTL:        cfg.SessionTTL,
		Issuer:     "billerly-rcm",
	}
}

func buildServices(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*identity.Service, *encounter.Service, *revenue.Engine) {
	identitySvc := identity.NewService(
		identity.NewUserRepoPG(pool),
		identity.NewSessionRepoPG(pool),
		sessionConfig(cfg),
		logger,
	)
	encounterSvc := encounter.NewService(encounter.NewRepoPG(pool), logger)
	engine := revenue.NewEngine(
		revenue.NewChargeRepoPG(pool),
		revenue.NewClaimRepoPG(pool),
		revenue.NewDenialRepoPG(pool),
		revenue.NewInvoiceRepoPG(pool),
		db.NewTxManager(pool),
		revenue.EngineConfig{AdjudicationWindow: cfg.AdjudicationWindow},
		logger,
	)
	return identitySvc, encounterSvc, engine
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	identitySvc, encounterSvc, engine := buildServices(cfg, pool, logger)

	collector := metrics.NewCollector()
	engine.SetMetrics(collector)
	identitySvc.SetMetrics(collector)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(collector.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	e.GET("/health", db.HealthHandler(pool))
	e.GET("/metrics", collector.Handler())

	apiV1 := e.Group("/api/v1")

	identityHandler := identity.NewHandler(identitySvc)
	identityHandler.RegisterPublicRoutes(apiV1)

	protected := apiV1.Group("",
		auth.SessionMiddleware(sessionConfig(cfg), identitySvc),
		middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         cfg.RateLimitBurst,
		}),
	)
	identityHandler.RegisterRoutes(protected)
	encounter.NewHandler(encounterSvc).RegisterRoutes(protected)
	revenue.NewHandler(engine).RegisterRoutes(protected)
	reporting.NewHandler(pool).RegisterRoutes(protected)

	// Background overdue sweep.
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go scheduling.NewOverdueSweeper(engine, logger).Start(sweepCtx)

	// Start the server.
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("server listening")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	stopSweep()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
