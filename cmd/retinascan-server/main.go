package main

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/retinascan/retinascan/internal/config"
	"github.com/retinascan/retinascan/internal/domain/identity"
	"github.com/retinascan/retinascan/internal/domain/scan"
	"github.com/retinascan/retinascan/internal/platform/auth"
	"github.com/retinascan/retinascan/internal/platform/blobstore"
	"github.com/retinascan/retinascan/internal/platform/db"
	"github.com/retinascan/retinascan/internal/platform/middleware"
	"github.com/retinascan/retinascan/internal/platform/notification"
	"github.com/retinascan/retinascan/internal/platform/oracle"
	"github.com/retinascan/retinascan/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "retinascan-server",
		Short: "RetinaScan triage API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the RetinaScan API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// migrationSource returns dir on disk, or the embedded schema when dir is
// empty.
func migrationSource(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
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

			count, err := db.NewMigrator(pool, migrationSource(dir)).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default: embedded)")
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

			statuses, err := db.NewMigrator(pool, migrationSource(dir)).Status(ctx)
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
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default: embedded)")
	cmd.AddCommand(statusCmd)

	return cmd
}

// services holds everything the HTTP layer needs.
type services struct {
	users    identity.UserRepository
	scans    scan.Repository
	images   blobstore.BlobStore
	ai       scan.AIClient
	notifier notification.Notifier
	db       db.Pinger
	dbStats  func() *db.PoolStats
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

	// Image storage
	maxUpload := middleware.ParseSize(cfg.MaxUploadSize)
	var images blobstore.BlobStore
	switch cfg.ImageStore {
	case "memory":
		images = blobstore.NewInMemoryBlobStore(maxUpload)
	default:
		fsStore, err := blobstore.NewFileSystemBlobStore(cfg.UploadDir, maxUpload)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open image store")
		}
		images = fsStore
	}
	logger.Info().Str("store", cfg.ImageStore).Msg("image store ready")

	// Notifications
	notifiers := notification.Multi{notification.NewLogNotifier(logger)}
	if cfg.RedisURL != "" {
		rdb, err := notification.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rdb.Close()
		notifiers = append(notifiers, notification.NewRedisStreamNotifier(rdb, cfg.NotifyStream, 10000))
		logger.Info().Str("stream", cfg.NotifyStream).Msg("publishing notifications to redis")
	}

	// Classification service
	ai := oracle.New(oracle.Config{
		PredictURL: cfg.AIServiceURL,
		AnalyzeURL: cfg.ResolvedAnalyzeURL(),
		Timeout:    cfg.AITimeout,
		RetryCount: cfg.AIRetryCount,
		RetryWait:  500 * time.Millisecond,
	}, logger)

	e, err := newServer(cfg, services{
		users:    identity.NewUserRepoPG(pool),
		scans:    scan.NewScanRepoPG(pool),
		images:   images,
		ai:       ai,
		notifier: notifiers,
		db:       pool,
		dbStats:  func() *db.PoolStats { return db.GetPoolStats(pool) },
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}

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
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newServer(cfg *config.Config, svc services, logger zerolog.Logger) (*echo.Echo, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	tokens := auth.NewTokenIssuer(auth.JWTConfig{
		Issuer:     "retinascan",
		SigningKey: signingKey(cfg),
		TTL:        cfg.JWTTTL,
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
	e.Use(middleware.BodyLimit(cfg.MaxUploadSize))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	// Auth middleware
	var requireUser echo.MiddlewareFunc
	if cfg.IsDev() {
		requireUser = auth.DevAuthMiddleware(tokens, nil)
	} else {
		requireUser = auth.JWTMiddleware(tokens, nil)
	}

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if svc.db != nil {
		e.GET("/health/db", db.HealthHandler(svc.db, svc.dbStats))
	}

	// Identity
	users := identity.NewService(svc.users, logger)
	authGroup := e.Group("/api/auth")
	identity.NewHandler(users, tokens).RegisterRoutes(
		authGroup.Group("", middleware.RateLimit(middleware.LoginRateLimitConfig())),
		authGroup.Group("", requireUser),
	)

	// Scans
	scans := scan.NewService(
		svc.scans,
		svc.images,
		users,
		svc.ai,
		svc.notifier,
		scan.NewAggregator(scan.DefaultSymptomRules, loc, nil),
		logger,
	)
	scanGroup := e.Group("/api/scans", requireUser, middleware.Audit(logger))
	scan.NewHandler(scans).RegisterRoutes(scanGroup)

	return e, nil
}

// signingKey returns the configured HMAC key. Development without a key
// uses a fixed one so tokens survive restarts.
func signingKey(cfg *config.Config) []byte {
	if cfg.JWTSigningKey != "" {
		return []byte(cfg.JWTSigningKey)
	}
	return []byte(strings.Repeat("retinascan-dev-", 3))
}
