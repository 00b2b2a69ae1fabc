package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/blobworks/mediavault/internal/api"
	"github.com/blobworks/mediavault/internal/app"
	"github.com/blobworks/mediavault/internal/app/maintenance"
	"github.com/blobworks/mediavault/internal/blob"
	"github.com/blobworks/mediavault/internal/database"
	"github.com/blobworks/mediavault/internal/identity"
	"github.com/blobworks/mediavault/internal/storage"
	"github.com/blobworks/mediavault/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("mediavault-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")

	if strings.TrimSpace(cfg.Auth.JWT.Secret) == "" {
		return errors.New("auth.jwt.secret must be configured")
	}

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := initialiseDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db, log)

	disk, err := storage.NewDiskStore(cfg.Storage.UploadDir)
	if err != nil {
		return fmt.Errorf("initialise upload dir: %w", err)
	}

	blobs, err := blob.NewService(db, disk, blob.Config{
		InlineMaxBytes: cfg.Storage.InlineMaxBytes,
		DiskMaxBytes:   cfg.Storage.DiskMaxBytes,
	})
	if err != nil {
		return fmt.Errorf("initialise blob service: %w", err)
	}

	if cfg.Retention.Enabled {
		sweeper, err := maintenance.NewSweeper(blobs,
			maintenance.WithSchedule(cfg.Retention.Schedule),
			maintenance.WithMaxAge(cfg.Retention.MaxAge),
		)
		if err != nil {
			return fmt.Errorf("initialise retention sweeper: %w", err)
		}
		if err := sweeper.Start(); err != nil {
			return fmt.Errorf("start retention sweeper: %w", err)
		}
		defer func() {
			<-sweeper.Stop().Done()
		}()
		log.Info("retention sweeper started",
			zap.String("schedule", cfg.Retention.Schedule),
			zap.Duration("max_age", cfg.Retention.MaxAge),
		)
	}

	verifier, err := identity.NewJWTVerifier(identity.JWTVerifierConfig{
		Secret: cfg.Auth.JWT.Secret,
		Issuer: cfg.Auth.JWT.Issuer,
	})
	if err != nil {
		return fmt.Errorf("initialise token verifier: %w", err)
	}

	router, err := api.NewRouter(db, blobs, verifier, cfg)
	if err != nil {
		return fmt.Errorf("build api router: %w", err)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	db, err := database.Open(cfg.Database.Connection())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("access underlying database handle", zap.Error(err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn("close database", zap.Error(err))
	}
}
