package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kolbeh/desktop/internal/config"
	"github.com/kolbeh/desktop/internal/devapi"
	"github.com/kolbeh/desktop/internal/devapi/db"
	"github.com/kolbeh/desktop/internal/devapi/repo"
	"github.com/kolbeh/desktop/internal/logger"
)

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load(".env")

	cfg, err := config.LoadDevAPI()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zl, err := logger.New(cfg.LogEnv)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zl.Sync()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("devapi exited with error", zap.Error(err))
	}
}

func run(cfg *config.DevAPIConfig, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores := repo.NewMemory()
	if cfg.DatabaseURL != "" {
		database, err := db.Open(ctx, cfg.DatabaseURL, zl)
		if err != nil {
			return err
		}
		defer database.Close()

		if err := db.Migrate(database); err != nil {
			return err
		}
		stores = repo.NewPostgres(database)
		zl.Info("using postgres store")
	} else {
		zl.Info("DATABASE_URL not set, using in-memory store")
	}

	seed, err := repo.LoadSeedFile(cfg.SeedFile)
	if err != nil {
		return err
	}
	if err := seed.Apply(ctx, stores); err != nil {
		return err
	}
	zl.Info("seed applied", zap.Int("users", len(seed.Users)))

	app := devapi.New(stores, devapi.Options{
		JWTSecret: cfg.JWTSecret,
		OTPSalt:   cfg.OTPSalt,
		OTPLength: cfg.OTPLength,
		DevMode:   cfg.DevMode,
	}, zl)
	defer app.Close()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           app.Handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		zl.Info("server starting", zap.String("port", cfg.Port), zap.Bool("otp_dev_mode", cfg.DevMode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	zl.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	zl.Info("server exited")
	return nil
}
