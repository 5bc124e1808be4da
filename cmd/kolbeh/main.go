package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kolbeh/desktop/internal/api"
	"github.com/kolbeh/desktop/internal/browser"
	"github.com/kolbeh/desktop/internal/config"
	"github.com/kolbeh/desktop/internal/cooldown"
	"github.com/kolbeh/desktop/internal/flow"
	"github.com/kolbeh/desktop/internal/logger"
	"github.com/kolbeh/desktop/internal/session"
	"github.com/kolbeh/desktop/internal/term"
	"github.com/kolbeh/desktop/internal/vmsession"
)

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zl, err := logger.New(cfg.LogEnv)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zl.Sync()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("kolbeh exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if n, err := vmsession.SweepOrphans(cfg.SessionRoot, zl); err != nil {
		zl.Warn("sweep orphaned vm storage", zap.Error(err))
	} else if n > 0 {
		zl.Info("removed orphaned vm storage", zap.Int("count", n))
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	client := api.NewClient(cfg.APIBaseURL, httpClient, zl.Named("api"))

	var source vmsession.URLSource = client
	if cfg.VDIBackend == config.VDIBackendGuacamole {
		g := cfg.Guacamole
		source = api.NewGuacamoleSource(g.BaseURL, g.Username, g.Password, httpClient, zl.Named("guacamole"))
	}

	var clip vmsession.Clipboard
	if c, err := browser.NewSystemClipboard(); err != nil {
		zl.Warn("native clipboard unavailable, clipboard bridge disabled", zap.Error(err))
	} else {
		clip = c
	}

	policy, err := cooldown.PolicyByName(cfg.CooldownPolicy)
	if err != nil {
		return err
	}

	launcher := vmsession.NewLauncher(source, browser.NewChromeFactory(cfg.BrowserPath, zl.Named("browser")), clip, cfg.SessionRoot, zl.Named("vmsession"))
	ctl := flow.New(client, session.NewStore(), cooldown.NewTimer(cooldown.SystemClock()), launcher, flow.Options{
		Mode:      cfg.BuildMode,
		OTPLength: cfg.OTPLength,
		Policy:    policy,
		Log:       zl.Named("flow"),
	})

	zl.Info("kolbeh starting",
		zap.String("api", cfg.APIBaseURL),
		zap.Stringer("build_mode", cfg.BuildMode),
		zap.String("vdi_backend", cfg.VDIBackend),
	)

	g, gctx := errgroup.WithContext(ctx)
	uiCtx, quit := context.WithCancel(gctx)
	defer quit()

	g.Go(func() error {
		err := ctl.Run(uiCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		defer quit()
		return term.New(os.Stdin, os.Stdout, ctl, ctl.Views()).Run(uiCtx)
	})

	if cfg.BuildMode == config.BuildModeDebug && cfg.DebugAccessToken != "" {
		ctl.Dispatch(flow.DebugLogin{AccessToken: cfg.DebugAccessToken})
	}

	return g.Wait()
}
