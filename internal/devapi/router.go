// Package devapi is a local stand-in for the haio cloud API. It serves the
// endpoints the desktop client calls so the client can be developed and tested
// without the real service.
package devapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kolbeh/desktop/internal/devapi/auth"
	"github.com/kolbeh/desktop/internal/devapi/handlers"
	"github.com/kolbeh/desktop/internal/devapi/middleware"
	"github.com/kolbeh/desktop/internal/devapi/repo"
)

// Options configures the services behind the router.
type Options struct {
	JWTSecret string
	OTPSalt   string
	OTPLength int
	DevMode   bool
	TokenTTL  time.Duration
	// Sender receives generated codes outside dev mode. Defaults to logging them.
	Sender auth.CodeSender
	// Registry collects request metrics served on /metrics. A fresh registry
	// is used when nil.
	Registry *prometheus.Registry
}

// App is a fully wired stand-in API.
type App struct {
	Handler http.Handler
	JWT     *auth.JWTService
	OTP     *auth.OtpService

	authHandler *handlers.AuthHandler
}

// New wires services and handlers over stores.
func New(stores repo.Stores, opts Options, log *zap.Logger) *App {
	if opts.Sender == nil {
		opts.Sender = auth.LogSender{Log: log}
	}
	jwtService := auth.NewJWTService(opts.JWTSecret, opts.TokenTTL)
	otpService := auth.NewOtpService(stores.OTP, opts.Sender, opts.OTPSalt, opts.OTPLength, opts.DevMode)
	authService := auth.NewAuthService(otpService, jwtService, stores.Users)

	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	metrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: opts.Registry})
	if err != nil {
		log.Warn("request metrics disabled", zap.Error(err))
	}

	authHandler := handlers.NewAuthHandler(authService, otpService, log)
	router := NewRouter(
		authHandler,
		handlers.NewAccountHandler(log),
		handlers.NewDesktopHandler(stores.Desktops, log),
		jwtService,
		stores.Users,
		metrics,
		promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{}),
		log,
	)
	return &App{Handler: router, JWT: jwtService, OTP: otpService, authHandler: authHandler}
}

// Close releases background resources.
func (a *App) Close() {
	a.authHandler.Close()
}

// NewRouter creates the HTTP router with all routes configured
func NewRouter(
	authHandler *handlers.AuthHandler,
	accountHandler *handlers.AccountHandler,
	desktopHandler *handlers.DesktopHandler,
	jwtService *auth.JWTService,
	userRepo repo.UserRepo,
	metrics *middleware.HTTPMetrics,
	metricsHandler http.Handler,
	log *zap.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(log))
	r.Use(metrics.Handler)
	r.Use(chimw.Recoverer)

	r.Get("/health", handlers.NewHealthHandler().ServeHTTP)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/user/otp/login", authHandler.HandleRequestOTP)
		r.Post("/user/otp/login/verify", authHandler.HandleVerifyOTP)

		// Protected routes (require valid JWT)
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(jwtService, userRepo))
			r.Get("/user/info", accountHandler.HandleUserInfo)
			r.Get("/cloud/desktop", desktopHandler.HandleList)
			r.Get("/cloud/desktop/{id}/login", desktopHandler.HandleLogin)
		})
	})

	return r
}
