package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"devdeakin/internal/config"
	"devdeakin/internal/handlers"
	"devdeakin/internal/logger"
	"devdeakin/internal/metrics"
	"devdeakin/internal/middleware"
	"devdeakin/internal/repositories"
	"devdeakin/internal/routes"
	"devdeakin/internal/services"
	"devdeakin/internal/utils"
)

const shutdownTimeout = 10 * time.Second

// Deps is everything the HTTP layer needs. Tests build it with fakes.
type Deps struct {
	Config   *config.Config
	Log      *zap.Logger
	Guard    *services.VerificationGuard
	Codes    handlers.Codes
	Receipts *utils.ReceiptIssuer
	Metrics  *metrics.OTPMetrics
	Registry *prometheus.Registry
}

func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	// === Metrics ===
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	otpMetrics := metrics.NewOTPMetrics(registry)

	// === Store / Services ===
	store := repositories.NewOTPRepository()
	emailService := NewEmailService(cfg.Email, log.Named("email"))
	otpService := services.NewOTPService(store, emailService, log.Named("otp"), otpMetrics, services.OTPOptions{
		TTL:     cfg.OTP.TTL,
		AppName: cfg.AppName,
	})
	guard := services.NewVerificationGuard(services.GuardOptions{
		MaxAttempts: cfg.OTP.MaxAttempts,
		MaxSends:    cfg.OTP.MaxSends,
		SendWindow:  cfg.OTP.SendWindow,
	})

	var receipts *utils.ReceiptIssuer
	if cfg.Receipt.Secret != "" {
		receipts = utils.NewReceiptIssuer(cfg.Receipt.Secret, cfg.Receipt.TTL)
	}

	router := NewRouter(Deps{
		Config:   cfg,
		Log:      log,
		Guard:    guard,
		Codes:    otpService,
		Receipts: receipts,
		Metrics:  otpMetrics,
		Registry: registry,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go store.RunSweeper(ctx, cfg.OTP.SweepInterval, func(removed int) {
		otpMetrics.AddSwept(removed)
		guard.Sweep()
		if removed > 0 {
			log.Debug("expired codes swept", zap.Int("removed", removed))
		}
	})

	// === Run ===
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening",
			zap.String("addr", srv.Addr),
			zap.String("email_provider", cfg.Email.Provider),
			zap.Duration("code_ttl", otpService.TTL()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down; pending codes are dropped")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// NewRouter builds the gin engine with middleware and routes.
func NewRouter(d Deps) *gin.Engine {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.AccessLog(log.Named("http")))
	router.Use(middleware.Recovery(log))
	if d.Config != nil && d.Config.Server.AllowedOrigin != "" {
		router.Use(corsMiddleware(d.Config.Server.AllowedOrigin))
	}

	twoFactorHandler := handlers.NewTwoFactorHandler(d.Codes, d.Guard, d.Receipts, d.Metrics, log.Named("2fa"))

	var gatherer prometheus.Gatherer
	if d.Registry != nil {
		gatherer = d.Registry
	}
	return routes.SetupRoutes(router, twoFactorHandler, d.Receipts, gatherer)
}

func corsMiddleware(origin string) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:  []string{origin},
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	})
}

// NewEmailService picks the provider. Config validation has already checked credentials.
func NewEmailService(cfg config.EmailConfig, log *zap.Logger) services.EmailService {
	switch cfg.Provider {
	case config.ProviderSMTP:
		return services.NewSMTPEmailService(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.FromEmail, log)
	case config.ProviderLog:
		log.Warn("email provider is dry-run; codes are only logged")
		return services.NewLogEmailService(log)
	default:
		return services.NewSendGridEmailService(cfg.SendGridAPIKey, cfg.FromEmail, cfg.FromName, log)
	}
}
