package cmd

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/licenseworks/ms-go-paygate/app/controller"
	"github.com/licenseworks/ms-go-paygate/app/gateway"
	"github.com/licenseworks/ms-go-paygate/app/middleware"
	"github.com/licenseworks/ms-go-paygate/app/repository"
	"github.com/licenseworks/ms-go-paygate/app/service"
	"github.com/licenseworks/ms-go-paygate/config"

	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var withJobs bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  "Start the HTTP (Echo) server for payment sessions, provider webhooks, and reconciliation endpoints.",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&withJobs, "with-jobs", false, "Run reconcile and propagation jobs in-process on their configured intervals")
}

func runServe(_ *cobra.Command, _ []string) {
	cfg, paymentService, gateways, cleanup := mustCreatePaymentService()
	defer cleanup()

	paymentController := controller.NewPaymentController(paymentService, gateways)

	deduper, err := middleware.NewDeduper(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.DedupTTL)
	if err != nil {
		logrus.WithError(err).Warn("Webhook dedup degraded to in-memory")
	}

	e := setupHTTPServer(paymentController, deduper, cfg.App.APIKey)

	var scheduler *cron.Cron
	if withJobs {
		scheduler = setupJobScheduler(cfg, paymentService)
		scheduler.Start()
	}

	go func() {
		httpAddr := net.JoinHostPort(cfg.HTTP.Host, cfg.HTTP.Port)
		logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
		if err := e.Start(httpAddr); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP shutdown error")
	}

	logrus.Info("Server stopped")
}

func setupHTTPServer(
	paymentController *controller.PaymentController,
	deduper middleware.Deduper,
	apiKey string,
) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())

	e.GET("/health", paymentController.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	payments := e.Group("/payments")
	payments.Use(middleware.RequireRequestID())
	payments.Use(middleware.RequireAPIKey(apiKey))
	payments.POST("", paymentController.CreatePayment)
	payments.GET("", paymentController.ListPayments)
	payments.GET("/:id", paymentController.GetPayment)
	payments.GET("/intent/:intent_id", paymentController.GetPaymentByIntent)
	payments.POST("/intent/:intent_id/confirm", paymentController.ConfirmPayment)

	// Webhooks authenticate by provider signature, not by caller key.
	webhooks := e.Group("/webhooks")
	webhooks.Use(middleware.WebhookDedup(deduper))
	webhooks.POST("/:provider", paymentController.HandleWebhook)

	return e
}

func setupJobScheduler(cfg *config.Config, paymentService *service.PaymentService) *cron.Cron {
	scheduler := cron.New()

	_, err := scheduler.AddFunc("@every "+cfg.Jobs.ReconcileInterval.String(), func() {
		runJob("reconcile", func() error { return paymentService.RunReconcileBatch(context.Background()) })
	})
	if err != nil {
		logrus.WithError(err).Fatal("Failed to schedule reconcile job")
	}

	_, err = scheduler.AddFunc("@every "+cfg.Jobs.PropagateInterval.String(), func() {
		runJob("propagate", func() error { return paymentService.RunPropagateCompletionsBatch(context.Background()) })
	})
	if err != nil {
		logrus.WithError(err).Fatal("Failed to schedule propagation job")
	}

	return scheduler
}

func configureLogging(cfg *config.Config) error {
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	return nil
}

func mustCreatePaymentService() (*config.Config, *service.PaymentService, *gateway.Registry, func()) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to ping database")
	}

	paymentRepo := repository.NewPaymentRepository(db)
	eventRepo := repository.NewPaymentEventRepository(db)
	webhookRepo := repository.NewWebhookLogRepository(db)

	gateways, err := gateway.NewRegistryFromConfig(gateway.Config{
		Enabled: cfg.Gateway.Enabled,
		Sandbox: cfg.Gateway.Sandbox,
		PayFast: gateway.PayFastConfig{
			MerchantID:  cfg.Gateway.PayFast.MerchantID,
			MerchantKey: cfg.Gateway.PayFast.MerchantKey,
			Passphrase:  cfg.Gateway.PayFast.Passphrase,
			ProcessURL:  cfg.Gateway.PayFast.ProcessURL,
			NotifyURL:   cfg.Gateway.PayFast.NotifyURL,
			ReturnURL:   cfg.Gateway.PayFast.ReturnURL,
			CancelURL:   cfg.Gateway.PayFast.CancelURL,
		},
		Paddle: gateway.PaddleConfig{
			APIKey:                    cfg.Gateway.Paddle.APIKey,
			WebhookSecret:             cfg.Gateway.Paddle.WebhookSecret,
			BaseURL:                   cfg.Gateway.Paddle.BaseURL,
			SignatureToleranceSeconds: cfg.Gateway.Paddle.SignatureToleranceSeconds,
			HTTPTimeout:               cfg.Gateway.Paddle.HTTPTimeout,
		},
		NOWPayments: gateway.NOWPaymentsConfig{
			APIKey:      cfg.Gateway.NOWPayments.APIKey,
			IPNSecret:   cfg.Gateway.NOWPayments.IPNSecret,
			Email:       cfg.Gateway.NOWPayments.Email,
			Password:    cfg.Gateway.NOWPayments.Password,
			BaseURL:     cfg.Gateway.NOWPayments.BaseURL,
			TokenTTL:    cfg.Gateway.NOWPayments.TokenTTL,
			HTTPTimeout: cfg.Gateway.NOWPayments.HTTPTimeout,
		},
		Mock: gateway.MockConfig{
			CompleteAfter: cfg.Gateway.Mock.CompleteAfter,
		},
	})
	if err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to build provider registry")
	}

	notifier := service.NewHTTPCompletionNotifier(cfg.Downstream)
	paymentService := service.NewPaymentService(
		paymentRepo,
		eventRepo,
		webhookRepo,
		gateways,
		notifier,
		cfg.Payments,
	)

	cleanup := func() {
		if err := db.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close database")
		}
	}

	return cfg, paymentService, gateways, cleanup
}
