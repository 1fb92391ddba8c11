package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/servicehub/backend/docs"
	"github.com/servicehub/backend/internal/account"
	"github.com/servicehub/backend/internal/admin"
	"github.com/servicehub/backend/internal/audit"
	"github.com/servicehub/backend/internal/auth"
	"github.com/servicehub/backend/internal/config"
	"github.com/servicehub/backend/internal/database"
	"github.com/servicehub/backend/internal/events"
	"github.com/servicehub/backend/internal/fulfillment"
	"github.com/servicehub/backend/internal/handlers"
	"github.com/servicehub/backend/internal/ledger"
	"github.com/servicehub/backend/internal/metrics"
	mW "github.com/servicehub/backend/internal/middleware"
	"github.com/servicehub/backend/internal/payments"
	"github.com/servicehub/backend/internal/pricing"
	"github.com/servicehub/backend/internal/provider"
	"github.com/servicehub/backend/internal/reconcile"
	"github.com/servicehub/backend/internal/store"
	"github.com/servicehub/backend/internal/store/memory"
	mongostore "github.com/servicehub/backend/internal/store/mongo"
	"github.com/servicehub/backend/internal/store/postgres"
)

// @title Service Hub Backend API
// @version 1.0
// @description Prepaid wallet and government-service fulfillment API
// @host localhost:8080
// @BasePath /api
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	docs.SwaggerInfo.Host = ""
	docs.SwaggerInfo.BasePath = "/api"

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close(context.Background())

	redisClient := database.NewRedis(ctx, cfg.Redis, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Ledger events go to Kafka when brokers are configured and always to
	// connected websocket clients.
	var publisher events.EntryPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		defer kp.Close()
		publisher = kp
		logger.Info("publishing ledger entries to kafka", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	hub := events.NewHub(logger)
	go hub.Run(ctx)

	auditor := audit.NewLogger(logger)
	wallet := ledger.New(st, events.NewDispatcher(publisher, hub, logger.Named("events")), auditor, logger)
	pricer := pricing.NewResolver(st)

	client := provider.NewClient(&http.Client{}, provider.Config{
		APIKey:    cfg.Providers.APIKey,
		UserAgent: cfg.Providers.UserAgent,
	}, logger)
	exams := provider.NewExamGateway(client, provider.ExamConfig{
		SubmitURL:     cfg.Providers.ExamSubmitURL,
		StatusURL:     cfg.Providers.ExamStatusURL,
		CallbackURL:   cfg.Providers.ExamCallbackURL,
		SubmitTimeout: cfg.Providers.ExamSubmitTimeout,
		StatusTimeout: cfg.Providers.ExamStatusTimeout,
	})
	licenses := provider.NewLicenseGateway(client, provider.LicenseConfig{
		URL:     cfg.Providers.LicensePDFURL,
		Timeout: cfg.Providers.LicensePDFTimeout,
	})
	gateway := provider.NewPaymentGateway(client, provider.PaymentConfig{
		StatusURL: cfg.Providers.PaymentStatusURL,
		Timeout:   cfg.Providers.PaymentStatusTimeout,
	})

	authService := auth.NewService(st, redisClient, auth.Config{
		SecretKey: cfg.JWT.SecretKey,
		Expiry:    cfg.JWT.Expiry(),
		Argon2: auth.Argon2Params{
			Time:       cfg.Argon2.Time,
			Memory:     cfg.Argon2.Memory,
			Threads:    cfg.Argon2.Threads,
			KeyLength:  cfg.Argon2.KeyLength,
			SaltLength: cfg.Argon2.SaltLength,
		},
	}, logger)
	if err := authService.EnsureDefaultAdmin(ctx, cfg.Admin.Username, cfg.Admin.Password); err != nil {
		logger.Warn("failed to seed default admin", zap.Error(err))
	}

	orchestrator := fulfillment.NewOrchestrator(st, wallet, pricer, exams, licenses, auditor, logger)
	reconciler := reconcile.NewReconciler(st, wallet, exams, gateway, auditor, logger)
	sweeper := reconcile.NewSweeper(st, reconcile.SweepConfig{
		Interval: cfg.Reconcile.SweepInterval,
		Lookback: cfg.Reconcile.SweepLookback,
		Grace:    cfg.Reconcile.ReservationGrace,
	}, auditor, logger)
	go sweeper.Run(ctx)

	accountService := account.NewService(st, pricer, wallet)
	paymentService := payments.NewService(st, wallet, redisClient, payments.Config{
		MinimumAmount:   cfg.Payments.MinimumAmount,
		UPIID:           cfg.Payments.UPIID,
		PayeeName:       cfg.Payments.PayeeName,
		PaymentLinkBase: cfg.Payments.PaymentLinkBase,
		QRTTL:           cfg.Payments.QRTTL,
	}, logger)
	adminService := admin.NewService(st, wallet, authService, pricer, auditor, logger)

	api := handlers.Handlers{
		Auth:        handlers.NewAuthHandler(authService, accountService, logger),
		User:        handlers.NewUserHandler(accountService, logger),
		Fulfillment: handlers.NewFulfillmentHandler(orchestrator, reconciler, logger),
		Payment:     handlers.NewPaymentHandler(paymentService, reconciler, logger),
		Admin:       handlers.NewAdminHandler(adminService, reconciler, logger),
		Hub:         hub,
	}

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mW.RequestLogger(logger))
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status, code := "healthy", http.StatusOK
		if err := st.Ping(r.Context()); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{"status": status})
	})

	r.Handle("/metrics", metrics.Handler())

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL(cfg.Server.PublicURL+"/swagger/doc.json"),
	))

	r.Group(func(r chi.Router) {
		r.Use(mW.SecurityHeaders)
		r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
		r.Mount("/api", api.Routes(authService))
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", server.Addr), zap.String("store", cfg.Store))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	switch cfg.Store {
	case "memory":
		logger.Warn("using in-memory store; data is lost on restart")
		return memory.New(), nil

	case "mongo":
		client, err := database.ConnectMongo(ctx, cfg.Mongo, logger)
		if err != nil {
			return nil, err
		}
		st := mongostore.New(client, cfg.Mongo.Database)
		if err := st.Migrate(ctx); err != nil {
			client.Disconnect(context.Background())
			return nil, err
		}
		return st, nil

	default:
		db, err := database.OpenPostgres(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		st := postgres.New(db)
		if err := st.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return st, nil
	}
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
