package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/pandarank/pandarank-api/internal/config"
	"github.com/pandarank/pandarank-api/internal/domain/campaign"
	"github.com/pandarank/pandarank-api/internal/domain/coupon"
	"github.com/pandarank/pandarank-api/internal/domain/payment"
	"github.com/pandarank/pandarank-api/internal/domain/point"
	"github.com/pandarank/pandarank-api/internal/middleware"
	"github.com/pandarank/pandarank-api/internal/pkg/database"
	"github.com/pandarank/pandarank-api/internal/pkg/iamport"
	"github.com/pandarank/pandarank-api/internal/pkg/jwt"
	"github.com/pandarank/pandarank-api/internal/pkg/logger"
	"github.com/pandarank/pandarank-api/internal/pkg/response"
	"github.com/pandarank/pandarank-api/internal/pkg/retry"
	"github.com/pandarank/pandarank-api/internal/pkg/secure"
	"github.com/pandarank/pandarank-api/internal/pkg/snowflake"
	"github.com/pandarank/pandarank-api/internal/pkg/taskqueue"
	"github.com/pandarank/pandarank-api/internal/pkg/webhook"
)

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env})

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting PandaRank API")

	if err := snowflake.SetNode(cfg.NodeID); err != nil {
		log.Fatal().Err(err).Int64("node_id", cfg.NodeID).Msg("Invalid snowflake node")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	rdb, err := database.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(rdb)

	broker, err := newBroker(ctx, cfg, rdb)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up task queue")
	}

	app := buildApp(cfg, db, broker)

	worker := taskqueue.NewWorker(broker, taskqueue.WorkerConfig{
		Concurrency:   cfg.TaskWorkers,
		MaxDeliveries: cfg.TaskMaxDeliveries,
	})
	worker.Handle(payment.TaskProcess, app.payments.HandleProcessTask)
	worker.Handle(payment.TaskNotify, app.payments.HandleNotifyTask)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(cfg.AllowedOrigins, app.handlers),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		worker.Start(gctx)
		<-gctx.Done()
		worker.Stop()
		return nil
	})

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
		return
	}

	log.Info().Msg("Server exited properly")
}

// newBroker picks the Redis queue when Redis is configured and re-queues
// tasks a previous process left in flight. Otherwise tasks live in memory.
func newBroker(ctx context.Context, cfg *config.Config, rdb *redis.Client) (taskqueue.Broker, error) {
	if rdb == nil {
		return taskqueue.NewMemoryQueue(1024), nil
	}

	var box *secure.Box
	if cfg.TaskSealKey != "" {
		b, err := secure.NewBox(cfg.TaskSealKey)
		if err != nil {
			return nil, err
		}
		box = b
	} else if cfg.IsProduction() {
		log.Warn().Msg("TASK_SEAL_KEY not set, queued card data is stored unsealed")
	}

	q := taskqueue.NewRedisQueue(rdb, cfg.TaskQueueKey, box)
	n, err := q.Recover(ctx)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		log.Info().Int("tasks", n).Msg("Recovered in-flight tasks")
	}
	return q, nil
}

type handlers struct {
	auth     func(http.Handler) http.Handler
	points   *point.Handler
	coupons  *coupon.Handler
	payments *payment.Handler
}

type components struct {
	payments *payment.Service
	handlers handlers
}

func buildApp(cfg *config.Config, db *sqlx.DB, queue taskqueue.Queue) *components {
	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)

	// ---------- Repositories ----------
	pointRepo := point.NewRepository(db)
	couponRepo := coupon.NewRepository(db)
	paymentRepo := payment.NewRepository(db)
	campaignRepo := campaign.NewRepository(db)

	// ---------- External clients ----------
	gateway := iamport.NewClient(iamport.Config{
		BaseURL:   cfg.IamportBaseURL,
		APIKey:    cfg.IamportAPIKey,
		APISecret: cfg.IamportAPISecret,
		Timeout:   cfg.IamportTimeout,
	})
	dispatcher := webhook.NewDispatcher(webhook.Config{
		URL:     cfg.PaymentWebhookURL,
		Secret:  cfg.PaymentWebhookSecret,
		Timeout: cfg.WebhookTimeout,
		Retry:   retry.Policy{Attempts: cfg.WebhookRetryAttempts, Delay: cfg.WebhookRetryDelay},
	})
	if !dispatcher.Enabled() {
		log.Warn().Msg("PAYMENT_WEBHOOK_URL not set, payment notifications are dropped")
	}

	// ---------- Services ----------
	pointService := point.NewService(pointRepo, point.Config{
		Expiry:         cfg.PointExpiry(),
		MinExchange:    cfg.PointMinExchange,
		ExpiringWindow: time.Duration(cfg.PointExpiringDays) * 24 * time.Hour,
	})
	couponService := coupon.NewService(couponRepo)
	paymentService := payment.NewService(paymentRepo, campaignRepo, gateway, queue, dispatcher, payment.Config{
		DefaultCurrency: cfg.DefaultCurrency,
		NoticeURL:       cfg.PaymentNotifyURL,
		Retry:           retry.Policy{Attempts: cfg.PaymentRetryAttempts, Delay: cfg.PaymentRetryDelay},
	})

	return &components{
		payments: paymentService,
		handlers: handlers{
			auth:     middleware.Auth(jwtService),
			points:   point.NewHandler(pointService),
			coupons:  coupon.NewHandler(couponService),
			payments: payment.NewHandler(paymentService, cfg.IamportWebhookSecret),
		},
	}
}

func newRouter(allowedOrigins []string, h handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(allowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		response.OK(w, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			response.OK(w, map[string]string{"status": "ok"})
		})

		r.Mount("/points", h.points.Routes(h.auth))
		r.Mount("/coupons", h.coupons.Routes(h.auth))
		r.Mount("/payments", h.payments.Routes(h.auth))
		r.Mount("/webhooks", h.payments.WebhookRoutes())
	})

	return r
}
