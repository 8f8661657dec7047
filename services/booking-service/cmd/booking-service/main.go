package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/bookingsync/libs/auth"
	"github.com/md-rashed-zaman/bookingsync/libs/config"
	"github.com/md-rashed-zaman/bookingsync/libs/db"
	"github.com/md-rashed-zaman/bookingsync/libs/httpx"
	"github.com/md-rashed-zaman/bookingsync/libs/kafkax"
	otelx "github.com/md-rashed-zaman/bookingsync/libs/otel"
	"github.com/md-rashed-zaman/bookingsync/libs/runtime"
	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/calendar"
	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/mirror"
	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/reconcile"
	"github.com/md-rashed-zaman/bookingsync/services/booking-service/internal/storage"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		panic(err)
	}
	cfg, err := loadSettings()
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(cfg.Service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.Service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL, db.Options{})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := storage.EnsureSchema(ctx, pool); err != nil {
			logger.Error("schema setup failed", "err", err)
			panic(err)
		}
	}

	outboxRepo := outbox.NewRepository()
	store := storage.NewBookingRepository(pool, outboxRepo)
	catalog := storage.NewServiceRepository(pool)
	if cfg.SeedData {
		n, err := catalog.SeedServices(ctx, storage.DefaultServices)
		if err != nil {
			logger.Error("service seed failed", "err", err)
		} else if n > 0 {
			logger.Info("services seeded", "count", n)
		}
	}

	gateway := newGateway(ctx, cfg, logger)
	mirrorer := mirror.NewMirrorer(store, catalog, gateway, logger)

	var (
		dispatcher booking.Dispatcher
		limiter    httpx.Limiter = httpx.NewMemoryLimiter(cfg.RatePerMin, time.Minute)
	)
	if cfg.RedisURL != "" {
		redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
		if err != nil {
			panic(err)
		}
		taskClient := asynq.NewClient(redisOpt)
		defer taskClient.Close()
		dispatcher = mirror.NewAsynqDispatcher(taskClient)

		worker := asynq.NewServer(redisOpt, asynq.Config{
			Concurrency: 4,
			Queues:      map[string]int{mirror.QueueCalendar: 1},
			LogLevel:    asynq.WarnLevel,
		})
		if err := worker.Start(mirror.NewServeMux(mirrorer, logger)); err != nil {
			logger.Error("calendar worker failed to start", "err", err)
			panic(err)
		}
		defer worker.Shutdown()

		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			panic(err)
		}
		rdb := redis.NewClient(redisOpts)
		defer rdb.Close()
		limiter = httpx.FallbackLimiter{
			Primary:   httpx.NewRedisLimiter(rdb, cfg.RatePerMin, time.Minute, "rl:"+cfg.Service),
			Secondary: limiter,
			Logger:    logger,
		}
	} else {
		inline := mirror.NewInlineDispatcher(mirrorer, logger, 30*time.Second)
		defer inline.Wait()
		dispatcher = inline
		logger.Warn("REDIS_URL not set; calendar mirroring runs in process")
	}

	orch := booking.NewOrchestrator(store, catalog, gateway, dispatcher, logger, booking.Config{
		Location:        cfg.Location,
		Hours:           cfg.Hours,
		Granularity:     cfg.Granularity,
		MaxAdvance:      cfg.MaxAdvance,
		PendingForUsers: cfg.PendingForUsers,
	})

	reconciler := reconcile.NewReconciler(store, catalog, gateway, mirrorer, logger, reconcile.Config{
		Interval:        cfg.SyncInterval,
		WindowDays:      cfg.SyncWindowDays,
		Location:        cfg.Location,
		ImportServiceID: cfg.ImportServiceID,
	})
	go reconciler.Run(ctx)

	go lifecycle.NewCompleter(store, logger, cfg.SweepInterval, nil).Run(ctx)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   cfg.KafkaBrokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)},
	)
	handlers.Routes{
		PublicHandler: handlers.NewPublicHandler(orch, logger),
		AdminHandler:  handlers.NewAdminHandler(orch, reconciler, logger, 2*time.Minute),
		Public:        httpx.RateLimit(limiter, logger, true),
		Admin:         auth.RequireRole(cfg.JWTSecret, "admin", "owner"),
	}.Register(mux)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "timezone", cfg.Location.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

// newGateway returns the Google Calendar gateway, or an in-process calendar
// when no service account is configured.
func newGateway(ctx context.Context, cfg settings, logger *slog.Logger) calendar.Gateway {
	if !cfg.Credentials.Configured() {
		logger.Warn("google calendar credentials not set; using in-process calendar")
		return calendar.NewMemoryGateway()
	}
	svc, err := calendar.NewServiceAccountService(ctx, cfg.Credentials)
	if err != nil {
		logger.Error("google calendar client failed", "err", err)
		panic(err)
	}
	return calendar.NewGoogleGateway(svc, calendar.GoogleOptions{
		CalendarID:      cfg.CalendarID,
		Timeout:         cfg.CalendarTimeout,
		Location:        cfg.Location,
		InviteAttendees: cfg.InviteAttendees,
	})
}
