package main

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/barberhq/citaflow/libs/config"
	"github.com/barberhq/citaflow/libs/db"
	"github.com/barberhq/citaflow/libs/httpx"
	"github.com/barberhq/citaflow/libs/kafkax"
	otelx "github.com/barberhq/citaflow/libs/otel"
	"github.com/barberhq/citaflow/libs/runtime"
	"github.com/barberhq/citaflow/services/appointment-service/internal/audit"
	"github.com/barberhq/citaflow/services/appointment-service/internal/authz"
	"github.com/barberhq/citaflow/services/appointment-service/internal/handlers"
	"github.com/barberhq/citaflow/services/appointment-service/internal/notify"
	"github.com/barberhq/citaflow/services/appointment-service/internal/ratelimit"
	"github.com/barberhq/citaflow/services/appointment-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "appointment-service")
	port, err := config.Port("PORT", "8084")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	apptRepo := storage.NewAppointmentRepository(pool)
	capRepo := storage.NewCapabilityRepository(pool)
	auditRepo := audit.NewRepository(pool)
	resolver := authz.NewResolver(capRepo)

	rateLimit := parsePositiveInt(config.String("RATE_LIMIT_PER_WINDOW", ""), ratelimit.DefaultLimit)
	rateWindow := time.Duration(parsePositiveInt(config.String("RATE_LIMIT_WINDOW_SECONDS", ""), int(ratelimit.DefaultWindow.Seconds()))) * time.Second

	var limiter ratelimit.Limiter
	var rdb *redis.Client
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		redisDB := parsePositiveInt(config.String("REDIS_DB", "0"), 0)
		rdb = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       redisDB,
		})
		defer func() { _ = rdb.Close() }()
		limiter = ratelimit.NewRedisLimiter(rdb, rateLimit, rateWindow, config.String("RATE_LIMIT_PREFIX", "rl"))
		logger.Info("rate limiting enabled (redis)", "limit", rateLimit, "window", rateWindow, "redis_addr", addr)
	} else {
		memLimiter := ratelimit.NewMemoryLimiter(rateLimit, rateWindow)
		memLimiter.StartJanitor(ctx, 2*time.Minute)
		limiter = memLimiter
		logger.Info("rate limiting enabled (in-memory)", "limit", rateLimit, "window", rateWindow)
	}

	brokers := config.String("KAFKA_BROKERS", "")
	var pusher notify.Pusher
	if kp := notify.NewKafkaPusher(brokers); kp != nil {
		defer func() { _ = kp.Close() }()
		pusher = kp
		logger.Info("push requests publish to kafka", "brokers", brokers)
	} else {
		pusher = notify.NewLogPusher(logger)
		logger.Info("no kafka brokers configured; push requests are logged only")
	}

	dispatcher := notify.NewDispatcher(pusher, notify.NewLogRepository(pool), apptRepo, logger)
	statusHandler := handlers.NewStatusHandler(apptRepo, resolver, limiter, auditRepo, dispatcher, logger, jwtSecret)

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
	}
	if strings.TrimSpace(brokers) != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	if rdb != nil {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	mux.HandleFunc("PATCH /api/v1/appointments/{id}/check-in", statusHandler.CheckIn)
	mux.HandleFunc("PATCH /api/v1/appointments/{id}/complete", statusHandler.Complete)
	mux.HandleFunc("PATCH /api/v1/appointments/{id}/no-show", statusHandler.NoShow)

	handler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   parseList(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods:   parseList(config.String("CORS_ALLOWED_METHODS", "GET,PATCH,OPTIONS")),
			AllowedHeaders:   parseList(config.String("CORS_ALLOWED_HEADERS", "Authorization,Content-Type,X-Request-Id")),
			AllowCredentials: false,
			MaxAge:           10 * time.Minute,
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(64*1024),
		httpx.WithTimeout(15*time.Second),
	)
	handler = otelhttp.NewHandler(handler, "appointment")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

func parsePositiveInt(raw string, fallback int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func parseList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
