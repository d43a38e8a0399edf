package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"glaze/internal/admission"
	"glaze/internal/codeforces"
	"glaze/internal/completion"
	"glaze/internal/glaze"
	glazehandler "glaze/internal/glaze/handler"
	"glaze/internal/platform/config"
	"glaze/internal/platform/httpserver"
	"glaze/internal/platform/logger"
	platformmetrics "glaze/internal/platform/metrics"
	"glaze/internal/platform/redis"
	ratelimithandler "glaze/internal/ratelimit/handler"
	ratelimitmetrics "glaze/internal/ratelimit/metrics"
	"glaze/internal/ratelimit/service/reconcile"
	"glaze/internal/ratelimit/service/requestlimit"
	"glaze/internal/ratelimit/service/tokenbudget"
	"glaze/internal/ratelimit/store/kv"
	"glaze/internal/ratelimit/store/snapshot"
	httptransport "glaze/internal/transport/http"
	"glaze/pkg/platform/middleware/metadata"
)

type counterStore interface {
	tokenbudget.Store
	requestlimit.Store
}

// main wires dependencies, starts the reconcile schedule and serves HTTP
// until interrupted.
func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	cfg, err := config.Load(os.Getenv("GLAZE_CONFIG_FILE"))
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics := platformmetrics.New(reg)
	limitMetrics := ratelimitmetrics.New(reg)

	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	var store counterStore
	var burst requestlimit.BurstLimiter
	if rdb != nil {
		defer rdb.Close()
		store = kv.NewRedisStore(rdb.Client)
		if cfg.Limits.BurstPerMinute > 0 {
			burst = requestlimit.NewRedisBurstLimiter(rdb.Client, cfg.Limits.BurstPerMinute)
		}
		log.Info("using redis counter store")
	} else {
		store = kv.NewMemoryStore()
		if cfg.Limits.BurstPerMinute > 0 {
			burst = requestlimit.NewLocalBurstLimiter(cfg.Limits.BurstPerMinute)
		}
		log.Warn("REDIS_URL not set, counters are process-local")
	}

	budget, err := tokenbudget.New(store,
		tokenbudget.WithCache(snapshot.New(cfg.Limits.CacheTTL)),
		tokenbudget.WithLogger(log),
		tokenbudget.WithMetrics(limitMetrics),
	)
	if err != nil {
		return err
	}

	limiterOpts := []requestlimit.Option{
		requestlimit.WithLimit(cfg.Limits.MaxRequestsPerWindow, cfg.Limits.Window),
		requestlimit.WithLogger(log),
		requestlimit.WithMetrics(limitMetrics),
	}
	if burst != nil {
		limiterOpts = append(limiterOpts, requestlimit.WithBurstLimit(burst))
	}
	limiter, err := requestlimit.New(store, limiterOpts...)
	if err != nil {
		return err
	}

	estimator, err := completion.NewEstimator()
	if err != nil {
		log.Warn("tokenizer unavailable, falling back to length estimate", "error", err)
		estimator = &completion.Estimator{}
	}

	cf, err := codeforces.New(cfg.Codeforces,
		codeforces.WithLogger(log),
		codeforces.WithMetrics(httpMetrics),
	)
	if err != nil {
		return err
	}
	defer cf.Close()

	completer, err := completion.New(cfg.Completion,
		completion.WithLogger(log),
		completion.WithMetrics(httpMetrics),
		completion.WithEstimator(estimator),
	)
	if err != nil {
		return err
	}

	svc, err := glaze.New(cf, completer, budget,
		glaze.WithLogger(log),
		glaze.WithMetrics(httpMetrics),
		glaze.WithEstimator(estimator, completer.MaxTokens()),
	)
	if err != nil {
		return err
	}

	gate, err := admission.New(admission.Config{
		Production:        cfg.Server.IsProduction(),
		AllowedOrigins:    cfg.Security.AllowedOrigins,
		MaxDailyTokens:    cfg.Limits.MaxDailyTokens,
		PreflightEstimate: cfg.Limits.PreflightEstimate,
		MaxCodeChars:      cfg.Limits.MaxCodeChars,
	}, limiter, budget,
		admission.WithLogger(log),
		admission.WithMetrics(limitMetrics),
		admission.WithEstimator(func(req admission.Request) int64 {
			if req.Kind == admission.KindCode {
				return svc.EstimateCode(req.Code)
			}
			return svc.EstimateProfile()
		}),
	)
	if err != nil {
		return err
	}

	task, err := reconcile.New(budget, cfg.Limits.ReconcileSchedule,
		reconcile.WithLogger(log),
		reconcile.WithMetrics(limitMetrics),
	)
	if err != nil {
		return err
	}
	task.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := task.Stop(stopCtx); err != nil {
			log.Warn("reconcile task did not stop cleanly", "error", err)
		}
	}()

	clientIP, err := metadata.NewResolver(cfg.Security.TrustedProxies)
	if err != nil {
		return err
	}

	router := httptransport.NewRouter(httptransport.Deps{
		Logger:   log,
		Metrics:  httpMetrics,
		Gatherer: reg,
		Glaze: glazehandler.New(svc, gate, budget, glazehandler.Config{
			MaxBodyBytes:   cfg.Limits.MaxBodyBytes,
			MaxDailyTokens: cfg.Limits.MaxDailyTokens,
			ResetSecret:    cfg.Security.ResetSecret,
		}, log),
		Admin:          ratelimithandler.New(limiter, log),
		Health:         budget,
		ClientIP:       clientIP,
		AdminToken:     cfg.Security.AdminToken,
		RequestTimeout: cfg.Server.RequestTimeout,
	})

	srv := httpserver.New(cfg.Server, router)
	errCh := make(chan error, 1)
	go func() {
		log.Info("starting glaze", "addr", cfg.Server.Addr, "environment", cfg.Server.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
