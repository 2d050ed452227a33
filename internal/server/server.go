// Package server exposes the governance core over HTTP for ingestion jobs
// and operators. Serve also drives the background scheduler and the
// governance directory watcher.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/leapguard/internal/engine"
	"github.com/leapstack-labs/leapguard/internal/events"
	"github.com/leapstack-labs/leapguard/internal/monitor"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 16 << 20

// Config holds configuration for the server.
type Config struct {
	Engine *engine.Engine
	Addr   string
	// Gatherer serves /metrics. Nil uses an empty registry.
	Gatherer prometheus.Gatherer
	// Scheduler runs alongside the server when set.
	Scheduler *monitor.Scheduler
	// WatchDebounce enables the governance watcher when positive.
	WatchDebounce time.Duration
	// RateLimit is requests per second per client on /v1. Zero disables it.
	RateLimit float64
	RateBurst int
	Logger    *slog.Logger
}

// Server is the admin HTTP server.
type Server struct {
	engine    *engine.Engine
	addr      string
	gatherer  prometheus.Gatherer
	scheduler *monitor.Scheduler
	debounce  time.Duration
	limiter   *rateLimiter
	activity  *activity
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a server instance.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	g := cfg.Gatherer
	if g == nil {
		g = prometheus.NewRegistry()
	}
	var limiter *rateLimiter
	if cfg.RateLimit > 0 {
		limiter = newRateLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	// Records written through the engine's stream are kept for /v1/activity.
	pub := events.NewChanPublisher(activityBuffer)
	cfg.Engine.Stream().AddPublisher(pub)

	return &Server{
		engine:    cfg.Engine,
		addr:      cfg.Addr,
		gatherer:  g,
		scheduler: cfg.Scheduler,
		debounce:  cfg.WatchDebounce,
		limiter:   limiter,
		activity:  newActivity(pub, activitySize),
		logger:    logger,
		now:       time.Now,
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
	)

	r.Get("/healthz", s.health)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.middleware)
		}
		r.Post("/batches/{source}/validate", s.validateBatch)
		r.Get("/violations", s.listViolations)
		r.Post("/violations/{id}/resolve", s.resolveViolation)

		r.Get("/watermarks", s.listWatermarks)
		r.Get("/watermarks/{source}/{table}/{column}", s.getWatermark)
		r.Put("/watermarks/{source}/{table}/{column}", s.updateWatermark)
		r.Get("/freshness", s.freshness)

		r.Get("/monitors", s.monitorStatus)
		r.Get("/monitor-events", s.listEvents)
		r.Get("/activity", s.listActivity)

		r.Post("/pii/detect", s.detectPII)
		r.Post("/pii/mask", s.maskPII)
	})
	return r
}

// Serve starts the server, the scheduler and the watcher and blocks until
// ctx is cancelled or one of them fails.
func (s *Server) Serve(ctx context.Context) error {
	eg, egctx := errgroup.WithContext(ctx)

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.logger.Info("starting admin server", slog.String("addr", ln.Addr().String()))

	srv := &http.Server{
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.scheduler != nil {
		eg.Go(func() error {
			return s.scheduler.Run(egctx)
		})
	}
	eg.Go(func() error {
		return s.activity.run(egctx)
	})
	if s.debounce > 0 {
		eg.Go(func() error {
			return s.engine.Registry().Watch(egctx, s.debounce)
		})
	}

	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down admin server")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// NewScheduler registers the verify, monitors and freshness jobs of e.
func NewScheduler(e *engine.Engine, workers int, verifyEvery, monitorEvery, freshnessEvery time.Duration, logger *slog.Logger) (*monitor.Scheduler, error) {
	sched := monitor.NewScheduler(workers, logger)
	jobs := []monitor.Job{
		{Name: "verify", Interval: verifyEvery, Run: func(ctx context.Context) error {
			v, err := e.Verifier(ctx)
			if err != nil {
				return err
			}
			_, err = v.VerifyAll(ctx)
			return err
		}},
		{Name: "monitors", Interval: monitorEvery, Run: func(ctx context.Context) error {
			r, err := e.Runner(ctx)
			if err != nil {
				return err
			}
			_, err = r.RunMonitors(ctx, time.Now())
			return err
		}},
		{Name: "freshness", Interval: freshnessEvery, Run: func(ctx context.Context) error {
			_, err := e.Freshness().Record(ctx, time.Now())
			return err
		}},
	}
	for _, j := range jobs {
		if err := sched.Add(j); err != nil {
			return nil, err
		}
	}
	return sched, nil
}
