package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/laptop-admin/internal/cloudinary"
	"github.com/xenking/laptop-admin/internal/domain/asset"
	"github.com/xenking/laptop-admin/internal/domain/catalog"
	"github.com/xenking/laptop-admin/internal/domain/mutation"
	"github.com/xenking/laptop-admin/internal/handler"
	"github.com/xenking/laptop-admin/internal/storage/postgres"
	"github.com/xenking/laptop-admin/internal/supabase"
	"github.com/xenking/laptop-admin/pkg/health"
	"github.com/xenking/laptop-admin/pkg/httpmiddleware"
)

const serviceName = "laptop-admin"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("store", cfg.Store.Driver),
		zap.String("unknown_fields", string(cfg.UnknownFieldPolicy())),
	)

	srv, err := build(ctx, lg, m.TracerProvider(), m.MeterProvider(), cfg)
	if err != nil {
		return err
	}
	defer srv.close()

	healthSvc := srv.health
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      max(2*time.Minute, 4*cfg.Upstream.Timeout),
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           srv.handler,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// pipeline is the assembled request handling stack.
type pipeline struct {
	handler http.Handler
	health  *health.Health
	close   func()
}

// build wires clients, stores and the mutation service behind the
// middleware chain. Health checks are registered but not started.
func build(ctx context.Context, lg *zap.Logger, tp trace.TracerProvider, mp metric.MeterProvider, cfg *Config) (*pipeline, error) {
	srv := &pipeline{health: health.New(), close: func() {}}
	srv.health.Register(health.Check{
		Name:    "goroutines",
		Probe:   health.Liveness,
		Timeout: time.Second,
		Func:    health.GoroutineCountCheck(10000),
	})

	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithTracerProvider(tp),
		otelhttp.WithMeterProvider(mp),
	)

	deps := mutation.Deps{
		Normalizer: catalog.NewNormalizer(nil, cfg.UnknownFieldPolicy()),
		Tracer:     tp.Tracer(serviceName),
	}

	// Identity service and REST facade.
	if cfg.SupabaseConfigured() {
		sb, err := supabase.New(supabase.Config{
			URL:            cfg.Supabase.URL,
			ServiceRoleKey: cfg.Supabase.ServiceRoleKey,
			LaptopsTable:   cfg.Supabase.LaptopsTable,
			AdminsTable:    cfg.Supabase.AdminsTable,
			Timeout:        cfg.Upstream.Timeout,
			Transport:      transport,
		})
		if err != nil {
			return nil, errors.Wrap(err, "create supabase client")
		}
		deps.Verifier, deps.Admins, deps.Store = sb, sb, sb
		srv.health.Register(health.Check{
			Name:    "supabase",
			Probe:   health.Readiness,
			Timeout: 5 * time.Second,
			Func:    health.PingCheck("supabase", sb),
		})
	} else {
		lg.Warn("Identity service is not configured, every mutation will be rejected")
	}

	// Direct PostgreSQL store replaces the REST facade for rows and admins.
	if cfg.Store.Driver == DriverPostgres {
		pool, err := postgres.NewPool(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "run migrations")
		}
		srv.close = pool.Close
		deps.Store = postgres.NewLaptopRepository(pool, cfg.Supabase.LaptopsTable)
		deps.Admins = postgres.NewAdminRepository(pool, cfg.Supabase.AdminsTable)
		srv.health.Register(health.Check{
			Name:    "postgres",
			Probe:   health.Readiness,
			Timeout: 5 * time.Second,
			Func:    health.PingCheck("postgres", pool),
		})
	}

	// Asset host.
	var destroyer asset.Destroyer
	cc := cloudinary.Config{
		CloudName: cfg.Cloudinary.CloudName,
		APIKey:    cfg.Cloudinary.APIKey,
		APISecret: cfg.Cloudinary.APISecret,
		BaseURL:   cfg.Cloudinary.BaseURL,
		Timeout:   cfg.Upstream.Timeout,
		Transport: transport,
	}
	if cc.Configured() {
		c, err := cloudinary.New(cc)
		if err != nil {
			srv.close()
			return nil, errors.Wrap(err, "create cloudinary client")
		}
		destroyer = c
	} else {
		lg.Info("Asset host is not configured, asset cleanup is disabled")
	}
	assets, err := asset.NewManager(destroyer, cfg.Cloudinary.Concurrency, mp.Meter(serviceName))
	if err != nil {
		srv.close()
		return nil, errors.Wrap(err, "create asset manager")
	}
	deps.Assets = assets

	h := handler.NewHandler(handler.HandlerConfig{}, mutation.NewService(deps))

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", srv.health.LiveEndpoint)
	mux.HandleFunc("/readyz", srv.health.ReadyEndpoint)
	h.Register(mux)

	srv.handler = httpmiddleware.Wrap(mux,
		httpmiddleware.Instrument(serviceName, tp, mp),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.LogRequests(),
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins: cfg.CORS.Origins,
		}),
		httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
		}),
	)
	return srv, nil
}
