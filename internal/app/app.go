package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	red "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/retail-pos/internal/domain/authz"
	"github.com/xenking/retail-pos/internal/domain/cart"
	"github.com/xenking/retail-pos/internal/domain/coupon"
	"github.com/xenking/retail-pos/internal/domain/loyalty"
	"github.com/xenking/retail-pos/internal/domain/sale"
	"github.com/xenking/retail-pos/internal/domain/user"
	"github.com/xenking/retail-pos/internal/handler"
	"github.com/xenking/retail-pos/internal/storage/postgres"
	"github.com/xenking/retail-pos/internal/storage/redis"
	"github.com/xenking/retail-pos/pkg/health"
	"github.com/xenking/retail-pos/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Redis for checkout idempotency.
	redisOpts, err := cfg.RedisOptions()
	if err != nil {
		return err
	}
	rdb := red.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()

	taxRate, err := cfg.Tax()
	if err != nil {
		return err
	}

	srv, err := NewServer(cfg, Deps{
		DB:     pool,
		Redis:  rdb,
		Tax:    cart.PolicyFor(taxRate),
		Meters: m.MeterProvider(),
	})
	if err != nil {
		return err
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.Add(health.Readiness, "postgres", 5*time.Second, health.Ping(pool))
	healthSvc.Add(health.Readiness, "redis", 2*time.Second, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	healthSvc.Add(health.Liveness, "goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	root := chi.NewRouter()
	root.Get("/livez", healthSvc.LiveEndpoint)
	root.Get("/readyz", healthSvc.ReadyEndpoint)
	root.Mount("/", srv)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(root,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", "Idempotency-Key", httpmiddleware.RequestIDHeader},
				ExposeHeaders:    []string{httpmiddleware.RequestIDHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.RouteContext(),
			httpmiddleware.Instrument("pos-api", m.MeterProvider(), m.TracerProvider()),
			httpmiddleware.LogRequests(),
			httpmiddleware.Labeler(),
		),
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

// Deps are the external resources the API is built on.
type Deps struct {
	DB     postgres.DB
	Redis  *red.Client
	Tax    cart.TaxPolicy
	Meters metric.MeterProvider
}

// NewServer builds the repositories, domain services and API router.
func NewServer(cfg *Config, deps Deps) (http.Handler, error) {
	// Repositories.
	productRepo := postgres.NewProductRepository(deps.DB)
	couponRepo := postgres.NewCouponRepository(deps.DB)
	saleRepo := postgres.NewSaleRepository(deps.DB)
	clientRepo := postgres.NewClientRepository(deps.DB)
	userRepo := postgres.NewUserRepository(deps.DB)
	idem := redis.NewIdempotencyStore(deps.Redis, redis.Config{TTL: cfg.Redis.IdempotencyTTL})

	// Domain services.
	auth := authz.NewAuthorizer(authz.DefaultTable())
	couponValidator := coupon.NewRepoValidator(couponRepo)
	users := user.NewService(user.Config{
		Pepper:   []byte(cfg.TokenPepper),
		TokenTTL: cfg.TokenTTL,
	}, userRepo, userRepo, userRepo, auth)
	sales := sale.NewService(auth, productRepo, coupon.NewResolver(couponValidator), saleRepo, idem, deps.Tax)
	ledger := loyalty.NewLedger(clientRepo)

	h, err := handler.New(
		handler.Config{
			RateLimit:   cfg.RateLimit.Max,
			RateWindow:  cfg.RateLimit.Window,
			SSLRedirect: cfg.SSLRedirect,
		},
		users,
		sales,
		ledger,
		productRepo,
		couponValidator,
		auth,
		deps.Meters.Meter("pos"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create handler")
	}
	return h.Routes(), nil
}
