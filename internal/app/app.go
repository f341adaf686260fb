package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-shop/internal/cache"
	"github.com/xenking/kart-shop/internal/domain/cart"
	"github.com/xenking/kart-shop/internal/domain/checkout"
	"github.com/xenking/kart-shop/internal/domain/coupon"
	"github.com/xenking/kart-shop/internal/domain/order"
	"github.com/xenking/kart-shop/internal/domain/payment"
	"github.com/xenking/kart-shop/internal/handler"
	"github.com/xenking/kart-shop/internal/mercadopago"
	"github.com/xenking/kart-shop/internal/notify"
	"github.com/xenking/kart-shop/internal/repository"
	"github.com/xenking/kart-shop/pkg/health"
	"github.com/xenking/kart-shop/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc-pause", time.Second, health.GCMaxPauseCheck(time.Second),
		health.WithFailureThreshold(3),
	)

	// Cart cache.
	var cartCache cart.Cache = cart.NopCache{}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()

		cartCache = cache.NewRedisCache(rdb, cfg.Redis.CartTTL)
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.PingCheck(health.PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})), health.WithFailureThreshold(2))
		lg.Info("Cart cache enabled", zap.String("redis", cfg.Redis.Addr), zap.Duration("ttl", cfg.Redis.CartTTL))
	}

	// Notifications.
	var notifiers notify.Multi
	if cfg.SendGrid.APIKey != "" {
		notifiers = append(notifiers, notify.NewEmail(
			notify.NewSendGrid(cfg.SendGrid.APIKey, cfg.SendGrid.FromEmail, cfg.SendGrid.FromName),
		))
		lg.Info("Email notifications enabled", zap.String("from", cfg.SendGrid.FromEmail))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		kw := notify.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() {
			if err := kw.Close(); err != nil {
				lg.Warn("Kafka writer close failed", zap.Error(err))
			}
		}()
		notifiers = append(notifiers, notify.NewEvents(kw))
		lg.Info("Order events enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	products := repository.NewProductRepository(pool)
	carts := repository.NewCartRepository(pool)
	coupons := repository.NewCouponRepository(pool)
	orders := repository.NewOrderRepository(pool)
	apikeys := repository.NewAPIKeyRepository(pool)
	txm := repository.NewTxManager(pool)

	// Payment provider.
	if cfg.MercadoPago.AccessToken == "" {
		lg.Warn("Mercado Pago access token is not set, payment calls will fail")
	}
	mp := mercadopago.NewClient(mercadopago.Config{
		BaseURL:     cfg.MercadoPago.BaseURL,
		AccessToken: cfg.MercadoPago.AccessToken,
		Timeout:     cfg.MercadoPago.Timeout,
	}, mercadopago.WithHTTPClient(&http.Client{
		Timeout: cfg.MercadoPago.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
		),
	}))

	// Domain services.
	couponEngine := coupon.NewEngine(coupons)
	cartService := cart.NewService(carts, products, cartCache)
	h := handler.NewHandler(handler.Services{
		Carts:    cartService,
		Coupons:  couponEngine,
		Checkout: checkout.NewService(repository.NewCheckoutStore(txm), couponEngine, cartService),
		Orders:   order.NewService(orders, notifiers),
		Payments: payment.NewService(repository.NewPaymentStore(txm), orders, mp, notifiers, payment.Config{
			FrontendURL:         cfg.MercadoPago.FrontendURL,
			BackendURL:          cfg.MercadoPago.BackendURL,
			StatementDescriptor: cfg.MercadoPago.StatementDescriptor,
			Currency:            cfg.MercadoPago.Currency,
			Timeout:             cfg.MercadoPago.Timeout,
		}),
	})
	security := handler.NewSecurityHandler(apikeys, []byte(cfg.APIKeyPepper))

	instrument, err := httpmiddleware.Instrument("kart-api", m)
	if err != nil {
		return errors.Wrap(err, "create instrumentation")
	}

	// Router: health endpoints + API routes on one server.
	router := chi.NewRouter()
	router.Use(instrument, httpmiddleware.LogRequests())
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	h.Register(router, security.Middleware)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", handler.APIKeyHeader, httpmiddleware.RequestIDHeader},
				ExposeHeaders:    []string{httpmiddleware.RequestIDHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
		),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
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
		return nil
	})
	return g.Wait()
}
