package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/backend-grocery/internal/app"
	"github.com/noah-isme/backend-grocery/internal/audit"
	"github.com/noah-isme/backend-grocery/internal/auth"
	"github.com/noah-isme/backend-grocery/internal/cart"
	"github.com/noah-isme/backend-grocery/internal/catalog"
	"github.com/noah-isme/backend-grocery/internal/checkout"
	"github.com/noah-isme/backend-grocery/internal/common"
	"github.com/noah-isme/backend-grocery/internal/config"
	"github.com/noah-isme/backend-grocery/internal/events"
	"github.com/noah-isme/backend-grocery/internal/health"
	"github.com/noah-isme/backend-grocery/internal/invoice"
	"github.com/noah-isme/backend-grocery/internal/lock"
	"github.com/noah-isme/backend-grocery/internal/notify"
	"github.com/noah-isme/backend-grocery/internal/obs"
	"github.com/noah-isme/backend-grocery/internal/ratelimit"
	"github.com/noah-isme/backend-grocery/internal/security"
	"github.com/noah-isme/backend-grocery/internal/store"
	"github.com/noah-isme/backend-grocery/internal/user"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "grocery")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		sampling := envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0)
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "grocery-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: sampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.Migrate(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("migrate database")
	}

	pool, err := app.OpenPostgres(ctx, cfg, "grocery-api", logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open database")
	}
	defer pool.Close()
	db := store.NewStore(pool)

	redisClient, err := app.OpenRedis(ctx, cfg, metricsEnabled, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open redis")
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	taskRedis, err := app.TaskRedis(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("configure task queue")
	}
	taskClient := asynq.NewClient(taskRedis)
	defer func() {
		if err := taskClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}()

	mediaStore, localMedia, err := app.MediaStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise media store")
	}
	images := app.MediaManager(cfg, mediaStore, logger)

	catalogService, err := catalog.NewService(catalog.ServiceConfig{
		Store:            db,
		Images:           images,
		Cache:            catalog.NewCache(redisClient, cfg.CatalogCacheTTL),
		CategoryCacheTTL: cfg.CategoryCacheTTL,
		Logger:           obs.Component(logger, "catalog"),
		DefaultLimit:     cfg.CatalogDefaultLimit,
		MaxLimit:         cfg.CatalogMaxLimit,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise catalog service")
	}
	catalogHandler := &catalog.Handler{Service: catalogService, MaxUploadBytes: cfg.MediaMaxUploadBytes}

	authService, err := auth.NewService(auth.Config{
		Store:           db,
		Secret:          cfg.JWTSecret,
		AccessTokenTTL:  cfg.AccessTokenTTL,
		RefreshTokenTTL: cfg.RefreshTokenTTL,
		Issuer:          cfg.JWTIssuer,
		Audience:        cfg.JWTAudience,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise auth service")
	}
	csrf := security.CSRF{SessionCookie: cfg.AccessCookieName}
	authHandler := &auth.Handler{
		Service:           authService,
		CSRF:              csrf,
		AccessCookieName:  cfg.AccessCookieName,
		RefreshCookieName: cfg.RefreshCookieName,
		CookieDomain:      cfg.CookieDomain,
		CookieSecure:      cfg.CookieSecure,
		CookieSameSite:    cfg.CookieSameSite,
	}
	authMiddleware := auth.Middleware{Service: authService, AccessCookie: cfg.AccessCookieName}
	requireAdmin := auth.RequireRole(authService, common.RoleAdmin)

	limiterStore, err := ratelimit.NewStore(redisClient, "limiter:login")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise login limiter store")
	}
	loginLimit, err := ratelimit.PerIP(limiterStore, cfg.LoginRateLimit, func(err error) {
		logger.Error().Err(err).Msg("login rate limiter")
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise login limiter")
	}
	slidingLimiter := ratelimit.Limiter{Client: redisClient, Prefix: "rl:"}
	cartLimit := ratelimit.Handler{
		Limiter: slidingLimiter,
		Config: ratelimit.Config{
			Key:    ratelimit.ByUser("cart"),
			Window: time.Minute,
			Max:    envInt("CART_RATE_LIMIT_MAX", 120),
		},
		OnError: func(err error) { logger.Error().Err(err).Msg("cart rate limiter") },
	}

	addressHandler := &user.Handler{Service: user.NewService(db)}

	cartService := &cart.Service{Store: db, DeliveryFee: cfg.DeliveryFee}
	cartHandler := &cart.Handler{Service: cartService}

	bus := &events.Bus{
		Store: db,
		Notifiers: []events.Notifier{
			notify.TaskEnqueuer{
				Client: taskClient,
				Queue:  cfg.WorkerQueue,
				Logger: obs.Component(logger, "notify"),
			},
		},
	}

	invoiceService := &invoice.Service{Store: db, Events: bus, Logger: obs.Component(logger, "invoice")}
	invoiceHandler := &invoice.Handler{Service: invoiceService}

	checkoutService := &checkout.Service{
		Store:       db,
		Events:      bus,
		Locker:      lock.Locker{R: redisClient, Prefix: "lock:", MaxWait: 2 * time.Second},
		Limiter:     slidingLimiter,
		Logger:      obs.Component(logger, "checkout"),
		DeliveryFee: cfg.DeliveryFee,
		LockTTL:     cfg.CheckoutLockTTL,
		RateWindow:  cfg.CheckoutRateLimitWindow,
		RateMax:     cfg.CheckoutRateLimitMax,
	}
	checkoutHandler := &checkout.Handler{Svc: checkoutService}
	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}

	auditService := &audit.Service{Store: db, Enabled: cfg.AuditEnabled, SamplingRate: cfg.AuditSamplingRate}
	auditRecorder := audit.HTTPRecorder{
		Service: auditService,
		OnError: func(err error) { logger.Error().Err(err).Msg("record audit log") },
	}
	auditHandler := audit.Handler{Store: db}
	audited := func(action, resource, idParam string) func(http.Handler) http.Handler {
		return auditRecorder.Middleware(audit.HTTPConfig{Action: action, ResourceType: resource, ResourceIDParam: idParam})
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{
		Enable:          envBool("SECURE_HEADERS_ENABLED", true),
		EnableHSTS:      envBool("SECURE_HSTS_ENABLED", cfg.CookieSecure),
		NoStorePrefixes: []string{"/api/v1/auth", "/api/v1/cart", "/api/v1/checkout", "/api/v1/invoices", "/api/v1/users", "/api/v1/admin"},
	}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "X-Total-Count", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(security.BodyLimit{
		Max:          int64(envInt("SECURE_BODY_LIMIT_BYTES", 1<<20)),
		MultipartMax: cfg.MediaMaxUploadBytes + 1<<20,
	}.Middleware)

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", false) {
		pprofUser := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pprofPass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), pprofUser, pprofPass))
	}
	if localMedia != nil {
		r.Handle(cfg.MediaBaseURL+"/*", http.StripPrefix(cfg.MediaBaseURL, localMedia.Handler()))
	}

	healthHandler := health.Handler{Checks: []health.Check{
		{Name: "database", Probe: pool.Ping, Timeout: envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500)},
		{Name: "redis", Probe: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }, Timeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300)},
		{Name: "media", Probe: mediaStore.Ping, Timeout: envDurationMillis("HEALTH_READY_MEDIA_TIMEOUT_MS", 1000)},
	}}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(authMiddleware.Authenticate)
		v.Use(csrf.Middleware)

		v.Get("/categories", catalogHandler.Categories)
		v.Get("/products", catalogHandler.Products)
		v.Get("/products/{productID}", catalogHandler.Product)
		v.Get("/products/{productID}/quote", catalogHandler.Quote)

		v.Route("/auth", func(a chi.Router) {
			a.Post("/register", authHandler.Register)
			a.With(loginLimit).Post("/login", authHandler.Login)
			a.Post("/refresh", authHandler.Refresh)
			a.Post("/logout", authHandler.Logout)
			a.With(authMiddleware.RequireAuth).Get("/me", authHandler.Me)
		})

		v.Route("/users/me/addresses", func(a chi.Router) {
			a.Use(authMiddleware.RequireAuth)
			a.Get("/", addressHandler.List)
			a.Post("/", addressHandler.Create)
			a.Route("/{addressID}", func(child chi.Router) {
				child.Get("/", addressHandler.Get)
				child.Put("/", addressHandler.Update)
				child.Delete("/", addressHandler.Delete)
			})
		})

		v.Route("/cart", func(c chi.Router) {
			c.Use(authMiddleware.RequireAuth)
			c.Get("/", cartHandler.Get)
			c.Group(func(g chi.Router) {
				g.Use(cartLimit.Middleware)
				g.Post("/items", cartHandler.AddItem)
				g.Put("/items/{productID}", cartHandler.SetAmount)
				g.Post("/items/{productID}/increment", cartHandler.Increment)
				g.Post("/items/{productID}/decrement", cartHandler.Decrement)
				g.Delete("/items/{productID}", cartHandler.RemoveItem)
				g.Delete("/", cartHandler.Clear)
			})
		})

		v.With(authMiddleware.RequireAuth, idem.Middleware).Post("/checkout", checkoutHandler.Checkout)

		v.Group(func(authR chi.Router) {
			authR.Use(authMiddleware.RequireAuth)
			authR.Get("/invoices", invoiceHandler.List)
			authR.Get("/invoices/{invoiceID}", invoiceHandler.Get)
		})

		v.Route("/admin", func(admin chi.Router) {
			admin.Use(authMiddleware.RequireAuth)
			admin.Use(requireAdmin)

			admin.With(audited("product.create", "product", "")).Post("/products", catalogHandler.CreateProduct)
			admin.With(audited("product.update", "product", "productID")).Put("/products/{productID}", catalogHandler.UpdateProduct)
			admin.With(audited("product.delete", "product", "productID")).Delete("/products/{productID}", catalogHandler.DeleteProduct)
			admin.With(audited("category.create", "category", "")).Post("/categories", catalogHandler.CreateCategory)
			admin.With(audited("category.delete", "category", "categoryID")).Delete("/categories/{categoryID}", catalogHandler.DeleteCategory)

			admin.Get("/invoices", invoiceHandler.List)
			admin.Get("/invoices/export.csv", invoiceHandler.Export)
			admin.Get("/invoices/{invoiceID}", invoiceHandler.Get)
			admin.With(audited("invoice.status", "invoice", "invoiceID")).Patch("/invoices/{invoiceID}/status", invoiceHandler.UpdateStatus)

			admin.Get("/audit-logs", auditHandler.List)
		})
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("media_driver", mediaStore.Driver()).Msg("server starting")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case <-sigCtx.Done():
		health.SetReady(false)
		logger.Info().Msg("shutting down")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), envDurationMillis("SHUTDOWN_TIMEOUT_MS", 15000))
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/mutex", pprof.Handler("mutex"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
