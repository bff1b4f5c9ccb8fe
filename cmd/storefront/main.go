package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"finitefield.org/pcshop/internal/cart"
	"finitefield.org/pcshop/internal/catalog"
	"finitefield.org/pcshop/internal/handlers"
	"finitefield.org/pcshop/internal/middleware"
	"finitefield.org/pcshop/internal/platform/auth"
	"finitefield.org/pcshop/internal/platform/config"
	pfirestore "finitefield.org/pcshop/internal/platform/firestore"
	"finitefield.org/pcshop/internal/platform/observability"
	"finitefield.org/pcshop/internal/platform/secrets"
	"finitefield.org/pcshop/internal/productapi"
	"finitefield.org/pcshop/internal/related"
	"finitefield.org/pcshop/internal/render"
	firestoreRepo "finitefield.org/pcshop/internal/repositories/firestore"
	mongoRepo "finitefield.org/pcshop/internal/repositories/mongo"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("storefront")

	fetcher, err := newSecretFetcher(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	products := productapi.NewClient(cfg.Upstream.BaseURL, productapi.WithTimeout(cfg.Upstream.Timeout))
	if products.Fake() {
		logger.Warn("upstream base url not configured; serving bundled fixtures")
	}

	var readiness []handlers.HealthOption
	readiness = append(readiness, handlers.WithReadinessCheck("upstream", func(ctx context.Context) error {
		_, err := products.List(ctx, productapi.Query{Collection: cfg.Catalog.Collections[0], Limit: 1})
		return err
	}))

	remote, closeRemote, remoteCheck, err := newCartRemote(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise cart backend", zap.String("backend", cfg.Cart.Backend), zap.Error(err))
	}
	defer closeRemote()
	if remoteCheck != nil {
		readiness = append(readiness, handlers.WithReadinessCheck("cart_"+cfg.Cart.Backend, remoteCheck))
	}

	cartLogger := observability.FieldLogger(logger.Named("cart"))
	hub := cart.NewHub(cart.WithHubLogger(cartLogger))

	workers, cancelWorkers := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	if cfg.Redis.URL != "" {
		relay, err := cart.NewRedisRelay(ctx, cfg.Redis.URL, hub, cartLogger)
		if err != nil {
			logger.Fatal("failed to initialise cart relay", zap.Error(err))
		}
		if err := relay.Start(workers); err != nil {
			logger.Fatal("failed to subscribe cart relay", zap.Error(err))
		}
		hub.SetRelay(relay)
		defer func() {
			if err := relay.Close(); err != nil {
				logger.Warn("cart relay close error", zap.Error(err))
			}
		}()
		logger.Info("cart relay enabled", zap.String("origin", relay.Origin()))
	}

	var events cart.EventPublisher = cart.NoopEventPublisher{}
	if topicName := strings.TrimSpace(cfg.Cart.EventsTopic); topicName != "" {
		psClient, err := pubsub.NewClient(ctx, cfg.GCP.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		topic := psClient.Topic(topicName)
		defer func() {
			topic.Stop()
			if err := psClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		publisher, err := cart.NewPubSubEventPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise cart event publisher", zap.Error(err))
		}
		events = publisher
	}

	store, err := cart.NewStore(cart.StoreDeps{
		Remote:   remote,
		Hub:      hub,
		Events:   events,
		Currency: cfg.Catalog.Currency,
		Clock:    time.Now,
		Logger:   cartLogger,
		Meter:    otel.Meter("finitefield.org/pcshop/cart"),
	})
	if err != nil {
		logger.Fatal("failed to initialise cart store", zap.Error(err))
	}

	poller := cart.NewPoller(store, cfg.Cart.PollInterval, cartLogger)
	views := catalog.NewViews(cfg.Catalog.LiveViewTTL)
	wg.Add(2)
	go func() {
		defer wg.Done()
		poller.Run(workers)
	}()
	go func() {
		defer wg.Done()
		views.Run(workers, time.Minute)
	}()

	resolver, err := related.NewResolver(related.Deps{
		Source:       products,
		Limit:        cfg.Related.Limit,
		FetchTimeout: cfg.Related.FetchTimeout,
		Logger:       observability.FieldLogger(logger.Named("related")),
	})
	if err != nil {
		logger.Fatal("failed to initialise related resolver", zap.Error(err))
	}

	renderer, err := render.NewRenderer()
	if err != nil {
		logger.Fatal("failed to parse templates", zap.Error(err))
	}

	verifier, err := newVerifier(ctx, cfg, logger.Named("auth"))
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}

	pages := &handlers.Pages{
		Site: handlers.Site{
			Collections:   cfg.Catalog.Collections,
			Currency:      cfg.Catalog.Currency,
			WhatsAppPhone: cfg.Messaging.WhatsAppPhone,
			BaseURL:       cfg.Server.PublicBaseURL,
			Language:      cfg.Catalog.Language,
			SecureCookies: cfg.Server.Production(),
		},
		Renderer: renderer,
		Carts:    store,
	}
	catalogHandlers := handlers.NewCatalogHandlers(handlers.CatalogDeps{
		Pages:    pages,
		Products: products,
		Views:    views,
		Related:  resolver,
		Debounce: cfg.Catalog.Debounce,
		PageSize: cfg.Catalog.PageSize,
	})
	cartHandlers := handlers.NewCartHandlers(pages, store, products)
	sessionHandlers := handlers.NewSessionHandlers(pages, verifier, store)

	sessions := middleware.NewSessions(middleware.SessionOptions{
		SigningKey: cfg.Session.SigningKey,
		Secure:     cfg.Server.Production(),
		Logger:     logger.Named("session"),
	})

	httpLogger := logger.Named("http")
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(httpLogger),
		observability.TraceMiddleware(),
		observability.RecoveryMiddleware(httpLogger),
		observability.RequestLoggerMiddleware(),
		sessions.Middleware,
		sessions.CSRF,
		middleware.HTMX,
		middleware.Locale(cfg.Catalog.Language, supportedLanguages(cfg.Catalog.Language)...),
	}

	healthHandlers := handlers.NewHealthHandlers(append([]handlers.HealthOption{
		handlers.WithHealthBuildInfo(handlers.BuildInfo{
			Version:     buildVersion(),
			Environment: cfg.Server.Environment,
			StartedAt:   startedAt,
		}),
	}, readiness...)...)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithRequestTimeout(cfg.Server.WriteTimeout),
		handlers.WithHomeRedirect("/products/"+cfg.Catalog.Collections[0]),
		handlers.WithCatalogRoutes(catalogHandlers.Routes),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithSessionRoutes(sessionHandlers.Routes),
	)

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	serverLogger := httpLogger.With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("storefront listening", zap.String("environment", cfg.Server.Environment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	cancelWorkers()
	wg.Wait()
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	opts := []secrets.Option{secrets.WithLogger(logger.Named("secrets"))}
	if project := lookupOrEmpty("GCP_PROJECT_ID"); project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if path := lookupOrEmpty("SECRETS_FALLBACK_FILE"); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// newCartRemote selects the signed-in cart backend. The returned close func is never nil.
func newCartRemote(ctx context.Context, cfg config.Config, logger *zap.Logger) (cart.Remote, func(), handlers.ReadinessCheck, error) {
	noop := func() {}
	switch cfg.Cart.Backend {
	case config.CartBackendFirestore:
		provider := pfirestore.NewProvider(cfg.GCP)
		client, err := provider.Client(ctx)
		if err != nil {
			return nil, noop, nil, err
		}
		repo, err := firestoreRepo.NewCartRepository(provider)
		if err != nil {
			return nil, noop, nil, err
		}
		closeFn := func() {
			if err := provider.Close(); err != nil {
				logger.Warn("firestore close error", zap.Error(err))
			}
		}
		check := func(ctx context.Context) error {
			_, err := client.Collections(ctx).Next()
			if errors.Is(err, iterator.Done) {
				return nil
			}
			return err
		}
		return repo, closeFn, check, nil
	case config.CartBackendMongo:
		client, db, err := mongoRepo.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, noop, nil, err
		}
		closeFn := func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Disconnect(closeCtx); err != nil {
				logger.Warn("mongo disconnect error", zap.Error(err))
			}
		}
		repo, err := mongoRepo.NewCartRepository(db)
		if err != nil {
			closeFn()
			return nil, noop, nil, err
		}
		if err := repo.EnsureIndexes(ctx); err != nil {
			closeFn()
			return nil, noop, nil, err
		}
		check := func(ctx context.Context) error {
			return client.Ping(ctx, nil)
		}
		return repo, closeFn, check, nil
	default:
		client := productapi.NewCartClient(cfg.Upstream.BaseURL, productapi.WithTimeout(cfg.Upstream.Timeout))
		return client, noop, nil, nil
	}
}

// newVerifier returns nil when sign-in cannot be offered.
func newVerifier(ctx context.Context, cfg config.Config, logger *zap.Logger) (auth.Verifier, error) {
	if cfg.GCP.ProjectID != "" {
		v, err := auth.NewFirebaseVerifier(ctx, auth.FirebaseConfig{
			ProjectID:       cfg.GCP.ProjectID,
			CredentialsFile: cfg.GCP.FirebaseCredentialsFile,
		})
		if err != nil {
			return nil, err
		}
		return v, nil
	}
	if cfg.Server.Production() {
		logger.Warn("firebase project not configured; sign-in disabled")
		return nil, nil
	}
	logger.Warn("firebase project not configured; accepting debug:<email> tokens")
	return auth.DebugVerifier{}, nil
}

func supportedLanguages(primary string) []string {
	langs := []string{primary}
	for _, l := range []string{"en", "ja"} {
		if l != primary {
			langs = append(langs, l)
		}
	}
	return langs
}

func buildVersion() string {
	if v := lookupOrEmpty("BUILD_VERSION"); v != "" {
		return v
	}
	return "dev"
}

func lookupOrEmpty(key string) string {
	v, err := config.Lookup(key)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(v)
}
