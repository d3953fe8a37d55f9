package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	cloudstorage "cloud.google.com/go/storage"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/foodcourt/orders-api/internal/di"
	"github.com/foodcourt/orders-api/internal/handlers"
	"github.com/foodcourt/orders-api/internal/payments"
	"github.com/foodcourt/orders-api/internal/platform/auth"
	"github.com/foodcourt/orders-api/internal/platform/config"
	"github.com/foodcourt/orders-api/internal/platform/events"
	pfirestore "github.com/foodcourt/orders-api/internal/platform/firestore"
	"github.com/foodcourt/orders-api/internal/platform/observability"
	"github.com/foodcourt/orders-api/internal/platform/pricecache"
	"github.com/foodcourt/orders-api/internal/platform/secrets"
	platformstorage "github.com/foodcourt/orders-api/internal/platform/storage"
	"github.com/foodcourt/orders-api/internal/repositories"
	firestoreRepo "github.com/foodcourt/orders-api/internal/repositories/firestore"
	"github.com/foodcourt/orders-api/internal/services"
)

const meterName = "github.com/foodcourt/orders-api"

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	meter := otel.GetMeterProvider().Meter(meterName)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	resolver := newSecretResolver(ctx, logger, envValues)
	defer func() {
		if err := resolver.Close(); err != nil {
			logger.Warn("secret resolver close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(resolver),
		config.WithRequiredSecrets("PSP.StripeAPIKey"),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.Names()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	var clientOpts []option.ClientOption
	if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(file))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore, pfirestore.WithClientOptions(clientOpts...))
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}

	redisClient := pricecache.NewRedisClient(cfg.PriceCache)
	priceReader := pricecache.NewRedisReader(redisClient, cfg.PriceCache.Timeout)

	broker, err := events.New(ctx, cfg.Events)
	if err != nil {
		logger.Fatal("failed to initialise event broker", zap.Error(err), zap.String("broker", cfg.Events.Broker))
	}

	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey: cfg.PSP.StripeAPIKey,
		Logger: payments.StripeLogger(observability.EventLogger(logger, "stripe")),
		Clock:  time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe payment provider", zap.Error(err))
	}
	paymentManager, err := payments.NewManager(
		map[string]payments.Provider{"stripe": stripeProvider},
		payments.WithDefaultProvider(cfg.PSP.Provider),
	)
	if err != nil {
		logger.Fatal("failed to initialise payment manager", zap.Error(err))
	}

	closers := []func() error{redisClient.Close}

	var deadLetters services.DeadLetterSink
	if bucket := strings.TrimSpace(cfg.Storage.DeadLetterBucket); bucket != "" {
		storageClient, err := cloudstorage.NewClient(ctx, clientOpts...)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		closers = append(closers, storageClient.Close)
		deadLetters = platformstorage.NewDeadLetterArchive(platformstorage.NewGCSSink(storageClient), bucket, time.Now)
	} else {
		logger.Warn("dead-letter bucket not configured; exhausted outbox entries are logged only")
	}

	healthRepo, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{Name: "firestore", Timeout: 1500 * time.Millisecond, Check: firestoreProvider.Ping},
		{Name: "priceCache", Timeout: time.Second, Check: priceReader.Ping},
		{Name: "broker", Timeout: 1500 * time.Millisecond, Check: broker.Ping},
	})
	if err != nil {
		logger.Fatal("failed to initialise health checks", zap.Error(err))
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider, healthRepo)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, di.Infrastructure{
		Registry:    registry,
		Prices:      priceReader,
		Broker:      broker,
		Payments:    paymentManager,
		DeadLetters: deadLetters,
		Meter:       meter,
		Build:       buildInfo,
		Closers:     closers,
	}, baseLogger)
	if err != nil {
		logger.Fatal("failed to build container", zap.Error(err))
	}
	container.StartWorkers(ctx)

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	orderHandlers := handlers.NewOrderHandlers(authenticator, container.Services.Orders,
		handlers.WithIdempotencyHeader(cfg.Idempotency.Header),
		handlers.WithCreateRateLimit(cfg.Server.CreateRatePerMinute, 0),
	)
	internalHandlers := handlers.NewInternalHandlers(container.Services.Dispatcher, container.Services.Cleaner)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(container.Services.System),
	)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithRequestTimeout(cfg.Server.RequestTimeout),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	if oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg); oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("orders api listening", zap.String("version", buildInfo.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("container close error", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["ORDERS_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["ORDERS_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func newSecretResolver(ctx context.Context, logger *zap.Logger, env map[string]string) *secrets.Resolver {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	project := lookup("ORDERS_SECRET_PROJECT_ID")
	if project == "" {
		project = lookup("ORDERS_FIREBASE_PROJECT_ID")
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithMeter(otel.GetMeterProvider().Meter(meterName)),
	}
	if project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if path := lookup("ORDERS_SECRET_FALLBACK_FILE"); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	if file := lookup("ORDERS_FIREBASE_CREDENTIALS_FILE"); file != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(file)))
	}
	return secrets.NewResolver(ctx, opts...)
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}

	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(logger))
	validatorOpts := []auth.OIDCOption{auth.WithOIDCLogger(logger)}
	if recorder, err := auth.NewMeterRecorder(otel.GetMeterProvider().Meter(meterName)); err != nil {
		logger.Warn("auth: oidc metrics disabled", zap.Error(err))
	} else {
		validatorOpts = append(validatorOpts, auth.WithOIDCMetrics(recorder))
	}
	validator := auth.NewOIDCValidator(cache, validatorOpts...)

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	return validator.RequireOIDC(audience, cfg.Security.OIDC.Issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}
