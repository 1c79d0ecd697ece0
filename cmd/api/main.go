package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"github.com/go-chi/chi/v5"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/bakejoy/api/internal/di"
	"github.com/bakejoy/api/internal/handlers"
	"github.com/bakejoy/api/internal/payments"
	"github.com/bakejoy/api/internal/platform/auth"
	"github.com/bakejoy/api/internal/platform/cache"
	"github.com/bakejoy/api/internal/platform/config"
	pfirestore "github.com/bakejoy/api/internal/platform/firestore"
	"github.com/bakejoy/api/internal/platform/idempotency"
	"github.com/bakejoy/api/internal/platform/jobs"
	"github.com/bakejoy/api/internal/platform/observability"
	"github.com/bakejoy/api/internal/platform/secrets"
	platformstorage "github.com/bakejoy/api/internal/platform/storage"
	"github.com/bakejoy/api/internal/repositories"
	firestorerepo "github.com/bakejoy/api/internal/repositories/firestore"
	"github.com/bakejoy/api/internal/services"
	"github.com/bakejoy/api/internal/sms"
)

func main() {
	startedAt := time.Now().UTC()

	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx := observability.WithLogger(context.Background(), logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("environment load failed", zap.Error(err))
	}
	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("secret fetcher init failed", zap.Error(err))
	}
	defer func() { _ = fetcher.Close() }()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("required secrets unavailable", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("config load failed", zap.Error(err))
	}

	build := buildInfoFromEnv(cfg, envValues, startedAt)

	provider := pfirestore.NewProvider(cfg.Firestore)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Close(closeCtx); err != nil {
			logger.Warn("firestore close failed", zap.Error(err))
		}
	}()

	fsClient, err := provider.Client(ctx)
	if err != nil {
		logger.Fatal("firestore client init failed", zap.Error(err))
	}

	healthRepo, err := newHealthRepository(fsClient, fetcher)
	if err != nil {
		logger.Fatal("health repository init failed", zap.Error(err))
	}

	registry, err := firestorerepo.NewRegistry(provider, healthRepo)
	if err != nil {
		logger.Fatal("repository registry init failed", zap.Error(err))
	}

	gateways, gatewayCleanup, err := buildGateways(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("gateway init failed", zap.Error(err))
	}
	defer gatewayCleanup()

	container, err := di.NewContainer(ctx, cfg, di.ContainerDeps{
		Registry: registry,
		Gateways: gateways,
		Build:    build,
		Logger:   eventLogger(logger.Named("services")),
	})
	if err != nil {
		logger.Fatal("container init failed", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close failed", zap.Error(err))
		}
	}()

	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("firebase verifier init failed", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(verifier, auth.WithRoleClaim(cfg.Security.RoleClaim))

	idemStore := idempotency.NewFirestoreStore(fsClient)
	idemMiddleware := idempotency.Middleware(idemStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	cleanupCtx, cancelCleanup := context.WithCancel(ctx)
	var cleanupWG sync.WaitGroup
	cleanupTicker := time.NewTicker(cfg.Idempotency.CleanupInterval)
	cleanupWG.Add(1)
	go func() {
		defer cleanupWG.Done()
		cleanupLogger := logger.Named("idempotency_cleanup")
		for {
			select {
			case <-cleanupCtx.Done():
				return
			case <-cleanupTicker.C:
				removed, err := idemStore.CleanupExpired(cleanupCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
				if err != nil {
					cleanupLogger.Warn("cleanup pass failed", zap.Error(err))
					continue
				}
				if removed > 0 {
					cleanupLogger.Debug("expired records removed", zap.Int("count", removed))
				}
			}
		}
	}()

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(build),
		handlers.WithHealthSystemService(container.Services.System),
	)

	cartOpts := []handlers.CartOption{}
	if container.Services.DesignUploads != nil {
		cartOpts = append(cartOpts, handlers.WithDesignUploads(container.Services.DesignUploads))
	}
	cartHandlers := handlers.NewCartHandlers(authenticator, container.Services.Cart, cartOpts...)

	orderHandlers := handlers.NewOrderHandlers(authenticator, container.Services.Orders, container.Services.Settlement,
		handlers.WithPaymentCallbackURL(cfg.Zarinpal.CallbackURL),
		handlers.WithPaymentGuard(idemMiddleware),
	)
	paymentHandlers := handlers.NewPaymentHandlers(container.Services.Settlement,
		cfg.Frontend.PaymentSuccessURL, cfg.Frontend.PaymentFailureURL,
		handlers.WithCallbackRateLimit(cfg.RateLimits.CallbackPerMinute),
	)
	adminOrders := handlers.NewAdminOrderHandlers(authenticator, container.Services.Orders)
	adminSMS := handlers.NewAdminSMSHandlers(authenticator, container.Services.Notifications)
	internalHandlers := handlers.NewInternalHandlers(authenticator, container.Services.System)

	projectID := traceProjectID(cfg)
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger),
			observability.RequestLoggerMiddleware(projectID),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithPaymentRoutes(paymentHandlers.Routes),
		handlers.WithAdminRoutes(func(r chi.Router) {
			r.Route("/orders", adminOrders.Routes)
			r.Route("/notifications", adminSMS.NotificationRoutes)
			r.Route("/sms-templates", adminSMS.TemplateRoutes)
		}),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	serverLogger := logger.Named("server")
	serverLogger.Info("bakejoy api listening",
		zap.String("port", cfg.Server.Port),
		zap.String("environment", cfg.Security.Environment),
		zap.String("version", build.Version),
	)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		serverLogger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Error("server stopped unexpectedly", zap.Error(err))
		}
	}

	cleanupTicker.Stop()
	cancelCleanup()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		serverLogger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// buildGateways assembles the external adapters: payment gateway, SMS
// provider, order event publisher, credit cache, and the design upload
// signer. Gateways whose configuration is absent come back nil and the
// container skips the services that need them.
func buildGateways(ctx context.Context, cfg config.Config, logger *zap.Logger) (di.Gateways, func(), error) {
	cleanups := make([]func(), 0, 4)
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	gateways := di.Gateways{}

	policy := bluemonday.StrictPolicy()
	gateways.Sanitizer = func(value string) string {
		return strings.TrimSpace(policy.Sanitize(value))
	}

	if cfg.Zarinpal.MerchantID != "" {
		zarinpal, err := payments.NewZarinpalProvider(payments.ZarinpalProviderConfig{
			MerchantID:  cfg.Zarinpal.MerchantID,
			BaseURL:     cfg.Zarinpal.BaseURL,
			StartPayURL: cfg.Zarinpal.StartPayURL,
			Timeout:     cfg.Zarinpal.Timeout,
			Logger:      eventLogger(logger.Named("zarinpal")),
			Breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:    "zarinpal",
				Timeout: 30 * time.Second,
			}),
		})
		if err != nil {
			cleanup()
			return di.Gateways{}, nil, fmt.Errorf("build zarinpal provider: %w", err)
		}
		manager, err := payments.NewManager(map[string]payments.Provider{
			"zarinpal": zarinpal,
		})
		if err != nil {
			cleanup()
			return di.Gateways{}, nil, fmt.Errorf("build payment manager: %w", err)
		}
		gateways.Payments = paymentGatewayAdapter{manager: manager}
	}

	if cfg.SMS.APIKey != "" {
		smsClient, err := sms.NewClient(sms.ClientConfig{
			APIKey:     cfg.SMS.APIKey,
			BaseURL:    cfg.SMS.BaseURL,
			LineNumber: cfg.SMS.LineNumber,
			Timeout:    cfg.SMS.Timeout,
			Logger:     eventLogger(logger.Named("smsir")),
			Breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:    "smsir",
				Timeout: 30 * time.Second,
			}),
		})
		if err != nil {
			cleanup()
			return di.Gateways{}, nil, fmt.Errorf("build sms client: %w", err)
		}
		gateways.SMS = smsGatewayAdapter{client: smsClient}
	}

	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cleanups = append(cleanups, func() { _ = redisClient.Close() })
		redisCache, err := cache.NewRedisCache(redisClient)
		if err != nil {
			cleanup()
			return di.Gateways{}, nil, fmt.Errorf("build redis cache: %w", err)
		}
		gateways.Cache = redisCache
	} else {
		gateways.Cache = cache.NewMemoryCache()
	}

	if cfg.PubSub.ProjectID != "" && cfg.PubSub.OrderEventsTopic != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			cleanup()
			return di.Gateways{}, nil, fmt.Errorf("build pubsub client: %w", err)
		}
		cleanups = append(cleanups, func() { _ = pubsubClient.Close() })
		topic := pubsubClient.Topic(cfg.PubSub.OrderEventsTopic)
		cleanups = append(cleanups, topic.Stop)
		publisher, err := jobs.NewPubSubOrderEventPublisher(topic)
		if err != nil {
			cleanup()
			return di.Gateways{}, nil, fmt.Errorf("build order event publisher: %w", err)
		}
		gateways.Events = publisher
	}

	if cfg.Storage.DesignsBucket != "" && cfg.Storage.SignerKey != "" {
		signer, err := platformstorage.NewServiceAccountSignerFromJSON([]byte(cfg.Storage.SignerKey))
		if err != nil {
			cleanup()
			return di.Gateways{}, nil, fmt.Errorf("build storage signer: %w", err)
		}
		storageClient, err := platformstorage.NewClient(signer, cfg.Storage.DesignsBucket)
		if err != nil {
			cleanup()
			return di.Gateways{}, nil, fmt.Errorf("build storage client: %w", err)
		}
		gateways.UploadSigner = uploadSignerAdapter{client: storageClient}
		gateways.PathBuilder = func(userID, uploadID, fileName string) (string, error) {
			return platformstorage.BuildObjectPath(platformstorage.PurposeDesignImage, platformstorage.PathParams{
				UserID:   userID,
				UploadID: uploadID,
				FileName: fileName,
			})
		}
	}

	return gateways, cleanup, nil
}

// paymentGatewayAdapter bridges the settlement service onto the payments
// manager. Declined verifications come back as result codes, not errors,
// so the mapping here is field for field.
type paymentGatewayAdapter struct {
	manager *payments.Manager
}

func (a paymentGatewayAdapter) Authorize(ctx context.Context, req services.PaymentAuthorizeRequest) (services.PaymentAuthorization, error) {
	result, err := a.manager.Authorize(ctx, payments.PaymentContext{}, payments.AuthorizeRequest{
		Amount:      req.AmountRial,
		Description: req.Description,
		CallbackURL: req.CallbackURL,
		Email:       req.Email,
		Mobile:      req.Mobile,
	})
	// The declined body stays on the result even when err is set, so it
	// is passed through for the failed transaction record.
	return services.PaymentAuthorization{
		Authority:   result.Authority,
		PaymentURL:  result.PaymentURL,
		RawResponse: result.Raw,
	}, err
}

func (a paymentGatewayAdapter) Verify(ctx context.Context, req services.PaymentVerifyRequest) (services.PaymentVerification, error) {
	result, err := a.manager.Verify(ctx, payments.PaymentContext{}, payments.VerifyRequest{
		Amount:    req.AmountRial,
		Authority: req.Authority,
	})
	return services.PaymentVerification{
		Code:        result.Code,
		RefID:       result.RefID,
		CardPAN:     result.CardPAN,
		RawResponse: result.Raw,
	}, err
}

type smsGatewayAdapter struct {
	client *sms.Client
}

func (a smsGatewayAdapter) Send(ctx context.Context, req services.SMSSendRequest) (services.SMSSendReceipt, error) {
	receipt, err := a.client.Send(ctx, sms.SendRequest{
		Recipient: req.Recipient,
		Message:   req.Message,
	})
	if err != nil {
		return services.SMSSendReceipt{}, err
	}
	return services.SMSSendReceipt{
		PackID:        receipt.PackID,
		MessageIDs:    receipt.MessageIDs,
		Cost:          receipt.Cost,
		StatusCode:    strconv.Itoa(receipt.StatusCode),
		StatusMessage: receipt.StatusMessage,
	}, nil
}

func (a smsGatewayAdapter) Credit(ctx context.Context) (float64, error) {
	return a.client.Credit(ctx)
}

type uploadSignerAdapter struct {
	client *platformstorage.Client
}

func (a uploadSignerAdapter) SignUpload(ctx context.Context, objectPath, contentType string, maxSize int64) (services.SignedUpload, error) {
	signed, err := a.client.SignUpload(ctx, platformstorage.UploadParams{
		ObjectPath:  objectPath,
		ContentType: contentType,
		MaxSize:     maxSize,
	})
	if err != nil {
		return services.SignedUpload{}, err
	}
	return services.SignedUpload{
		URL:       signed.URL,
		Method:    signed.Method,
		ExpiresAt: signed.ExpiresAt,
		Headers:   signed.Headers,
	}, nil
}

// newHealthRepository wires the dependency probes surfaced by /internal/system
// and /healthz endpoints.
func newHealthRepository(fsClient *firestore.Client, fetcher *secrets.Fetcher) (repositories.HealthRepository, error) {
	checks := []repositories.DependencyCheck{
		{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				it := fsClient.Collections(ctx)
				if _, err := it.Next(); err != nil && !errors.Is(err, iterator.Done) {
					return err
				}
				return nil
			},
		},
		{
			Name:    "secret-manager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, "secret://system/healthz?version=latest")
				if err == nil {
					return nil
				}
				// A missing probe secret still proves the service answers.
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				if strings.Contains(err.Error(), "not found") {
					return nil
				}
				return err
			},
		},
	}
	return repositories.NewDependencyHealthRepository(checks)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, envValues map[string]string) (*secrets.Fetcher, error) {
	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
	}

	if env := strings.TrimSpace(envValues["API_SECURITY_ENVIRONMENT"]); env != "" {
		opts = append(opts, secrets.WithEnvironment(env))
	}

	defaultProject := strings.TrimSpace(envValues["API_SECRET_DEFAULT_PROJECT_ID"])
	if defaultProject == "" {
		defaultProject = strings.TrimSpace(envValues["API_FIREBASE_PROJECT_ID"])
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}

	fallbackFile := strings.TrimSpace(envValues["API_SECRET_FALLBACK_FILE"])
	if fallbackFile == "" {
		fallbackFile = ".secrets.local"
	}
	opts = append(opts, secrets.WithFallbackFile(fallbackFile))

	if projectMap := parseKeyValueList(envValues["API_SECRET_PROJECT_IDS"]); len(projectMap) > 0 {
		opts = append(opts, secrets.WithProjectMap(projectMap))
	}
	if pins := parseKeyValueList(envValues["API_SECRET_VERSION_PINS"]); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the config secrets that must resolve before the
// process can serve traffic. Local runs stay permissive so the API boots
// without gateway credentials.
func requiredSecretNames(envValues map[string]string) []string {
	env := strings.ToLower(strings.TrimSpace(envValues["API_SECURITY_ENVIRONMENT"]))
	switch env {
	case "production", "staging":
		return uniqueStrings([]string{"Zarinpal.MerchantID", "SMS.APIKey"})
	default:
		return nil
	}
}

func buildInfoFromEnv(cfg config.Config, envValues map[string]string, startedAt time.Time) services.BuildInfo {
	version := strings.TrimSpace(envValues["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(envValues["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Security.Environment,
		StartedAt:   startedAt,
	}
}

func traceProjectID(cfg config.Config) string {
	if cfg.Firebase.ProjectID != "" {
		return cfg.Firebase.ProjectID
	}
	return cfg.Firestore.ProjectID
}

// eventLogger adapts a zap logger to the event-and-fields signature the
// service layer logs through.
func eventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(ctx context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields))
		keys := make([]string, 0, len(fields))
		for key := range fields {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			zFields = append(zFields, zap.Any(key, fields[key]))
		}
		logger.Debug(event, zFields...)
	}
}

func parseKeyValueList(raw string) map[string]string {
	entries := strings.Split(raw, ",")
	result := make(map[string]string, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, value, found := strings.Cut(entry, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		result = append(result, value)
	}
	return result
}
