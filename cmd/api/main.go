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
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/kanili/api/internal/di"
	"github.com/kanili/api/internal/handlers"
	"github.com/kanili/api/internal/platform/auth"
	"github.com/kanili/api/internal/platform/config"
	pfirestore "github.com/kanili/api/internal/platform/firestore"
	"github.com/kanili/api/internal/platform/idempotency"
	"github.com/kanili/api/internal/platform/jobs"
	"github.com/kanili/api/internal/platform/observability"
	"github.com/kanili/api/internal/platform/secrets"
	"github.com/kanili/api/internal/repositories"
	firestoreRepo "github.com/kanili/api/internal/repositories/firestore"
)

const (
	gatewaySecretName        = "gateway"
	idempotencyCleanupEvery  = time.Hour
	idempotencyCleanupBatch  = 200
	idempotencyCleanupBudget = time.Minute
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets("Gateway.SigningSecret"),
	)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.Jobs.ProjectID)
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}()

	reminderTopic := pubsubClient.Topic(cfg.Jobs.ReminderTopic)
	emailTopic := pubsubClient.Topic(cfg.Jobs.EmailTopic)
	deadLetterTopic := pubsubClient.Topic(cfg.Jobs.DeadLetterTopic)
	defer reminderTopic.Stop()
	defer emailTopic.Stop()
	defer deadLetterTopic.Stop()

	reminderPublisher, err := jobs.NewPubSubReminderPublisher(reminderTopic)
	if err != nil {
		logger.Fatal("failed to initialise reminder publisher", zap.Error(err))
	}
	emailPublisher, err := jobs.NewPubSubEmailPublisher(emailTopic)
	if err != nil {
		logger.Fatal("failed to initialise email publisher", zap.Error(err))
	}
	deadLetterPublisher, err := jobs.NewPubSubDeadLetterPublisher(deadLetterTopic)
	if err != nil {
		logger.Fatal("failed to initialise dead-letter publisher", zap.Error(err))
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}
	if health, err := buildHealthRepository(firestoreProvider, reminderTopic); err != nil {
		logger.Warn("health: dependency checks unavailable", zap.Error(err))
	} else {
		registry.WithHealth(health)
	}

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	cleanupTicker := time.NewTicker(idempotencyCleanupEvery)
	cleanupWG.Add(1)
	go func() {
		defer cleanupWG.Done()
		cleanupLogger := logger.Named("idempotency")
		for {
			select {
			case <-cleanupTicker.C:
				runCtx, cancel := context.WithTimeout(cleanupCtx, idempotencyCleanupBudget)
				removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), idempotencyCleanupBatch)
				cancel()
				if err != nil {
					cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
					continue
				}
				if removed > 0 {
					cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
				}
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	container, err := di.NewContainer(cfg, registry, di.Infrastructure{
		Idempotency:   idempotencyStore,
		Reminders:     reminderPublisher,
		Emails:        emailPublisher,
		DeadLetters:   deadLetterPublisher,
		Logger:        logger,
		OperatorEmail: strings.TrimSpace(envValues["API_OPERATOR_EMAIL"]),
	})
	if err != nil {
		logger.Fatal("failed to assemble services", zap.Error(err))
	}

	hmacValidator := auth.NewHMACValidator(
		auth.SecretProviderFunc(func(_ context.Context, name string) (string, error) {
			if name != gatewaySecretName {
				return "", fmt.Errorf("auth: unknown secret %q", name)
			}
			return cfg.Gateway.SigningSecret, nil
		}),
		auth.NewInMemoryNonceStore(),
		auth.WithHMACLogger(logger.Named("auth")),
		auth.WithHMACHeaders(cfg.Gateway.SignatureHeader, cfg.Gateway.TimestampHeader, cfg.Gateway.NonceHeader),
		auth.WithHMACClockSkew(cfg.Gateway.ClockSkew),
		auth.WithHMACNonceTTL(cfg.Gateway.NonceTTL),
	)

	projectID := strings.TrimSpace(cfg.Firestore.ProjectID)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
		auth.GatewayIdentity(cfg.Gateway.UserIDHeader),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(registry.Health())),
		handlers.WithCheckoutRoutes(handlers.NewCheckoutHandlers(container.Services.Orders).Routes),
		handlers.WithPointsRoutes(handlers.NewPointsHandlers(container.Services.Points, container.Services.Orders).Routes),
		handlers.WithOrderRoutes(handlers.NewOrderHandlers(container.Services.Orders).Routes),
		handlers.WithWebhookRoutes(handlers.NewWebhookHandlers(container.Services.Settlement, logger.Named("webhooks")).Routes),
		handlers.WithWebhookMiddlewares(hmacValidator.RequireHMAC(gatewaySecretName)),
	)

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
		serverLogger.Info("kanili api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupTicker.Stop()
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildHealthRepository(provider *pfirestore.Provider, reminderTopic *pubsub.Topic) (repositories.HealthRepository, error) {
	checks := []repositories.DependencyCheck{
		{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				client, err := provider.Client(ctx)
				if err != nil {
					return err
				}
				iter := client.Collections(ctx)
				_, err = iter.Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		},
	}
	if reminderTopic != nil {
		topic := reminderTopic
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: 2 * time.Second,
			Check: func(ctx context.Context) error {
				exists, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !exists {
					return fmt.Errorf("topic %s does not exist", topic.ID())
				}
				return nil
			},
		})
	}
	return repositories.NewDependencyHealthRepository(checks)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
	}
	if project := lookup("API_FIRESTORE_PROJECT_ID"); project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	opts = append(opts, secrets.WithFallbackFile(fallbackPath))

	return secrets.NewFetcher(ctx, opts...)
}
