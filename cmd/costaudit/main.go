package main

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/felipepmaragno/llm-cost-audit/internal/analysis"
	"github.com/felipepmaragno/llm-cost-audit/internal/api"
	"github.com/felipepmaragno/llm-cost-audit/internal/audit"
	"github.com/felipepmaragno/llm-cost-audit/internal/auth"
	"github.com/felipepmaragno/llm-cost-audit/internal/billing"
	"github.com/felipepmaragno/llm-cost-audit/internal/cache"
	"github.com/felipepmaragno/llm-cost-audit/internal/catalog"
	"github.com/felipepmaragno/llm-cost-audit/internal/circuitbreaker"
	"github.com/felipepmaragno/llm-cost-audit/internal/config"
	"github.com/felipepmaragno/llm-cost-audit/internal/crypto"
	"github.com/felipepmaragno/llm-cost-audit/internal/dedup"
	"github.com/felipepmaragno/llm-cost-audit/internal/httputil"
	"github.com/felipepmaragno/llm-cost-audit/internal/metrics"
	"github.com/felipepmaragno/llm-cost-audit/internal/notifications"
	"github.com/felipepmaragno/llm-cost-audit/internal/queue"
	"github.com/felipepmaragno/llm-cost-audit/internal/ratelimit"
	"github.com/felipepmaragno/llm-cost-audit/internal/repository"
	"github.com/felipepmaragno/llm-cost-audit/internal/secrets"
	"github.com/felipepmaragno/llm-cost-audit/internal/storage"
	"github.com/felipepmaragno/llm-cost-audit/internal/telemetry"
	_ "github.com/lib/pq"
)

const (
	serviceName = "llm-cost-audit"
	// Stripe retries a webhook for up to three days.
	webhookDedupTTL = 72 * time.Hour
)

type repositories struct {
	accounts     repository.AccountRepository
	uploads      repository.UploadRepository
	analyses     repository.AnalysisRepository
	deliverables repository.DeliverableRepository
	adminUsers   auth.AdminUserRepository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	slog.Info("starting cost audit service", "addr", cfg.Addr, "version", api.Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: serviceName,
		Version:     api.Version,
		Endpoint:    cfg.OTLPEndpoint,
		SampleRatio: cfg.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to init telemetry", "error", err)
		os.Exit(1)
	}
	hostname, _ := os.Hostname()
	metrics.InitInstanceMetrics(hostname, api.Version)

	var awsCfg *aws.Config
	if cfg.AWSRegion != "" {
		loaded, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.AWSRegion),
			awsconfig.WithHTTPClient(httputil.DefaultClient()),
		)
		if err != nil {
			slog.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		awsCfg = &loaded
	}

	if cfg.SecretsName != "" {
		if awsCfg == nil {
			slog.Error("SECRETS_NAME requires AWS_REGION")
			os.Exit(1)
		}
		if err := cfg.ApplySecrets(ctx, secrets.NewAWSSecretsManager(*awsCfg)); err != nil {
			slog.Error("failed to load secrets", "name", cfg.SecretsName, "error", err)
			os.Exit(1)
		}
		slog.Info("loaded stripe credentials from secrets manager", "name", cfg.SecretsName)
	}

	cat, err := catalog.LoadFile(cfg.CatalogPath)
	if err != nil {
		slog.Error("failed to load model catalog", "path", cfg.CatalogPath, "error", err)
		os.Exit(1)
	}
	slog.Info("model catalog loaded", "models", cat.Len(), "path", cfg.CatalogPath)

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		if err := db.PingContext(ctx); err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		slog.Info("using postgres repositories")
	} else {
		slog.Info("using in-memory repositories")
	}

	repos, err := newRepositories(db, cfg.AdminPassword)
	if err != nil {
		slog.Error("failed to set up repositories", "error", err)
		os.Exit(1)
	}

	var healthCheckers []api.HealthChecker
	if db != nil {
		healthCheckers = append(healthCheckers, api.NewPostgresHealthChecker(db))
	}

	var rateLimiter ratelimit.RateLimiter
	var breakerOpts []circuitbreaker.ManagerOption
	var webhookEvents dedup.Deduplicator = dedup.NewInMemory(webhookDedupTTL)
	if cfg.RedisURL != "" {
		redisLimiter, err := ratelimit.NewRedisRateLimiter(cfg.RedisURL, ratelimit.DefaultWindow)
		if err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisLimiter.Close()
		rateLimiter = redisLimiter
		breakerOpts = append(breakerOpts, circuitbreaker.WithRedisClient(redisLimiter.Client()))
		webhookEvents = dedup.NewRedis(redisLimiter.Client(), webhookDedupTTL)
		healthCheckers = append(healthCheckers, api.NewPingChecker("redis", redisLimiter.Ping))
		slog.Info("using redis rate limiter")
	} else {
		rateLimiter = ratelimit.NewInMemoryRateLimiter(ratelimit.DefaultWindow)
		slog.Info("using in-memory rate limiter")
	}

	breakers := circuitbreaker.NewManager(circuitbreaker.DefaultConfig(), breakerOpts...)

	var reportCache cache.Cache
	if cfg.RedisURL != "" {
		redisCache, err := cache.NewRedisCache(cfg.RedisURL)
		if err != nil {
			slog.Warn("failed to connect to redis for cache, using in-memory", "error", err)
			reportCache = cache.NewInMemoryCache()
		} else {
			reportCache = redisCache
			slog.Info("using redis cache")
		}
	} else {
		reportCache = cache.NewInMemoryCache()
		slog.Info("using in-memory cache")
	}
	if closer, ok := reportCache.(io.Closer); ok {
		defer closer.Close()
	}

	store, err := newStore(cfg, awsCfg)
	if err != nil {
		slog.Error("failed to set up upload archive", "error", err)
		os.Exit(1)
	}
	healthCheckers = append(healthCheckers, api.Optional(api.NewStoreChecker(store)))

	var notifier notifications.Notifier
	if cfg.SNSTopicARN != "" && awsCfg != nil {
		snsNotifier := notifications.NewSNSNotifier(*awsCfg, cfg.SNSTopicARN)
		if cfg.AdminEmail != "" {
			if arn, err := snsNotifier.SubscribeRecipient(ctx, cfg.AdminEmail); err != nil {
				slog.Warn("failed to subscribe admin email", "error", err)
			} else {
				slog.Info("admin email subscribed", "subscription", arn)
			}
		}
		notifier = notifications.WithBreaker(snsNotifier, breakers)
		slog.Info("using SNS notifications", "topic", cfg.SNSTopicARN)
	} else {
		memNotifier := notifications.NewInMemoryNotifier()
		memNotifier.OnNotification(func(n notifications.Notification) {
			slog.Info("notification", "type", n.Type, "upload_id", n.UploadID, "recipient", n.Recipient, "link", n.Link)
		})
		notifier = memNotifier
		slog.Info("using in-memory notifications")
	}

	var jobs queue.Queue
	if cfg.AsyncAnalysis {
		if cfg.AnalysisQueueURL != "" && awsCfg != nil {
			jobs = queue.NewSQSQueue(*awsCfg, cfg.AnalysisQueueURL)
			slog.Info("using SQS analysis queue", "url", cfg.AnalysisQueueURL)
		} else {
			jobs = queue.NewInMemoryQueue()
			slog.Info("using in-memory analysis queue")
		}
	}

	var checkout billing.Checkout
	if cfg.StripeEnabled() {
		stripeCheckout := billing.NewStripeCheckout(billing.StripeConfig{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			PriceID:       cfg.StripePriceID,
		}, httputil.DefaultClient(), slog.Default())
		checkout = billing.WithBreaker(stripeCheckout, breakers)
		slog.Info("stripe checkout enabled")
	} else {
		slog.Info("stripe checkout disabled, concierge purchases unavailable")
	}

	analyzer := analysis.NewAnalyzer(cat, slog.Default())
	processor := audit.NewProcessor(analyzer, repos.uploads, repos.analyses, store, reportCache, slog.Default())

	handler := api.NewHandler(api.HandlerConfig{
		Accounts:        repos.accounts,
		Uploads:         repos.uploads,
		Analyses:        repos.analyses,
		Deliverables:    repos.deliverables,
		Processor:       processor,
		Store:           store,
		Queue:           jobs,
		AsyncAnalysis:   cfg.AsyncAnalysis,
		RateLimiter:     rateLimiter,
		UploadRateLimit: cfg.UploadRateLimit,
		MaxUploadBytes:  cfg.MaxUploadBytes,
		Cache:           reportCache,
		Checkout:        checkout,
		WebhookEvents:   webhookEvents,
		Notifier:        notifier,
		AdminEmail:      cfg.AdminEmail,
		AppBaseURL:      cfg.AppBaseURL,
		HealthCheckers:  healthCheckers,
		BreakerStates:   breakers.States,
		Logger:          slog.Default(),
	})

	adminCfg := api.AdminConfig{
		Accounts:     repos.accounts,
		Uploads:      repos.uploads,
		Analyses:     repos.analyses,
		Deliverables: repos.deliverables,
		Notifier:     notifier,
		AppBaseURL:   cfg.AppBaseURL,
		Logger:       slog.Default(),
	}
	if cfg.AdminAuthEnabled {
		adminCfg.RBAC = auth.NewRBACMiddleware(auth.NewAuthenticator(repos.adminUsers))
		slog.Info("admin authentication enabled")
	} else {
		slog.Warn("admin authentication disabled, /admin is open")
	}

	mux := http.NewServeMux()
	mux.Handle("/admin/", api.NewAdminHandler(adminCfg))
	mux.Handle("/", handler)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      api.Instrument(mux),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	workerDone := make(chan struct{})
	workerCtx, stopWorker := context.WithCancel(ctx)
	if jobs != nil {
		worker := queue.NewWorker(jobs, processor, notifier, queue.DefaultWorkerConfig(), slog.Default())
		go func() {
			defer close(workerDone)
			if err := worker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("analysis worker stopped", "error", err)
			}
		}()
	} else {
		close(workerDone)
	}

	go func() {
		slog.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	stopWorker()
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		slog.Warn("analysis worker did not stop before shutdown timeout")
	}

	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("failed to flush traces", "error", err)
	}

	slog.Info("server stopped")
}

func newRepositories(db *sql.DB, adminPassword string) (*repositories, error) {
	if db != nil {
		return &repositories{
			accounts:     repository.NewPostgresAccountRepository(db),
			uploads:      repository.NewPostgresUploadRepository(db),
			analyses:     repository.NewPostgresAnalysisRepository(db),
			deliverables: repository.NewPostgresDeliverableRepository(db),
			adminUsers:   auth.NewPostgresAdminUserRepository(db),
		}, nil
	}

	adminUsers, err := auth.NewInMemoryAdminUserRepository(adminPassword)
	if err != nil {
		return nil, err
	}
	return &repositories{
		accounts:     repository.NewInMemoryAccountRepository(),
		uploads:      repository.NewInMemoryUploadRepository(),
		analyses:     repository.NewInMemoryAnalysisRepository(),
		deliverables: repository.NewInMemoryDeliverableRepository(),
		adminUsers:   adminUsers,
	}, nil
}

func newStore(cfg *config.Config, awsCfg *aws.Config) (storage.Store, error) {
	var store storage.Store
	if cfg.S3Bucket != "" {
		if awsCfg == nil {
			return nil, errors.New("S3_BUCKET requires AWS_REGION")
		}
		store = storage.NewS3Store(*awsCfg, cfg.S3Bucket)
		slog.Info("archiving uploads to S3", "bucket", cfg.S3Bucket)
	} else {
		local, err := storage.NewLocalStorage(cfg.StorageDir)
		if err != nil {
			return nil, err
		}
		store = local
		slog.Info("archiving uploads to local disk", "dir", cfg.StorageDir)
	}

	if cfg.EncryptionKey != "" {
		enc, err := crypto.NewEncryptor(cfg.EncryptionKey)
		if err != nil {
			return nil, err
		}
		store = storage.NewEncryptedStore(store, enc)
		slog.Info("upload archive encryption enabled")
	}

	return store, nil
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(telemetry.LogHandler(handler)))
}
