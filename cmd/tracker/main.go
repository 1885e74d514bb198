package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/victoralfred/um_tracker/internal/config"
	"github.com/victoralfred/um_tracker/internal/domain/analytics"
	"github.com/victoralfred/um_tracker/internal/domain/session"
	"github.com/victoralfred/um_tracker/internal/infrastructure/memory"
	redisstore "github.com/victoralfred/um_tracker/internal/infrastructure/redis"
	"github.com/victoralfred/um_tracker/internal/logging"
	"github.com/victoralfred/um_tracker/internal/providers"
	"github.com/victoralfred/um_tracker/internal/server"
	"github.com/victoralfred/um_tracker/internal/services"
)

func main() {
	var (
		configPath = pflag.StringP("config", "c", "", "path to a configuration file")
		userID     = pflag.String("user-id", "", "identify the user at startup")
		landingURL = pflag.String("landing-url", "", "URL the first session starts on, UTM parameters are read from it")
		debug      = pflag.Bool("debug", false, "log every tracking decision")
		consent    = pflag.StringSlice("consent", nil, "consent categories granted at startup, e.g. analytics,marketing")
	)
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	cfg.Analytics.DefaultConsent = append(cfg.Analytics.DefaultConsent, *consent...)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(cfg, logger, *userID, *landingURL, *debug); err != nil {
		logger.Fatal("Tracker stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger, userID, landingURL string, debug bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting tracker",
		zap.String("version", cfg.Version),
		zap.String("client_id", cfg.ClientID),
		zap.String("storage", cfg.Storage.Driver),
	)

	var (
		storage     session.Storage
		redisClient *redis.Client
	)
	switch cfg.Storage.Driver {
	case "redis":
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		storage = redisstore.NewStorageWithClient(redisClient, cfg.ClientID, cfg.Storage.Redis.SessionTTL)
	default:
		storage = memory.NewStorage()
	}

	clock := clockwork.NewRealClock()
	configProvider, err := config.NewProvider(cfg.Analytics, nil, clock)
	if err != nil {
		return fmt.Errorf("invalid feature flags: %w", err)
	}

	env := analytics.NewStaticEnvironment(cfg.Client.UserAgent, cfg.Client.Language, analytics.Viewport{
		Width:  cfg.Client.ViewportWidth,
		Height: cfg.Client.ViewportHeight,
	})
	if landingURL != "" {
		env.Navigate(landingURL, "")
	}

	deps := providers.Dependencies{
		Logger:     logger,
		HTTPClient: &http.Client{Timeout: configProvider.DispatchTimeout()},
	}
	if redisClient != nil {
		deps.Redis = redisClient
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	tracker := services.NewAnalyticsService(configProvider, storage,
		services.WithLogger(logger.Named("tracker")),
		services.WithClock(clock),
		services.WithEnvironment(env),
		services.WithProviderBuilder(providers.NewDefaultRegistry().Builder(deps)),
		services.WithRegisterer(reg),
		services.WithDispatchTimeout(configProvider.DispatchTimeout()),
	)

	initOpts := services.InitOptions{
		UserID:        userID,
		ConsentStatus: cfg.Analytics.ConsentGrants(),
		DebugMode:     debug,
	}
	if err := tracker.Initialize(ctx, initOpts); err != nil {
		return err
	}
	if landingURL != "" {
		if u, err := url.Parse(landingURL); err == nil {
			tracker.TrackPageView(ctx, u.Path, nil)
		}
	}

	httpServer := server.New(cfg, tracker, reg, logger.Named("http"))
	httpServer.Setup()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpServer.Start(gctx)
	})
	g.Go(func() error {
		if err := tracker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	runErr := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	tracker.TrackPageExit(closeCtx, nil)
	tracker.Flush(closeCtx)
	if err := tracker.Close(closeCtx); err != nil {
		logger.Warn("Failed to close providers cleanly", zap.Error(err))
	}

	logger.Info("Tracker exited")
	return runErr
}
