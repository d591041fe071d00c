package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dshanske/wordpress-webmention/internal/api"
	"github.com/dshanske/wordpress-webmention/internal/config"
	"github.com/dshanske/wordpress-webmention/internal/discovery"
	"github.com/dshanske/wordpress-webmention/internal/fetch"
	"github.com/dshanske/wordpress-webmention/internal/monitoring"
	"github.com/dshanske/wordpress-webmention/internal/notifications"
	"github.com/dshanske/wordpress-webmention/internal/receiver"
	"github.com/dshanske/wordpress-webmention/internal/retry"
	"github.com/dshanske/wordpress-webmention/internal/scheduler"
	"github.com/dshanske/wordpress-webmention/internal/sender"
	"github.com/dshanske/wordpress-webmention/internal/storage"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// stores groups the persistence adapters selected by configuration
type stores struct {
	documents storage.DocumentStore
	mentions  storage.MentionStore
	attempts  storage.AttemptStore
	closers   []func() error
}

func main() {
	// Load environment variables from .env file if it exists
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Set up logging
	logrus.SetLevel(logrus.InfoLevel)
	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})

	logrus.Infof("Starting webmention engine for %s", cfg.SiteURL)

	ctx := context.Background()

	st, err := openStores(ctx, cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize storage: %v", err)
	}
	defer st.close()

	// Initialize notification and monitoring services
	var notifier notifications.NotificationInterface
	if notificationService := notifications.NewService(cfg); notificationService.Enabled() {
		notifier = notificationService
	}
	monitoringService := monitoring.NewService(cfg, notifier, prometheus.DefaultRegisterer)

	client := fetch.NewClient(cfg.HTTPTimeout, cfg.UserAgent)

	// Receiving
	mentionReceiver := receiver.NewReceiver(cfg, client, st.documents, st.mentions)
	mentionReceiver.SetHooks(receiver.Hooks{
		OnStored: func(ctx context.Context, result *receiver.Result) {
			monitoringService.RecordStored(ctx, result.Mention, result.Permalink, result.Updated)
		},
	})
	if cfg.StorageAccount != "" {
		blobs, err := storage.NewAzureStorage(ctx, cfg.StorageAccount, cfg.StorageContainer)
		if err != nil {
			logrus.Fatalf("Failed to initialize source archive: %v", err)
		}
		mentionReceiver.SetArchiver(storage.NewSourceArchive(blobs))
	}

	// Sending and retries
	schedulerService := scheduler.NewService(cfg)
	retryService := retry.NewService(cfg, st.attempts, schedulerService)
	retryService.SetExhaustedHook(monitoringService.RecordExhausted)

	mentionSender := sender.NewSender(cfg, client, discovery.NewDiscoverer(client, cfg.MediaBaseURL), st.documents, st.attempts)
	mentionSender.SetRescheduler(retryService)
	mentionSender.SetHooks(sender.Hooks{
		OnSent: monitoringService.RecordSent,
	})
	retryService.SetSender(mentionSender)

	sweeper := monitoringService.Observe(retryService)
	retryService.SetSweeper(sweeper)

	// Start scheduler
	if err := schedulerService.Start(sweeper); err != nil {
		logrus.Fatalf("Failed to start scheduler: %v", err)
	}
	defer schedulerService.Stop()

	router := api.NewRouter(cfg, api.Dependencies{
		Receiver:  mentionReceiver,
		Publisher: retryService,
		Sweeper:   sweeper,
		Monitor:   monitoringService,
		Documents: st.documents,
		Gatherer:  prometheus.DefaultGatherer,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.HTTPTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start HTTP server in a goroutine
	go func() {
		logrus.Infof("HTTP server starting on port %s, endpoint %s", cfg.Port, cfg.EndpointURL())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	// Create a deadline for shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}

	logrus.Info("Server exited")
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	st := &stores{}

	var memory *storage.MemoryStore
	switch cfg.StoreBackend {
	case "postgres":
		db, err := storage.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, db.Close)

		pg := storage.NewPostgresStore(db, cfg.SiteURL)
		if err := pg.Migrate(ctx); err != nil {
			st.close()
			return nil, err
		}
		st.documents, st.mentions = pg, pg
		logrus.Info("Using Postgres document and mention store")
	default:
		memory = storage.NewMemoryStore(cfg.SiteURL)
		st.documents, st.mentions = memory, memory
		logrus.Info("Using in-memory document and mention store")
	}

	switch cfg.AttemptBackend {
	case "redis":
		client, err := storage.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			st.close()
			return nil, err
		}
		st.closers = append(st.closers, client.Close)
		st.attempts = storage.NewRedisAttemptStore(client)
		logrus.Info("Using Redis attempt store")
	default:
		if memory == nil {
			memory = storage.NewMemoryStore(cfg.SiteURL)
		}
		st.attempts = memory
	}

	return st, nil
}

func (s *stores) close() {
	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil {
			logrus.Warnf("Failed to close store: %v", err)
		}
	}
}
