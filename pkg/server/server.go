// Package server provides the public entry point for initializing the
// orchestration service. It exists in pkg/ (not internal/) so the hosted
// platform repo can import it and compose the service with its own
// middleware around the handler.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/fanforge/fanforge/orchestration/internal/api"
	"github.com/fanforge/fanforge/orchestration/internal/api/handlers"
	"github.com/fanforge/fanforge/orchestration/internal/config"
	"github.com/fanforge/fanforge/orchestration/internal/coordinator"
	"github.com/fanforge/fanforge/orchestration/internal/metrics"
	"github.com/fanforge/fanforge/orchestration/internal/notify"
	"github.com/fanforge/fanforge/orchestration/internal/orchestrator"
	"github.com/fanforge/fanforge/orchestration/internal/provider"
	"github.com/fanforge/fanforge/orchestration/internal/queue"
	"github.com/fanforge/fanforge/orchestration/internal/router"
	"github.com/fanforge/fanforge/orchestration/internal/store"
	"github.com/fanforge/fanforge/orchestration/internal/telemetry"
	"github.com/fanforge/fanforge/orchestration/pkg/models"
)

// Server holds the initialized orchestration service.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the persistence layer (Postgres when DATABASE_URL is set,
	// in-memory otherwise).
	Store store.Store

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes every component from environment configuration and
// returns a ready Server.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the service with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	// Persistence: Postgres when configured, in-memory for local dev.
	var dataStore store.Store
	if cfg.Database.URL != "" {
		pg, err := store.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConnections)
		if err != nil {
			return nil, fmt.Errorf("connect store: %w", err)
		}
		dataStore = pg
		log.Info().Msg("Postgres store initialized")
	} else {
		dataStore = store.NewMemoryStore()
		log.Info().Msg("In-memory store initialized")
	}

	// Delivery queue: SQS when configured, in-memory otherwise.
	var deliveryQueue queue.DeliveryQueue
	if cfg.Queue.QueueURL != "" {
		sq, err := queue.NewSQSQueue(ctx, cfg.Queue)
		if err != nil {
			return nil, fmt.Errorf("init delivery queue: %w", err)
		}
		deliveryQueue = sq
		log.Info().Str("queue", cfg.Queue.QueueURL).Msg("SQS delivery queue initialized")
	} else {
		deliveryQueue = queue.NewMemoryQueue()
		log.Info().Msg("In-memory delivery queue initialized")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	sink := metrics.NewPromSink(registry)

	providers := map[models.ProviderID]provider.Provider{
		models.ProviderPlanning:   provider.NewPlanningProvider(cfg.Providers.Planning),
		models.ProviderGeneration: provider.NewGenerationProvider(cfg.Providers.Generation),
		models.ProviderMessaging:  provider.NewMessagingProvider(cfg.Providers.Messaging),
	}

	orch := orchestrator.New(dataStore, router.NewController(sink), providers, deliveryQueue, sink)

	// Event hub for cross-stack pipeline notifications.
	var hub notify.Hub = notify.NopHub{}
	if cfg.EventHub.WebhookURL != "" {
		hub = notify.NewWebhookHub(cfg.EventHub.WebhookURL, cfg.EventHub.Secret)
		log.Info().Msg("Webhook event hub initialized")
	}

	coord := coordinator.New(dataStore, hub, sink)
	coord.Register(coordinator.NewAIStackHandler(orch))
	coord.Register(coordinator.NewPlatformStackHandler(deliveryQueue))
	// Content, marketing, and analytics steps run inside their own
	// services; embedders register handlers for those stacks before serving.

	h := handlers.New(orch, coord, cfg.Version)

	return &Server{
		Handler:      api.NewRouter(h, registry),
		Store:        dataStore,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}
