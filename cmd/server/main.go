package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"stashd/internal/broadcast"
	"stashd/internal/config"
	"stashd/internal/handlers"
	"stashd/internal/jobs"
	"stashd/internal/logging"
	"stashd/internal/middleware"
	"stashd/internal/models"
	"stashd/internal/services"
	"stashd/internal/store"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting stashd...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	cfg := config.Load()
	log.Printf("📋 Configuration loaded (Port: %s, Store: %s)", cfg.Port, cfg.StoreBackend)

	// Persistence backend
	st := openStore(cfg)

	// Core sync engine
	assetBus := broadcast.New[[]models.Asset]("assets")
	cache := services.NewAssetCache(st, assetBus)
	fetcher := services.NewRemoteClient(cfg.RemoteAPIURL, cfg.RemoteAPIKey)
	queue := services.NewFetchQueue(cache, fetcher)

	var consumer *services.StreamConsumer
	if cfg.StreamURL != "" {
		consumer = services.NewStreamConsumer(cfg.StreamURL, cache, queue)
	}

	// Capture sources and their enrichment pipelines
	drafter := services.NewDraftClient(cfg.DraftURL)
	pipelines := make(map[string]*services.EnrichmentService)
	pushes := make(map[string]*services.PushSource)
	buses := make(map[string]*broadcast.Broadcaster[[]models.CaptureCandidate])

	for _, name := range cfg.PushSources {
		push := services.NewPushSource(name)
		bus := broadcast.New[[]models.CaptureCandidate]("history-" + name)
		pushes[name] = push
		buses[name] = bus
		pipelines[name] = services.NewEnrichmentService(push, drafter, nil, st, bus)
	}

	var dropSource *services.WatchedDirSource
	if cfg.DropDir != "" {
		var err error
		dropSource, err = services.NewWatchedDirSource(cfg.DropDir)
		if err != nil {
			log.Fatalf("❌ Failed to set up drop directory: %v", err)
		}
		name := dropSource.Name()
		bus := broadcast.New[[]models.CaptureCandidate]("history-" + name)
		buses[name] = bus
		pipeline := services.NewEnrichmentService(dropSource, drafter, nil, st, bus)
		pipelines[name] = pipeline

		dropSource.OnChange = func() {
			go pipeline.UpdateHistory(context.Background())
		}
		if err := dropSource.Start(); err != nil {
			log.Fatalf("❌ Failed to start drop directory watcher: %v", err)
		}
	}

	// Local client fan-out: every cache or history change becomes a snapshot
	// push to all connected WebSocket clients.
	connManager := services.NewConnectionManager()
	metrics := services.InitMetrics(connManager, cache)

	assetBus.Subscribe(func(assets []models.Asset) {
		connManager.Broadcast(models.ServerMessage{
			Type:   "assets_snapshot",
			Assets: assets,
			SentAt: time.Now(),
		})
	})
	for name, bus := range buses {
		name := name
		bus.Subscribe(func(history []models.CaptureCandidate) {
			connManager.Broadcast(models.ServerMessage{
				Type:    "history_snapshot",
				Source:  name,
				History: history,
				SentAt:  time.Now(),
			})
		})
	}

	// Background jobs: capture polls and store health checks
	scheduler, err := jobs.NewScheduler()
	if err != nil {
		log.Fatalf("❌ Failed to create scheduler: %v", err)
	}
	for name, pipeline := range pipelines {
		name, pipeline := name, pipeline
		err := scheduler.AddInterval("capture-poll-"+name, cfg.CapturePollInterval, func() {
			pipeline.UpdateHistory(context.Background())
		})
		if err != nil {
			log.Fatalf("❌ Failed to register capture poll for %s: %v", name, err)
		}
	}
	var streamState func() services.ConnState
	if consumer != nil {
		streamState = consumer.State
	}
	reconciler := services.NewFallbackReconciler(fetcher, cache, queue, streamState)
	err = scheduler.AddInterval("fallback-sync", cfg.FallbackSyncInterval, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		reconciler.Run(ctx)
	})
	if err != nil {
		log.Fatalf("❌ Failed to register fallback sync: %v", err)
	}
	if pinger, ok := st.(interface{ Ping(context.Context) error }); ok {
		err := scheduler.AddInterval("store-ping", cfg.StorePingInterval, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := pinger.Ping(ctx); err != nil {
				log.Printf("⚠️  Store ping failed: %v", err)
			}
		})
		if err != nil {
			log.Fatalf("❌ Failed to register store ping: %v", err)
		}
	}
	scheduler.Start()

	if consumer != nil {
		consumer.Connect()
	}

	// HTTP surface
	app := fiber.New(fiber.Config{
		AppName:      "stashd",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	app.Use(recover.New())
	app.Use(logger.New())

	prometheus := fiberprometheus.New("stashd")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:5173,http://localhost:3000"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowedOrigins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	rateLimitConfig := middleware.LoadRateLimitConfig()
	app.Use("/api", middleware.GlobalAPIRateLimiter(rateLimitConfig))

	healthHandler := handlers.NewHealthHandler(connManager, cache, consumer)
	assetHandler := handlers.NewAssetHandler(cache, queue)
	historyHandler := handlers.NewHistoryHandler(pipelines, pushes, metrics)
	wsHandler := handlers.NewWebSocketHandler(connManager, cache, pipelines, metrics)

	app.Get("/health", healthHandler.Handle)
	app.Get("/api/assets", assetHandler.List)
	app.Get("/api/assets/:id", assetHandler.Get)
	app.Post("/api/assets/:id/refresh", assetHandler.Refresh)
	app.Get("/api/sources", historyHandler.Sources)
	app.Get("/api/history/:source", historyHandler.Get)
	app.Post("/api/captures/:source", middleware.CapturePushRateLimiter(rateLimitConfig), historyHandler.Push)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("client_ip", c.IP())
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", middleware.WebSocketRateLimiter(rateLimitConfig), websocket.New(wsHandler.Handle))

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down...")

		if consumer != nil {
			consumer.Close()
		}
		if dropSource != nil {
			if err := dropSource.Close(); err != nil {
				log.Printf("⚠️  Error closing drop directory watcher: %v", err)
			}
		}
		if err := scheduler.Stop(); err != nil {
			log.Printf("⚠️  Error stopping scheduler: %v", err)
		}
		queue.Stop()
		for _, pipeline := range pipelines {
			pipeline.Wait()
		}
		if closer, ok := st.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				log.Printf("⚠️  Error closing store: %v", err)
			}
		}

		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️  Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}

// openStore picks the persistence backend from config, falling back to the
// in-memory store when the configured backend cannot be reached.
func openStore(cfg *config.Config) store.Store {
	switch cfg.StoreBackend {
	case "redis":
		st, err := store.NewRedis(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️  Redis unavailable (%v), falling back to in-memory store", err)
			return store.NewMemory()
		}
		log.Println("✅ Redis store connected")
		return st
	case "sqlite":
		st, err := store.NewSQLite(cfg.SQLitePath)
		if err != nil {
			log.Printf("⚠️  SQLite unavailable (%v), falling back to in-memory store", err)
			return store.NewMemory()
		}
		log.Printf("✅ SQLite store opened at %s", cfg.SQLitePath)
		return st
	default:
		log.Println("✅ In-memory store (state will not survive restarts)")
		return store.NewMemory()
	}
}
