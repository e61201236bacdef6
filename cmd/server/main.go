package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"flowhub/internal/config"
	"flowhub/internal/database"
	"flowhub/internal/execution"
	"flowhub/internal/handlers"
	"flowhub/internal/jobs"
	"flowhub/internal/logging"
	"flowhub/internal/middleware"
	"flowhub/internal/services"
	"flowhub/pkg/auth"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting FlowHub Server...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	}

	cfg := config.Load()
	log.Printf("📋 Configuration loaded (Port: %s)", cfg.Port)

	// MongoDB is the system of record for workflows, executions, and rows
	mongoDB, err := database.NewMongoDB(cfg.MongoDBURI)
	if err != nil {
		log.Fatalf("❌ Failed to connect to MongoDB: %v", err)
	}
	defer mongoDB.Close(context.Background())

	// Redis is optional; without it progress fan-out stays single-instance
	var redisService *services.RedisService
	if cfg.RedisURL != "" {
		log.Println("🔗 Connecting to Redis...")
		redisService, err = services.NewRedisService(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️ Failed to connect to Redis: %v (cross-instance progress disabled)", err)
			redisService = nil
		} else {
			log.Println("✅ Redis connected successfully")
		}
	} else {
		log.Println("⚠️ REDIS_URL not set - cross-instance progress disabled")
	}

	// Prometheus metrics
	metrics := services.InitMetrics()
	log.Println("✅ Prometheus metrics initialized")

	// Services
	workflowService := services.NewWorkflowService(mongoDB)
	executionStore := services.NewExecutionStore(mongoDB)
	rowService := services.NewRowService(mongoDB)

	for name, ensure := range map[string]func(context.Context) error{
		"workflows":  workflowService.EnsureIndexes,
		"executions": executionStore.EnsureIndexes,
		"rows":       rowService.EnsureIndexes,
	} {
		if err := ensure(context.Background()); err != nil {
			log.Printf("⚠️ Failed to ensure %s indexes: %v", name, err)
		}
	}

	progressService := services.NewProgressService(redisService)
	if err := progressService.Start(); err != nil {
		log.Printf("⚠️ Failed to start progress fan-out: %v", err)
	}

	promptFlowService, err := services.NewPromptFlowService(cfg.PromptFlowConfigPath)
	if err != nil {
		log.Printf("⚠️ Prompt flow routing unavailable: %v", err)
	}
	defer func() {
		if promptFlowService != nil {
			promptFlowService.Close()
		}
	}()

	// Engine
	var invoker execution.PromptFlowInvoker
	if promptFlowService != nil {
		invoker = promptFlowService
	}
	retention := time.Duration(cfg.RetentionDays) * 24 * time.Hour
	engine := execution.NewEngine(
		workflowService,
		executionStore,
		progressService,
		rowService,
		invoker,
		retention,
	)
	engine.SetBlockRunRecorder(metrics)
	log.Printf("✅ Execution engine initialized (retention: %d days)", cfg.RetentionDays)

	// Session auth
	var jwtAuth *auth.SessionJWT
	if cfg.JWTSecret != "" {
		jwtAuth, err = auth.NewSessionJWT(cfg.JWTSecret, 0)
		if err != nil {
			log.Fatalf("❌ Failed to initialize JWT auth: %v", err)
		}
		log.Println("✅ Session JWT auth initialized")
	} else {
		log.Println("⚠️ JWT_SECRET not set - auth disabled (development only)")
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "FlowHub v1.0",
		ReadTimeout:  120 * time.Second,
		WriteTimeout: 0, // streaming responses manage their own lifetime
		IdleTimeout:  300 * time.Second,
		BodyLimit:    5 * 1024 * 1024, // 5MB covers any reasonable definition or input
	})

	app.Use(recover.New())
	app.Use(logger.New())

	// Prometheus metrics middleware
	prometheus := fiberprometheus.New("flowhub")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	rateLimitConfig := middleware.LoadRateLimitConfig()
	log.Printf("🛡️  [RATE-LIMIT] Loaded config: Global=%d/min, Execute=%d/min, Stream=%d/min",
		rateLimitConfig.GlobalAPIMax,
		rateLimitConfig.ExecuteMax,
		rateLimitConfig.StreamMax,
	)

	// CORS configuration with environment-based origins
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:5173,http://localhost:3000"
		log.Println("⚠️  ALLOWED_ORIGINS not set, using development defaults")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-API-Key",
		AllowCredentials: allowedOrigins != "*",
	}))

	app.Use("/api", middleware.GlobalAPIRateLimiter(rateLimitConfig))

	// Handlers
	healthHandler := handlers.NewHealthHandler(mongoDB, redisService)
	workflowHandler := handlers.NewWorkflowHandler(workflowService)
	executionHandler := handlers.NewExecutionHandler(engine, executionStore, metrics)
	streamHandler := handlers.NewStreamHandler(progressService, executionStore, metrics)

	// Routes
	app.Get("/health", healthHandler.Handle)

	sessionAuth := middleware.SessionAuthMiddleware(jwtAuth)
	requireAuth := middleware.APIKeyMiddleware(cfg.APIKeyHashes, sessionAuth)

	api := app.Group("/api", requireAuth)

	workflows := api.Group("/workflows")
	workflows.Post("/", workflowHandler.Create)
	workflows.Get("/", workflowHandler.List)
	workflows.Get("/:id", workflowHandler.Get)
	workflows.Put("/:id", workflowHandler.Update)
	workflows.Delete("/:id", workflowHandler.Delete)
	workflows.Post("/:id/publish", workflowHandler.Publish)
	workflows.Post("/:id/unpublish", workflowHandler.Unpublish)
	executeLimiters := []fiber.Handler{middleware.ExecuteRateLimiter(rateLimitConfig)}
	if redisService != nil {
		executeLimiters = append(executeLimiters, middleware.RedisExecuteRateLimiter(redisService, cfg.ExecuteRateLimit))
	}
	workflows.Post("/:id/execute", append(executeLimiters, executionHandler.Execute)...)
	workflows.Get("/:id/executions/stats", executionHandler.Stats)

	api.Get("/workflows/stream/:id", middleware.StreamRateLimiter(rateLimitConfig), streamHandler.Stream)

	executions := api.Group("/executions")
	executions.Get("/", executionHandler.List)
	executions.Get("/:id", executionHandler.Get)
	executions.Post("/:id/continue", executionHandler.Continue)

	// Background jobs
	scheduler, err := jobs.NewScheduler()
	if err != nil {
		log.Fatalf("❌ Failed to create job scheduler: %v", err)
	}
	if err := scheduler.Register(jobs.NewRetentionCleanupJob(executionStore)); err != nil {
		log.Fatalf("❌ Failed to register retention cleanup: %v", err)
	}
	scheduler.Start()

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down server...")

		if err := scheduler.Stop(); err != nil {
			log.Printf("⚠️ Error stopping scheduler: %v", err)
		}

		progressService.Stop()

		if redisService != nil {
			if err := redisService.Close(); err != nil {
				log.Printf("⚠️ Error closing Redis: %v", err)
			}
		}

		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}
