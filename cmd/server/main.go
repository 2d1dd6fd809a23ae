package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/videoapp/api/internal/capture"
	"github.com/videoapp/api/internal/client"
	"github.com/videoapp/api/internal/config"
	"github.com/videoapp/api/internal/device"
	"github.com/videoapp/api/internal/ffmpeg"
	"github.com/videoapp/api/internal/handler"
	"github.com/videoapp/api/internal/middleware"
	"github.com/videoapp/api/internal/overlay"
	"github.com/videoapp/api/internal/permission"
	"github.com/videoapp/api/internal/queue"
	"github.com/videoapp/api/internal/service"
	"github.com/videoapp/api/internal/storage"
	ws "github.com/videoapp/api/internal/websocket"
	"github.com/videoapp/api/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	redisAvailable := true
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
		redisAvailable = false
		if cfg.Queue.Driver == config.QueueDriverRedis {
			log.Fatalf("Queue driver %q requires Redis", cfg.Queue.Driver)
		}
	}

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run(ctx)

	// Initialize R2 client (optional - outputs stay local if not configured)
	var storageClient client.StorageClient
	r2Enabled := false
	if cfg.R2.Enabled() {
		r2Client, err := client.NewR2Client(ctx, &cfg.R2)
		if err != nil {
			log.Printf("Warning: R2 client not initialized: %v", err)
		} else {
			storageClient = r2Client
			r2Enabled = true
		}
	} else {
		log.Println("Info: R2 storage not configured, overlay outputs stay on local disk")
	}

	// Overlay worker
	tool := ffmpeg.NewTool(cfg.Overlay.FFmpegBinary)
	overlayWorker := worker.NewOverlayWorker(tool, storageClient)

	// Job queue
	var jobs queue.Queue
	var asynqServer *asynq.Server
	switch cfg.Queue.Driver {
	case config.QueueDriverMemory:
		mem := queue.NewMemoryQueue()
		go mem.Run(ctx, overlayWorker.Execute)
		jobs = mem
		log.Println("Info: using in-memory job queue")
	default:
		redisOpt := asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}
		asynqClient := asynq.NewClient(redisOpt)
		defer asynqClient.Close()
		inspector := asynq.NewInspector(redisOpt)
		defer inspector.Close()

		aq := queue.NewAsynqQueue(redisClient, asynqClient, inspector, queue.AsynqOptions{
			Queue:     cfg.Queue.Name,
			MaxRetry:  cfg.Queue.MaxRetry,
			Retention: time.Duration(cfg.Queue.RetentionHours) * time.Hour,
		})
		jobs = aq
		asynqServer = startWorkerServer(cfg, redisOpt, aq, overlayWorker)
	}

	overlayService := service.NewOverlayService(jobs, cfg.Overlay.JobKey)
	go observeJobs(ctx, jobs, cfg.Overlay.JobKey, hub)

	// Capture
	var camera device.Camera = device.Unavailable{}
	if cfg.Capture.Device == config.DeviceFFmpeg {
		camera = device.NewFFmpegCamera(device.Options{
			Binary:      cfg.Overlay.FFmpegBinary,
			InputFormat: cfg.Capture.InputFormat,
			InputDevice: cfg.Capture.InputDevice,
			AudioFormat: cfg.Capture.AudioFormat,
			AudioDevice: cfg.Capture.AudioDevice,
		})
	}
	mediaStore := storage.NewLocalStore(cfg.Storage.Root, cfg.Platform.APILevel)
	machine := capture.NewMachine(
		camera,
		mediaStore,
		permission.NewStatic(cfg.Permissions.Granted),
		overlay.NewBuilder(cfg.Overlay.FFmpegBinary, cfg.Overlay.OutputName),
		overlayService,
		hub,
		capture.Options{
			OverlayAssetPath:     cfg.Overlay.AssetPath,
			DestinationDirectory: mediaStore.Directory(cfg.Storage.VideoDir),
			RelativePath:         cfg.Storage.VideoDir,
			APILevel:             cfg.Platform.APILevel,
		},
	)
	go machine.Run(ctx)
	go func() {
		if err := machine.Bind(ctx); err != nil {
			log.Printf("Warning: capture unavailable: %v", err)
		}
	}()

	// Initialize handlers
	captureHandler := handler.NewCaptureHandler(machine, validate)
	overlayHandler := handler.NewOverlayHandler(overlayService)

	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret, time.Duration(cfg.JWT.Expiration)*time.Hour)
	var limiterRedis *redis.Client
	if redisAvailable {
		limiterRedis = redisClient
	}
	rateLimiter := middleware.NewRateLimiter(limiterRedis)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"redis":  redisAvailable,
				"queue":  cfg.Queue.Driver,
				"device": cfg.Capture.Device,
				"r2":     r2Enabled,
			},
		})
	})

	// API routes
	api := app.Group("/api", authMiddleware.Authenticate())

	api.Post("/capture", rateLimiter.CaptureLimit(cfg.RateLimit.CapturePerMin), captureHandler.Action)
	captureRoutes := api.Group("/capture")
	captureRoutes.Get("/state", captureHandler.State)
	captureRoutes.Post("/start", rateLimiter.CaptureLimit(cfg.RateLimit.CapturePerMin), captureHandler.Start)
	captureRoutes.Post("/stop", rateLimiter.CaptureLimit(cfg.RateLimit.CapturePerMin), captureHandler.Stop)
	captureRoutes.Post("/toggle", rateLimiter.CaptureLimit(cfg.RateLimit.CapturePerMin), captureHandler.Toggle)

	overlayRoutes := api.Group("/overlay")
	overlayRoutes.Get("/status", overlayHandler.Status)
	overlayRoutes.Get("/result", overlayHandler.Result)

	// WebSocket routes
	app.Use("/ws", authMiddleware.Authenticate(), func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/:topic", websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c, c.Params("topic"))
	}))

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		cancel()
		if asynqServer != nil {
			asynqServer.Shutdown()
		}
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// startWorkerServer runs overlay tasks one at a time so executions for the
// job key never overlap
func startWorkerServer(cfg *config.Config, redisOpt asynq.RedisClientOpt, q *queue.AsynqQueue, w *worker.OverlayWorker) *asynq.Server {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 1,
		Queues: map[string]int{
			cfg.Queue.Name: 1,
		},
		LogLevel: asynqLogLevel,
	})

	mux := asynq.NewServeMux()
	mux.Handle(queue.TaskTypeOverlay, q.ProcessTask(w.Execute))

	if err := srv.Start(mux); err != nil {
		log.Fatalf("Asynq worker error: %v", err)
	}
	return srv
}

// observeJobs logs every overlay job transition and forwards it to the hub
func observeJobs(ctx context.Context, jobs queue.Queue, key string, hub *ws.Hub) {
	events, err := jobs.ObserveStatus(ctx, key)
	if err != nil {
		log.Printf("Warning: job status unavailable: %v", err)
		return
	}

	for ev := range events {
		if ev.Message != "" {
			log.Printf("Overlay job %s %s: %s", ev.JobID, ev.Status, ev.Message)
		} else {
			log.Printf("Overlay job %s %s", ev.JobID, ev.Status)
		}
		hub.BroadcastStatus(ev)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
