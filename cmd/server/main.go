package main

import (
	"context"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/livewall/api/internal/assetstate"
	"github.com/livewall/api/internal/auth"
	"github.com/livewall/api/internal/client"
	"github.com/livewall/api/internal/config"
	"github.com/livewall/api/internal/handler"
	"github.com/livewall/api/internal/livephoto"
	"github.com/livewall/api/internal/logger"
	"github.com/livewall/api/internal/media"
	"github.com/livewall/api/internal/middleware"
	"github.com/livewall/api/internal/processor"
	"github.com/livewall/api/internal/service"
	ws "github.com/livewall/api/internal/websocket"
	"github.com/livewall/api/internal/worker"
	"github.com/livewall/api/pkg/response"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("production", "info")
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}

	log := logger.New(cfg.Server.Env, cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis not available")
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	validate := validator.New()

	hub := ws.NewHub(log)
	go hub.Run(ctx)

	// Object storage is optional; without it bundles stay local and the
	// remote folder is unavailable.
	var storage client.StorageClient
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Warn().Err(err).Msg("R2 client not initialized")
		} else {
			storage = r2Client
		}
	} else {
		log.Info().Msg("R2 storage not configured")
	}

	// Live Photo pipeline
	normalizer := newNormalizer(cfg, log)
	pipeline, proc := newPipeline(cfg, normalizer, log)

	runwayClient := client.NewRunwayClient(&cfg.Runway, normalizer, log)
	var generator client.VideoGenerator
	if runwayClient.IsConfigured() {
		generator = runwayClient
	} else {
		log.Info().Msg("video generation not configured; animate requires a source video")
	}

	var verifier auth.TokenVerifier
	if cfg.OIDC.Issuer != "" {
		jwksVerifier, err := auth.NewJWKSVerifier(&cfg.OIDC)
		if err != nil {
			log.Warn().Err(err).Msg("JWKS verifier not initialized")
		} else {
			verifier = jwksVerifier
			defer jwksVerifier.Close()
		}
	}
	authenticator := auth.NewAuthenticator(verifier, cfg.JWT.Secret)

	// State and records
	store := service.NewWallpaperStore(redisClient)
	machine := assetstate.NewMachine(store, hub.BroadcastState)
	jobs := service.NewJobService(redisClient)

	prefix := cfg.R2.WallpaperPrefix
	wallpaperService := service.NewWallpaperService(store, machine, storage, cfg.Media.CacheDir, prefix, log)
	animateService := service.NewAnimateService(store, machine, jobs, asynqClient, generator != nil, log)

	var remoteService *service.RemoteService
	var fetcher worker.Fetcher
	if storage != nil {
		remoteService = service.NewRemoteService(storage, store, machine, jobs, asynqClient, prefix, log)
		fetcher = service.NewDownloadService(storage, cfg.Media.CacheDir, log)
	}

	wallpaperHandler := handler.NewWallpaperHandler(wallpaperService, animateService, machine, hub, validate, log)
	jobHandler := handler.NewJobHandler(jobs)
	remoteHandler := handler.NewRemoteHandler(remoteService, validate)
	pipelineHandler := handler.NewPipelineHandler(proc)
	authHandler := handler.NewAuthHandler(authenticator)

	var apiAuth fiber.Handler
	if cfg.Gateway.Enabled {
		log.Info().Msg("gateway mode enabled, using header-based auth")
		apiAuth = middleware.GatewayAuthMiddleware()
	} else {
		ttl := time.Duration(cfg.JWT.Expiration) * time.Hour
		apiAuth = middleware.NewAuthMiddleware(verifier, cfg.JWT.Secret, ttl).Authenticate()
	}
	rateLimiter := middleware.NewRateLimiter(redisClient)

	app := fiber.New(fiber.Config{
		ErrorHandler: response.ErrorHandler,
		BodyLimit:    50 * 1024 * 1024, // 50MB
	})

	app.Use(recover.New())
	app.Use(middleware.RequestLogger(log, log.GetLevel() <= zerolog.DebugLevel))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"redis":      redisClient.Ping(c.Context()).Err() == nil,
				"r2":         storage != nil,
				"generation": generator != nil,
				"auth":       authenticator.Configured(),
			},
			"pipeline": proc.Stats(),
			"target":   pipeline.Target().String(),
		})
	})

	// ForwardAuth verification endpoint (internal, called by the gateway)
	app.Get("/auth/verify", authHandler.Verify)

	api := app.Group("/api", apiAuth)

	wallpapers := api.Group("/wallpapers")
	wallpapers.Post("/", rateLimiter.CreateLimit(cfg.RateLimit.CreatePerHour), wallpaperHandler.Create)
	wallpapers.Get("/", wallpaperHandler.List)
	wallpapers.Get("/:id", wallpaperHandler.Get)
	wallpapers.Get("/:id/state", wallpaperHandler.State)
	wallpapers.Post("/:id/animate", rateLimiter.AnimateLimit(cfg.RateLimit.AnimatePerHour), wallpaperHandler.Animate)
	wallpapers.Post("/:id/reset", wallpaperHandler.Reset)

	api.Get("/jobs/:jobId", jobHandler.Status)

	remote := api.Group("/remote")
	remote.Get("/assets", remoteHandler.Assets)
	remote.Post("/import", rateLimiter.ImportLimit(cfg.RateLimit.ImportPerHour), remoteHandler.Import)

	api.Get("/pipeline/stats", pipelineHandler.Stats)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/wallpapers/:id", websocket.New(wallpaperHandler.Stream))

	animateWorker := worker.NewAnimateWorker(worker.Options{
		Repo:      store,
		Machine:   machine,
		Jobs:      jobs,
		Processor: proc,
		Generator: generator,
		Fetcher:   fetcher,
		Storage:   storage,
		Hub:       hub,
		Respond:   wallpaperService.Response,
		WorkDir:   cfg.Media.WorkDir,
		Prefix:    prefix,
		Logger:    log,
	})
	srv := newWorkerServer(cfg, redisOpt, log)
	go func() {
		mux := asynq.NewServeMux()
		mux.HandleFunc(service.TaskTypeAnimate, animateWorker.ProcessAnimateTask)
		mux.HandleFunc(service.TaskTypeImport, animateWorker.ProcessImportTask)
		if err := srv.Run(mux); err != nil {
			log.Error().Err(err).Msg("asynq worker stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
		srv.Shutdown()
	}()

	addr := ":" + cfg.Server.Port
	log.Info().Str("addr", addr).Str("target", pipeline.Target().String()).Msg("server starting")
	if err := app.Listen(addr); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func newNormalizer(cfg *config.Config, log zerolog.Logger) *media.Normalizer {
	m := cfg.Media
	return media.NewNormalizer(media.Options{
		FFmpegPath:  m.FFmpegPath,
		FFprobePath: m.FFprobePath,
		WorkDir:     m.WorkDir,
		VideoCodec:  m.VideoCodec,
		Runner:      media.ExecRunner{},
		Logger:      log,
	})
}

func newPipeline(cfg *config.Config, normalizer *media.Normalizer, log zerolog.Logger) (*livephoto.Pipeline, *processor.Processor) {
	m := cfg.Media
	target := media.Target{
		Width:     m.TargetWidth,
		Height:    m.TargetHeight,
		Duration:  m.TargetDurationValue(),
		FrameRate: m.TargetFrameRate,
	}

	builder := livephoto.NewBuilder(livephoto.BuilderOptions{
		FFmpegPath: m.FFmpegPath,
		OutputDir:  filepath.Join(m.CacheDir, "bundles"),
		Runner:     media.ExecRunner{},
		Logger:     log,
	})

	pipeline := livephoto.NewPipeline(normalizer, builder, target, log)
	return pipeline, processor.New(m.MaxConcurrentTasks, pipeline, log)
}

func newWorkerServer(cfg *config.Config, redisOpt asynq.RedisClientOpt, log zerolog.Logger) *asynq.Server {
	var asynqLogLevel asynq.LogLevel
	switch logger.ParseLevel(cfg.Server.LogLevel) {
	case zerolog.DebugLevel:
		asynqLogLevel = asynq.DebugLevel
	case zerolog.WarnLevel:
		asynqLogLevel = asynq.WarnLevel
	case zerolog.ErrorLevel, zerolog.Disabled:
		asynqLogLevel = asynq.ErrorLevel
	default:
		asynqLogLevel = asynq.InfoLevel
	}

	return asynq.NewServer(redisOpt, asynq.Config{
		// Pipeline admission is bounded by the processor, not by asynq.
		Concurrency: cfg.Worker.Concurrency,
		Queues: map[string]int{
			service.QueueAnimate: 6,
			service.QueueImport:  4,
		},
		LogLevel: asynqLogLevel,
		Logger:   logger.Asynq(log),
	})
}
