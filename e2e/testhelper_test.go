package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/livewall/api/internal/assetstate"
	"github.com/livewall/api/internal/auth"
	"github.com/livewall/api/internal/handler"
	"github.com/livewall/api/internal/livephoto"
	"github.com/livewall/api/internal/middleware"
	"github.com/livewall/api/internal/processor"
	"github.com/livewall/api/internal/service"
	ws "github.com/livewall/api/internal/websocket"
	"github.com/livewall/api/pkg/response"
)

const (
	testJWTSecret = "test-secret-for-e2e"
	testRedisAddr = "localhost:6379"
	testRedisDB   = 15 // use DB 15 for tests to avoid collision
)

// testApp holds all components needed for testing
type testApp struct {
	app     *fiber.App
	redis   *redis.Client
	machine *assetstate.Machine
}

// idlePipeline never runs; the e2e app only enqueues work.
type idlePipeline struct{}

func (idlePipeline) Run(context.Context, livephoto.Request) (*livephoto.Result, error) {
	return nil, context.Canceled
}

// setupApp wires the same routes as main.go against a real Redis, without
// object storage or video generation. Tests skip when Redis is not running.
func setupApp(t *testing.T) *testApp {
	t.Helper()
	if testing.Short() {
		t.Skip("e2e tests need redis")
	}

	redisClient := redis.NewClient(&redis.Options{Addr: testRedisAddr, DB: testRedisDB})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	if err := redisClient.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("flush test db: %v", err)
	}
	t.Cleanup(func() { redisClient.Close() })

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: testRedisAddr, DB: testRedisDB})
	t.Cleanup(func() { asynqClient.Close() })

	log := zerolog.Nop()
	validate := validator.New()

	hubCtx, stopHub := context.WithCancel(context.Background())
	t.Cleanup(stopHub)
	hub := ws.NewHub(log)
	go hub.Run(hubCtx)

	store := service.NewWallpaperStore(redisClient)
	machine := assetstate.NewMachine(store, hub.BroadcastState)
	jobs := service.NewJobService(redisClient)
	proc := processor.New(1, idlePipeline{}, log)

	wallpaperService := service.NewWallpaperService(store, machine, nil, t.TempDir(), "wallpapers", log)
	// Generation counts as configured so animate requests are accepted and queued.
	animateService := service.NewAnimateService(store, machine, jobs, asynqClient, true, log)

	wallpaperHandler := handler.NewWallpaperHandler(wallpaperService, animateService, machine, hub, validate, log)
	jobHandler := handler.NewJobHandler(jobs)
	remoteHandler := handler.NewRemoteHandler(nil, validate)
	pipelineHandler := handler.NewPipelineHandler(proc)

	authenticator := auth.NewAuthenticator(nil, testJWTSecret)
	authHandler := handler.NewAuthHandler(authenticator)
	authMiddleware := middleware.NewAuthMiddleware(nil, testJWTSecret, time.Hour)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	app := fiber.New(fiber.Config{
		BodyLimit:    50 * 1024 * 1024,
		ErrorHandler: response.ErrorHandler,
	})

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": 1234567890})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"redis":      true,
				"r2":         false,
				"generation": true,
				"auth":       authenticator.Configured(),
			},
			"pipeline": proc.Stats(),
		})
	})
	app.Get("/auth/verify", authHandler.Verify)

	api := app.Group("/api", authMiddleware.Authenticate())

	// Use very high rate limits so tests don't get blocked
	wallpapers := api.Group("/wallpapers")
	wallpapers.Post("/", rateLimiter.CreateLimit(10000), wallpaperHandler.Create)
	wallpapers.Get("/", wallpaperHandler.List)
	wallpapers.Get("/:id", wallpaperHandler.Get)
	wallpapers.Get("/:id/state", wallpaperHandler.State)
	wallpapers.Post("/:id/animate", rateLimiter.AnimateLimit(10000), wallpaperHandler.Animate)
	wallpapers.Post("/:id/reset", wallpaperHandler.Reset)

	api.Get("/jobs/:jobId", jobHandler.Status)

	remote := api.Group("/remote")
	remote.Get("/assets", remoteHandler.Assets)
	remote.Post("/import", rateLimiter.ImportLimit(10000), remoteHandler.Import)

	api.Get("/pipeline/stats", pipelineHandler.Stats)

	return &testApp{app: app, redis: redisClient, machine: machine}
}

// generateToken creates a legacy HMAC JWT token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	token, err := auth.IssueLegacyToken(testJWTSecret, "test-user-123", "test@example.com", time.Hour)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return token
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + generateToken(t),
	})
}

// uploadWallpaper posts a multipart wallpaper and returns its id.
func uploadWallpaper(t *testing.T, app *fiber.App, name, filename string, content []byte) (*http.Response, error) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("name", name)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(content)
	mw.Close()

	req, err := http.NewRequest(http.MethodPost, "/api/wallpapers", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+generateToken(t))
	return app.Test(req, -1)
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
