package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/videoapp/api/internal/capture"
	"github.com/videoapp/api/internal/device"
	"github.com/videoapp/api/internal/handler"
	"github.com/videoapp/api/internal/middleware"
	"github.com/videoapp/api/internal/model"
	"github.com/videoapp/api/internal/overlay"
	"github.com/videoapp/api/internal/permission"
	"github.com/videoapp/api/internal/queue"
	"github.com/videoapp/api/internal/service"
	"github.com/videoapp/api/internal/storage"
	ws "github.com/videoapp/api/internal/websocket"
	"github.com/videoapp/api/internal/worker"
)

const (
	testJWTSecret = "test-secret-for-e2e"
	testJobKey    = "video_overlay_worker"
	testVideoDir  = "Movies/VideoApp"
)

// testApp holds all components needed for testing
type testApp struct {
	app     *fiber.App
	tool    *fakeTool
	destDir string
}

// fakeRecording finalizes cleanly as soon as it is stopped
type fakeRecording struct {
	target model.OutputTarget
	events chan model.RecordEvent
	once   sync.Once
}

func (r *fakeRecording) Start(ctx context.Context, audio bool) (<-chan model.RecordEvent, error) {
	r.events <- model.RecordEvent{Kind: model.RecordEventStart, OutputLocation: r.target.URI}
	return r.events, nil
}

func (r *fakeRecording) Stop() error {
	r.once.Do(func() {
		r.events <- model.RecordEvent{Kind: model.RecordEventFinalize, OutputLocation: r.target.URI}
		close(r.events)
	})
	return nil
}

type fakeCamera struct{}

func (fakeCamera) Bind(ctx context.Context) error { return nil }

func (fakeCamera) PrepareRecording(target model.OutputTarget) (device.Recording, error) {
	return &fakeRecording{target: target, events: make(chan model.RecordEvent, 2)}, nil
}

// fakeTool records every batch instead of running ffmpeg
type fakeTool struct {
	mu      sync.Mutex
	batches [][][]string
}

func (f *fakeTool) Load(ctx context.Context) error { return nil }

func (f *fakeTool) Execute(ctx context.Context, commands [][]string, progress func(string)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, commands)
	return nil
}

func (f *fakeTool) executed() [][][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][][]string(nil), f.batches...)
}

// setupApp creates a Fiber app wired like main.go, with the in-memory queue
// and a fake camera so neither Redis nor a capture device is needed.
func setupApp(t *testing.T) *testApp {
	return setupAppWithGrants(t, []string{"camera", "microphone", "storage"})
}

func setupAppWithGrants(t *testing.T, grants []string) *testApp {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	validate := validator.New()

	hub := ws.NewHub()
	go hub.Run(ctx)

	tool := &fakeTool{}
	overlayWorker := worker.NewOverlayWorker(tool, nil)

	jobs := queue.NewMemoryQueue()
	go jobs.Run(ctx, overlayWorker.Execute)

	overlayService := service.NewOverlayService(jobs, testJobKey)

	mediaStore := storage.NewLocalStore(t.TempDir(), 34)
	destDir := mediaStore.Directory(testVideoDir)
	machine := capture.NewMachine(
		fakeCamera{},
		mediaStore,
		permission.NewStatic(grants),
		overlay.NewBuilder("ffmpeg", "FilteredFile.mp4"),
		overlayService,
		hub,
		capture.Options{
			OverlayAssetPath:     "logo.png",
			DestinationDirectory: destDir,
			RelativePath:         testVideoDir,
			APILevel:             34,
		},
	)
	go machine.Run(ctx)
	if err := machine.Bind(ctx); err != nil {
		t.Fatalf("bind failed: %v", err)
	}

	captureHandler := handler.NewCaptureHandler(machine, validate)
	overlayHandler := handler.NewOverlayHandler(overlayService)

	authMiddleware := middleware.NewAuthMiddleware(testJWTSecret, time.Hour)
	rateLimiter := middleware.NewRateLimiter(nil)

	app := fiber.New()

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"redis":  false,
				"queue":  "memory",
				"device": "fake",
				"r2":     false,
			},
		})
	})

	api := app.Group("/api", authMiddleware.Authenticate())

	api.Post("/capture", rateLimiter.CaptureLimit(10000), captureHandler.Action)
	captureRoutes := api.Group("/capture")
	captureRoutes.Get("/state", captureHandler.State)
	captureRoutes.Post("/start", rateLimiter.CaptureLimit(10000), captureHandler.Start)
	captureRoutes.Post("/stop", rateLimiter.CaptureLimit(10000), captureHandler.Stop)
	captureRoutes.Post("/toggle", rateLimiter.CaptureLimit(10000), captureHandler.Toggle)

	overlayRoutes := api.Group("/overlay")
	overlayRoutes.Get("/status", overlayHandler.Status)
	overlayRoutes.Get("/result", overlayHandler.Result)

	return &testApp{app: app, tool: tool, destDir: destDir}
}

// generateToken creates an HMAC operator token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	claims := middleware.OperatorClaims{
		OperatorID: "operator-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: "videoapp-api",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
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
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
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

// errorCode extracts error.code from an error envelope.
func errorCode(body map[string]interface{}) string {
	e, ok := body["error"].(map[string]interface{})
	if !ok {
		return ""
	}
	code, _ := e["code"].(string)
	return code
}
