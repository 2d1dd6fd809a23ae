package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Overlay.JobKey != "video_overlay_worker" {
		t.Errorf("unexpected job key %q", cfg.Overlay.JobKey)
	}
	if cfg.Overlay.OutputName != "FilteredFile.mp4" {
		t.Errorf("unexpected output name %q", cfg.Overlay.OutputName)
	}
	if cfg.Queue.Driver != QueueDriverRedis {
		t.Errorf("unexpected queue driver %q", cfg.Queue.Driver)
	}
	if cfg.Queue.MaxRetry != 0 {
		t.Errorf("expected no retries by default, got %d", cfg.Queue.MaxRetry)
	}
	if len(cfg.Permissions.Granted) != 3 {
		t.Errorf("unexpected grants %v", cfg.Permissions.Granted)
	}
	if cfg.R2.Enabled() {
		t.Error("R2 should be disabled without credentials")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("QUEUE_DRIVER", "memory")
	t.Setenv("CAPTURE_DEVICE", "none")
	t.Setenv("PLATFORM_API_LEVEL", "28")
	t.Setenv("PERMISSIONS_GRANTED", "camera, microphone")
	t.Setenv("OVERLAY_ASSET_PATH", "/assets/watermark.png")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Queue.Driver != QueueDriverMemory {
		t.Errorf("expected memory driver, got %q", cfg.Queue.Driver)
	}
	if cfg.Capture.Device != DeviceNone {
		t.Errorf("expected no device, got %q", cfg.Capture.Device)
	}
	if cfg.Platform.APILevel != 28 {
		t.Errorf("expected api level 28, got %d", cfg.Platform.APILevel)
	}
	if len(cfg.Permissions.Granted) != 2 || cfg.Permissions.Granted[1] != "microphone" {
		t.Errorf("unexpected grants %v", cfg.Permissions.Granted)
	}
	if cfg.Overlay.AssetPath != "/assets/watermark.png" {
		t.Errorf("unexpected asset path %q", cfg.Overlay.AssetPath)
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("QUEUE_DRIVER", "kafka")

	if _, err := Load(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestReadSecretFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jwt_secret")
	if err := os.WriteFile(path, []byte("from-file\n"), 0600); err != nil {
		t.Fatalf("write secret: %v", err)
	}
	t.Setenv("JWT_SECRET", "")
	t.Setenv("JWT_SECRET_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.JWT.Secret != "from-file" {
		t.Errorf("expected secret from file, got %q", cfg.JWT.Secret)
	}
}
