package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MediaDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	m := cfg.Media
	if m.TargetWidth != 1080 || m.TargetHeight != 1920 {
		t.Errorf("target size = %dx%d, want 1080x1920", m.TargetWidth, m.TargetHeight)
	}
	if m.TargetDuration != 2.0 {
		t.Errorf("target duration = %v, want 2.0", m.TargetDuration)
	}
	if m.TargetFrameRate != 60 {
		t.Errorf("target frame rate = %d, want 60", m.TargetFrameRate)
	}
	if m.MaxConcurrentTasks != 1 {
		t.Errorf("max concurrent tasks = %d, want 1", m.MaxConcurrentTasks)
	}
	if m.VideoCodec != "libx265" {
		t.Errorf("video codec = %q, want libx265", m.VideoCodec)
	}
	if got := m.TargetDurationValue(); got != 2*time.Second {
		t.Errorf("TargetDurationValue() = %v, want 2s", got)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MEDIA_MAX_CONCURRENT_TASKS", "3")
	t.Setenv("MEDIA_TARGET_DURATION", "3.5")
	t.Setenv("RATELIMIT_ANIMATE_PER_HOUR", "42")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Media.MaxConcurrentTasks != 3 {
		t.Errorf("max concurrent tasks = %d, want 3", cfg.Media.MaxConcurrentTasks)
	}
	if cfg.Media.TargetDuration != 3.5 {
		t.Errorf("target duration = %v, want 3.5", cfg.Media.TargetDuration)
	}
	if cfg.RateLimit.AnimatePerHour != 42 {
		t.Errorf("animate per hour = %d, want 42", cfg.RateLimit.AnimatePerHour)
	}
}

func TestLoad_RejectsZeroConcurrency(t *testing.T) {
	t.Setenv("MEDIA_MAX_CONCURRENT_TASKS", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero concurrency")
	}
}

func TestReadSecret(t *testing.T) {
	dir := t.TempDir()
	secretPath := filepath.Join(dir, "runway_key")
	if err := os.WriteFile(secretPath, []byte("  sk-secret\n"), 0o600); err != nil {
		t.Fatalf("write secret: %v", err)
	}

	t.Setenv("RUNWAY_API_KEY", "")
	t.Setenv("RUNWAY_API_KEY_FILE", secretPath)

	readSecret("RUNWAY_API_KEY")
	if got := os.Getenv("RUNWAY_API_KEY"); got != "sk-secret" {
		t.Errorf("RUNWAY_API_KEY = %q, want %q", got, "sk-secret")
	}
}

func TestReadSecret_DirectValueWins(t *testing.T) {
	t.Setenv("RUNWAY_API_KEY", "direct")
	t.Setenv("RUNWAY_API_KEY_FILE", "/does/not/exist")

	readSecret("RUNWAY_API_KEY")
	if got := os.Getenv("RUNWAY_API_KEY"); got != "direct" {
		t.Errorf("RUNWAY_API_KEY = %q, want direct", got)
	}
}

func TestMediaConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     MediaConfig
		wantErr bool
	}{
		{"valid", MediaConfig{TargetWidth: 1080, TargetHeight: 1920, TargetDuration: 2, TargetFrameRate: 60, MaxConcurrentTasks: 1}, false},
		{"zero width", MediaConfig{TargetHeight: 1920, TargetDuration: 2, TargetFrameRate: 60, MaxConcurrentTasks: 1}, true},
		{"negative duration", MediaConfig{TargetWidth: 1080, TargetHeight: 1920, TargetDuration: -1, TargetFrameRate: 60, MaxConcurrentTasks: 1}, true},
		{"zero fps", MediaConfig{TargetWidth: 1080, TargetHeight: 1920, TargetDuration: 2, MaxConcurrentTasks: 1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
