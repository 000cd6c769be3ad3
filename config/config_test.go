package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaultsNeedsCredential(t *testing.T) {
	t.Setenv("TELEPHONY_TOKEN", "")
	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "channel.credential") {
		t.Fatalf("expected credential validation error, got %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TELEPHONY_TOKEN", "shared-secret")
	t.Setenv("MAX_CONCURRENT_SESSIONS", "3")
	t.Setenv("YOOCALL_SESSION_DEFAULT_PAUSE_SECONDS", "7")
	t.Setenv("YOOCALL_AUDIO_CANONICAL_SAMPLE_RATE", "8000")
	t.Setenv("YOOCALL_SPEECH_RECOGNITION_TIMEOUT_MS", "1500")
	t.Setenv("YOOCALL_CHANNEL_PACE_PLAYBACK", "false")
	t.Setenv("YOOCALL_OUTBOX_DRIVER", "postgres")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Channel.Credential != "shared-secret" {
		t.Fatalf("expected credential override, got %q", cfg.Channel.Credential)
	}
	if cfg.Session.MaxConcurrent != 3 {
		t.Fatalf("expected max concurrent 3, got %d", cfg.Session.MaxConcurrent)
	}
	if cfg.Session.DefaultPauseSeconds != 7 {
		t.Fatalf("expected pause 7, got %d", cfg.Session.DefaultPauseSeconds)
	}
	if cfg.Audio.CanonicalSampleRate != 8000 {
		t.Fatalf("expected rate 8000, got %d", cfg.Audio.CanonicalSampleRate)
	}
	if cfg.Speech.RecognitionTimeoutMS != 1500 {
		t.Fatalf("expected recognition timeout override")
	}
	if cfg.Channel.PacePlayback {
		t.Fatal("expected pacing disabled")
	}
	if cfg.Outbox.Driver != "postgres" {
		t.Fatalf("expected postgres outbox, got %s", cfg.Outbox.Driver)
	}
}

func TestLoadFile(t *testing.T) {
	t.Setenv("TELEPHONY_TOKEN", "")
	path := filepath.Join(t.TempDir(), "yoocall.yaml")
	body := `
channel:
  credential: from-file
session:
  max_concurrent: 25
audio:
  canonical_sample_rate: 24000
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Channel.Credential != "from-file" || cfg.Session.MaxConcurrent != 25 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Speech.Language != "ar-SA" {
		t.Fatalf("expected defaults kept for unset keys, got %q", cfg.Speech.Language)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"sample rate":    func(c *Config) { c.Audio.CanonicalSampleRate = 22050 },
		"pause too long": func(c *Config) { c.Session.DefaultPauseSeconds = 21 },
		"pause zero":     func(c *Config) { c.Session.DefaultPauseSeconds = 0 },
		"capacity":       func(c *Config) { c.Session.MaxConcurrent = 0 },
		"threshold":      func(c *Config) { c.Session.ConfidenceThreshold = 1.5 },
		"speech mode":    func(c *Config) { c.Speech.Mode = "whisper" },
		"outbox driver":  func(c *Config) { c.Outbox.Driver = "mysql" },
	}
	for name, mutate := range cases {
		cfg := Default()
		cfg.Channel.Credential = "x"
		mutate(&cfg)
		if err := Validate(cfg); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestExampleFileWithAdminOverrides(t *testing.T) {
	t.Setenv("TELEPHONY_TOKEN", "shared-secret")
	t.Setenv("ADMIN_JWT_SECRET", "operator-secret")
	t.Setenv("YOOCALL_ARCHIVE_DIR", "/var/lib/yoocall/audio")

	cfg, err := Load("config.example.yaml")
	if err != nil {
		t.Fatalf("load example: %v", err)
	}
	if cfg.Session.DefaultSurvey != "satisfaction" || cfg.Outbox.Driver != "sqlite" {
		t.Fatalf("example values not applied: %+v", cfg.Session)
	}
	if cfg.Admin.JWTSecret != "operator-secret" {
		t.Fatalf("expected admin secret override, got %q", cfg.Admin.JWTSecret)
	}
	if cfg.Archive.Dir != "/var/lib/yoocall/audio" || cfg.Archive.Workers != 2 {
		t.Fatalf("archive = %+v", cfg.Archive)
	}
}
