package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DB_PATH", "HTTP_ADDR", "TRANSCRIPTION_URL", "TRANSCRIPTION_MODEL",
		"INSIGHT_MODEL", "MIC_SAMPLE_RATE",
		"GDRIVE_FOLDER_ID", "GOOGLE_CREDENTIALS_FILE",
		"TRANSCRIPTION_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY",
	} {
		t.Setenv(EnvPrefix+key, "")
	}
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DBPath != "data/pitchlens.db" {
		t.Fatalf("expected default db_path, got %q", cfg.DBPath)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Fatalf("expected default sample_rate 16000, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Audio.FrameSize != 4096 {
		t.Fatalf("expected default frame_size 4096, got %d", cfg.Audio.FrameSize)
	}
	if cfg.Transcription.Model != "nova-2" {
		t.Fatalf("expected default transcription model, got %q", cfg.Transcription.Model)
	}
	if !cfg.Transcription.Diarize {
		t.Fatal("expected diarization on by default")
	}
	if cfg.Insight.MaxInFlight != 10 {
		t.Fatalf("expected default max_in_flight 10, got %d", cfg.Insight.MaxInFlight)
	}
	if cfg.Health.FailureThreshold != 5 {
		t.Fatalf("expected default failure_threshold 5, got %d", cfg.Health.FailureThreshold)
	}
}

func TestYAMLLoading(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	yamlContent := `
db_path: /custom/db.sqlite
http_addr: ":9090"
audio:
  sample_rate: 48000
  frame_size: 2048
transcription:
  model: nova-3
  language: en-GB
  endpointing_ms: 500
  keywords: [pitchlens, acme]
insight:
  model: anthropic/claude-sonnet-4-5
  max_in_flight: 4
  cache_ttl: 2m
health:
  failure_threshold: 7
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DBPath != "/custom/db.sqlite" {
		t.Fatalf("expected yaml db_path, got %q", cfg.DBPath)
	}
	if cfg.Audio.SampleRate != 48000 || cfg.Audio.FrameSize != 2048 {
		t.Fatalf("expected yaml audio values, got %+v", cfg.Audio)
	}
	if cfg.Transcription.Model != "nova-3" || cfg.Transcription.Language != "en-GB" {
		t.Fatalf("expected yaml transcription values, got %+v", cfg.Transcription)
	}
	if cfg.Transcription.EndpointingMS != 500 {
		t.Fatalf("expected yaml endpointing_ms 500, got %d", cfg.Transcription.EndpointingMS)
	}
	if len(cfg.Transcription.Keywords) != 2 {
		t.Fatalf("expected 2 keywords, got %v", cfg.Transcription.Keywords)
	}
	if cfg.Insight.Model != "anthropic/claude-sonnet-4-5" || cfg.Insight.MaxInFlight != 4 {
		t.Fatalf("expected yaml insight values, got %+v", cfg.Insight)
	}
	if cfg.Health.FailureThreshold != 7 {
		t.Fatalf("expected yaml failure_threshold 7, got %d", cfg.Health.FailureThreshold)
	}
}

func TestEnvOverridesAndSecrets(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"DB_PATH", "/env/db.sqlite")
	t.Setenv(EnvPrefix+"TRANSCRIPTION_MODEL", "nova-3")
	t.Setenv(EnvPrefix+"MIC_SAMPLE_RATE", "24000")
	t.Setenv(EnvPrefix+"TRANSCRIPTION_API_KEY", "dg-secret")
	t.Setenv(EnvPrefix+"OPENAI_API_KEY", "oa-secret")

	cfg, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DBPath != "/env/db.sqlite" {
		t.Fatalf("expected env db_path, got %q", cfg.DBPath)
	}
	if cfg.Transcription.Model != "nova-3" {
		t.Fatalf("expected env transcription model, got %q", cfg.Transcription.Model)
	}
	if cfg.Audio.SampleRate != 24000 {
		t.Fatalf("expected env sample rate, got %d", cfg.Audio.SampleRate)
	}
	if cfg.TranscriptionAPIKey != "dg-secret" || cfg.OpenAIAPIKey != "oa-secret" {
		t.Fatal("expected secrets loaded from env")
	}
	for _, w := range warnings {
		if strings.Contains(w, "Transcription API key") {
			t.Fatalf("unexpected warning with key set: %q", w)
		}
	}
}

func TestValidationWarnings(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	yamlContent := `
insight:
  cache_ttl: not-a-duration
  max_in_flight: 0
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, warnings, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	var sawTTL, sawInFlight bool
	for _, w := range warnings {
		if strings.Contains(w, "cache_ttl") {
			sawTTL = true
		}
		if strings.Contains(w, "max_in_flight") {
			sawInFlight = true
		}
	}
	if !sawTTL || !sawInFlight {
		t.Fatalf("expected ttl and in-flight warnings, got %v", warnings)
	}
	if cfg.Insight.MaxInFlight != 10 {
		t.Fatalf("expected max_in_flight reset to default, got %d", cfg.Insight.MaxInFlight)
	}
}

func TestDuration(t *testing.T) {
	if got := Duration("45s", time.Second); got != 45*time.Second {
		t.Fatalf("expected 45s, got %v", got)
	}
	if got := Duration("bogus", 30*time.Second); got != 30*time.Second {
		t.Fatalf("expected fallback, got %v", got)
	}
	if got := Duration("-5s", 10*time.Second); got != 10*time.Second {
		t.Fatalf("expected fallback for negative, got %v", got)
	}
}

func TestSampleRateCandidates(t *testing.T) {
	a := Audio{SampleRate: 48000, SampleRates: []int{48000, 8000}}
	got := a.SampleRateCandidates()
	if got[0] != 48000 {
		t.Fatalf("expected preferred rate first, got %v", got)
	}
	seen := map[int]int{}
	for _, rate := range got {
		seen[rate]++
		if seen[rate] > 1 {
			t.Fatalf("duplicate rate %d in %v", rate, got)
		}
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("expected defaults, got %q", cfg.HTTPAddr)
	}
}
