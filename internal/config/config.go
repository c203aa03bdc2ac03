package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all Pitchlens environment variables.
const EnvPrefix = "PITCHLENS_"

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	DBPath   string `yaml:"db_path"`
	HTTPAddr string `yaml:"http_addr"`

	Audio         Audio         `yaml:"audio"`
	Transcription Transcription `yaml:"transcription"`
	Insight       Insight       `yaml:"insight"`
	Health        Health        `yaml:"health"`
	Export        Export        `yaml:"export"`

	// Secrets come from env vars only and are never serialized to YAML.
	TranscriptionAPIKey string `yaml:"-"`
	OpenAIAPIKey        string `yaml:"-"`
	AnthropicAPIKey     string `yaml:"-"`
	GeminiAPIKey        string `yaml:"-"`
}

// Audio configures the capture pipeline.
type Audio struct {
	SampleRate       int     `yaml:"sample_rate"`
	SampleRates      []int   `yaml:"sample_rates"`
	FrameSize        int     `yaml:"frame_size"`
	NoiseGate        int     `yaml:"noise_gate"`
	TargetPeak       int     `yaml:"target_peak"`
	QualityDelta     float64 `yaml:"quality_delta"`
	SendBufferFrames int     `yaml:"send_buffer_frames"`
}

// Transcription configures the streaming link handshake and reconnect policy.
type Transcription struct {
	URL            string   `yaml:"url"`
	Model          string   `yaml:"model"`
	Language       string   `yaml:"language"`
	Encoding       string   `yaml:"encoding"`
	SampleRate     int      `yaml:"sample_rate"`
	Channels       int      `yaml:"channels"`
	Diarize        bool     `yaml:"diarize"`
	Punctuate      bool     `yaml:"punctuate"`
	SmartFormat    bool     `yaml:"smart_format"`
	InterimResults bool     `yaml:"interim_results"`
	EndpointingMS  int      `yaml:"endpointing_ms"`
	Alternatives   int      `yaml:"alternatives"`
	Sentiment      bool     `yaml:"sentiment"`
	Summarize      bool     `yaml:"summarize"`
	Keywords       []string `yaml:"keywords"`
	ConnectTimeout string   `yaml:"connect_timeout"`
	ReconnectDelay string   `yaml:"reconnect_delay"`
	ReconnectCeil  string   `yaml:"reconnect_ceiling"`
	ReconnectLimit int      `yaml:"reconnect_limit"`
}

// Insight configures the AI request queue and model parameters.
type Insight struct {
	Model         string  `yaml:"model"`
	MaxTokens     int     `yaml:"max_tokens"`
	Temperature   float32 `yaml:"temperature"`
	MaxInFlight   int     `yaml:"max_in_flight"`
	MaxRetries    int     `yaml:"max_retries"`
	CacheTTL      string  `yaml:"cache_ttl"`
	BatchSize     int     `yaml:"batch_size"`
	SchedulerTick string  `yaml:"scheduler_tick"`
}

// Health configures probing and circuit breaking.
type Health struct {
	ProbeInterval     string `yaml:"probe_interval"`
	FailureThreshold  int    `yaml:"failure_threshold"`
	Cooldown          string `yaml:"cooldown"`
	HalfOpenSuccesses int    `yaml:"half_open_successes"`
}

// Export configures the optional Google Drive export of ended meetings.
type Export struct {
	GDriveFolderID        string `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string `yaml:"google_credentials_file"`
}

func defaults() Config {
	return Config{
		DBPath:   "data/pitchlens.db",
		HTTPAddr: ":8080",
		Audio: Audio{
			SampleRate:       16000,
			SampleRates:      []int{48000, 44100, 32000, 24000},
			FrameSize:        4096,
			NoiseGate:        500,
			TargetPeak:       24000,
			QualityDelta:     5,
			SendBufferFrames: 16,
		},
		Transcription: Transcription{
			URL:            "wss://api.deepgram.com/v1/listen",
			Model:          "nova-2",
			Language:       "en-US",
			Encoding:       "linear16",
			SampleRate:     16000,
			Channels:       1,
			Diarize:        true,
			Punctuate:      true,
			SmartFormat:    true,
			InterimResults: true,
			EndpointingMS:  300,
			Alternatives:   1,
			Sentiment:      true,
			ConnectTimeout: "10s",
			ReconnectDelay: "1s",
			ReconnectCeil:  "30s",
			ReconnectLimit: 5,
		},
		Insight: Insight{
			Model:         "openai/gpt-4o-mini",
			MaxTokens:     1024,
			Temperature:   0.3,
			MaxInFlight:   10,
			MaxRetries:    3,
			CacheTTL:      "5m",
			BatchSize:     3,
			SchedulerTick: "1s",
		},
		Health: Health{
			ProbeInterval:     "30s",
			FailureThreshold:  5,
			Cooldown:          "60s",
			HalfOpenSuccesses: 3,
		},
		Export: Export{
			GoogleCredentialsFile: "./service-account.json",
		},
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// Duration parses a duration field, falling back when the value is invalid.
func Duration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// SampleRateCandidates returns a deduplicated ordered list of sample rates to
// try: preferred rate first, then configured alternatives, then defaults.
func (a *Audio) SampleRateCandidates() []int {
	hardcoded := []int{16000, 48000, 44100, 32000, 24000}

	combined := make([]int, 0, 1+len(a.SampleRates)+len(hardcoded))
	combined = append(combined, a.SampleRate)
	combined = append(combined, a.SampleRates...)
	combined = append(combined, hardcoded...)

	seen := make(map[int]struct{}, len(combined))
	result := make([]int, 0, len(combined))
	for _, rate := range combined {
		if rate <= 0 {
			continue
		}
		if _, ok := seen[rate]; ok {
			continue
		}
		seen[rate] = struct{}{}
		result = append(result, rate)
	}
	return result
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvPrefix + "HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv(EnvPrefix + "TRANSCRIPTION_URL"); v != "" {
		cfg.Transcription.URL = v
	}
	if v := os.Getenv(EnvPrefix + "TRANSCRIPTION_MODEL"); v != "" {
		cfg.Transcription.Model = v
	}
	if v := os.Getenv(EnvPrefix + "INSIGHT_MODEL"); v != "" {
		cfg.Insight.Model = v
	}
	if v := os.Getenv(EnvPrefix + "MIC_SAMPLE_RATE"); v != "" {
		if rate, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && rate > 0 {
			cfg.Audio.SampleRate = rate
		}
	}
	if v := os.Getenv(EnvPrefix + "GDRIVE_FOLDER_ID"); v != "" {
		cfg.Export.GDriveFolderID = v
	}
	if v := os.Getenv(EnvPrefix + "GOOGLE_CREDENTIALS_FILE"); v != "" {
		cfg.Export.GoogleCredentialsFile = v
	}
}

func loadSecrets(cfg *Config) {
	cfg.TranscriptionAPIKey = os.Getenv(EnvPrefix + "TRANSCRIPTION_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv(EnvPrefix + "ANTHROPIC_API_KEY")
	cfg.GeminiAPIKey = os.Getenv(EnvPrefix + "GEMINI_API_KEY")
}

func validate(cfg *Config) []string {
	var warnings []string

	if cfg.TranscriptionAPIKey == "" {
		warnings = append(warnings, "Transcription API key not configured: live transcription is disabled. Set "+EnvPrefix+"TRANSCRIPTION_API_KEY.")
	}
	if cfg.OpenAIAPIKey == "" && cfg.AnthropicAPIKey == "" && cfg.GeminiAPIKey == "" {
		warnings = append(warnings, "No AI provider key configured: insight analysis is disabled.")
	}
	if _, err := time.ParseDuration(cfg.Insight.CacheTTL); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid cache_ttl %q: using default 5m.", cfg.Insight.CacheTTL))
	}
	if cfg.Insight.MaxInFlight <= 0 {
		warnings = append(warnings, "insight.max_in_flight must be positive: using default 10.")
		cfg.Insight.MaxInFlight = 10
	}
	if cfg.Insight.BatchSize <= 0 {
		warnings = append(warnings, "insight.batch_size must be positive: using default 3.")
		cfg.Insight.BatchSize = 3
	}
	if cfg.Audio.FrameSize <= 0 {
		warnings = append(warnings, "audio.frame_size must be positive: using default 4096.")
		cfg.Audio.FrameSize = 4096
	}
	if cfg.Transcription.Alternatives <= 0 {
		cfg.Transcription.Alternatives = 1
	}
	if cfg.Health.FailureThreshold <= 0 {
		cfg.Health.FailureThreshold = 5
	}
	if cfg.Health.HalfOpenSuccesses <= 0 {
		cfg.Health.HalfOpenSuccesses = 3
	}

	return warnings
}
