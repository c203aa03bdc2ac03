package main

import (
	"context"
	"embed"
	"encoding/json"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/pitchlens/pitchlens/internal/audio"
	"github.com/pitchlens/pitchlens/internal/config"
	"github.com/pitchlens/pitchlens/internal/gdrive"
	"github.com/pitchlens/pitchlens/internal/health"
	"github.com/pitchlens/pitchlens/internal/insight"
	"github.com/pitchlens/pitchlens/internal/llm"
	"github.com/pitchlens/pitchlens/internal/meeting"
	"github.com/pitchlens/pitchlens/internal/server"
	"github.com/pitchlens/pitchlens/internal/storage"
	"github.com/pitchlens/pitchlens/internal/stt"
)

//go:embed static/*
var staticFiles embed.FS

func main() {
	log.Println("pitchlens: starting")

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	cfgPath := envOrDefault("PITCHLENS_CONFIG", "pitchlens.yaml")
	cfg, warnings, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	for _, w := range warnings {
		log.Printf("warning: %s", w)
	}

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	assets, err := fs.Sub(staticFiles, "static")
	if err != nil {
		log.Fatalf("static assets init failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := server.NewHub()
	transcripts := storage.NewWriter(filepath.Join(filepath.Dir(cfg.DBPath), "transcripts"))

	monitor := health.NewMonitor(cfg.Health)
	breakerCfg := health.BreakerConfig{
		Threshold:         cfg.Health.FailureThreshold,
		Cooldown:          config.Duration(cfg.Health.Cooldown, time.Minute),
		HalfOpenSuccesses: cfg.Health.HalfOpenSuccesses,
	}
	monitor.Register(health.DepPersistence, breakerCfg, store.Ping)
	monitor.Register(health.DepAnalysis, breakerCfg, nil)
	var transcriptionProbe health.Probe
	if cfg.TranscriptionAPIKey != "" {
		transcriptionProbe = reachabilityProbe(cfg.Transcription.URL)
	}
	monitor.Register(health.DepTranscription, breakerCfg, transcriptionProbe)
	monitor.Start(ctx)

	var analyzer meeting.Analyzer
	if client := newLLMClient(cfg); client != nil {
		queue := insight.NewQueue(cfg.Insight, client, monitor)
		queue.Start(ctx)
		analyzer = insight.NewAnalyzer(queue, cfg.Insight)
	}

	var rateMu sync.Mutex
	sttRate := cfg.Transcription.SampleRate

	newAudio := func() (meeting.AudioStream, error) {
		mic, rate, err := audio.OpenMic(cfg.Audio.SampleRateCandidates(), cfg.Audio.FrameSize)
		if err != nil {
			return nil, err
		}
		rateMu.Lock()
		sttRate = rate
		rateMu.Unlock()

		audioCfg := cfg.Audio
		audioCfg.SampleRate = rate
		return audio.NewPipeline(audioCfg, mic), nil
	}

	var newLink meeting.LinkFactory
	if cfg.TranscriptionAPIKey != "" {
		newLink = func(cb stt.Callbacks) meeting.Transcriber {
			linkCfg := cfg.Transcription
			rateMu.Lock()
			linkCfg.SampleRate = sttRate
			rateMu.Unlock()
			return stt.NewLink(linkCfg, cfg.TranscriptionAPIKey, cb)
		}
	}

	orch := meeting.NewOrchestrator(store, hub, analyzer, monitor, newAudio, newLink, transcripts, cfg.Insight.BatchSize)

	if cfg.Export.GDriveFolderID != "" {
		exporter, expErr := gdrive.NewExporter(ctx, cfg.Export.GoogleCredentialsFile, cfg.Export.GDriveFolderID)
		if expErr != nil {
			log.Printf("warning: gdrive export disabled: %v", expErr)
		} else {
			go exportEndedMeetings(ctx, hub, store, transcripts, exporter)
		}
	}

	handler := server.Handler(assets, hub, store, orch, monitor)
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: handler}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http server error: %v", err)
		}
	}()

	log.Printf("pitchlens: web UI on http://127.0.0.1%s", cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("pitchlens: shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if id := orch.Active(); id != "" {
		if _, err := orch.Stop(shutdownCtx, id); err != nil {
			log.Printf("warning: stop active meeting failed: %v", err)
		}
	}

	cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("warning: http shutdown failed: %v", err)
	}
}

// newLLMClient builds the completion client for the configured provider, or
// returns nil when no API key for it is set.
func newLLMClient(cfg config.Config) llm.Client {
	provider, _, err := llm.ParseModel(cfg.Insight.Model)
	if err != nil {
		log.Printf("warning: insight analysis disabled: %v", err)
		return nil
	}

	var apiKey string
	switch provider {
	case "openai":
		apiKey = cfg.OpenAIAPIKey
	case "anthropic":
		apiKey = cfg.AnthropicAPIKey
	case "gemini":
		apiKey = cfg.GeminiAPIKey
	}
	if apiKey == "" {
		return nil
	}

	client, err := llm.NewClient(provider, apiKey)
	if err != nil {
		log.Printf("warning: insight analysis disabled: %v", err)
		return nil
	}
	return client
}

// reachabilityProbe checks the transcription backend host over plain HTTP.
// Any response counts as reachable; auth and protocol errors are the link's
// concern.
func reachabilityProbe(rawURL string) health.Probe {
	return func(ctx context.Context) error {
		u, err := url.Parse(rawURL)
		if err != nil {
			return err
		}
		switch u.Scheme {
		case "wss":
			u.Scheme = "https"
		case "ws":
			u.Scheme = "http"
		}
		u.Path = ""
		u.RawQuery = ""

		req, err := http.NewRequestWithContext(ctx, http.MethodHead, u.String(), nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		_ = resp.Body.Close()
		return nil
	}
}

// exportEndedMeetings watches the event stream and uploads the transcript and
// summary of each meeting that ends.
func exportEndedMeetings(ctx context.Context, hub *server.Hub, store *storage.SQLiteStore, transcripts *storage.Writer, exporter *gdrive.Exporter) {
	events := hub.Subscribe()
	defer hub.Unsubscribe(events)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			var event struct {
				Type      string `json:"type"`
				MeetingID string `json:"meeting_id"`
			}
			if err := json.Unmarshal(msg, &event); err != nil || event.Type != "meeting_ended" {
				continue
			}
			exportMeeting(store, transcripts, exporter, event.MeetingID)
		}
	}
}

func exportMeeting(store *storage.SQLiteStore, transcripts *storage.Writer, exporter *gdrive.Exporter, meetingID string) {
	if err := exporter.ExportTranscript(meetingID, transcripts.Path(meetingID)); err != nil {
		log.Printf("gdrive transcript export error for %s: %v", meetingID, err)
	}

	stored, err := store.GetInsights(meetingID)
	if err != nil {
		log.Printf("gdrive summary export error for %s: %v", meetingID, err)
		return
	}
	for _, ins := range stored {
		if ins.Kind != string(insight.KindSummary) {
			continue
		}
		var summary insight.Summary
		if err := json.Unmarshal(ins.Payload, &summary); err != nil {
			log.Printf("gdrive summary decode error for %s: %v", meetingID, err)
			return
		}
		if err := exporter.ExportSummary(meetingID, summary); err != nil {
			log.Printf("gdrive summary export error for %s: %v", meetingID, err)
		}
		return
	}
}

func envOrDefault(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
