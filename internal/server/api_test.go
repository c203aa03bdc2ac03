package server

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pitchlens/pitchlens/internal/health"
	"github.com/pitchlens/pitchlens/internal/insight"
	"github.com/pitchlens/pitchlens/internal/meeting"
	"github.com/pitchlens/pitchlens/internal/storage"
	"github.com/pitchlens/pitchlens/internal/transcribe"
)

type apiStoreStub struct {
	meetings    map[string]storage.Meeting
	transcripts map[string][]transcribe.Entry
	insights    map[string][]storage.Insight
}

func (s apiStoreStub) GetMeetings(limit int) ([]storage.Meeting, error) {
	out := make([]storage.Meeting, 0, len(s.meetings))
	for _, m := range s.meetings {
		out = append(out, m)
	}
	return out, nil
}

func (s apiStoreStub) GetMeeting(id string) (storage.Meeting, error) {
	if m, ok := s.meetings[id]; ok {
		return m, nil
	}
	return storage.Meeting{}, fmt.Errorf("query meeting %s: %w", id, sql.ErrNoRows)
}

func (s apiStoreStub) GetTranscripts(meetingID string) ([]transcribe.Entry, error) {
	return s.transcripts[meetingID], nil
}

func (s apiStoreStub) GetInsights(meetingID string) ([]storage.Insight, error) {
	return s.insights[meetingID], nil
}

type orchStub struct {
	startID  string
	startErr error
	status   map[string]meeting.StatusReport

	paused  []string
	resumed []string
	stopped []string
}

func (o *orchStub) Start(ctx context.Context, cfg meeting.Config) (string, error) {
	return o.startID, o.startErr
}

func (o *orchStub) Pause(id string) error {
	if _, ok := o.status[id]; !ok {
		return fmt.Errorf("meeting %s: %w", id, meeting.ErrNotFound)
	}
	o.paused = append(o.paused, id)
	return nil
}

func (o *orchStub) Resume(id string) error {
	o.resumed = append(o.resumed, id)
	return nil
}

func (o *orchStub) Stop(ctx context.Context, id string) (insight.Summary, error) {
	if _, ok := o.status[id]; !ok {
		return insight.Summary{}, fmt.Errorf("meeting %s: %w", id, meeting.ErrNotFound)
	}
	o.stopped = append(o.stopped, id)
	return insight.Summary{MeetingID: id, Text: "wrapped up", KeyPoints: []string{"budget approved"}}, nil
}

func (o *orchStub) GetStatus(id string) (meeting.StatusReport, error) {
	if report, ok := o.status[id]; ok {
		return report, nil
	}
	return meeting.StatusReport{}, fmt.Errorf("meeting %s: %w", id, meeting.ErrNotFound)
}

func (o *orchStub) Coach(ctx context.Context, id string) (insight.Coaching, error) {
	return insight.Coaching{MeetingID: id, Tip: "slow down"}, nil
}

type healthStub struct{}

func (healthStub) Snapshot() (map[string]health.Record, health.Status) {
	return map[string]health.Record{
		health.DepTranscription: {Name: health.DepTranscription, Status: health.StatusHealthy},
		health.DepAnalysis:      {Name: health.DepAnalysis, Status: health.StatusDegraded},
	}, health.StatusDegraded
}

func testStaticFS(t *testing.T) fs.FS {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>ok</html>"), 0o644); err != nil {
		t.Fatalf("write index.html failed: %v", err)
	}
	return os.DirFS(dir)
}

func newTestHandler(t *testing.T, store MeetingStore, orch Orchestrator) http.Handler {
	t.Helper()
	return Handler(testStaticFS(t), NewHub(), store, orch, healthStub{})
}

func TestAPIStartMeeting(t *testing.T) {
	orch := &orchStub{startID: "m1", status: map[string]meeting.StatusReport{}}
	h := newTestHandler(t, apiStoreStub{}, orch)

	body := strings.NewReader(`{"title":"Acme demo","transcription":true}`)
	req := httptest.NewRequest(http.MethodPost, "/api/meetings", body)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "m1") {
		t.Fatalf("expected meeting id in body, got %s", rr.Body.String())
	}
}

func TestAPIStartMeetingConflict(t *testing.T) {
	orch := &orchStub{startErr: fmt.Errorf("start meeting: %w", meeting.ErrMeetingActive)}
	h := newTestHandler(t, apiStoreStub{}, orch)

	req := httptest.NewRequest(http.MethodPost, "/api/meetings", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestAPILifecycleRoutes(t *testing.T) {
	orch := &orchStub{status: map[string]meeting.StatusReport{
		"m1": {MeetingID: "m1", Status: meeting.StatusActive, TranscriptCount: 4},
	}}
	h := newTestHandler(t, apiStoreStub{}, orch)

	for _, tc := range []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodPost, "/api/meetings/m1/pause", http.StatusNoContent},
		{http.MethodPost, "/api/meetings/m1/stop", http.StatusOK},
		{http.MethodPost, "/api/meetings/missing/pause", http.StatusNotFound},
		{http.MethodPost, "/api/meetings/missing/stop", http.StatusNotFound},
		{http.MethodGet, "/api/meetings/m1/status", http.StatusOK},
		{http.MethodGet, "/api/meetings/bad..id/status", http.StatusForbidden},
	} {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != tc.want {
			t.Fatalf("%s %s: expected status %d, got %d: %s", tc.method, tc.path, tc.want, rr.Code, rr.Body.String())
		}
	}

	if len(orch.paused) != 1 || len(orch.stopped) != 1 {
		t.Fatalf("expected one pause and one stop, got %v / %v", orch.paused, orch.stopped)
	}
}

func TestAPIMeetingDetail(t *testing.T) {
	started := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	store := apiStoreStub{
		meetings: map[string]storage.Meeting{
			"m1": {ID: "m1", Title: "Acme demo", StartedAt: started, Status: "ended"},
		},
		transcripts: map[string][]transcribe.Entry{
			"m1": {{Speaker: "Speaker 0", Text: "Hello."}},
		},
	}
	h := newTestHandler(t, store, &orchStub{})

	req := httptest.NewRequest(http.MethodGet, "/api/meetings/m1", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); !strings.Contains(got, "application/json") {
		t.Fatalf("expected application/json content-type, got %q", got)
	}
	for _, want := range []string{"Acme demo", "Hello."} {
		if !strings.Contains(rr.Body.String(), want) {
			t.Fatalf("expected body to contain %q, got %s", want, rr.Body.String())
		}
	}

	req = httptest.NewRequest(http.MethodGet, "/api/meetings/missing", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestAPIHealth(t *testing.T) {
	h := newTestHandler(t, apiStoreStub{}, &orchStub{})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	for _, want := range []string{"degraded", "transcription", "analysis"} {
		if !strings.Contains(rr.Body.String(), want) {
			t.Fatalf("expected body to contain %q, got %s", want, rr.Body.String())
		}
	}
}

func TestSPAFallback(t *testing.T) {
	h := newTestHandler(t, apiStoreStub{}, &orchStub{})

	req := httptest.NewRequest(http.MethodGet, "/meetings/history", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "<html>ok</html>") {
		t.Fatalf("expected index.html body, got %s", rr.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/missing", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown api route, got %d", rr.Code)
	}
}
