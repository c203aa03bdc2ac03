package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"

	"github.com/pitchlens/pitchlens/internal/health"
	"github.com/pitchlens/pitchlens/internal/insight"
	"github.com/pitchlens/pitchlens/internal/meeting"
	"github.com/pitchlens/pitchlens/internal/storage"
	"github.com/pitchlens/pitchlens/internal/transcribe"
)

var meetingIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// MeetingStore is the read side of persistence the API serves history from.
type MeetingStore interface {
	GetMeetings(limit int) ([]storage.Meeting, error)
	GetMeeting(id string) (storage.Meeting, error)
	GetTranscripts(meetingID string) ([]transcribe.Entry, error)
	GetInsights(meetingID string) ([]storage.Insight, error)
}

// Orchestrator is the meeting lifecycle surface the API controls.
type Orchestrator interface {
	Start(ctx context.Context, cfg meeting.Config) (string, error)
	Pause(id string) error
	Resume(id string) error
	Stop(ctx context.Context, id string) (insight.Summary, error)
	GetStatus(id string) (meeting.StatusReport, error)
	Coach(ctx context.Context, id string) (insight.Coaching, error)
}

// HealthSource exposes the dependency health records.
type HealthSource interface {
	Snapshot() (map[string]health.Record, health.Status)
}

func registerAPIRoutes(mux *http.ServeMux, store MeetingStore, orch Orchestrator, healthSource HealthSource) {
	mux.HandleFunc("POST /api/meetings", func(w http.ResponseWriter, r *http.Request) {
		var cfg meeting.Config
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("decode meeting config: %v", err))
			return
		}

		id, err := orch.Start(r.Context(), cfg)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, meeting.ErrMeetingActive) {
				status = http.StatusConflict
			}
			writeJSONError(w, status, fmt.Sprintf("start meeting: %v", err))
			return
		}

		writeJSON(w, http.StatusCreated, map[string]string{"meeting_id": id})
	})

	mux.HandleFunc("POST /api/meetings/{id}/pause", func(w http.ResponseWriter, r *http.Request) {
		meetingID := r.PathValue("id")
		if !validMeetingID(meetingID) {
			writeJSONError(w, http.StatusForbidden, "invalid meeting id")
			return
		}
		if err := orch.Pause(meetingID); err != nil {
			writeJSONError(w, lifecycleStatus(err), fmt.Sprintf("pause meeting: %v", err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /api/meetings/{id}/resume", func(w http.ResponseWriter, r *http.Request) {
		meetingID := r.PathValue("id")
		if !validMeetingID(meetingID) {
			writeJSONError(w, http.StatusForbidden, "invalid meeting id")
			return
		}
		if err := orch.Resume(meetingID); err != nil {
			writeJSONError(w, lifecycleStatus(err), fmt.Sprintf("resume meeting: %v", err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /api/meetings/{id}/stop", func(w http.ResponseWriter, r *http.Request) {
		meetingID := r.PathValue("id")
		if !validMeetingID(meetingID) {
			writeJSONError(w, http.StatusForbidden, "invalid meeting id")
			return
		}

		summary, err := orch.Stop(r.Context(), meetingID)
		if err != nil {
			writeJSONError(w, lifecycleStatus(err), fmt.Sprintf("stop meeting: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, summary)
	})

	mux.HandleFunc("POST /api/meetings/{id}/coach", func(w http.ResponseWriter, r *http.Request) {
		meetingID := r.PathValue("id")
		if !validMeetingID(meetingID) {
			writeJSONError(w, http.StatusForbidden, "invalid meeting id")
			return
		}

		coaching, err := orch.Coach(r.Context(), meetingID)
		if err != nil {
			writeJSONError(w, lifecycleStatus(err), fmt.Sprintf("coach: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, coaching)
	})

	mux.HandleFunc("GET /api/meetings/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		meetingID := r.PathValue("id")
		if !validMeetingID(meetingID) {
			writeJSONError(w, http.StatusForbidden, "invalid meeting id")
			return
		}

		report, err := orch.GetStatus(meetingID)
		if err != nil {
			writeJSONError(w, lifecycleStatus(err), fmt.Sprintf("meeting status: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, report)
	})

	mux.HandleFunc("GET /api/meetings", func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				writeJSONError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = parsed
		}

		meetings, err := store.GetMeetings(limit)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list meetings: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, meetings)
	})

	mux.HandleFunc("GET /api/meetings/{id}", func(w http.ResponseWriter, r *http.Request) {
		meetingID := r.PathValue("id")
		if !validMeetingID(meetingID) {
			writeJSONError(w, http.StatusForbidden, "invalid meeting id")
			return
		}

		meetingData, err := store.GetMeeting(meetingID)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, sql.ErrNoRows) {
				status = http.StatusNotFound
			}
			writeJSONError(w, status, fmt.Sprintf("get meeting: %v", err))
			return
		}

		transcripts, err := store.GetTranscripts(meetingID)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get meeting transcripts: %v", err))
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"meeting":     meetingData,
			"transcripts": transcripts,
		})
	})

	mux.HandleFunc("GET /api/meetings/{id}/insights", func(w http.ResponseWriter, r *http.Request) {
		meetingID := r.PathValue("id")
		if !validMeetingID(meetingID) {
			writeJSONError(w, http.StatusForbidden, "invalid meeting id")
			return
		}

		insights, err := store.GetInsights(meetingID)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get meeting insights: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, insights)
	})

	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		records, overall := healthSource.Snapshot()
		writeJSON(w, http.StatusOK, map[string]any{
			"overall":      overall,
			"dependencies": records,
		})
	})
}

// lifecycleStatus maps orchestrator errors onto HTTP statuses.
func lifecycleStatus(err error) int {
	switch {
	case errors.Is(err, meeting.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, meeting.ErrInvalidTransition), errors.Is(err, meeting.ErrNotActive):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func validMeetingID(id string) bool {
	return meetingIDPattern.MatchString(id)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
