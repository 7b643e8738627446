package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/olcf/harmony/pkg/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSummary returns table counts.
func (s *server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.store.Summary(r.Context())
	if err != nil {
		s.internalError(w, "summarizing store", err)

		return
	}

	writeJSON(w, http.StatusOK, sum)
}

func (s *server) handleListApplications(w http.ResponseWriter, r *http.Request) {
	apps, err := s.store.ListApplications(r.Context())
	if err != nil {
		s.internalError(w, "listing applications", err)

		return
	}

	if apps == nil {
		apps = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"applications": apps})
}

func (s *server) handleListEventTypes(w http.ResponseWriter, r *http.Request) {
	types, err := s.store.ListEventTypes(r.Context())
	if err != nil {
		s.internalError(w, "listing event types", err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"event_types": types})
}

func (s *server) handleListCheckCodes(w http.ResponseWriter, r *http.Request) {
	codes, err := s.store.ListCheckCodes(r.Context())
	if err != nil {
		s.internalError(w, "listing check codes", err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"check_codes": codes})
}

// runListResponse is one page of runs. Captured outputs are left out of
// listings; fetch a single run to read them.
type runListResponse struct {
	Runs     []store.Run `json:"runs"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

// handleListRuns returns runs filtered by application, test, system and
// done, ordered by application, test and harness UID.
func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, err := intParam(q.Get("page"), 1)
	if err != nil || page < 1 {
		writeJSON(w, http.StatusBadRequest, errorResponse{"page must be a positive integer"})

		return
	}

	pageSize, err := intParam(q.Get("page_size"), defaultPageSize)
	if err != nil || pageSize < 1 || pageSize > maxPageSize {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"page_size must be between 1 and " + strconv.Itoa(maxPageSize)})

		return
	}

	filter := store.RunFilter{
		Application: q.Get("application"),
		Test:        q.Get("test"),
		System:      q.Get("system"),
		Offset:      (page - 1) * pageSize,
		Limit:       pageSize,
	}

	if raw := q.Get("done"); raw != "" {
		done, err := strconv.ParseBool(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{"done must be a boolean"})

			return
		}

		filter.Done = &done
	}

	runs, total, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		s.internalError(w, "listing runs", err)

		return
	}

	for i := range runs {
		runs[i].OutputBuild = nil
		runs[i].OutputSubmit = nil
		runs[i].OutputCheck = nil
		runs[i].OutputReport = nil
	}

	if runs == nil {
		runs = []store.Run{}
	}

	writeJSON(w, http.StatusOK, runListResponse{
		Runs:     runs,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	})
}

// runEventView is a milestone flattened for display.
type runEventView struct {
	Code int       `json:"code"`
	Name string    `json:"name"`
	Time time.Time `json:"time"`
}

type runDetailResponse struct {
	*store.Run
	Events []runEventView `json:"events"`
}

// handleGetRun returns one run with its events.
func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}

	events, err := s.store.ListRunEvents(r.Context(), run.ID)
	if err != nil {
		s.internalError(w, "listing run events", err)

		return
	}

	views := make([]runEventView, 0, len(events))
	for _, ev := range events {
		views = append(views, runEventView{
			Code: ev.EventType.Code,
			Name: ev.EventType.Name,
			Time: ev.EventTime,
		})
	}

	writeJSON(w, http.StatusOK, runDetailResponse{Run: run, Events: views})
}

// lookupRun resolves the {uid} URL parameter, writing the error response
// itself when the run cannot be returned.
func (s *server) lookupRun(w http.ResponseWriter, r *http.Request) (*store.Run, bool) {
	uid := chi.URLParam(r, "uid")
	if uid == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{"harness uid is required"})

		return nil, false
	}

	run, err := s.store.GetRunByHarnessUID(r.Context(), uid)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{"run not found"})

			return nil, false
		}

		s.internalError(w, "getting run", err)

		return nil, false
	}

	return run, true
}

func (s *server) internalError(w http.ResponseWriter, action string, err error) {
	s.log.WithError(err).Error("Failed " + action)

	writeJSON(w, http.StatusInternalServerError, errorResponse{action + " failed"})
}

func intParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}

	return strconv.Atoi(raw)
}
