package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/olcf/harmony/pkg/store"
	"github.com/sirupsen/logrus"
)

const (
	maxAnnotationBody     = 64 << 10
	maxAnnotationCategory = 64
)

type createAnnotationRequest struct {
	Category string `json:"category"`
	Note     string `json:"note"`
}

// handleListAnnotations returns the failure annotations of a run.
func (s *server) handleListAnnotations(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}

	annotations, err := s.store.ListAnnotations(r.Context(), run.ID)
	if err != nil {
		s.internalError(w, "listing annotations", err)

		return
	}

	if annotations == nil {
		annotations = []store.FailureAnnotation{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"annotations": annotations})
}

// handleCreateAnnotation records why a run failed. Runs themselves are
// never modified through the API.
func (s *server) handleCreateAnnotation(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}

	var req createAnnotationRequest

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAnnotationBody))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid request body"})

		return
	}

	req.Category = strings.TrimSpace(req.Category)

	switch {
	case req.Category == "":
		writeJSON(w, http.StatusBadRequest, errorResponse{"category is required"})

		return
	case len(req.Category) > maxAnnotationCategory:
		writeJSON(w, http.StatusBadRequest, errorResponse{"category is too long"})

		return
	}

	annotation := &store.FailureAnnotation{
		RunID:    run.ID,
		Category: req.Category,
		Note:     req.Note,
		Author:   annotatorFromContext(r.Context()),
	}

	if err := s.store.CreateAnnotation(r.Context(), annotation); err != nil {
		s.internalError(w, "creating annotation", err)

		return
	}

	s.log.WithFields(logrus.Fields{
		"harness_uid": run.HarnessUID,
		"author":      annotation.Author,
		"category":    annotation.Category,
	}).Info("Failure annotation added")

	writeJSON(w, http.StatusCreated, annotation)
}
