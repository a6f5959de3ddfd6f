package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/store"
)

func (s *Server) handlePutDocument(w http.ResponseWriter, r *http.Request) {
	var doc store.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if doc.ID == "" {
		writeError(w, http.StatusBadRequest, "id required")
		return
	}
	if doc.Kind == "" {
		writeError(w, http.StatusBadRequest, "kind required")
		return
	}

	if err := s.db.PutDocument(&doc); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Change notification has already enqueued the document.
	writeJSON(w, http.StatusCreated, map[string]string{"id": doc.ID, "status": "queued"})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")

	doc, err := s.db.GetDocument(docID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")

	if _, err := s.db.GetDocument(docID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Requeue rather than Enqueue: operators use this to retry terminal
	// failures.
	s.q.Requeue(docID)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": docID, "status": "queued"})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.q.Stats())
}

func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	// Async: return 202 immediately.
	go func() {
		if n, err := s.orch.Drain(context.Background()); err != nil {
			s.log.Error("drain", zap.Error(err))
		} else if n > 0 {
			s.log.Info("drain finished", zap.Int("processed", n))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "draining"})
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	n, err := s.orch.Reindex()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "reindexed", "documents": n})
}

func (s *Server) handleListSuggestions(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	suggestions, err := s.db.ListSuggestions(status, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if suggestions == nil {
		suggestions = []store.Suggestion{}
	}
	writeJSON(w, http.StatusOK, suggestions)
}

func (s *Server) handleApproveSuggestion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "suggestionID")

	if err := s.orch.ApproveSuggestion(id); err != nil {
		writeSuggestionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": store.SuggestionApplied})
}

func (s *Server) handleRejectSuggestion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "suggestionID")

	if err := s.orch.RejectSuggestion(id); err != nil {
		writeSuggestionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": store.SuggestionRejected})
}

func writeSuggestionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "suggestion not found")
	case errors.Is(err, store.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
