package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/quorumlabs/quorum/internal/logging"
)

// NewHTTPHandler builds the optional read-only status surface. It never
// mutates state; mutation stays on the tool surface where the turn
// protocol can enforce ordering.
func NewHTTPHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"project": deps.Config.Project,
		})
	})

	r.Get("/sessions", func(w http.ResponseWriter, req *http.Request) {
		sessions, err := deps.Council.ListActive()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		views := make([]sessionView, 0, len(sessions))
		for _, session := range sessions {
			views = append(views, viewOf(session))
		}
		writeJSON(w, http.StatusOK, views)
	})

	r.Get("/sessions/{id}", func(w http.ResponseWriter, req *http.Request) {
		session, err := deps.Council.Get(chi.URLParam(req, "id"))
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, viewOf(session))
	})

	r.Get("/archives", func(w http.ResponseWriter, req *http.Request) {
		archives, err := deps.Council.ListArchives()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"archives": archives})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug().Err(err).Msg("write status response")
	}
}
