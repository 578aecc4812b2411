package gateway

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/unpieceof/meemoo/internal/router"
)

// Handler serves the read-only status API.
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", g.handleHealth)
	r.Get("/api/route", handleRoute)
	r.Get("/api/memos", g.handleListMemos)
	return r
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	count, err := g.store.CountMemos(r.Context())
	if err != nil {
		log.Printf("[gateway] health check failed: %v", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "memos": count})
}

func handleRoute(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("text")
	if text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
		return
	}
	writeJSON(w, http.StatusOK, router.Route(text))
}

func (g *Gateway) handleListMemos(w http.ResponseWriter, r *http.Request) {
	page := parseIntParam(r, "page", 0)
	res, err := g.librarian.Run(r.Context(), router.LibRequest{Kind: router.LibList, Page: page})
	if err != nil {
		log.Printf("[gateway] list memos failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func parseIntParam(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
