package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/camara-coder/talking-game/internal/session"
	"github.com/camara-coder/talking-game/internal/store"
)

// defaultSessionListLimit is how many sessions are returned when the caller
// omits the ?limit= query parameter.
const defaultSessionListLimit = 20

type deps struct {
	cfg       config
	registry  *session.Registry
	store     *store.Store
	wsHandler http.Handler
}

// registerRoutes wires all HTTP endpoints to the shared mux.
func registerRoutes(mux *http.ServeMux, d deps) {
	mux.Handle("/ws", d.wsHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", handleHealth)
	mux.HandleFunc("POST /api/session/start", d.handleSessionStart)
	mux.HandleFunc("POST /api/session/stop", d.handleSessionStop)
	mux.HandleFunc("GET /api/sessions", d.handleSessionList)
	mux.HandleFunc("GET /api/session/{id}", d.handleSessionGet)
	mux.HandleFunc("DELETE /api/session/{id}", d.handleSessionDelete)
	mux.HandleFunc("GET /api/audio/{sessionId}/{file}", d.handleAudio)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (d deps) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		Language  string `json:"language"`
		Mode      string `json:"mode"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
	}
	if req.Language == "" {
		req.Language = "en"
	}
	if req.Mode == "" {
		req.Mode = "ptt"
	}

	var sess *session.Session
	if req.SessionID != "" {
		sess = d.registry.ResumeOrCreate(r.Context(), req.SessionID)
	} else {
		sess = d.registry.Create("", req.Language, req.Mode)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sess.Info(false))
}

// handleSessionStop ends a live conversation. Persisted history survives, so
// the same session id can be resumed later.
func (d deps) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		http.Error(w, "session_id required", http.StatusBadRequest)
		return
	}

	sess, ok := d.registry.Release(req.SessionID)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sess.Info(false))
}

func (d deps) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	includeTurns := r.URL.Query().Get("turns") != "false"

	if sess, ok := d.registry.Get(id); ok {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(sess.Info(includeTurns))
		return
	}

	if d.store != nil {
		info, turns, err := d.store.LoadSession(r.Context(), id)
		if err == nil {
			if includeTurns {
				info.Turns = turns
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(info)
			return
		}
	}

	http.Error(w, "session not found", http.StatusNotFound)
}

func (d deps) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	removed := d.registry.Delete(r.Context(), id)
	slog.Info("session delete requested", "session_id", id, "was_live", removed)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"deleted": true, "was_live": removed})
}

func (d deps) handleSessionList(w http.ResponseWriter, r *http.Request) {
	if d.store == nil {
		http.Error(w, "persistence disabled", http.StatusNotFound)
		return
	}
	limit := queryInt(r, "limit", defaultSessionListLimit)
	offset := queryInt(r, "offset", 0)
	sessions, total, err := d.store.ListSessions(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"sessions": sessions, "total": total})
}

// handleAudio serves synthesized reply artifacts from the audio directory.
func (d deps) handleAudio(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")
	file := r.PathValue("file")
	if strings.Contains(sessionID, "..") || strings.Contains(file, "..") || !strings.HasSuffix(file, ".wav") {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	path := filepath.Join(d.cfg.audioDir, sessionID, file)
	w.Header().Set("Content-Type", "audio/wav")
	http.ServeFile(w, r, path)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
