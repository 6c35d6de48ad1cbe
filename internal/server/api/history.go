package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ayusman/mudra/internal/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// HistoryHandler serves the persisted transcript log.
//
//	GET /api/history                 events, newest first
//	GET /api/history/counts          appends per gesture
//	GET /api/history/sessions        recorded sessions
//	GET /api/history/sessions/{id}   one recorded session
type HistoryHandler struct {
	store *store.Store
}

// NewHistoryHandler creates a new HistoryHandler with the given store.
func NewHistoryHandler(s *store.Store) *HistoryHandler {
	return &HistoryHandler{store: s}
}

// ServeHTTP routes the history endpoints.
func (h *HistoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/history")
	path = strings.Trim(path, "/")

	switch {
	case path == "":
		h.events(w, r)
	case path == "counts":
		h.counts(w, r)
	case path == "sessions":
		h.sessions(w, r)
	case strings.HasPrefix(path, "sessions/"):
		h.session(w, r, strings.TrimPrefix(path, "sessions/"))
	default:
		WriteError(w, http.StatusNotFound, "Not found")
	}
}

type listEventsResponse struct {
	Events []*store.Event `json:"events"`
}

type countsResponse struct {
	Counts map[string]int `json:"counts"`
}

type listSessionsResponse struct {
	Sessions []*store.Session `json:"sessions"`
}

// parseLimit reads ?limit=, defaulting to defaultHistoryLimit and capping
// at maxHistoryLimit.
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	return min(n, maxHistoryLimit), nil
}

func (h *HistoryHandler) events(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := r.URL.Query()
	filter := store.EventFilter{
		SessionID: q.Get("session"),
		Gesture:   q.Get("gesture"),
		Limit:     limit,
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = t
	}

	events, err := h.store.Events().List(filter)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to list events")
		return
	}
	if events == nil {
		events = []*store.Event{}
	}

	WriteJSON(w, http.StatusOK, listEventsResponse{Events: events})
}

func (h *HistoryHandler) counts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.Events().Counts()
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to count events")
		return
	}
	WriteJSON(w, http.StatusOK, countsResponse{Counts: counts})
}

func (h *HistoryHandler) sessions(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessions, err := h.store.Sessions().List(limit)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []*store.Session{}
	}

	WriteJSON(w, http.StatusOK, listSessionsResponse{Sessions: sessions})
}

func (h *HistoryHandler) session(w http.ResponseWriter, r *http.Request, id string) {
	s, err := h.store.Sessions().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Session not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "Failed to get session")
		return
	}
	WriteJSON(w, http.StatusOK, s)
}
