package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ayusman/mudra/internal/plugin"
	"github.com/ayusman/mudra/internal/store"
)

// LabelSet reports whether a gesture label is part of the vocabulary.
type LabelSet interface {
	Contains(label string) bool
}

// PluginLookup finds an installed plugin by name.
type PluginLookup interface {
	Get(name string) (*plugin.Plugin, error)
}

// ActionHandler handles HTTP requests for action bindings.
type ActionHandler struct {
	store   *store.Store
	labels  LabelSet
	plugins PluginLookup
}

// NewActionHandler creates a new ActionHandler. When labels or plugins is
// nil, the corresponding check is skipped on create and update.
func NewActionHandler(s *store.Store, labels LabelSet, plugins PluginLookup) *ActionHandler {
	return &ActionHandler{store: s, labels: labels, plugins: plugins}
}

// ServeHTTP routes /api/actions and /api/actions/{id}.
func (h *ActionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/actions")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			h.list(w, r)
		case http.MethodPost:
			h.create(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	id := path
	switch r.Method {
	case http.MethodGet:
		h.get(w, r, id)
	case http.MethodPut:
		h.update(w, r, id)
	case http.MethodDelete:
		h.delete(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type createActionRequest struct {
	Gesture    string          `json:"gesture"`
	PluginName string          `json:"plugin_name"`
	ActionName string          `json:"action_name"`
	Config     json.RawMessage `json:"config"`
	Enabled    *bool           `json:"enabled"`
}

type updateActionRequest struct {
	Gesture    string          `json:"gesture"`
	PluginName string          `json:"plugin_name"`
	ActionName string          `json:"action_name"`
	Config     json.RawMessage `json:"config"`
	Enabled    *bool           `json:"enabled"`
}

type actionResponse struct {
	ID         string          `json:"id"`
	Gesture    string          `json:"gesture"`
	PluginName string          `json:"plugin_name"`
	ActionName string          `json:"action_name"`
	Config     json.RawMessage `json:"config"`
	Enabled    bool            `json:"enabled"`
	CreatedAt  string          `json:"created_at"`
}

type listActionsResponse struct {
	Actions []actionResponse `json:"actions"`
}

func toActionResponse(a *store.Action) actionResponse {
	config := a.Config
	if len(config) == 0 {
		config = json.RawMessage("{}")
	}
	return actionResponse{
		ID:         a.ID,
		Gesture:    a.Gesture,
		PluginName: a.PluginName,
		ActionName: a.ActionName,
		Config:     config,
		Enabled:    a.Enabled,
		CreatedAt:  formatTime(a.CreatedAt),
	}
}

// list handles GET /api/actions. ?gesture= narrows to one label.
func (h *ActionHandler) list(w http.ResponseWriter, r *http.Request) {
	actions, err := h.store.Actions().List()
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to list actions")
		return
	}

	gesture := r.URL.Query().Get("gesture")
	response := listActionsResponse{
		Actions: make([]actionResponse, 0, len(actions)),
	}
	for _, a := range actions {
		if gesture != "" && a.Gesture != gesture {
			continue
		}
		response.Actions = append(response.Actions, toActionResponse(a))
	}

	WriteJSON(w, http.StatusOK, response)
}

func (h *ActionHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	action, err := h.store.Actions().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Action not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "Failed to get action")
		return
	}

	WriteJSON(w, http.StatusOK, toActionResponse(action))
}

// create handles POST /api/actions. A label may carry several bindings but
// the same plugin action is bound at most once per label.
func (h *ActionHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.Gesture == "" {
		WriteError(w, http.StatusBadRequest, "gesture is required")
		return
	}
	if req.PluginName == "" {
		WriteError(w, http.StatusBadRequest, "plugin_name is required")
		return
	}
	if req.ActionName == "" {
		WriteError(w, http.StatusBadRequest, "action_name is required")
		return
	}
	if msg := h.validate(req.Gesture, req.PluginName, req.ActionName); msg != "" {
		WriteError(w, http.StatusBadRequest, msg)
		return
	}

	existing, err := h.store.Actions().List()
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to check existing actions")
		return
	}
	for _, a := range existing {
		if a.Gesture == req.Gesture && a.PluginName == req.PluginName && a.ActionName == req.ActionName {
			WriteError(w, http.StatusConflict, "Action already bound to this gesture")
			return
		}
	}

	config := req.Config
	if config == nil {
		config = json.RawMessage("{}")
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	action := &store.Action{
		ID:         uuid.New().String(),
		Gesture:    req.Gesture,
		PluginName: req.PluginName,
		ActionName: req.ActionName,
		Config:     config,
		Enabled:    enabled,
	}

	if err := h.store.Actions().Create(action); err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to create action")
		return
	}

	WriteJSON(w, http.StatusCreated, toActionResponse(action))
}

func (h *ActionHandler) update(w http.ResponseWriter, r *http.Request, id string) {
	action, err := h.store.Actions().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Action not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "Failed to get action")
		return
	}

	var req updateActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.Gesture != "" {
		action.Gesture = req.Gesture
	}
	if req.PluginName != "" {
		action.PluginName = req.PluginName
	}
	if req.ActionName != "" {
		action.ActionName = req.ActionName
	}
	if req.Config != nil {
		action.Config = req.Config
	}
	if req.Enabled != nil {
		action.Enabled = *req.Enabled
	}
	if msg := h.validate(action.Gesture, action.PluginName, action.ActionName); msg != "" {
		WriteError(w, http.StatusBadRequest, msg)
		return
	}

	if err := h.store.Actions().Update(action); err != nil {
		WriteError(w, http.StatusInternalServerError, "Failed to update action")
		return
	}

	WriteJSON(w, http.StatusOK, toActionResponse(action))
}

func (h *ActionHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	err := h.store.Actions().Delete(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Action not found")
			return
		}
		WriteError(w, http.StatusInternalServerError, "Failed to delete action")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// validate returns a client-facing message when the binding refers to an
// unknown label, plugin or action.
func (h *ActionHandler) validate(gesture, pluginName, actionName string) string {
	if h.labels != nil && !h.labels.Contains(gesture) {
		return "Gesture is not in the vocabulary"
	}
	if h.plugins == nil {
		return ""
	}
	p, err := h.plugins.Get(pluginName)
	if err != nil {
		return "Plugin not found"
	}
	if !p.Manifest.SupportsAction(actionName) {
		return "Plugin does not support action"
	}
	return ""
}
