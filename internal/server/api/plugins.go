package api

import (
	"net/http"
	"strings"

	"github.com/ayusman/mudra/internal/plugin"
)

// PluginHandler lists installed plugins and rescans the plugin directory.
type PluginHandler struct {
	manager *plugin.Manager
}

// NewPluginHandler creates a new PluginHandler.
func NewPluginHandler(m *plugin.Manager) *PluginHandler {
	return &PluginHandler{manager: m}
}

type pluginResponse struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Actions     []string `json:"actions"`
}

type listPluginsResponse struct {
	Plugins []pluginResponse `json:"plugins"`
}

// ServeHTTP handles GET /api/plugins and POST /api/plugins/rescan.
func (h *PluginHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/plugins"), "/")

	switch {
	case path == "" && r.Method == http.MethodGet:
		h.list(w)
	case path == "rescan" && r.Method == http.MethodPost:
		if err := h.manager.Discover(); err != nil {
			WriteError(w, http.StatusInternalServerError, "Failed to scan plugins")
			return
		}
		h.list(w)
	case path == "" || path == "rescan":
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	default:
		WriteError(w, http.StatusNotFound, "Not found")
	}
}

func (h *PluginHandler) list(w http.ResponseWriter) {
	plugins := h.manager.List()
	response := listPluginsResponse{Plugins: make([]pluginResponse, 0, len(plugins))}
	for _, p := range plugins {
		actions := p.Manifest.Actions
		if actions == nil {
			actions = []string{}
		}
		response.Plugins = append(response.Plugins, pluginResponse{
			Name:        p.Manifest.Name,
			Version:     p.Manifest.Version,
			Description: p.Manifest.Description,
			Actions:     actions,
		})
	}
	WriteJSON(w, http.StatusOK, response)
}
