// Package admin exposes the node's introspection endpoints: health, session
// stats, and the SQL catalog, plus the Prometheus scrape handler.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/burrowdb/burrow/cfg"
	"github.com/burrowdb/burrow/engine"
	"github.com/burrowdb/burrow/protocol"
	"github.com/burrowdb/burrow/version"
)

// AdminHandlers handles admin API endpoints over the engine catalog and the
// session registry.
type AdminHandlers struct {
	engine   engine.QueryEngine
	sessions *protocol.SessionRegistry
	gate     *protocol.BusyGate
}

// NewAdminHandlers creates a new AdminHandlers instance.
func NewAdminHandlers(eng engine.QueryEngine, sessions *protocol.SessionRegistry,
	gate *protocol.BusyGate) *AdminHandlers {
	return &AdminHandlers{
		engine:   eng,
		sessions: sessions,
		gate:     gate,
	}
}

func (h *AdminHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if h.gate.Stopped() {
		status = "stopping"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]any{
		"status":   status,
		"node_id":  cfg.Config.NodeID,
		"sessions": h.sessions.Count(),
	}); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (h *AdminHandlers) handleNodeInfo(w http.ResponseWriter, r *http.Request) {
	v := version.Current()
	writeJSONResponse(w, map[string]any{
		"node_id": cfg.Config.NodeID,
		"version": map[string]any{
			"major":       v.Major,
			"minor":       v.Minor,
			"maintenance": v.Maintenance,
			"stage":       v.Stage,
		},
	})
}

func (h *AdminHandlers) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, h.sessions.Stats())
}

type catalogTable struct {
	Schema  string   `json:"schema"`
	Table   string   `json:"table"`
	Columns []string `json:"columns"`
}

func (h *AdminHandlers) handleCatalog(w http.ResponseWriter, r *http.Request) {
	catalog := make(map[string][]catalogTable)

	for _, cacheName := range h.engine.PublicCaches() {
		tables := make([]catalogTable, 0)
		for _, table := range h.engine.Types(cacheName) {
			columns := make([]string, 0, len(table.Fields))
			for _, field := range table.Fields {
				columns = append(columns, field.Name)
			}
			tables = append(tables, catalogTable{
				Schema:  table.SchemaName,
				Table:   table.TableName,
				Columns: columns,
			})
		}
		catalog[cacheName] = tables
	}

	writeJSONResponse(w, catalog)
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"data": data}); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
