package proxy

import (
	"log/slog"
	"maps"
	"net/http"
	"slices"
)

// modelEntry uses a merged format compatible with both Anthropic and OpenAI clients,
// combining fields from both list APIs. Clients ignore the fields they do not know.
type modelEntry struct {
	ID          string `json:"id"`
	Object      string `json:"object"`
	Type        string `json:"type"`
	Created     int64  `json:"created"`
	OwnedBy     string `json:"owned_by"`
	DisplayName string `json:"display_name"`
	CreatedAt   string `json:"created_at"`
}

type modelList struct {
	Object  string       `json:"object"`
	Data    []modelEntry `json:"data"`
	HasMore bool         `json:"has_more"`
	FirstID *string      `json:"first_id"`
	LastID  *string      `json:"last_id"`
}

// modelsHandler lists the configured model aliases as "<provider>:<alias>", which the
// chat and messages endpoints resolve. Providers are not queried.
func (p *Proxy) modelsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list := modelList{Object: "list", Data: []modelEntry{}}
		for _, prov := range p.providers.All() {
			aliases := prov.Aliases()
			for _, alias := range slices.Sorted(maps.Keys(aliases)) {
				list.Data = append(list.Data, modelEntry{
					ID:          prov.Name() + ":" + alias,
					Object:      "model",
					Type:        "model",
					OwnedBy:     prov.Name(),
					DisplayName: aliases[alias],
					CreatedAt:   "1970-01-01T00:00:00Z",
				})
			}
		}
		if n := len(list.Data); n > 0 {
			list.FirstID = &list.Data[0].ID
			list.LastID = &list.Data[n-1].ID
		}

		writeJSON(r.Context(), w, list, http.StatusOK)
	}
}

// aliasesHandler lists model aliases grouped by provider.
func (p *Proxy) aliasesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		aliases := make(map[string]map[string]string)
		total := 0
		for _, prov := range p.providers.All() {
			if a := prov.Aliases(); len(a) > 0 {
				aliases[prov.Name()] = a
				total += len(a)
			}
		}
		if total == 0 {
			slog.DebugContext(r.Context(), "no model aliases configured")
		}

		writeJSON(r.Context(), w, map[string]any{
			"object":  "list",
			"aliases": aliases,
			"total":   total,
		}, http.StatusOK)
	}
}
