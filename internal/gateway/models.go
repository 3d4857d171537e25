package gateway

import (
	"net/http"

	"github.com/relaymeter/llm-gateway/internal/config"
)

// modelEntry is one row of the public model listing.
type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

type modelList struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}

// handleListModels returns the enabled models with vendor attribution.
// Requires no authentication.
func (g *Gateway) handleListModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, codeBadRequest, "method not allowed")
		return
	}
	models, err := g.store.EnabledModels()
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, "model listing failed")
		return
	}
	list := modelList{Object: "list", Data: make([]modelEntry, 0, len(models))}
	for _, m := range models {
		list.Data = append(list.Data, modelEntry{
			ID:      m.ID,
			Object:  "model",
			OwnedBy: m.Vendor,
		})
	}
	writeJSON(w, http.StatusOK, list)
}

// handleRecentUsage returns the newest ledger entries.
func (g *Gateway) handleRecentUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, codeBadRequest, "method not allowed")
		return
	}
	records, err := g.store.RecentUsage(config.DefaultRecentUsageLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, "usage listing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": records})
}
