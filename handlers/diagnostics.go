package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/mfrey/minol-monitor/services"
)

type DiagnosticsHandler struct {
	collector *services.MinolCollector
}

func NewDiagnosticsHandler(collector *services.MinolCollector) *DiagnosticsHandler {
	return &DiagnosticsHandler{collector: collector}
}

// GetDiagnostics exports collector status and the latest snapshot for
// support bundles. Credentials and tenant PII are redacted; the raw
// snapshot never leaves through this endpoint.
func (h *DiagnosticsHandler) GetDiagnostics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   h.collector.GetStatus(),
		"snapshot": services.RedactSnapshot(h.collector.GetSnapshot()),
	})
}
