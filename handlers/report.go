package handlers

import (
	"net/http"
	"path/filepath"

	"github.com/mfrey/minol-monitor/services"
)

type ReportHandler struct {
	collector *services.MinolCollector
	generator *services.ReportGenerator
}

func NewReportHandler(collector *services.MinolCollector, generator *services.ReportGenerator) *ReportHandler {
	return &ReportHandler{collector: collector, generator: generator}
}

// GetReport renders a consumption report PDF from the latest snapshot
// and serves it for download.
func (h *ReportHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	snapshot := h.collector.GetSnapshot()
	if snapshot == nil {
		http.Error(w, "No snapshot available yet", http.StatusServiceUnavailable)
		return
	}

	path, err := h.generator.GenerateConsumptionReport(snapshot)
	if err != nil {
		http.Error(w, "Failed to generate report", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+filepath.Base(path)+"\"")
	http.ServeFile(w, r, path)
}
