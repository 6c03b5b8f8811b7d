package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/mfrey/minol-monitor/models"
	"github.com/mfrey/minol-monitor/services"
)

type DashboardHandler struct {
	db        *sql.DB
	collector *services.MinolCollector
}

func NewDashboardHandler(db *sql.DB, collector *services.MinolCollector) *DashboardHandler {
	return &DashboardHandler{db: db, collector: collector}
}

// GetSnapshot returns the latest refresh-cycle result. 204 until the
// first successful refresh.
func (h *DashboardHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot := h.collector.GetSnapshot()
	if snapshot == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snapshot)
}

// GetMetrics returns the flat extracted metric view of the latest
// snapshot.
func (h *DashboardHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.collector.GetMetrics())
}

func (h *DashboardHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.collector.GetStatus())
}

// TriggerRefresh requests an immediate poll cycle.
func (h *DashboardHandler) TriggerRefresh(w http.ResponseWriter, r *http.Request) {
	h.collector.TriggerRefresh()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "refresh scheduled"})
}

// GetReadings returns stored metric history for charting.
func (h *DashboardHandler) GetReadings(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	if period == "" {
		period = "30d"
	}

	var startTime time.Time
	switch period {
	case "24h":
		startTime = time.Now().Add(-24 * time.Hour)
	case "7d":
		startTime = time.Now().Add(-7 * 24 * time.Hour)
	case "30d":
		startTime = time.Now().Add(-30 * 24 * time.Hour)
	case "365d":
		startTime = time.Now().Add(-365 * 24 * time.Hour)
	default:
		startTime = time.Now().Add(-30 * 24 * time.Hour)
	}

	query := `
		SELECT id, reading_time, key_figure, metric, value, unit
		FROM consumption_readings
		WHERE reading_time >= ?
	`
	args := []interface{}{startTime}

	if keyFigure := r.URL.Query().Get("key_figure"); keyFigure != "" {
		query += " AND key_figure = ?"
		args = append(args, keyFigure)
	}
	if metric := r.URL.Query().Get("metric"); metric != "" {
		query += " AND metric = ?"
		args = append(args, metric)
	}
	query += " ORDER BY reading_time ASC"

	rows, err := h.db.Query(query, args...)
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	readings := []models.ConsumptionReading{}
	for rows.Next() {
		var reading models.ConsumptionReading
		var unit sql.NullString
		if err := rows.Scan(&reading.ID, &reading.ReadingTime, &reading.KeyFigure,
			&reading.Metric, &reading.Value, &unit); err == nil {
			reading.Unit = unit.String
			readings = append(readings, reading)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(readings)
}

func (h *DashboardHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	limit := r.URL.Query().Get("limit")
	if limit == "" {
		limit = "100"
	}

	rows, err := h.db.Query(`
		SELECT id, action, details, created_at
		FROM collector_logs
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)

	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	logs := []models.CollectorLog{}
	for rows.Next() {
		var l models.CollectorLog
		var details sql.NullString
		if err := rows.Scan(&l.ID, &l.Action, &details, &l.CreatedAt); err == nil {
			l.Details = details.String
			logs = append(logs, l)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(logs)
}
