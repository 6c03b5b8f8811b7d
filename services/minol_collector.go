package services

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mfrey/minol-monitor/config"
	"github.com/mfrey/minol-monitor/database"
	"github.com/mfrey/minol-monitor/models"
)

// MinolCollector owns the refresh cycle: it polls the portal on a
// configurable interval, caches the latest snapshot, persists the
// extracted metrics and fans the snapshot out to MQTT and WebSocket
// listeners. Exactly one refresh runs at a time; the loop below is the
// only caller of refresh.
type MinolCollector struct {
	db        *sql.DB
	client    *MinolClient
	publisher *MQTTPublisher // nil when MQTT is not configured

	mu           sync.RWMutex
	snapshot     *models.Snapshot
	isRunning    bool
	intervalMin  int
	lastRefresh  time.Time
	lastError    string
	authRequired bool
	refreshCount int
	failureCount int
	listeners    []func(*models.Snapshot)

	stopChan    chan struct{}
	refreshChan chan struct{}
}

func NewMinolCollector(db *sql.DB, client *MinolClient, publisher *MQTTPublisher, intervalMinutes int) *MinolCollector {
	return &MinolCollector{
		db:          db,
		client:      client,
		publisher:   publisher,
		intervalMin: config.ClampScanInterval(intervalMinutes),
		stopChan:    make(chan struct{}),
		refreshChan: make(chan struct{}, 1),
	}
}

// Start launches the poll loop. Safe to call again after Stop; a new
// loop is started with a fresh stop channel.
func (mc *MinolCollector) Start() {
	mc.mu.Lock()
	if mc.isRunning {
		mc.mu.Unlock()
		return
	}
	mc.isRunning = true
	mc.stopChan = make(chan struct{})
	interval := mc.intervalMin
	mc.mu.Unlock()

	log.Printf("[Minol Collector] Starting portal collector (interval: %d minutes)", interval)
	go mc.run()
}

func (mc *MinolCollector) Stop() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if !mc.isRunning {
		return
	}
	close(mc.stopChan)
	mc.isRunning = false
	mc.client.Close()
	log.Println("[Minol Collector] Collector stopped")
}

func (mc *MinolCollector) run() {
	// Pin the channel belonging to this loop; Start replaces the field
	// on a later restart.
	mc.mu.RLock()
	stop := mc.stopChan
	mc.mu.RUnlock()

	mc.refresh()

	ticker := time.NewTicker(mc.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mc.refresh()
		case <-mc.refreshChan:
			mc.refresh()
			// Interval may have changed together with the trigger.
			ticker.Reset(mc.interval())
		case <-stop:
			return
		}
	}
}

func (mc *MinolCollector) interval() time.Duration {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return time.Duration(mc.intervalMin) * time.Minute
}

// TriggerRefresh requests an immediate refresh outside the regular
// schedule. Coalesces when one is already pending.
func (mc *MinolCollector) TriggerRefresh() {
	select {
	case mc.refreshChan <- struct{}{}:
	default:
	}
}

// UpdateInterval applies a new poll interval (whole minutes, clamped
// to 15..1440), persists it and resets the schedule. Returns the
// applied value.
func (mc *MinolCollector) UpdateInterval(minutes int) int {
	applied := config.ClampScanInterval(minutes)

	mc.mu.Lock()
	mc.intervalMin = applied
	mc.mu.Unlock()

	if err := database.SetSetting(mc.db, "scan_interval_minutes", fmt.Sprintf("%d", applied)); err != nil {
		log.Printf("[Minol Collector] ERROR: Failed to persist interval: %v", err)
	}

	log.Printf("[Minol Collector] Poll interval set to %d minutes", applied)
	mc.TriggerRefresh()
	return applied
}

// SetCredentials swaps the portal credentials at runtime. The session
// is dropped so the next refresh performs a fresh login.
func (mc *MinolCollector) SetCredentials(username, password string) {
	mc.client.SetCredentials(username, password)
	mc.client.Close()

	mc.mu.Lock()
	mc.authRequired = false
	mc.mu.Unlock()

	log.Println("[Minol Collector] Portal credentials updated")
	mc.TriggerRefresh()
}

// PortalUsername exposes the configured portal login for display.
func (mc *MinolCollector) PortalUsername() string {
	return mc.client.Username()
}

// OnSnapshot registers a callback invoked after every successful
// refresh with the new snapshot. Callbacks must not block.
func (mc *MinolCollector) OnSnapshot(fn func(*models.Snapshot)) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.listeners = append(mc.listeners, fn)
}

func (mc *MinolCollector) refresh() {
	log.Println("[Minol Collector] Refreshing portal data...")

	snapshot, err := mc.client.GetAllData()
	if err != nil {
		mc.mu.Lock()
		mc.failureCount++
		mc.lastError = err.Error()
		mc.authRequired = errors.Is(err, ErrAuth)
		mc.mu.Unlock()

		switch {
		case errors.Is(err, ErrAuth):
			log.Printf("[Minol Collector] ERROR: Authentication rejected by portal: %v", err)
			mc.logAction("auth_failed", err.Error())
		case errors.Is(err, ErrConnection):
			log.Printf("[Minol Collector] WARNING: Portal unreachable, retrying next cycle: %v", err)
			mc.logAction("connection_failed", err.Error())
		default:
			log.Printf("[Minol Collector] ERROR: Refresh failed: %v", err)
			mc.logAction("refresh_failed", err.Error())
		}
		return
	}

	metrics := MetricsFromSnapshot(snapshot)

	mc.mu.Lock()
	mc.snapshot = snapshot
	mc.lastRefresh = time.Now()
	mc.lastError = ""
	mc.authRequired = false
	mc.refreshCount++
	listeners := make([]func(*models.Snapshot), len(mc.listeners))
	copy(listeners, mc.listeners)
	mc.mu.Unlock()

	mc.persistMetrics(snapshot.FetchedAt, metrics)

	if mc.publisher != nil {
		mc.publisher.PublishMetrics(metrics)
	}
	for _, fn := range listeners {
		fn(snapshot)
	}

	mc.logAction("refresh_ok", fmt.Sprintf("%d metrics extracted", len(metrics)))
	log.Printf("[Minol Collector] SUCCESS: Snapshot refreshed (%d tenants, %d metrics)",
		len(snapshot.Tenants), len(metrics))
}

func (mc *MinolCollector) persistMetrics(readingTime time.Time, metrics []models.Metric) {
	for _, m := range metrics {
		_, err := mc.db.Exec(`
			INSERT INTO consumption_readings (reading_time, key_figure, metric, value, unit)
			VALUES (?, ?, ?, ?, ?)
		`, readingTime, m.KeyFigure, m.Name, m.Value, m.Unit)
		if err != nil {
			log.Printf("[Minol Collector] ERROR: Failed to store reading %s/%s: %v", m.KeyFigure, m.Name, err)
		}
	}
}

func (mc *MinolCollector) logAction(action, details string) {
	_, err := mc.db.Exec(`
		INSERT INTO collector_logs (action, details)
		VALUES (?, ?)
	`, action, details)
	if err != nil {
		log.Printf("[Minol Collector] ERROR: Failed to write collector log: %v", err)
	}
}

// GetSnapshot returns the latest snapshot, or nil before the first
// successful refresh. The snapshot is immutable once published.
func (mc *MinolCollector) GetSnapshot() *models.Snapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return mc.snapshot
}

// GetMetrics returns the flat metric view of the latest snapshot.
func (mc *MinolCollector) GetMetrics() []models.Metric {
	return MetricsFromSnapshot(mc.GetSnapshot())
}

func (mc *MinolCollector) GetStatus() models.CollectorStatus {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return models.CollectorStatus{
		Running:         mc.isRunning,
		IntervalMinutes: mc.intervalMin,
		LastRefresh:     mc.lastRefresh,
		LastError:       mc.lastError,
		AuthRequired:    mc.authRequired,
		RefreshCount:    mc.refreshCount,
		FailureCount:    mc.failureCount,
	}
}
