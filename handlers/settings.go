package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/mfrey/minol-monitor/crypto"
	"github.com/mfrey/minol-monitor/database"
	"github.com/mfrey/minol-monitor/services"
)

type SettingsHandler struct {
	db        *sql.DB
	collector *services.MinolCollector
}

func NewSettingsHandler(db *sql.DB, collector *services.MinolCollector) *SettingsHandler {
	return &SettingsHandler{db: db, collector: collector}
}

type SettingsResponse struct {
	ScanIntervalMinutes int    `json:"scan_interval_minutes"`
	PortalUsername      string `json:"portal_username"`
}

type UpdateSettingsRequest struct {
	ScanIntervalMinutes int `json:"scan_interval_minutes"`
}

type UpdateCredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	status := h.collector.GetStatus()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SettingsResponse{
		ScanIntervalMinutes: status.IntervalMinutes,
		PortalUsername:      maskUsername(h.collector.PortalUsername()),
	})
}

func (h *SettingsHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req UpdateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if req.ScanIntervalMinutes <= 0 {
		http.Error(w, "scan_interval_minutes must be positive", http.StatusBadRequest)
		return
	}

	applied := h.collector.UpdateInterval(req.ScanIntervalMinutes)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"scan_interval_minutes": applied})
}

// UpdateCredentials validates new portal credentials with a real login
// before accepting them; accepted credentials are stored encrypted and
// swapped into the running collector.
func (h *SettingsHandler) UpdateCredentials(w http.ResponseWriter, r *http.Request) {
	var req UpdateCredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		http.Error(w, "username and password are required", http.StatusBadRequest)
		return
	}

	// Prove the credentials against the portal with a throwaway
	// session so the collector's own session stays untouched on
	// failure.
	probe := services.NewMinolClient(req.Username, req.Password)
	err := probe.Authenticate()
	probe.Close()

	if errors.Is(err, services.ErrAuth) {
		http.Error(w, "Portal rejected the credentials", http.StatusUnauthorized)
		return
	}
	if errors.Is(err, services.ErrConnection) {
		http.Error(w, "Portal unreachable, try again later", http.StatusBadGateway)
		return
	}
	if err != nil {
		http.Error(w, "Credential validation failed", http.StatusInternalServerError)
		return
	}

	if err := h.storeCredentials(req.Username, req.Password); err != nil {
		log.Printf("[Settings] ERROR: Failed to store credentials: %v", err)
		http.Error(w, "Failed to store credentials", http.StatusInternalServerError)
		return
	}

	h.collector.SetCredentials(req.Username, req.Password)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Credentials updated"})
}

func (h *SettingsHandler) storeCredentials(username, password string) error {
	key, err := crypto.GetEncryptionKey()
	if err != nil {
		return err
	}

	encUser, err := crypto.Encrypt(username, key)
	if err != nil {
		return err
	}
	encPass, err := crypto.Encrypt(password, key)
	if err != nil {
		return err
	}

	if err := database.SetSetting(h.db, "portal_username_enc", encUser); err != nil {
		return err
	}
	return database.SetSetting(h.db, "portal_password_enc", encPass)
}

// maskUsername keeps just enough of the login to recognize the account
// without exposing it.
func maskUsername(username string) string {
	if len(username) <= 3 {
		return "***"
	}
	return username[:3] + "***"
}

// LoadStoredCredentials decrypts portal credentials persisted by a
// previous credential update. Returns ok=false when none are stored.
func LoadStoredCredentials(db *sql.DB) (username, password string, ok bool) {
	encUser, err := database.GetSetting(db, "portal_username_enc")
	if err != nil || encUser == "" {
		return "", "", false
	}
	encPass, err := database.GetSetting(db, "portal_password_enc")
	if err != nil || encPass == "" {
		return "", "", false
	}

	key, err := crypto.GetEncryptionKey()
	if err != nil {
		return "", "", false
	}

	username, err = crypto.Decrypt(encUser, key)
	if err != nil {
		return "", "", false
	}
	password, err = crypto.Decrypt(encPass, key)
	if err != nil {
		return "", "", false
	}
	return username, password, username != ""
}

// LoadStoredInterval returns the persisted scan interval in minutes,
// or fallback when none is stored.
func LoadStoredInterval(db *sql.DB, fallback int) int {
	value, err := database.GetSetting(db, "scan_interval_minutes")
	if err != nil || value == "" {
		return fallback
	}
	minutes, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return minutes
}
