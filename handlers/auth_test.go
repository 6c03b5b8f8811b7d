package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mfrey/minol-monitor/database"
	"github.com/mfrey/minol-monitor/middleware"
)

const authTestSecret = "auth-test-secret"

func newAuthTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.InitDB(":memory:")
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	// Migrations seed the default admin account.
	if err := database.RunMigrations(db); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	return db
}

func doLogin(h *AuthHandler, username, password string) *httptest.ResponseRecorder {
	body := `{"username":"` + username + `","password":"` + password + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Login(rec, req)
	return rec
}

func TestLoginIssuesValidToken(t *testing.T) {
	h := NewAuthHandler(newAuthTestDB(t), authTestSecret)

	rec := doLogin(h, "admin", "admin123")
	if rec.Code != http.StatusOK {
		t.Fatalf("login = %d: %s", rec.Code, rec.Body.String())
	}

	var resp LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("empty token")
	}

	userID, err := middleware.ParseUserID(authTestSecret, resp.Token)
	if err != nil {
		t.Fatalf("ParseUserID: %v", err)
	}
	if userID != resp.User.ID {
		t.Errorf("token user_id = %d, response user = %d", userID, resp.User.ID)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	h := NewAuthHandler(newAuthTestDB(t), authTestSecret)

	if rec := doLogin(h, "admin", "wrong"); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password = %d, want 401", rec.Code)
	}
	if rec := doLogin(h, "nobody", "admin123"); rec.Code != http.StatusUnauthorized {
		t.Errorf("unknown user = %d, want 401", rec.Code)
	}
}

func doChangePassword(h *AuthHandler, userID int, oldPassword, newPassword string) *httptest.ResponseRecorder {
	body := `{"old_password":"` + oldPassword + `","new_password":"` + newPassword + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/change-password", strings.NewReader(body))
	req = req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, userID))
	rec := httptest.NewRecorder()
	h.ChangePassword(rec, req)
	return rec
}

func TestChangePassword(t *testing.T) {
	h := NewAuthHandler(newAuthTestDB(t), authTestSecret)

	if rec := doChangePassword(h, 1, "admin123", "short"); rec.Code != http.StatusBadRequest {
		t.Errorf("short password = %d, want 400", rec.Code)
	}
	if rec := doChangePassword(h, 1, "not-the-password", "long-enough-pw"); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong old password = %d, want 401", rec.Code)
	}

	if rec := doChangePassword(h, 1, "admin123", "long-enough-pw"); rec.Code != http.StatusOK {
		t.Fatalf("change = %d: %s", rec.Code, rec.Body.String())
	}

	// Old password is dead, new one works.
	if rec := doLogin(h, "admin", "admin123"); rec.Code != http.StatusUnauthorized {
		t.Errorf("old password still accepted: %d", rec.Code)
	}
	if rec := doLogin(h, "admin", "long-enough-pw"); rec.Code != http.StatusOK {
		t.Errorf("new password rejected: %d", rec.Code)
	}
}
