package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/mfrey/minol-monitor/models"
	"github.com/mfrey/minol-monitor/services"
)

const liveTestSecret = "live-test-secret"

func newLiveTestHandler() *LiveHandler {
	collector := services.NewMinolCollector(nil, services.NewMinolClient("tester", "secret"), nil, 60)
	return NewLiveHandler(collector, liveTestSecret)
}

func liveTestToken(t *testing.T, secret string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": 1,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + query
}

func TestLiveRejectsMissingToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(newLiveTestHandler().Serve))
	defer srv.Close()

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	if err == nil {
		conn.Close()
		t.Fatal("expected handshake to fail without a token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestLiveRejectsForeignToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(newLiveTestHandler().Serve))
	defer srv.Close()

	foreign := liveTestToken(t, "some-other-secret")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "?token="+foreign), nil)
	if err == nil {
		conn.Close()
		t.Fatal("expected handshake to fail with a foreign token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestLiveBroadcastsToAuthenticatedClient(t *testing.T) {
	h := newLiveTestHandler()
	srv := httptest.NewServer(http.HandlerFunc(h.Serve))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "?token="+liveTestToken(t, liveTestSecret)), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Registration happens just after the handshake; wait for it.
	deadline := time.Now().Add(2 * time.Second)
	for {
		h.mu.Lock()
		registered := len(h.clients) > 0
		h.mu.Unlock()
		if registered {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("client was never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.broadcast(&models.Snapshot{UserNumber: "0012345678"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got models.Snapshot
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("reading broadcast: %v", err)
	}
	if got.UserNumber != "0012345678" {
		t.Errorf("UserNumber = %q", got.UserNumber)
	}
}
