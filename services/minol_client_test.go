package services

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

// fakePortal mimics the SAP NetWeaver login dance: a login page that
// seeds cookies, a j_security_check endpoint that either grants an SSO
// cookie and redirects into the portal or silently returns the login
// page again, and the EMData REST surface behind it.
type fakePortal struct {
	srv       *httptest.Server
	grant     bool
	authCount int32
}

func newFakePortal(grant bool, data http.HandlerFunc) *fakePortal {
	p := &fakePortal{grant: grant}

	mux := http.NewServeMux()
	mux.HandleFunc(minolLoginPath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc(minolSecurityCheckPath, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&p.authCount, 1)
		if p.grant {
			http.SetCookie(w, &http.Cookie{Name: ssoCookieName, Value: "opaque-token", Path: "/"})
			http.Redirect(w, r, "/irj/portal", http.StatusFound)
			return
		}
		// Bad credentials: SAP answers 200 with the login page and no
		// SSO cookie.
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/irj/portal", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if data != nil {
		mux.HandleFunc(minolEMDataPath+"/", data)
	}

	p.srv = httptest.NewServer(mux)
	return p
}

func (p *fakePortal) close()     { p.srv.Close() }
func (p *fakePortal) auths() int { return int(atomic.LoadInt32(&p.authCount)) }

func (p *fakePortal) newClient() *MinolClient {
	c := NewMinolClient("tester", "secret")
	c.BaseURL = p.srv.URL
	return c
}

func TestAuthenticateSuccess(t *testing.T) {
	portal := newFakePortal(true, nil)
	defer portal.close()

	client := portal.newClient()
	if err := client.Authenticate(); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if portal.auths() != 1 {
		t.Errorf("expected 1 login attempt, got %d", portal.auths())
	}
}

func TestAuthenticateMissingCookie(t *testing.T) {
	portal := newFakePortal(false, nil)
	defer portal.close()

	err := portal.newClient().Authenticate()
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
}

func TestAuthenticateBouncedBackToLogin(t *testing.T) {
	// Cookie issued but the response never leaves j_security_check:
	// still a failed login.
	mux := http.NewServeMux()
	mux.HandleFunc(minolLoginPath, func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc(minolSecurityCheckPath, func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: ssoCookieName, Value: "stale", Path: "/"})
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewMinolClient("tester", "secret")
	client.BaseURL = srv.URL

	err := client.Authenticate()
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
}

func TestRequestReauthenticatesOnceOnExpiredSession(t *testing.T) {
	var dataCalls int32
	portal := newFakePortal(true, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&dataCalls, 1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`[{"userNumber":"0012345678","name":"Erika Musterfrau"}]`))
	})
	defer portal.close()

	tenants, err := portal.newClient().GetUserTenants()
	if err != nil {
		t.Fatalf("GetUserTenants: %v", err)
	}
	if len(tenants) != 1 || tenants[0].UserNumber != "0012345678" {
		t.Fatalf("tenants = %+v", tenants)
	}
	if portal.auths() != 1 {
		t.Errorf("expected exactly 1 re-authentication, got %d", portal.auths())
	}
	if atomic.LoadInt32(&dataCalls) != 2 {
		t.Errorf("expected 2 data attempts, got %d", dataCalls)
	}
}

func TestRequestRetriesOnlyOnce(t *testing.T) {
	portal := newFakePortal(true, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	defer portal.close()

	// Second 401 after a successful re-login degrades to no data.
	tenants, err := portal.newClient().GetUserTenants()
	if err != nil {
		t.Fatalf("GetUserTenants: %v", err)
	}
	if len(tenants) != 0 {
		t.Fatalf("expected no tenants, got %+v", tenants)
	}
	if portal.auths() != 1 {
		t.Errorf("expected exactly 1 re-authentication, got %d", portal.auths())
	}
}

func TestRequestTransportFailureBecomesConnectionError(t *testing.T) {
	// The login dance works, but every data request dies on the wire.
	portal := newFakePortal(true, func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Error("test server does not support hijacking")
			return
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			return
		}
		conn.Close()
	})
	defer portal.close()

	_, err := portal.newClient().GetUserTenants()
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
	if portal.auths() != 1 {
		t.Errorf("expected exactly 1 re-authentication, got %d", portal.auths())
	}
}

func TestRequestPropagatesAuthFailure(t *testing.T) {
	portal := newFakePortal(false, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	defer portal.close()

	_, err := portal.newClient().GetUserTenants()
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
}

func TestRequestServerErrorYieldsNoData(t *testing.T) {
	portal := newFakePortal(true, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer portal.close()

	tenants, err := portal.newClient().GetUserTenants()
	if err != nil {
		t.Fatalf("a 500 must not be an error, got %v", err)
	}
	if len(tenants) != 0 {
		t.Fatalf("expected no tenants, got %+v", tenants)
	}
	if portal.auths() != 0 {
		t.Errorf("a 500 must not trigger re-authentication, got %d", portal.auths())
	}
}

func TestRequestEmptyBodyYieldsNoData(t *testing.T) {
	portal := newFakePortal(true, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("  "))
	})
	defer portal.close()

	tenants, err := portal.newClient().GetUserTenants()
	if err != nil || len(tenants) != 0 {
		t.Fatalf("expected empty tenants without error, got %+v, %v", tenants, err)
	}
}

func TestGetAllData(t *testing.T) {
	portal := newFakePortal(true, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getUserTenants"):
			w.Write([]byte(`[{"userNumber":"0012345678","name":"Erika Musterfrau","addrCity":"Leinfelden"}]`))

		case strings.HasSuffix(r.URL.Path, "/getLayerInfo"):
			var sel selectionCriteria
			json.NewDecoder(r.Body).Decode(&sel)
			if sel.RefObject != "PREV_YEAR" {
				t.Errorf("layer info refObject = %q, want PREV_YEAR", sel.RefObject)
			}
			if sel.UserNum == nil || *sel.UserNum != "0012345678" {
				t.Errorf("layer info userNum = %v, want 0012345678", sel.UserNum)
			}
			w.Write([]byte(`{"views":[{"dlgKey":"dashboard"},{"dlgKey":"0001","consType":"WARMWASSER"}]}`))

		case strings.HasSuffix(r.URL.Path, "/readData"):
			var sel selectionCriteria
			json.NewDecoder(r.Body).Decode(&sel)
			if sel.DlgKey == "dashboard" {
				if sel.RefObject != "DIN_AVG" {
					t.Errorf("dashboard refObject = %q, want DIN_AVG", sel.RefObject)
				}
				w.Write([]byte(`{"dashboard":[{"keyFigure":"HEIZUNG","data1":[{"categoryInt":"CURR","value":1234.5}]}]}`))
				return
			}
			if sel.RefObject != "UPPER_LEVEL" {
				t.Errorf("drill-down refObject = %q, want UPPER_LEVEL", sel.RefObject)
			}
			if sel.ConsType != "WARMWASSER" {
				t.Errorf("drill-down consType = %q, want WARMWASSER", sel.ConsType)
			}
			w.Write([]byte(`{"rooms":[{"gerNr":"111","raum":"Bad","consumptionBew":3.2}]}`))

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	defer portal.close()

	snapshot, err := portal.newClient().GetAllData()
	if err != nil {
		t.Fatalf("GetAllData: %v", err)
	}

	if snapshot.UserNumber != "0012345678" {
		t.Errorf("UserNumber = %q", snapshot.UserNumber)
	}
	if snapshot.TenantInfo.Name != "Erika Musterfrau" {
		t.Errorf("TenantInfo.Name = %q", snapshot.TenantInfo.Name)
	}
	if snapshot.Dashboard == nil || len(snapshot.Dashboard.Dashboard) != 1 {
		t.Fatalf("Dashboard = %+v", snapshot.Dashboard)
	}
	if rooms := snapshot.Rooms["WARMWASSER"]; len(rooms) != 1 || rooms[0].GerNr != "111" {
		t.Errorf("Rooms = %+v", snapshot.Rooms)
	}

	metrics := MetricsFromSnapshot(snapshot)
	found := false
	for _, m := range metrics {
		if m.KeyFigure == "HEIZUNG" && m.Name == "current_year" && m.Value == 1234.5 {
			found = true
		}
	}
	if !found {
		t.Errorf("HEIZUNG/current_year missing from metrics: %+v", metrics)
	}
}

func TestGetAllDataWithoutTenants(t *testing.T) {
	portal := newFakePortal(true, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/getUserTenants") {
			w.Write([]byte(`[]`))
			return
		}
		// Layer info and dashboard have nothing to report.
	})
	defer portal.close()

	snapshot, err := portal.newClient().GetAllData()
	if err != nil {
		t.Fatalf("GetAllData: %v", err)
	}
	if len(snapshot.Tenants) != 0 || snapshot.UserNumber != "" {
		t.Errorf("snapshot = %+v", snapshot)
	}
	if snapshot.LayerInfo == nil || len(snapshot.LayerInfo) != 0 {
		t.Errorf("LayerInfo should be an empty map, got %+v", snapshot.LayerInfo)
	}
	if snapshot.Dashboard != nil {
		t.Errorf("Dashboard should be nil, got %+v", snapshot.Dashboard)
	}
}

func TestSetCredentialsAndClose(t *testing.T) {
	client := NewMinolClient("old", "old-secret")
	client.SetCredentials("new", "new-secret")
	if client.Username() != "new" {
		t.Errorf("Username = %q, want new", client.Username())
	}

	// Close before any session exists, and again after one is created.
	client.Close()
	client.ensureSession()
	client.Close()
	client.Close()
}
