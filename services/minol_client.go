package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mfrey/minol-monitor/models"
)

// Error kinds surfaced by the client. ErrAuth means the portal
// rejected the credentials or did not honor the session; ErrConnection
// means the portal could not be reached after the retry budget.
// Everything else degrades to "no data" (nil payload, nil error).
var (
	ErrAuth       = errors.New("minol: authentication failed")
	ErrConnection = errors.New("minol: portal unreachable")
)

const (
	minolBaseURL = "https://webservices.minol.com"

	minolLoginPath = "/irj/servlet/prt/portal/prttarget/uidpwlogon" +
		"/prtroot/com.sap.portal.navigation.portallauncher.default"
	minolSecurityCheckPath = "/irj/servlet/prt/portal/prtroot/j_security_check"
	minolEMDataPath        = "/minol.com~kundenportal~em~web/rest/EMData"

	// Cookie SAP NetWeaver issues on a successful login. Its presence
	// is the only reliable success signal; the login POST itself
	// returns 200 even for bad credentials.
	ssoCookieName = "MYSAPSSO2"

	minolUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/124.0.0.0 Safari/537.36"

	requestTimeout = 30 * time.Second
)

// MinolClient talks to the Minol eMonitoring portal (SAP NetWeaver).
//
// Login flow: GET the portal login page to seed session cookies, POST
// the credentials to j_security_check, then verify the MYSAPSSO2
// cookie was issued. Data flow for a tenant user: getUserTenants,
// getLayerInfo, readData (dashboard), plus best-effort room-level
// drill-down views.
type MinolClient struct {
	// BaseURL is overridable for tests; defaults to the production
	// portal.
	BaseURL string

	mu       sync.Mutex
	username string
	password string
	session  *http.Client
}

func NewMinolClient(username, password string) *MinolClient {
	return &MinolClient{
		BaseURL:  minolBaseURL,
		username: username,
		password: password,
	}
}

// SetCredentials replaces the portal credentials. The next request
// that needs to (re-)authenticate uses the new pair.
func (c *MinolClient) SetCredentials(username, password string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.username = username
	c.password = password
}

// Username returns the configured portal login (for display; the
// secret is never exposed).
func (c *MinolClient) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// ensureSession returns the live cookie-bearing HTTP session, creating
// one if none exists or the previous one was closed.
func (c *MinolClient) ensureSession() *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		jar, _ := cookiejar.New(nil)
		c.session = &http.Client{
			Jar:     jar,
			Timeout: requestTimeout,
		}
	}
	return c.session
}

// Close drops the session. Idempotent; a later call recreates a fresh
// session with an empty cookie jar.
func (c *MinolClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		c.session.CloseIdleConnections()
		c.session = nil
	}
}

// Authenticate performs the full login handshake. It never propagates
// transport errors directly; they are wrapped as ErrConnection.
func (c *MinolClient) Authenticate() error {
	sess := c.ensureSession()

	c.mu.Lock()
	username, password := c.username, c.password
	c.mu.Unlock()

	// Seed SAP session cookies.
	req, err := http.NewRequest(http.MethodGet, c.BaseURL+minolLoginPath, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", minolUserAgent)

	resp, err := sess.Do(req)
	if err != nil {
		return fmt.Errorf("%w: cannot reach login page: %v", ErrConnection, err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	// Submit credentials.
	form := url.Values{
		"j_user":     {username},
		"j_password": {password},
	}
	req, err = http.NewRequest(http.MethodPost, c.BaseURL+minolSecurityCheckPath, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", minolUserAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err = sess.Do(req)
	if err != nil {
		return fmt.Errorf("%w: login submit failed: %v", ErrConnection, err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if !c.hasSSOCookie(sess) {
		return fmt.Errorf("%w: no %s cookie received", ErrAuth, ssoCookieName)
	}

	// Even with a cookie present, SAP bounces bad sessions back to
	// the login check URL.
	finalURL := strings.ToLower(resp.Request.URL.String())
	if strings.Contains(finalURL, "j_security_check") {
		return fmt.Errorf("%w: redirected back to login", ErrAuth)
	}

	log.Println("[Minol Client] Authentication successful")
	return nil
}

func (c *MinolClient) hasSSOCookie(sess *http.Client) bool {
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return false
	}
	for _, cookie := range sess.Jar.Cookies(base) {
		if cookie.Name == ssoCookieName {
			return true
		}
	}
	return false
}

// request issues one attempt, and on 401/403 or a transport failure
// re-authenticates exactly once and retries once more. A non-2xx
// status other than the first 401/403 is logged and yields no data
// (nil, nil); so does an empty body. Callers must treat nil data as
// absence, not failure.
func (c *MinolClient) request(method, requestURL string, payload interface{}) (json.RawMessage, error) {
	sess := c.ensureSession()

	for attempt := 0; attempt < 2; attempt++ {
		var body io.Reader
		if method == http.MethodPost && payload != nil {
			data, err := json.Marshal(payload)
			if err != nil {
				return nil, err
			}
			body = bytes.NewReader(data)
		}

		req, err := http.NewRequest(method, requestURL, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", minolUserAgent)
		if body != nil {
			req.Header.Set("Content-Type", "application/json; charset=utf-8")
		}

		resp, err := sess.Do(req)
		if err != nil {
			if attempt == 0 {
				log.Printf("[Minol Client] Request failed (%v), re-authenticating", err)
				if authErr := c.Authenticate(); authErr != nil {
					return nil, authErr
				}
				continue
			}
			return nil, fmt.Errorf("%w: cannot fetch %s: %v", ErrConnection, requestURL, err)
		}

		if (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) && attempt == 0 {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			log.Printf("[Minol Client] Session expired (HTTP %d), re-authenticating", resp.StatusCode)
			if authErr := c.Authenticate(); authErr != nil {
				return nil, authErr
			}
			continue
		}

		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			log.Printf("[Minol Client] ERROR: %s %s returned HTTP %d", method, requestURL, resp.StatusCode)
			return nil, nil
		}

		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			if attempt == 0 {
				log.Printf("[Minol Client] Read failed (%v), re-authenticating", readErr)
				if authErr := c.Authenticate(); authErr != nil {
					return nil, authErr
				}
				continue
			}
			return nil, fmt.Errorf("%w: cannot read %s: %v", ErrConnection, requestURL, readErr)
		}

		if len(bytes.TrimSpace(data)) == 0 {
			return nil, nil
		}
		return json.RawMessage(data), nil
	}

	return nil, nil
}

func (c *MinolClient) getJSON(path string) (json.RawMessage, error) {
	return c.request(http.MethodGet, c.BaseURL+minolEMDataPath+path, nil)
}

func (c *MinolClient) postJSON(path string, payload interface{}) (json.RawMessage, error) {
	return c.request(http.MethodPost, c.BaseURL+minolEMDataPath+path, payload)
}

// selectionCriteria is the fixed request body shape of the EMData
// endpoints. refObject varies by call purpose.
type selectionCriteria struct {
	UserNum      *string `json:"userNum"`
	Layer        string  `json:"layer"`
	Scale        string  `json:"scale"`
	ChartRefUnit string  `json:"chartRefUnit"`
	RefObject    string  `json:"refObject"`
	ConsType     string  `json:"consType"`
	DashBoardKey string  `json:"dashBoardKey"`
	ValuesInKWH  bool    `json:"valuesInKWH"`
	DlgKey       string  `json:"dlgKey,omitempty"`
}

func newSelection(userNum, refObject, consType, dlgKey string) selectionCriteria {
	sel := selectionCriteria{
		Layer:        "NE",
		Scale:        "CALMONTH",
		ChartRefUnit: "ABS",
		RefObject:    refObject,
		ConsType:     consType,
		DashBoardKey: "PE",
		ValuesInKWH:  true,
		DlgKey:       dlgKey,
	}
	if userNum != "" {
		sel.UserNum = &userNum
	}
	return sel
}

// GetUserTenants returns the tenant units of the logged-in user, or an
// empty list when the portal returns nothing usable.
func (c *MinolClient) GetUserTenants() ([]models.Tenant, error) {
	data, err := c.getJSON("/getUserTenants")
	if err != nil {
		return nil, err
	}
	if data == nil {
		return []models.Tenant{}, nil
	}

	var tenants []models.Tenant
	if err := json.Unmarshal(data, &tenants); err != nil {
		log.Printf("[Minol Client] WARNING: Unexpected tenant list shape: %v", err)
		return []models.Tenant{}, nil
	}
	return tenants, nil
}

// GetLayerInfo fetches the available views and periods for the NE
// (tenant) layer. A nil map means "no data".
func (c *MinolClient) GetLayerInfo(userNum string) (map[string]interface{}, error) {
	data, err := c.postJSON("/getLayerInfo", newSelection(userNum, "PREV_YEAR", "HEIZUNG", ""))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	var info map[string]interface{}
	if err := json.Unmarshal(data, &info); err != nil {
		log.Printf("[Minol Client] WARNING: Unexpected layer info shape: %v", err)
		return nil, nil
	}
	return info, nil
}

// GetDashboard fetches the dashboard overview (current plus previous
// year per consumption type). A nil result means "no data".
func (c *MinolClient) GetDashboard(userNum string) (*models.DashboardData, error) {
	data, err := c.postJSON("/readData", newSelection(userNum, "DIN_AVG", "HEIZUNG", "dashboard"))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	var dashboard models.DashboardData
	if err := json.Unmarshal(data, &dashboard); err != nil {
		log.Printf("[Minol Client] WARNING: Unexpected dashboard shape: %v", err)
		return nil, nil
	}
	return &dashboard, nil
}

// overviewViews are the dlgKeys that represent aggregate views; all
// other views are drill-downs referenced against the upper level.
var overviewViews = map[string]bool{
	"100EH":     true,
	"100KWH":    true,
	"200":       true,
	"dashboard": true,
}

// GetConsumptionForView fetches detailed consumption data for one
// view / consumption type combination.
func (c *MinolClient) GetConsumptionForView(userNum, viewKey, consType string) (json.RawMessage, error) {
	refObject := "UPPER_LEVEL"
	if overviewViews[viewKey] {
		refObject = "DIN_AVG"
	}
	return c.postJSON("/readData", newSelection(userNum, refObject, consType, viewKey))
}

// GetAllData runs one full refresh cycle: tenant list, layer info,
// dashboard, then best-effort room drill-downs. Authentication and
// connection failures propagate; partial data degrades to empty
// snapshot fields.
func (c *MinolClient) GetAllData() (*models.Snapshot, error) {
	tenants, err := c.GetUserTenants()
	if err != nil {
		return nil, err
	}

	var tenantInfo models.Tenant
	userNum := ""
	if len(tenants) > 0 {
		tenantInfo = tenants[0]
		userNum = tenants[0].UserNumber
	}

	layerInfo, err := c.GetLayerInfo(userNum)
	if err != nil {
		return nil, err
	}
	dashboard, err := c.GetDashboard(userNum)
	if err != nil {
		return nil, err
	}

	if layerInfo == nil {
		layerInfo = map[string]interface{}{}
	}

	snapshot := &models.Snapshot{
		Tenants:    tenants,
		TenantInfo: tenantInfo,
		UserNumber: userNum,
		LayerInfo:  layerInfo,
		Dashboard:  dashboard,
		FetchedAt:  time.Now(),
	}
	snapshot.Rooms = c.collectRooms(userNum, layerInfo)

	return snapshot, nil
}

// collectRooms walks the drill-down views advertised in the layer info
// and gathers per-room meter records grouped by consumption type.
// Errors here never fail the cycle; a view that cannot be fetched or
// parsed contributes nothing.
func (c *MinolClient) collectRooms(userNum string, layerInfo map[string]interface{}) map[string][]models.RoomMeter {
	views, ok := layerInfo["views"].([]interface{})
	if !ok {
		return nil
	}

	rooms := make(map[string][]models.RoomMeter)
	for _, raw := range views {
		view, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		dlgKey, _ := view["dlgKey"].(string)
		if dlgKey == "" || overviewViews[dlgKey] {
			continue
		}
		consType, _ := view["consType"].(string)
		if consType == "" {
			consType = "HEIZUNG"
		}

		data, err := c.GetConsumptionForView(userNum, dlgKey, consType)
		if err != nil {
			log.Printf("[Minol Client] WARNING: Drill-down view %s failed: %v", dlgKey, err)
			continue
		}
		meters := ParseRooms(data)
		if len(meters) > 0 {
			rooms[consType] = append(rooms[consType], meters...)
		}
	}

	if len(rooms) == 0 {
		return nil
	}
	return rooms
}
