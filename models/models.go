package models

import "time"

type AdminUser struct {
	ID           int       `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Tenant is one entry of the portal's getUserTenants response. Field
// names follow the portal wire format (German abbreviations included).
type Tenant struct {
	UserNumber     string `json:"userNumber"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	AddrStreet     string `json:"addrStreet"`
	AddrHouseNum   string `json:"addrHouseNum"`
	AddrCity       string `json:"addrCity"`
	AddrPostalCode string `json:"addrPostalCode"`
	Lgnr           string `json:"lgnr"`
	Nenr           string `json:"nenr"`
	GeschossText   string `json:"geschossText"`
	LageText       string `json:"lageText"`
	EinzugMieter   string `json:"einzugMieter"`
}

// DataPoint is one tagged value inside a dashboard block. Value can
// arrive as a JSON number or a string, so it stays untyped until
// extraction coerces it.
type DataPoint struct {
	CategoryInt string      `json:"categoryInt"`
	KeyFigure   string      `json:"keyFigure"`
	Value       interface{} `json:"value"`
	Label       string      `json:"label"`
}

// DashboardBlock is one consumption type's section of the dashboard
// response: data1 holds yearly totals, data2_* the share of building,
// data3 per-m2 values plus the DIN reference.
type DashboardBlock struct {
	KeyFigure string      `json:"keyFigure"`
	Data1     []DataPoint `json:"data1"`
	Data21    []DataPoint `json:"data2_1"`
	Data22    []DataPoint `json:"data2_2"`
	Data3     []DataPoint `json:"data3"`
}

type DashboardData struct {
	Dashboard []DashboardBlock `json:"dashboard"`
}

// RoomMeter is one meter row of a room-level (RAUM) drill-down view.
type RoomMeter struct {
	GerNr          string      `json:"gerNr"`
	Raum           string      `json:"raum"`
	Ablesung       interface{} `json:"ablesung"`
	Anfangsstand   interface{} `json:"anfangsstand"`
	Consumption    interface{} `json:"consumption"`
	Bewertung      interface{} `json:"bewertung"`
	ConsumptionBew interface{} `json:"consumptionBew"`
	Unit           string      `json:"unit"`
	InternalKey    string      `json:"internalKey"`
}

// Snapshot is one complete refresh-cycle result. It is built fresh
// each cycle and replaced wholesale; empty LayerInfo/Dashboard are
// valid partial results, not failures.
type Snapshot struct {
	Tenants    []Tenant               `json:"tenants"`
	TenantInfo Tenant                 `json:"tenant_info"`
	UserNumber string                 `json:"user_number,omitempty"`
	LayerInfo  map[string]interface{} `json:"layer_info"`
	Dashboard  *DashboardData         `json:"dashboard"`
	Rooms      map[string][]RoomMeter `json:"rooms,omitempty"`
	FetchedAt  time.Time              `json:"fetched_at"`
}

// Metric is one flattened value extracted from the snapshot, keyed by
// consumption type and recipe suffix (current_year, din_avg, ...).
type Metric struct {
	KeyFigure string  `json:"key_figure"`
	Name      string  `json:"name"`
	Value     float64 `json:"value"`
	Unit      string  `json:"unit"`
}

type ConsumptionReading struct {
	ID          int       `json:"id"`
	ReadingTime time.Time `json:"reading_time"`
	KeyFigure   string    `json:"key_figure"`
	Metric      string    `json:"metric"`
	Value       float64   `json:"value"`
	Unit        string    `json:"unit"`
}

type CollectorLog struct {
	ID        int       `json:"id"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	CreatedAt time.Time `json:"created_at"`
}

// CollectorStatus is the debug/status view of the poll loop.
type CollectorStatus struct {
	Running         bool      `json:"running"`
	IntervalMinutes int       `json:"interval_minutes"`
	LastRefresh     time.Time `json:"last_refresh"`
	LastError       string    `json:"last_error,omitempty"`
	AuthRequired    bool      `json:"auth_required"`
	RefreshCount    int       `json:"refresh_count"`
	FailureCount    int       `json:"failure_count"`
}
