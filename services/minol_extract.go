package services

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/mfrey/minol-monitor/models"
)

// Extractor selects one of the fixed extraction recipes applied to a
// dashboard block. The switch in Extract is the complete dispatch;
// adding a recipe means adding a constant and a case.
type Extractor int

const (
	// ExtractCurrentYear reads the current-year total from data1.
	ExtractCurrentYear Extractor = iota
	// ExtractPreviousYear reads the previous-year total from data1.
	ExtractPreviousYear
	// ExtractPerAreaCurrent reads the current per-m2 value from data3.
	ExtractPerAreaCurrent
	// ExtractPerAreaPrevious reads the previous per-m2 value from data3.
	ExtractPerAreaPrevious
	// ExtractDINAverage reads the DIN reference average from data3.
	ExtractDINAverage
	// ExtractBuildingShare reads the tenant's share of the building
	// from the data2 labels (a percentage like "12 %").
	ExtractBuildingShare
)

// Suffix is the stable metric name for the recipe, used for storage,
// MQTT topics and the API.
func (e Extractor) Suffix() string {
	switch e {
	case ExtractCurrentYear:
		return "current_year"
	case ExtractPreviousYear:
		return "previous_year"
	case ExtractPerAreaCurrent:
		return "per_m2_current"
	case ExtractPerAreaPrevious:
		return "per_m2_previous"
	case ExtractDINAverage:
		return "din_avg"
	case ExtractBuildingShare:
		return "building_share"
	}
	return "unknown"
}

// AllExtractors lists every recipe, in presentation order.
var AllExtractors = []Extractor{
	ExtractCurrentYear,
	ExtractPreviousYear,
	ExtractPerAreaCurrent,
	ExtractPerAreaPrevious,
	ExtractDINAverage,
	ExtractBuildingShare,
}

// FindValue scans points in order and returns the value of the first
// point whose categoryInt matches (and whose keyFigure matches too,
// when one is required). The second return is false when no point
// matches or the value is absent or non-numeric.
func FindValue(points []models.DataPoint, categoryInt, keyFigure string) (float64, bool) {
	for _, point := range points {
		if point.CategoryInt != categoryInt {
			continue
		}
		if keyFigure != "" && point.KeyFigure != keyFigure {
			continue
		}
		return toFloat(point.Value)
	}
	return 0, false
}

// Extract applies one recipe to a dashboard block. Structural
// mismatches (missing collections, wrong shapes, non-numeric values)
// yield (0, false), never an error.
func Extract(block models.DashboardBlock, kind Extractor) (float64, bool) {
	switch kind {
	case ExtractCurrentYear:
		return FindValue(block.Data1, "CURR", "")
	case ExtractPreviousYear:
		return FindValue(block.Data1, "1PREV", "")
	case ExtractPerAreaCurrent:
		return FindValue(block.Data3, "CURR", block.KeyFigure)
	case ExtractPerAreaPrevious:
		return FindValue(block.Data3, "1PREV", block.KeyFigure)
	case ExtractDINAverage:
		return FindValue(block.Data3, "CURR", "REF")
	case ExtractBuildingShare:
		return extractShare(block)
	}
	return 0, false
}

// extractShare reads the NE share label ("12 %") from the most
// granular available sub-collection: data2_2 when present, data2_1
// otherwise. Which of the two should win when both are present is
// undocumented portal behavior; this mirrors what the portal's own
// frontend displays.
func extractShare(block models.DashboardBlock) (float64, bool) {
	points := block.Data22
	if len(points) == 0 {
		points = block.Data21
	}
	for _, point := range points {
		if point.CategoryInt != "NE" {
			continue
		}
		label := strings.TrimSpace(strings.ReplaceAll(point.Label, "%", ""))
		value, err := strconv.ParseFloat(label, 64)
		if err != nil {
			return 0, false
		}
		return value, true
	}
	return 0, false
}

// toFloat coerces a portal value (JSON number or numeric string) to a
// float. Anything else is "unknown".
func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// unitForKeyFigure maps a consumption type to its display unit.
// Heating and hot water are billed in kWh, cold water in m3.
func unitForKeyFigure(keyFigure string) string {
	switch keyFigure {
	case "KALTWASSER":
		return "m³"
	default:
		return "kWh"
	}
}

func unitForMetric(keyFigure string, kind Extractor) string {
	switch kind {
	case ExtractBuildingShare:
		return "%"
	case ExtractPerAreaCurrent, ExtractPerAreaPrevious, ExtractDINAverage:
		return unitForKeyFigure(keyFigure) + "/m²"
	default:
		return unitForKeyFigure(keyFigure)
	}
}

// MetricsFromSnapshot flattens a snapshot's dashboard into one metric
// per block and recipe. Recipes that yield "unknown" are skipped; an
// empty dashboard yields an empty list, not an error.
func MetricsFromSnapshot(snapshot *models.Snapshot) []models.Metric {
	metrics := []models.Metric{}
	if snapshot == nil || snapshot.Dashboard == nil {
		return metrics
	}

	for _, block := range snapshot.Dashboard.Dashboard {
		for _, kind := range AllExtractors {
			value, ok := Extract(block, kind)
			if !ok {
				continue
			}
			metrics = append(metrics, models.Metric{
				KeyFigure: block.KeyFigure,
				Name:      kind.Suffix(),
				Value:     value,
				Unit:      unitForMetric(block.KeyFigure, kind),
			})
		}
	}
	return metrics
}

// ParseRooms extracts room meter records from a drill-down view
// response. The portal returns either an object carrying a "rooms"
// array or the bare array; anything else parses to no rooms.
func ParseRooms(data json.RawMessage) []models.RoomMeter {
	if data == nil {
		return nil
	}

	var wrapper struct {
		Rooms []models.RoomMeter `json:"rooms"`
	}
	if err := json.Unmarshal(data, &wrapper); err == nil && len(wrapper.Rooms) > 0 {
		return wrapper.Rooms
	}

	var meters []models.RoomMeter
	if err := json.Unmarshal(data, &meters); err == nil {
		return meters
	}
	return nil
}

// RoomConsumption returns the weighting-adjusted consumption of a room
// meter, the value the original portal dashboard displays per room.
func RoomConsumption(meter models.RoomMeter) (float64, bool) {
	return toFloat(meter.ConsumptionBew)
}
