package services

import (
	"encoding/json"

	"github.com/mfrey/minol-monitor/models"
)

const redactedPlaceholder = "**REDACTED**"

// redactedFields are the personally identifying response fields that
// must never leave a diagnostics export.
var redactedFields = map[string]bool{
	"username":       true,
	"password":       true,
	"name":           true,
	"email":          true,
	"addrStreet":     true,
	"addrHouseNum":   true,
	"addrCity":       true,
	"addrPostalCode": true,
	"userNumber":     true,
	"user_number":    true,
	"lgnr":           true,
	"nenr":           true,
}

// RedactSnapshot returns a diagnostics-safe view of a snapshot with
// credentials and PII replaced by a placeholder, at any nesting depth.
func RedactSnapshot(snapshot *models.Snapshot) map[string]interface{} {
	if snapshot == nil {
		return map[string]interface{}{}
	}

	raw, err := json.Marshal(snapshot)
	if err != nil {
		return map[string]interface{}{}
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return map[string]interface{}{}
	}

	redacted, _ := RedactData(generic).(map[string]interface{})
	return redacted
}

// RedactData walks an arbitrary decoded JSON structure and replaces
// the value of every redacted field. The input is not modified.
func RedactData(data interface{}) interface{} {
	switch v := data.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, value := range v {
			if redactedFields[key] {
				out[key] = redactedPlaceholder
				continue
			}
			out[key] = RedactData(value)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = RedactData(item)
		}
		return out
	default:
		return v
	}
}
