package persistence

import (
	"encoding/json"

	"github.com/braidflow/braid/pkg/api"
)

// EncodeRecord serializes a transition record as JSON, the same shape the
// watch stream puts on the wire. Step outputs are opaque, so they must be
// JSON-encodable to be persisted; anything else fails here rather than
// deep in a driver.
func EncodeRecord(rec api.TransitionRecord) ([]byte, error) {
	return json.Marshal(rec)
}

// DecodeRecord is the inverse of EncodeRecord. Outputs come back in JSON's
// generic shapes (map[string]any, []any, float64).
func DecodeRecord(data []byte) (api.TransitionRecord, error) {
	var rec api.TransitionRecord
	if len(data) == 0 {
		return rec, nil
	}
	err := json.Unmarshal(data, &rec)
	return rec, err
}
