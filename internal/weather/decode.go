package weather

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrMalformedSnapshot is returned when a broker payload cannot be decoded.
// The whole snapshot is rejected; there is no partial acceptance.
var ErrMalformedSnapshot = errors.New("malformed sensor snapshot")

type rawReading struct {
	Temperature *int     `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
}

// DecodeSnapshot decodes an outdoor-weather sensor_data payload. Only ids present
// in the mapping are decoded; temperature arrives in tenths of a degree.
func DecodeSnapshot(payload []byte, mapping SensorMapping, receivedAt time.Time) (Snapshot, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	if raw == nil {
		return Snapshot{}, fmt.Errorf("%w: payload is not an object", ErrMalformedSnapshot)
	}

	ids := make([]string, 0, len(raw))
	for id := range raw {
		if _, ok := mapping[id]; ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	readings := make([]Reading, 0, len(ids))
	for _, id := range ids {
		var r rawReading
		if err := json.Unmarshal(raw[id], &r); err != nil {
			return Snapshot{}, fmt.Errorf("%w: sensor %s: %v", ErrMalformedSnapshot, id, err)
		}
		if r.Temperature == nil || r.Humidity == nil {
			return Snapshot{}, fmt.Errorf("%w: sensor %s: temperature and humidity are required", ErrMalformedSnapshot, id)
		}

		readings = append(readings, Reading{
			DeviceID:    id,
			Name:        mapping[id],
			Temperature: float64(*r.Temperature) / 10,
			Humidity:    *r.Humidity,
		})
	}

	return Snapshot{Readings: readings, ReceivedAt: receivedAt}, nil
}
