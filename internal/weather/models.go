package weather

import (
	"encoding/json"
	"fmt"
	"time"
)

// Sensor is a row of the local sensor table.
type Sensor struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

// Measure is one stored reading. CreatedAt is naive local time with second precision.
type Measure struct {
	CreatedAt   time.Time `json:"createdAt"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
}

// Reading is the decoded value of one configured device sensor.
type Reading struct {
	// DeviceID is the bricklet-internal sensor id, e.g. "0".
	DeviceID    string  `json:"deviceId"`
	Name        string  `json:"name"`
	Temperature float64 `json:"temperatureC"`
	Humidity    float64 `json:"humidityPercent"`
}

// Snapshot is one decoded broker message.
type Snapshot struct {
	Readings   []Reading `json:"readings"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// SensorMapping translates device-internal sensor ids to sensor names.
type SensorMapping map[string]string

// UnmarshalJSON accepts both {"0":"Garden"} and {"0":{"name":"Garden"}}.
func (m *SensorMapping) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(SensorMapping, len(raw))
	for id, v := range raw {
		var name string
		if err := json.Unmarshal(v, &name); err == nil {
			out[id] = name
			continue
		}

		var entry struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(v, &entry); err != nil {
			return fmt.Errorf("sensor %q: expected name or {\"name\": ...}", id)
		}
		out[id] = entry.Name
	}

	for id, name := range out {
		if name == "" {
			return fmt.Errorf("sensor %q has an empty name", id)
		}
	}

	*m = out
	return nil
}

// Name returns the configured name for a device sensor id.
func (m SensorMapping) Name(deviceID string) (string, bool) {
	name, ok := m[deviceID]
	return name, ok
}
