package weather

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSnapshotConvertsTenths(t *testing.T) {
	now := time.Now()
	snap, err := DecodeSnapshot([]byte(`{"0": {"temperature": 215, "humidity": 55}}`), SensorMapping{"0": "Garden"}, now)
	require.NoError(t, err)

	assert.Equal(t, []Reading{{DeviceID: "0", Name: "Garden", Temperature: 21.5, Humidity: 55}}, snap.Readings)
	assert.Equal(t, now, snap.ReceivedAt)
}

func TestDecodeSnapshotDropsUnmappedIDs(t *testing.T) {
	payload := []byte(`{
		"0":   {"temperature": -12, "humidity": 91},
		"12":  {"temperature": 300, "humidity": 20},
		"200": "not even an object"
	}`)
	mapping := SensorMapping{"0": "Garden", "12": "Roof", "99": "Cellar"}

	snap, err := DecodeSnapshot(payload, mapping, time.Time{})
	require.NoError(t, err)
	require.Len(t, snap.Readings, 2)
	assert.Equal(t, Reading{DeviceID: "0", Name: "Garden", Temperature: -1.2, Humidity: 91}, snap.Readings[0])
	assert.Equal(t, Reading{DeviceID: "12", Name: "Roof", Temperature: 30, Humidity: 20}, snap.Readings[1])
}

func TestDecodeSnapshotNothingMapped(t *testing.T) {
	snap, err := DecodeSnapshot([]byte(`{"5": {"temperature": 1, "humidity": 2}}`), SensorMapping{"0": "Garden"}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, snap.Readings)
}

func TestDecodeSnapshotRejectsMalformedPayloads(t *testing.T) {
	mapping := SensorMapping{"0": "Garden", "1": "Roof"}

	cases := map[string]string{
		"not json":            `temperature=215`,
		"array":               `[1, 2]`,
		"null":                `null`,
		"fractional tenths":   `{"0": {"temperature": 21.5, "humidity": 55}}`,
		"missing humidity":    `{"0": {"temperature": 215}}`,
		"missing temperature": `{"0": {"humidity": 55}}`,
		"string humidity":     `{"0": {"temperature": 215, "humidity": "wet"}}`,
		"one bad of two":      `{"0": {"temperature": 215, "humidity": 55}, "1": {"temperature": "hot", "humidity": 1}}`,
	}

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			snap, err := DecodeSnapshot([]byte(payload), mapping, time.Time{})
			require.ErrorIs(t, err, ErrMalformedSnapshot)
			assert.Empty(t, snap.Readings)
		})
	}
}

func TestSensorMappingAcceptsBothForms(t *testing.T) {
	var short SensorMapping
	require.NoError(t, json.Unmarshal([]byte(`{"0": "Garden"}`), &short))
	assert.Equal(t, SensorMapping{"0": "Garden"}, short)

	var long SensorMapping
	require.NoError(t, json.Unmarshal([]byte(`{"0": {"name": "Garden"}, "1": "Roof"}`), &long))
	assert.Equal(t, SensorMapping{"0": "Garden", "1": "Roof"}, long)

	name, ok := long.Name("1")
	assert.True(t, ok)
	assert.Equal(t, "Roof", name)

	var bad SensorMapping
	assert.Error(t, json.Unmarshal([]byte(`{"0": {"name": ""}}`), &bad))
	assert.Error(t, json.Unmarshal([]byte(`{"0": 3}`), &bad))
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, time.May, 4, 10, 30, 0, 0, time.Local)

	for _, s := range []string{"2024-05-04 10:30", "2024-05-04 10:30:00", "2024-05-04T10:30:00", " 2024-05-04 10:30:00.000000 "} {
		got, err := ParseTimestamp(s)
		require.NoError(t, err, s)
		assert.True(t, want.Equal(got), "%s parsed to %v", s, got)
	}

	zoned, err := ParseTimestamp("2024-05-04T10:30:00Z")
	require.NoError(t, err)
	assert.True(t, zoned.Equal(time.Date(2024, time.May, 4, 10, 30, 0, 0, time.UTC)))
	assert.Equal(t, time.Local, zoned.Location())

	_, err = ParseTimestamp("yesterday")
	assert.Error(t, err)
}

func TestFormatTimestampDropsSubseconds(t *testing.T) {
	ts := time.Date(2024, time.May, 4, 10, 30, 5, 999_000_000, time.Local)
	assert.Equal(t, "2024-05-04 10:30:05", FormatTimestamp(ts))

	epoch, err := ParseTimestamp("1970-01-01 00:00")
	require.NoError(t, err)
	assert.True(t, Epoch.Equal(epoch))
}
