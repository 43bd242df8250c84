package weather

import (
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is how measure timestamps are stored and sent to the sink.
const TimestampLayout = "2006-01-02 15:04:05"

// Epoch is the watermark used when the sink has never received a measure for a sensor.
var Epoch = time.Date(1970, time.January, 1, 0, 0, 0, 0, time.Local)

var naiveLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
}

// FormatTimestamp renders t as naive local time with second precision.
func FormatTimestamp(t time.Time) string {
	return t.In(time.Local).Format(TimestampLayout)
}

// ParseTimestamp parses the timestamp forms seen in the local store and the sink.
// Zoned values (RFC 3339) are converted to local time; naive values are taken as local.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.In(time.Local), nil
	}
	for _, layout := range naiveLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp %q", s)
}
