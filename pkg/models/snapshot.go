package models

import (
	"encoding/json"
	"time"
)

// TimestampFormat is the wire format for snapshot and heartbeat timestamps:
// UTC with millisecond precision.
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// Fields maps metric names to values. Values are float64, integer types,
// strings, bools, or nil.
type Fields map[string]any

// Snapshot is one timestamped set of metric fields produced by a single
// collection cycle.
type Snapshot struct {
	Timestamp time.Time
	Fields    Fields
}

// NewSnapshot returns an empty snapshot taken at ts.
func NewSnapshot(ts time.Time) Snapshot {
	return Snapshot{Timestamp: ts, Fields: make(Fields)}
}

// Merge copies every field of f into the snapshot. Existing keys are
// overwritten.
func (s Snapshot) Merge(f Fields) {
	for k, v := range f {
		s.Fields[k] = v
	}
}

// MarshalJSON flattens the snapshot into a single object: "timestamp" plus
// every present field.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Fields)+1)
	for k, v := range s.Fields {
		out[k] = v
	}
	out["timestamp"] = FormatTimestamp(s.Timestamp)
	return json.Marshal(out)
}

// FormatTimestamp renders t in TimestampFormat.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}
