package testutil

import (
	"time"

	"github.com/HerbHall/hostagent/pkg/models"
)

// NewSnapshot returns a Snapshot at a fixed time with the given fields.
// Override the timestamp with WithTimestamp.
func NewSnapshot(fields models.Fields, opts ...func(*models.Snapshot)) models.Snapshot {
	s := models.NewSnapshot(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	s.Merge(fields)
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithTimestamp sets the snapshot timestamp.
func WithTimestamp(ts time.Time) func(*models.Snapshot) {
	return func(s *models.Snapshot) { s.Timestamp = ts }
}

// NewRegistration returns HostRegistration data with sensible defaults.
func NewRegistration() models.HostRegistration {
	return models.HostRegistration{
		Hostname:  "test-host",
		IPAddress: "192.168.1.100",
		OS:        "Linux 6.1.0",
		OSVersion: "debian 12",
		Metadata: models.HostMetadata{
			Platform:    "linux",
			Arch:        "amd64",
			CPUs:        4,
			TotalMemory: 8 << 30,
		},
	}
}
