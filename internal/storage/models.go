package storage

import "time"

// ServerRecord is a registered server. At most one record exists per
// (UserID, Hostname) pair, enforced by a unique constraint.
type ServerRecord struct {
	ID        string
	UserID    string
	Hostname  string
	CreatedAt time.Time
}

// MetricSample is one reported measurement. Rows are append-only and
// immutable once written.
type MetricSample struct {
	ID        int64
	ServerID  string
	CPU       float64
	Memory    float64
	Disk      float64
	Uptime    float64
	CreatedAt time.Time
}

// ThresholdRecord is the durable copy of a user's alert thresholds,
// one row per user.
type ThresholdRecord struct {
	UserID    string
	CPU       float64
	Memory    float64
	Disk      float64
	UpdatedAt time.Time
}
