package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Inconsistency is a stored derived value that differs from its recomputation.
type Inconsistency struct {
	UserID   uuid.UUID
	Field    string
	Stored   int64
	Expected int64
}

// IntegrityReport is the outcome of a post-operation consistency check.
type IntegrityReport struct {
	UserID     uuid.UUID
	ContextID  string
	Source     string
	IsValid    bool
	AutoFixed  bool
	Skipped    bool
	Issues     []Inconsistency
	Unresolved []Inconsistency
	Warnings   []string
	Error      string
	CheckedAt  time.Time
	Duration   time.Duration
}

// FixSummary summarizes a batch correction run.
type FixSummary struct {
	UsersChecked int
	UsersFixed   int
	FieldsFixed  int
	Failed       []uuid.UUID
}

// AlertLevel is the severity of a monitoring alert.
type AlertLevel string

const (
	AlertWarning AlertLevel = "warning"
	AlertError   AlertLevel = "error"
)

// Alert is a categorized finding of a monitoring cycle.
type Alert struct {
	Level   AlertLevel
	Code    string
	Message string
}

// HealthReport is produced by a monitoring cycle.
type HealthReport struct {
	StartedAt         time.Time
	FinishedAt        time.Time
	TotalUsers        int
	UsersScanned      int
	InconsistentUsers int
	Inconsistencies   int
	Fixed             int
	DriftRate         float64
	ActiveUsers7d     int
	EngagementRate    float64
	RecentUnlocks24h  int
	Score             int
	Alerts            []Alert
	Partial           bool
}

// HasErrors reports whether any alert is at error level.
func (r HealthReport) HasErrors() bool {
	for _, a := range r.Alerts {
		if a.Level == AlertError {
			return true
		}
	}
	return false
}
