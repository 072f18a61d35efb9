package domain

import "fmt"

// Status is the lifecycle state of a generation job.
type Status string

const (
	StatusPending      Status = "pending"
	StatusGenerating   Status = "generating"
	StatusQualityCheck Status = "quality_check"
	StatusCompleted    Status = "completed"
	StatusRejected     Status = "rejected"
	StatusFailed       Status = "failed"
)

// Statuses lists every defined job status.
var Statuses = []Status{
	StatusPending,
	StatusGenerating,
	StatusQualityCheck,
	StatusCompleted,
	StatusRejected,
	StatusFailed,
}

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no automatic transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected || s == StatusFailed
}

// ParseStatus converts a stored value into a Status.
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown job status %q", v)
	}
	return s, nil
}
