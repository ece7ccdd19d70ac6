package analysis

import (
	"time"
)

// ChangeType classifies the relation between the previous and current IP sets.
type ChangeType string

const (
	ChangeAddition ChangeType = "addition"
	ChangeRemoval  ChangeType = "removal"
	// ChangeReplacement means some IPs changed while others stayed.
	ChangeReplacement ChangeType = "replacement"
	// ChangeComplete means the sets are disjoint: every IP was swapped out.
	ChangeComplete ChangeType = "complete_change"
)

// Severity ranks how urgent a change is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ChangeContext is the classified change with its base severity.
type ChangeContext struct {
	Type       ChangeType
	Severity   Severity
	TTL        int // seconds
	Confidence float64
	At         time.Time
}

// ClassifyChange computes the change type and base severity from the
// previous and current IP sets.
func ClassifyChange(previous, current []string, ttl int, tc TimeContext, now time.Time) ChangeContext {
	cc := ChangeContext{
		Type:       changeType(previous, current),
		TTL:        ttl,
		Confidence: 0.8,
		At:         now,
	}

	switch {
	case cc.Type == ChangeComplete && tc.IsBusinessHours:
		cc.Severity = SeverityCritical
	case cc.Type == ChangeRemoval:
		cc.Severity = SeverityHigh
	case tc.IsMaintenanceWindow:
		cc.Severity = SeverityLow
	default:
		cc.Severity = SeverityMedium
	}
	return cc
}

func changeType(previous, current []string) ChangeType {
	switch {
	case len(previous) == 0:
		return ChangeAddition
	case len(current) == 0:
		return ChangeRemoval
	case disjoint(previous, current):
		return ChangeComplete
	default:
		return ChangeReplacement
	}
}

func disjoint(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, ip := range a {
		set[ip] = struct{}{}
	}
	for _, ip := range b {
		if _, ok := set[ip]; ok {
			return false
		}
	}
	return true
}
