package analysis

import (
	"fmt"
	"strings"
	"time"
)

// Dampening bounds and windows.
const (
	MinDampening = time.Minute
	MaxDampening = 4 * time.Hour

	// OscillationWindow is how far back a repeated IP signature counts as
	// oscillation.
	OscillationWindow = 24 * time.Hour
	// OscillationPeriodPatterned applies when a CDN or load balancer was
	// detected alongside the oscillation.
	OscillationPeriodPatterned = 2 * time.Hour
	// OscillationPeriodPlain applies otherwise.
	OscillationPeriodPlain = 30 * time.Minute

	// AutoSuppressWindow is how long notifications stay silenced after an
	// auto-suppression notice.
	AutoSuppressWindow = 4 * time.Hour
	// AutoSuppressThresholdLB is the changes-per-hour trigger when a load
	// balancer pattern is present.
	AutoSuppressThresholdLB = 3
	// AutoSuppressThresholdDefault is the trigger for un-patterned domains.
	AutoSuppressThresholdDefault = 5
)

// DampeningInput bundles every analyzer signal feeding the calculator.
type DampeningInput struct {
	TTL             int // seconds
	CDN             CDNResult
	LB              LBResult
	Time            TimeContext
	Change          ChangeContext
	ChangesLastHour int
	// OscillationSeen is true when the current IP signature appeared in the
	// recent history within the last 24 hours.
	OscillationSeen bool
}

// DampeningDecision is the calculator outcome.
type DampeningDecision struct {
	Period     time.Duration // effective suppression period
	Base       time.Duration
	Multiplier float64
	// OscillationOverride marks that the period was replaced by the
	// oscillation rule rather than computed from base and multiplier.
	OscillationOverride bool
	// AutoSuppress marks that change frequency crossed the suppression
	// threshold and the notification should be an auto-suppression notice.
	AutoSuppress  bool
	SuppressUntil time.Duration // silence window after an auto-suppression notice
	Reasons       []string
}

// BaseDampening maps a record TTL to the base suppression period.
func BaseDampening(ttlSeconds int) time.Duration {
	ttl := time.Duration(ttlSeconds) * time.Second
	switch {
	case ttlSeconds < 60:
		return 20 * time.Minute
	case ttlSeconds < 300:
		return 15 * time.Minute
	case ttlSeconds < 900:
		return maxDuration(2*ttl, 5*time.Minute)
	default:
		return maxDuration(ttl, 5*time.Minute)
	}
}

// CalculateDampening combines all analyzer signals into the effective
// dampening period.
func CalculateDampening(in DampeningInput) DampeningDecision {
	d := DampeningDecision{
		Base:          BaseDampening(in.TTL),
		Multiplier:    1.0,
		SuppressUntil: AutoSuppressWindow,
	}

	apply := func(factor float64, reason string) {
		d.Multiplier *= factor
		d.Reasons = append(d.Reasons, fmt.Sprintf("%s (x%.1f)", reason, factor))
	}

	if in.CDN.IsAnyCDN {
		if in.CDN.Confidence > 0.8 {
			apply(2.0, "high-confidence CDN")
		} else {
			apply(1.5, "partial CDN match")
		}
	}

	if in.LB.IsLoadBalancer {
		switch in.LB.Pattern {
		case LBRoundRobin:
			apply(3.0, "round-robin rotation")
		case LBWeighted:
			apply(2.0, "weighted distribution")
		case LBFailover:
			apply(0.5, "failover event")
		default:
			apply(1.5, "load balancer ("+string(in.LB.Pattern)+")")
		}
	}

	if in.Time.IsMaintenanceWindow {
		apply(1.5, "maintenance window")
	}
	if in.Time.IsBusinessHours {
		apply(0.8, "business hours")
	}

	switch in.Change.Severity {
	case SeverityCritical:
		apply(0.3, "critical severity")
	case SeverityHigh:
		apply(0.6, "high severity")
	case SeverityLow:
		apply(2.0, "low severity")
	}

	switch {
	case in.ChangesLastHour >= 5:
		apply(4.0, "very frequent changes")
	case in.ChangesLastHour >= 3:
		apply(2.0, "frequent changes")
	}

	d.Period = clampDampening(time.Duration(float64(d.Base) * d.Multiplier))

	// A signature seen within 24h is oscillation: the override replaces the
	// computed period entirely.
	if in.OscillationSeen {
		d.OscillationOverride = true
		if in.CDN.IsAnyCDN || in.LB.IsLoadBalancer {
			d.Period = OscillationPeriodPatterned
		} else {
			d.Period = OscillationPeriodPlain
		}
		d.Reasons = append(d.Reasons, "oscillating IP signature (override)")
	}

	if in.ChangesLastHour >= AutoSuppressThreshold(in.LB.IsLoadBalancer) {
		d.AutoSuppress = true
		d.Reasons = append(d.Reasons, fmt.Sprintf("auto-suppression (%d changes in the last hour)", in.ChangesLastHour))
	}

	return d
}

// AutoSuppressThreshold returns the changes-per-hour trigger. Patterned
// domains suppress earlier.
func AutoSuppressThreshold(loadBalancer bool) int {
	if loadBalancer {
		return AutoSuppressThresholdLB
	}
	return AutoSuppressThresholdDefault
}

// Summary renders the applied factors for notification fields and logs.
func (d DampeningDecision) Summary() string {
	if len(d.Reasons) == 0 {
		return fmt.Sprintf("base %s, no adjustments", d.Base)
	}
	return strings.Join(d.Reasons, "; ")
}

func clampDampening(p time.Duration) time.Duration {
	if p < MinDampening {
		return MinDampening
	}
	if p > MaxDampening {
		return MaxDampening
	}
	return p
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
