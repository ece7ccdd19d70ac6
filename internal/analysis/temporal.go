package analysis

import "time"

// TimePattern labels the current wall-clock context.
type TimePattern string

const (
	PatternMaintenance TimePattern = "maintenance_window"
	PatternOffHours    TimePattern = "off_hours"
	PatternWeekend     TimePattern = "weekend"
	PatternNormal      TimePattern = "normal"
)

// TimeContext is the temporal classification of an instant.
type TimeContext struct {
	IsWeekend           bool
	IsMaintenanceWindow bool
	IsBusinessHours     bool
	Pattern             TimePattern
}

// TemporalContext classifies now (evaluated in UTC).
func TemporalContext(now time.Time) TimeContext {
	utc := now.UTC()
	hour := utc.Hour()
	day := utc.Weekday()

	tc := TimeContext{
		IsWeekend:           day == time.Saturday || day == time.Sunday,
		IsMaintenanceWindow: (hour >= 2 && hour <= 6) || hour >= 22 || hour <= 2,
	}
	tc.IsBusinessHours = !tc.IsWeekend && hour >= 8 && hour <= 18

	switch {
	case tc.IsMaintenanceWindow:
		tc.Pattern = PatternMaintenance
	case !tc.IsBusinessHours:
		tc.Pattern = PatternOffHours
	case tc.IsWeekend:
		tc.Pattern = PatternWeekend
	default:
		tc.Pattern = PatternNormal
	}
	return tc
}
