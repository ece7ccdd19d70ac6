package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func utcTime(year int, month time.Month, day, hour int) time.Time {
	return time.Date(year, month, day, hour, 0, 0, 0, time.UTC)
}

func TestTemporalBusinessHours(t *testing.T) {
	// Tuesday 10:00 UTC.
	tc := TemporalContext(utcTime(2024, time.June, 11, 10))
	require.False(t, tc.IsWeekend)
	require.False(t, tc.IsMaintenanceWindow)
	require.True(t, tc.IsBusinessHours)
	require.Equal(t, PatternNormal, tc.Pattern)
}

func TestTemporalMaintenanceWindow(t *testing.T) {
	for _, hour := range []int{0, 1, 2, 3, 4, 5, 6, 22, 23} {
		tc := TemporalContext(utcTime(2024, time.June, 11, hour))
		require.True(t, tc.IsMaintenanceWindow, "hour %d", hour)
		require.Equal(t, PatternMaintenance, tc.Pattern, "hour %d", hour)
	}
	for _, hour := range []int{7, 8, 12, 18, 21} {
		tc := TemporalContext(utcTime(2024, time.June, 11, hour))
		require.False(t, tc.IsMaintenanceWindow, "hour %d", hour)
	}
}

func TestTemporalWeekend(t *testing.T) {
	// Saturday midday: weekend, outside business hours, so the off-hours
	// pattern takes precedence per the fixed evaluation order.
	tc := TemporalContext(utcTime(2024, time.June, 15, 12))
	require.True(t, tc.IsWeekend)
	require.False(t, tc.IsBusinessHours)
	require.Equal(t, PatternOffHours, tc.Pattern)
}

func TestTemporalOffHours(t *testing.T) {
	// Wednesday 20:00: not maintenance, not business.
	tc := TemporalContext(utcTime(2024, time.June, 12, 20))
	require.False(t, tc.IsMaintenanceWindow)
	require.False(t, tc.IsBusinessHours)
	require.Equal(t, PatternOffHours, tc.Pattern)
}

func TestTemporalBusinessHourEdges(t *testing.T) {
	require.True(t, TemporalContext(utcTime(2024, time.June, 11, 8)).IsBusinessHours)
	require.True(t, TemporalContext(utcTime(2024, time.June, 11, 18)).IsBusinessHours)
	require.False(t, TemporalContext(utcTime(2024, time.June, 11, 19)).IsBusinessHours)
}

func TestTemporalUsesUTC(t *testing.T) {
	// 04:00 in UTC+8 is 20:00 UTC the previous day: off-hours, not
	// maintenance.
	loc := time.FixedZone("UTC+8", 8*3600)
	tc := TemporalContext(time.Date(2024, time.June, 12, 4, 0, 0, 0, loc))
	require.False(t, tc.IsMaintenanceWindow)
	require.Equal(t, PatternOffHours, tc.Pattern)
}
