package notify

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dnsvigil/dnsvigil/internal/analysis"
	"github.com/dnsvigil/dnsvigil/internal/resolver"
)

var testAt = time.Date(2024, time.June, 11, 10, 0, 0, 0, time.UTC)

func baseBundle() ChangeBundle {
	return ChangeBundle{
		Domain:   "www.example.com",
		Previous: []string{"5.5.5.5"},
		Current:  []string{"9.9.9.9"},
		Change: analysis.ChangeContext{
			Type:     analysis.ChangeReplacement,
			Severity: analysis.SeverityMedium,
			TTL:      300,
			At:       testAt,
		},
		Time: analysis.TimeContext{Pattern: analysis.PatternNormal, IsBusinessHours: true},
	}
}

func fieldValue(t *testing.T, n Notification, name string) string {
	t.Helper()
	for _, f := range n.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	t.Fatalf("field %q not found", name)
	return ""
}

func TestTitlePrecedence(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*ChangeBundle)
		want   string
	}{
		{"coordinated wins over everything", func(b *ChangeBundle) {
			b.Coordination = analysis.CoordinationResult{IsCoordinated: true, Score: 0.9}
			b.Change.Severity = analysis.SeverityCritical
			b.LB = analysis.LBResult{IsLoadBalancer: true, Pattern: analysis.LBFailover}
			b.CDN = analysis.CDNResult{IsAnyCDN: true}
		}, TitleCoordinated},
		{"critical beats failover", func(b *ChangeBundle) {
			b.Change.Severity = analysis.SeverityCritical
			b.LB = analysis.LBResult{IsLoadBalancer: true, Pattern: analysis.LBFailover}
		}, TitleCritical},
		{"failover beats cdn", func(b *ChangeBundle) {
			b.LB = analysis.LBResult{IsLoadBalancer: true, Pattern: analysis.LBFailover}
			b.CDN = analysis.CDNResult{IsAnyCDN: true}
		}, TitleFailover},
		{"cdn beats maintenance", func(b *ChangeBundle) {
			b.CDN = analysis.CDNResult{IsAnyCDN: true}
			b.Time.IsMaintenanceWindow = true
		}, TitleCDN},
		{"maintenance beats complete change", func(b *ChangeBundle) {
			b.Time.IsMaintenanceWindow = true
			b.Change.Type = analysis.ChangeComplete
		}, TitleMaintenance},
		{"complete change", func(b *ChangeBundle) {
			b.Change.Type = analysis.ChangeComplete
		}, TitleCompleteChange},
		{"default", func(b *ChangeBundle) {}, TitleDefault},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := baseBundle()
			tc.mutate(&b)
			require.Equal(t, tc.want, BuildChange(b).Title)
		})
	}
}

func TestSeverityColors(t *testing.T) {
	require.Equal(t, ColorRed, SeverityColor(analysis.SeverityCritical))
	require.Equal(t, ColorOrange, SeverityColor(analysis.SeverityHigh))
	require.Equal(t, ColorYellow, SeverityColor(analysis.SeverityMedium))
	require.Equal(t, ColorBlue, SeverityColor(analysis.SeverityLow))
	require.Equal(t, ColorGray, SeverityColor(analysis.Severity("bogus")))
}

func TestBuildChangeCoreFields(t *testing.T) {
	n := BuildChange(baseBundle())

	require.Equal(t, KindChange, n.Kind)
	require.Equal(t, "www.example.com", n.Domain)
	require.NotEmpty(t, n.ID)
	require.Equal(t, testAt, n.At)
	require.Equal(t, "5.5.5.5", fieldValue(t, n, "Previous IPs"))
	require.Equal(t, "9.9.9.9", fieldValue(t, n, "Current IPs"))
	require.Equal(t, "replacement", fieldValue(t, n, "Change Type"))
	require.Equal(t, "300s", fieldValue(t, n, "TTL"))
	require.Equal(t, "normal", fieldValue(t, n, "Time Context"))
}

func TestBuildChangeCriticalScenario(t *testing.T) {
	// Business-hours complete change: red, critical title, urgent action.
	b := baseBundle()
	b.Change.Type = analysis.ChangeComplete
	b.Change.Severity = analysis.SeverityCritical
	n := BuildChange(b)

	require.Equal(t, TitleCritical, n.Title)
	require.Equal(t, ColorRed, n.Color)
	require.Contains(t, strings.Join(n.Actions, " "), "immediately")
}

func TestBuildChangeOptionalBlocks(t *testing.T) {
	b := baseBundle()
	b.CDN = analysis.CDNResult{Provider: "Cloudflare", Confidence: 1.0, IsAnyCDN: true}
	b.LB = analysis.LBResult{IsLoadBalancer: true, Pattern: analysis.LBRoundRobin, Confidence: 0.8, Analysis: "rotation"}
	b.Coordination = analysis.CoordinationResult{
		IsCoordinated:  true,
		Score:          0.95,
		RelatedDomains: []string{"api.example.com", "cdn.example.com"},
	}
	b.SOA = &resolver.SOA{PrimaryNS: "ns1.example.com", AdminEmail: "hostmaster@example.com", Serial: "2024010101"}

	n := BuildChange(b)
	require.Contains(t, fieldValue(t, n, "CDN"), "Cloudflare")
	require.Contains(t, fieldValue(t, n, "Load Balancer"), "round_robin")
	require.Contains(t, fieldValue(t, n, "Coordinated Change"), "api.example.com")
	require.Contains(t, fieldValue(t, n, "SOA"), "2024010101")
}

func TestBuildChangeOmitsAbsentBlocks(t *testing.T) {
	n := BuildChange(baseBundle())
	for _, f := range n.Fields {
		require.NotEqual(t, "CDN", f.Name)
		require.NotEqual(t, "Load Balancer", f.Name)
		require.NotEqual(t, "Coordinated Change", f.Name)
		require.NotEqual(t, "SOA", f.Name)
	}
}

func TestRecommendedActionsDeterministic(t *testing.T) {
	b := baseBundle()
	b.Change.Type = analysis.ChangeComplete
	require.Equal(t, BuildChange(b).Actions, BuildChange(b).Actions)

	// Hijack warning only without a CDN explanation.
	require.Contains(t, strings.Join(BuildChange(b).Actions, " "), "hijacking")
	b.CDN = analysis.CDNResult{IsAnyCDN: true, Confidence: 1.0, Provider: "Fastly"}
	require.NotContains(t, strings.Join(BuildChange(b).Actions, " "), "hijacking")
}

func TestBuildAutoSuppression(t *testing.T) {
	n := BuildAutoSuppression("www.example.com", 6, 4*time.Hour, testAt)
	require.Equal(t, KindAutoSuppression, n.Kind)
	require.Equal(t, TitleAutoSuppression, n.Title)
	require.Equal(t, ColorGray, n.Color)
	require.Equal(t, "6", fieldValue(t, n, "Changes In Last Hour"))
	require.Equal(t, "4h0m0s", fieldValue(t, n, "Suppressed For"))
}

func TestBuildMonitoringError(t *testing.T) {
	n := BuildMonitoringError("www.example.com", errors.New("connect timeout"), testAt)
	require.Equal(t, KindMonitoringError, n.Kind)
	require.Equal(t, ColorOrange, n.Color)
	require.Contains(t, fieldValue(t, n, "Error"), "connect timeout")
}

func TestBuildAuthorityUnreachable(t *testing.T) {
	n := BuildAuthorityUnreachable("www.example.com", testAt)
	require.Equal(t, KindAuthorityUnreachable, n.Kind)
	require.Equal(t, TitleNoAuthority, n.Title)
	require.Equal(t, analysis.SeverityHigh, n.Severity)
}

func TestBuildZoneUpdated(t *testing.T) {
	n := BuildZoneUpdated("www.example.com", "100", "101", testAt)
	require.Equal(t, KindZoneUpdated, n.Kind)
	require.Equal(t, "100", fieldValue(t, n, "Previous Serial"))
	require.Equal(t, "101", fieldValue(t, n, "Current Serial"))
}

func TestBuildDeployment(t *testing.T) {
	n := BuildDeployment("2024.06.11-1", 12, testAt)
	require.Equal(t, KindDeployment, n.Kind)
	require.Equal(t, "2024.06.11-1", fieldValue(t, n, "Version"))
	require.Equal(t, "12", fieldValue(t, n, "Domains Monitored"))
}
