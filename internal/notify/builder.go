package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/dnsvigil/dnsvigil/internal/analysis"
	"github.com/dnsvigil/dnsvigil/internal/resolver"
)

// Titles, in precedence order for the change path.
const (
	TitleCoordinated    = "Coordinated Infrastructure Change Detected"
	TitleCritical       = "Critical DNS Change Detected"
	TitleFailover       = "Load Balancer Failover Detected"
	TitleCDN            = "CDN Configuration Change"
	TitleMaintenance    = "DNS Change During Maintenance Window"
	TitleCompleteChange = "Complete IP Address Change"
	TitleDefault        = "DNS Change Detected"

	TitleAutoSuppression = "Notifications Auto-Suppressed"
	TitleMonitoringError = "DNS Monitoring Error"
	TitleNoAuthority     = "DNS Authority Unreachable"
	TitleZoneUpdated     = "DNS Zone Updated"
	TitleDeployment      = "New Deployment Detected"
)

// ChangeBundle carries every analyzer output feeding the builder.
type ChangeBundle struct {
	Domain       string
	Previous     []string
	Current      []string
	Change       analysis.ChangeContext
	CDN          analysis.CDNResult
	LB           analysis.LBResult
	Time         analysis.TimeContext
	Coordination analysis.CoordinationResult
	SOA          *resolver.SOA
	Dampening    analysis.DampeningDecision
}

// BuildChange produces the notification for a detected DNS change. Pure
// function of the bundle; no I/O.
func BuildChange(b ChangeBundle) Notification {
	n := newNotification(KindChange, changeTitle(b), b.Domain, b.Change.Severity, b.Change.At)

	n.Fields = append(n.Fields,
		Field{Name: "Domain", Value: b.Domain, Inline: true},
		Field{Name: "Previous IPs", Value: ipList(b.Previous), Inline: true},
		Field{Name: "Current IPs", Value: ipList(b.Current), Inline: true},
		Field{Name: "Change Type", Value: string(b.Change.Type), Inline: true},
		Field{Name: "Severity", Value: string(b.Change.Severity), Inline: true},
		Field{Name: "TTL", Value: fmt.Sprintf("%ds", b.Change.TTL), Inline: true},
		Field{Name: "Time Context", Value: string(b.Time.Pattern), Inline: true},
	)

	if b.CDN.IsAnyCDN {
		value := fmt.Sprintf("confidence %.0f%%", b.CDN.Confidence*100)
		if b.CDN.Provider != "" {
			value = fmt.Sprintf("%s (%s)", b.CDN.Provider, value)
		}
		n.Fields = append(n.Fields, Field{Name: "CDN", Value: value})
	}

	if b.LB.IsLoadBalancer {
		n.Fields = append(n.Fields, Field{
			Name:  "Load Balancer",
			Value: fmt.Sprintf("%s (confidence %.0f%%): %s", b.LB.Pattern, b.LB.Confidence*100, b.LB.Analysis),
		})
	}

	if b.Coordination.IsCoordinated {
		n.Fields = append(n.Fields, Field{
			Name: "Coordinated Change",
			Value: fmt.Sprintf("score %.2f, related: %s",
				b.Coordination.Score, strings.Join(b.Coordination.RelatedDomains, ", ")),
		})
	}

	if b.SOA != nil {
		n.Fields = append(n.Fields, Field{
			Name:  "SOA",
			Value: fmt.Sprintf("%s (serial %s, admin %s)", b.SOA.PrimaryNS, b.SOA.Serial, b.SOA.AdminEmail),
		})
	}

	n.Actions = recommendedActions(b)
	n.Fields = append(n.Fields, Field{Name: "Recommended Actions", Value: "- " + strings.Join(n.Actions, "\n- ")})
	return n
}

func changeTitle(b ChangeBundle) string {
	switch {
	case b.Coordination.IsCoordinated:
		return TitleCoordinated
	case b.Change.Severity == analysis.SeverityCritical:
		return TitleCritical
	case b.LB.IsLoadBalancer && b.LB.Pattern == analysis.LBFailover:
		return TitleFailover
	case b.CDN.IsAnyCDN:
		return TitleCDN
	case b.Time.IsMaintenanceWindow:
		return TitleMaintenance
	case b.Change.Type == analysis.ChangeComplete:
		return TitleCompleteChange
	default:
		return TitleDefault
	}
}

// recommendedActions assembles operator guidance from the classification.
func recommendedActions(b ChangeBundle) []string {
	var actions []string

	if b.Coordination.IsCoordinated {
		actions = append(actions, fmt.Sprintf(
			"Review platform-wide changes: %d sibling domains under %s changed together",
			len(b.Coordination.RelatedDomains), analysis.RegistrableParent(b.Domain)))
	}

	switch b.Change.Severity {
	case analysis.SeverityCritical:
		actions = append(actions, "Verify this change was planned and confirm service availability immediately")
	case analysis.SeverityHigh:
		actions = append(actions, "Investigate promptly and confirm the domain still serves traffic")
	}

	if b.LB.IsLoadBalancer {
		switch b.LB.Pattern {
		case analysis.LBFailover:
			actions = append(actions, "Check the health of the primary endpoint; traffic appears to have shifted to standby")
		case analysis.LBRoundRobin, analysis.LBWeighted:
			actions = append(actions, "Likely load balancer rotation; no action needed unless services degrade")
		}
	}

	if b.CDN.IsAnyCDN {
		actions = append(actions, "IPs belong to a known CDN; cross-check with the provider's status page before escalating")
	}

	if b.Change.Type == analysis.ChangeComplete && !b.CDN.IsAnyCDN {
		actions = append(actions, "Complete IP replacement outside known CDN ranges: rule out DNS hijacking")
	}

	if b.Change.Type == analysis.ChangeRemoval {
		actions = append(actions, "All A records were withdrawn; check zone configuration at the registrar")
	}

	if b.Time.IsMaintenanceWindow {
		actions = append(actions, "Change occurred inside the maintenance window; correlate with scheduled work")
	}

	if len(actions) == 0 {
		actions = append(actions, "Monitor for further changes")
	}
	return actions
}

// BuildAutoSuppression produces the notice emitted when change frequency
// crosses the suppression threshold.
func BuildAutoSuppression(domain string, changesLastHour int, window time.Duration, at time.Time) Notification {
	n := newNotification(KindAutoSuppression, TitleAutoSuppression, domain, analysis.SeverityLow, at)
	n.Color = ColorGray
	n.Fields = []Field{
		{Name: "Domain", Value: domain, Inline: true},
		{Name: "Changes In Last Hour", Value: fmt.Sprintf("%d", changesLastHour), Inline: true},
		{Name: "Suppressed For", Value: window.String(), Inline: true},
	}
	n.Actions = []string{
		"Change frequency is too high for per-change notifications",
		fmt.Sprintf("Further notifications for %s are silenced for %s", domain, window),
	}
	return n
}

// BuildMonitoringError reports a transport failure while checking a domain.
func BuildMonitoringError(domain string, err error, at time.Time) Notification {
	n := newNotification(KindMonitoringError, TitleMonitoringError, domain, analysis.SeverityHigh, at)
	n.Fields = []Field{
		{Name: "Domain", Value: domain, Inline: true},
		{Name: "Error", Value: err.Error()},
	}
	n.Actions = []string{"Resolver or network failure; the domain will be rechecked next tick"}
	return n
}

// BuildAuthorityUnreachable reports that the zone's authority stopped
// responding.
func BuildAuthorityUnreachable(domain string, at time.Time) Notification {
	n := newNotification(KindAuthorityUnreachable, TitleNoAuthority, domain, analysis.SeverityHigh, at)
	n.Fields = []Field{
		{Name: "Domain", Value: domain, Inline: true},
		{Name: "Status", Value: "no reachable authority", Inline: true},
	}
	n.Actions = []string{
		"Authoritative nameservers are not answering",
		"Verify NS delegation and nameserver health",
	}
	return n
}

// BuildZoneUpdated reports a SOA serial change without an IP change.
func BuildZoneUpdated(domain, oldSerial, newSerial string, at time.Time) Notification {
	n := newNotification(KindZoneUpdated, TitleZoneUpdated, domain, analysis.SeverityLow, at)
	n.Fields = []Field{
		{Name: "Domain", Value: domain, Inline: true},
		{Name: "Previous Serial", Value: oldSerial, Inline: true},
		{Name: "Current Serial", Value: newSerial, Inline: true},
	}
	n.Actions = []string{"Zone content changed without affecting A records; informational only"}
	return n
}

// BuildDeployment reports a new monitor deployment.
func BuildDeployment(version string, domains int, at time.Time) Notification {
	n := newNotification(KindDeployment, TitleDeployment, "", analysis.SeverityLow, at)
	n.Color = ColorBlue
	n.Fields = []Field{
		{Name: "Version", Value: version, Inline: true},
		{Name: "Domains Monitored", Value: fmt.Sprintf("%d", domains), Inline: true},
	}
	return n
}

func ipList(ips []string) string {
	if len(ips) == 0 {
		return "none"
	}
	return strings.Join(ips, ", ")
}
