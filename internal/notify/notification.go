// Package notify builds structured notifications from analyzer output and
// delivers them through a pluggable Notifier.
package notify

import (
	"time"

	"github.com/google/uuid"

	"github.com/dnsvigil/dnsvigil/internal/analysis"
)

// Kind identifies the notification path that produced a message.
type Kind string

const (
	KindChange               Kind = "dns_change"
	KindAutoSuppression      Kind = "auto_suppression"
	KindMonitoringError      Kind = "monitoring_error"
	KindAuthorityUnreachable Kind = "authority_unreachable"
	KindZoneUpdated          Kind = "zone_updated"
	KindDeployment           Kind = "deployment"
)

// Color is the presentational severity color. The Notifier owns the exact
// encoding.
type Color string

const (
	ColorRed    Color = "red"
	ColorOrange Color = "orange"
	ColorYellow Color = "yellow"
	ColorBlue   Color = "blue"
	ColorGray   Color = "gray"
)

// SeverityColor maps a change severity to its color.
func SeverityColor(s analysis.Severity) Color {
	switch s {
	case analysis.SeverityCritical:
		return ColorRed
	case analysis.SeverityHigh:
		return ColorOrange
	case analysis.SeverityMedium:
		return ColorYellow
	case analysis.SeverityLow:
		return ColorBlue
	default:
		return ColorGray
	}
}

// Field is one name/value block in a notification.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Notification is a fully built message, transport-agnostic.
type Notification struct {
	ID       string
	Kind     Kind
	Title    string
	Domain   string
	Severity analysis.Severity
	Color    Color
	Fields   []Field
	Actions  []string
	At       time.Time
}

func newNotification(kind Kind, title, domain string, severity analysis.Severity, at time.Time) Notification {
	return Notification{
		ID:       uuid.NewString(),
		Kind:     kind,
		Title:    title,
		Domain:   domain,
		Severity: severity,
		Color:    SeverityColor(severity),
		At:       at,
	}
}
