// Package commands is the external command surface: domain list management,
// dampening inspection, and per-domain status for operators.
package commands

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/rs/zerolog/log"

	"github.com/dnsvigil/dnsvigil/internal/errkind"
	"github.com/dnsvigil/dnsvigil/internal/state"
)

// MaxDomainLength is the RFC 1035 limit on a full domain name.
const MaxDomainLength = 253

var labelPattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

// AddResult is the outcome of AddDynamic.
type AddResult string

const (
	AddAdded     AddResult = "added"
	AddDuplicate AddResult = "duplicate"
	AddInvalid   AddResult = "invalid"
)

// RemoveResult is the outcome of RemoveDynamic.
type RemoveResult string

const (
	RemoveRemoved  RemoveResult = "removed"
	RemoveNotFound RemoveResult = "not_found"
)

// DomainList pairs the configured and runtime-managed domains.
type DomainList struct {
	Static  []string
	Dynamic []string
}

// SubtreeResult reports what RemoveSubtree did.
type SubtreeResult struct {
	Removed []string
	// Refused lists matching domains that come from static configuration
	// and cannot be removed at runtime.
	Refused []string
}

// DampeningReport describes the notification throttle state of a domain.
type DampeningReport struct {
	Domain             string
	LastNotificationAt time.Time
	HasNotified        bool
	SuppressedUntil    time.Time
	Suppressed         bool
	ChangesLastHour    int
}

// StatusReport is the full monitoring snapshot of one domain.
type StatusReport struct {
	Domain     string
	State      state.DomainState
	LastIPs    []string
	LastSerial string
	History    []state.IPObservation
	Static     bool
	Dynamic    bool
}

// Service executes operator commands against the repo.
type Service struct {
	repo   *state.Repo
	static func() []string
	now    func() time.Time
}

// NewService wires a Service. static supplies the configured domain list.
func NewService(repo *state.Repo, static func() []string) *Service {
	return &Service{repo: repo, static: static, now: time.Now}
}

// NormalizeDomain lowercases and validates a raw domain name.
func NormalizeDomain(raw string) (string, error) {
	fqdn := strings.ToLower(strings.TrimSpace(raw))
	if fqdn == "" || len(fqdn) > MaxDomainLength || !labelPattern.MatchString(fqdn) {
		return "", errkind.NewDomain(errkind.KindValidation, "validate_domain", raw,
			errors.New("not a valid domain name"))
	}
	return fqdn, nil
}

// ListDomains returns the static and dynamic domain lists, each sorted.
func (s *Service) ListDomains(ctx context.Context) (DomainList, error) {
	dynamic, err := s.repo.DynamicDomains(ctx)
	if err != nil {
		return DomainList{}, err
	}
	static := append([]string(nil), s.static()...)
	sort.Strings(static)
	sort.Strings(dynamic)
	return DomainList{Static: static, Dynamic: dynamic}, nil
}

// AddDynamic adds a domain to the runtime-managed list. Invalid input is
// reported alongside the validation error.
func (s *Service) AddDynamic(ctx context.Context, raw string) (AddResult, error) {
	fqdn, err := NormalizeDomain(raw)
	if err != nil {
		return AddInvalid, err
	}

	dynamic, err := s.repo.DynamicDomains(ctx)
	if err != nil {
		return AddInvalid, err
	}
	for _, d := range dynamic {
		if d == fqdn {
			return AddDuplicate, nil
		}
	}

	dynamic = append(dynamic, fqdn)
	sort.Strings(dynamic)
	if err := s.repo.SetDynamicDomains(ctx, dynamic); err != nil {
		return AddInvalid, err
	}
	log.Info().Str("domain", fqdn).Msg("Dynamic domain added")
	return AddAdded, nil
}

// RemoveDynamic removes a domain from the runtime-managed list together
// with all of its stored monitoring keys.
func (s *Service) RemoveDynamic(ctx context.Context, raw string) (RemoveResult, error) {
	fqdn, err := NormalizeDomain(raw)
	if err != nil {
		return RemoveNotFound, err
	}

	dynamic, err := s.repo.DynamicDomains(ctx)
	if err != nil {
		return RemoveNotFound, err
	}
	kept := dynamic[:0]
	found := false
	for _, d := range dynamic {
		if d == fqdn {
			found = true
			continue
		}
		kept = append(kept, d)
	}
	if !found {
		return RemoveNotFound, nil
	}

	if err := s.repo.SetDynamicDomains(ctx, kept); err != nil {
		return RemoveNotFound, err
	}
	if err := s.repo.DeleteDomain(ctx, fqdn); err != nil {
		return RemoveNotFound, err
	}
	log.Info().Str("domain", fqdn).Msg("Dynamic domain removed")
	return RemoveRemoved, nil
}

// RemoveSubtree removes fqdn and every stored domain underneath it. Static
// domains match but are refused rather than removed.
func (s *Service) RemoveSubtree(ctx context.Context, raw string) (SubtreeResult, error) {
	fqdn, err := NormalizeDomain(raw)
	if err != nil {
		return SubtreeResult{}, err
	}
	pattern := "*." + fqdn

	var result SubtreeResult
	for _, d := range s.static() {
		if d == fqdn || wildcard.Match(pattern, d) {
			result.Refused = append(result.Refused, d)
		}
	}
	sort.Strings(result.Refused)

	dynamic, err := s.repo.DynamicDomains(ctx)
	if err != nil {
		return SubtreeResult{}, err
	}
	kept := dynamic[:0]
	for _, d := range dynamic {
		if d == fqdn || wildcard.Match(pattern, d) {
			result.Removed = append(result.Removed, d)
			continue
		}
		kept = append(kept, d)
	}
	if len(result.Removed) == 0 {
		return result, nil
	}

	if err := s.repo.SetDynamicDomains(ctx, kept); err != nil {
		return SubtreeResult{}, err
	}
	for _, d := range result.Removed {
		if err := s.repo.DeleteDomain(ctx, d); err != nil {
			return result, err
		}
	}
	sort.Strings(result.Removed)
	log.Info().Str("domain", fqdn).Int("removed", len(result.Removed)).Msg("Domain subtree removed")
	return result, nil
}

// GetDampening reports the notification throttle state of a domain.
func (s *Service) GetDampening(ctx context.Context, raw string) (DampeningReport, error) {
	fqdn, err := NormalizeDomain(raw)
	if err != nil {
		return DampeningReport{}, err
	}
	now := s.now()
	report := DampeningReport{Domain: fqdn}

	last, has, err := s.repo.LastNotificationAt(ctx, fqdn)
	if err != nil {
		return report, err
	}
	report.LastNotificationAt = last
	report.HasNotified = has

	until, active, err := s.repo.SuppressedUntil(ctx, fqdn)
	if err != nil {
		return report, err
	}
	report.SuppressedUntil = until
	report.Suppressed = active && now.Before(until)

	history, err := s.repo.RecentIPHistory(ctx, fqdn, now)
	if err != nil {
		return report, err
	}
	cutoff := now.Add(-time.Hour).UnixMilli()
	for _, obs := range history {
		if obs.Timestamp >= cutoff {
			report.ChangesLastHour++
		}
	}
	return report, nil
}

// ClearDampening drops the notification throttle so the next change
// notifies immediately.
func (s *Service) ClearDampening(ctx context.Context, raw string) error {
	fqdn, err := NormalizeDomain(raw)
	if err != nil {
		return err
	}
	if err := s.repo.ClearSuppression(ctx, fqdn); err != nil {
		return err
	}
	log.Info().Str("domain", fqdn).Msg("Dampening cleared")
	return nil
}

// GetStatus returns the monitoring snapshot of one domain.
func (s *Service) GetStatus(ctx context.Context, raw string) (StatusReport, error) {
	fqdn, err := NormalizeDomain(raw)
	if err != nil {
		return StatusReport{}, err
	}

	ms, err := s.repo.MonitoredState(ctx, fqdn)
	if err != nil {
		return StatusReport{}, err
	}
	history, err := s.repo.RecentIPHistory(ctx, fqdn, s.now())
	if err != nil {
		return StatusReport{}, err
	}
	dynamic, err := s.repo.DynamicDomains(ctx)
	if err != nil {
		return StatusReport{}, err
	}

	report := StatusReport{
		Domain:     fqdn,
		State:      ms.State,
		LastIPs:    ms.LastIPs,
		LastSerial: ms.LastSerial,
		History:    history,
	}
	for _, d := range s.static() {
		if d == fqdn {
			report.Static = true
		}
	}
	for _, d := range dynamic {
		if d == fqdn {
			report.Dynamic = true
		}
	}
	return report, nil
}
