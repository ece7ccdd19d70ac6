// Package monitor runs the per-domain observation loop: resolve, diff
// against stored state, run the change analyzer, and emit dampened
// notifications.
package monitor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dnsvigil/dnsvigil/internal/analysis"
	"github.com/dnsvigil/dnsvigil/internal/notify"
	"github.com/dnsvigil/dnsvigil/internal/resolver"
	"github.com/dnsvigil/dnsvigil/internal/state"
)

// Resolver is the seam to the DoH client.
type Resolver interface {
	Resolve(ctx context.Context, fqdn string) (*resolver.Result, error)
}

// Observer performs one domain check per invocation.
type Observer struct {
	repo     *state.Repo
	resolver Resolver
	notifier notify.Notifier
	metrics  *Metrics
	now      func() time.Time
}

// NewObserver wires an Observer. metrics may be nil.
func NewObserver(repo *state.Repo, res Resolver, notifier notify.Notifier, metrics *Metrics) *Observer {
	return &Observer{
		repo:     repo,
		resolver: res,
		notifier: notifier,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Check observes one domain and applies the state machine. Failures are
// recovered locally; the scan never aborts because one domain misbehaved.
func (o *Observer) Check(ctx context.Context, fqdn string) {
	now := o.now()

	res, err := o.resolver.Resolve(ctx, fqdn)
	if err != nil {
		// Transport failure: notify, skip state mutation entirely.
		o.metrics.observeCheck(ResultError)
		o.metrics.observeResolverError()
		log.Warn().Str("domain", fqdn).Err(err).Msg("Resolution failed")
		o.emit(ctx, notify.BuildMonitoringError(fqdn, err, now))
		return
	}

	ms, err := o.repo.MonitoredState(ctx, fqdn)
	if err != nil {
		o.metrics.observeCheck(ResultError)
		log.Warn().Str("domain", fqdn).Err(err).Msg("Loading monitored state failed")
		return
	}

	if res.NoAuthority {
		o.metrics.observeCheck(ResultNoAuthority)
		if ms.State != state.StateNoAuthority {
			o.emit(ctx, notify.BuildAuthorityUnreachable(fqdn, now))
			if err := o.repo.SetState(ctx, fqdn, state.StateNoAuthority); err != nil {
				log.Warn().Str("domain", fqdn).Err(err).Msg("Persisting no_authority state failed")
			}
		}
		return
	}

	current := make([]string, 0, len(res.ARecords))
	ttl := 0
	for _, rec := range res.ARecords {
		current = append(current, rec.IP)
		if ttl == 0 {
			ttl = rec.TTL
		}
	}
	current = state.Canonical(current)

	serial := ""
	if res.SOA != nil {
		serial = res.SOA.Serial
	}

	if ms.State == state.StateUnseen {
		// First observation: record the baseline silently.
		if err := o.repo.SetMonitoredState(ctx, fqdn, state.StateResolved, current, serial); err != nil {
			log.Warn().Str("domain", fqdn).Err(err).Msg("Persisting first observation failed")
			return
		}
		o.metrics.observeCheck(ResultFirstSeen)
		log.Info().Str("domain", fqdn).Strs("ips", current).Msg("Domain observed for the first time")
		return
	}

	if state.Signature(current) != state.Signature(ms.LastIPs) {
		o.metrics.observeCheck(ResultChanged)
		o.handleChange(ctx, fqdn, ms, current, serial, ttl, res.SOA, now)
		return
	}

	if serial != ms.LastSerial {
		o.metrics.observeCheck(ResultZoneUpdated)
		if err := o.repo.SetSerial(ctx, fqdn, serial); err != nil {
			log.Warn().Str("domain", fqdn).Err(err).Msg("Persisting serial failed")
			return
		}
		if err := o.repo.SetLastNotificationAt(ctx, fqdn, now); err != nil {
			log.Warn().Str("domain", fqdn).Err(err).Msg("Advancing notification timestamp failed")
		}
		o.emit(ctx, notify.BuildZoneUpdated(fqdn, ms.LastSerial, serial, now))
		return
	}

	o.metrics.observeCheck(ResultUnchanged)
}

// handleChange runs the analyzer pipeline over a detected IP change and
// decides whether to notify.
func (o *Observer) handleChange(ctx context.Context, fqdn string, ms state.MonitoredState,
	current []string, serial string, ttl int, soa *resolver.SOA, now time.Time) {

	// Persist the new observation first: state, IPs, serial.
	if err := o.repo.SetMonitoredState(ctx, fqdn, state.StateResolved, current, serial); err != nil {
		log.Warn().Str("domain", fqdn).Err(err).Msg("Persisting changed state failed")
		return
	}

	tc := analysis.TemporalContext(now)
	cc := analysis.ClassifyChange(ms.LastIPs, current, ttl, tc, now)
	o.metrics.observeChange(string(cc.Type))

	cdn := analysis.DetectCDN(current)

	// History is read before the current observation is appended, so the
	// analyzers see only prior state.
	history, err := o.repo.RecentIPHistory(ctx, fqdn, now)
	if err != nil {
		// Fail open: analyze with what we have.
		log.Warn().Str("domain", fqdn).Err(err).Msg("Reading IP history failed, analyzing without it")
		history = nil
	}
	lb := analysis.AnalyzeLoadBalancer(history, now)
	if lb.Pattern == analysis.LBFailover {
		cc.Severity = escalate(cc.Severity, analysis.SeverityHigh)
	}

	// The bucket append must precede the read so this change correlates
	// with itself on sibling domains.
	if err := o.repo.AppendGlobalChange(ctx, fqdn, current, now); err != nil {
		log.Warn().Str("domain", fqdn).Err(err).Msg("Appending global change failed")
	}
	coord := analysis.CoordinationResult{}
	if entries, err := o.repo.RecentGlobalChanges(ctx, now); err != nil {
		log.Warn().Str("domain", fqdn).Err(err).Msg("Reading global changes failed, skipping coordination")
	} else {
		coord = analysis.DetectCoordination(fqdn, current, entries)
	}
	if coord.IsCoordinated {
		cc.Severity = escalate(cc.Severity, analysis.SeverityHigh)
		if !lb.IsLoadBalancer {
			// Sibling churn stands in for missing single-domain history.
			lb = analysis.LBResult{
				IsLoadBalancer: true,
				Pattern:        analysis.LBRoundRobin,
				Confidence:     coord.Score,
				Analysis:       coord.Analysis,
			}
		}
	}

	changesLastHour := changesWithin(history, now, time.Hour)
	decision := analysis.CalculateDampening(analysis.DampeningInput{
		TTL:             ttl,
		CDN:             cdn,
		LB:              lb,
		Time:            tc,
		Change:          cc,
		ChangesLastHour: changesLastHour,
		OscillationSeen: signatureSeen(history, current, now),
	})

	o.notifyChange(ctx, fqdn, notify.ChangeBundle{
		Domain:       fqdn,
		Previous:     ms.LastIPs,
		Current:      current,
		Change:       cc,
		CDN:          cdn,
		LB:           lb,
		Time:         tc,
		Coordination: coord,
		SOA:          soa,
		Dampening:    decision,
	}, decision, changesLastHour, now)

	// History always records the change, notified or not.
	if err := o.repo.AppendRecentIPs(ctx, fqdn, current, now); err != nil {
		log.Warn().Str("domain", fqdn).Err(err).Msg("Appending IP history failed")
	}
}

// notifyChange applies the suppression window, the dampening decision, and
// the fail-open emission ordering.
func (o *Observer) notifyChange(ctx context.Context, fqdn string, bundle notify.ChangeBundle,
	decision analysis.DampeningDecision, changesLastHour int, now time.Time) {

	if until, active, err := o.repo.SuppressedUntil(ctx, fqdn); err != nil {
		// Fail open: prefer notifying over dropping.
		log.Warn().Str("domain", fqdn).Err(err).Msg("Reading suppression window failed, ignoring it")
	} else if active && now.Before(until) {
		o.metrics.observeNotification(OutcomeSuppressed)
		log.Debug().Str("domain", fqdn).Time("until", until).Msg("Change swallowed by auto-suppression window")
		return
	}

	if decision.AutoSuppress {
		until := now.Add(analysis.AutoSuppressWindow)
		if err := o.repo.SetSuppressedUntil(ctx, fqdn, now, until); err != nil {
			log.Warn().Str("domain", fqdn).Err(err).Msg("Opening suppression window failed")
		}
		if err := o.repo.SetLastNotificationAt(ctx, fqdn, now); err != nil {
			log.Warn().Str("domain", fqdn).Err(err).Msg("Advancing notification timestamp failed")
		}
		o.metrics.observeNotification(OutcomeAutoSuppressed)
		// The current change is not yet in the history; count it in.
		o.emit(ctx, notify.BuildAutoSuppression(fqdn, changesLastHour+1, analysis.AutoSuppressWindow, now))
		return
	}

	last, has, err := o.repo.LastNotificationAt(ctx, fqdn)
	if err != nil {
		log.Warn().Str("domain", fqdn).Err(err).Msg("Reading notification timestamp failed, notifying anyway")
		has = false
	}
	if has && now.Sub(last) < decision.Period {
		o.metrics.observeNotification(OutcomeSuppressed)
		log.Debug().
			Str("domain", fqdn).
			Dur("period", decision.Period).
			Str("reasons", decision.Summary()).
			Msg("Change dampened")
		return
	}

	// The timestamp advances before emission: a notifier failure must not
	// cause tight-loop retries on following ticks.
	if err := o.repo.SetLastNotificationAt(ctx, fqdn, now); err != nil {
		log.Warn().Str("domain", fqdn).Err(err).Msg("Advancing notification timestamp failed")
	}
	o.metrics.observeNotification(OutcomeEmitted)
	o.emit(ctx, notify.BuildChange(bundle))
}

func (o *Observer) emit(ctx context.Context, n notify.Notification) {
	if err := o.notifier.Emit(ctx, n); err != nil {
		o.metrics.observeNotification(OutcomeNotifierError)
		log.Error().Str("title", n.Title).Str("domain", n.Domain).Err(err).Msg("Notifier emission failed")
	}
}

func escalate(current, floor analysis.Severity) analysis.Severity {
	if severityRank(current) < severityRank(floor) {
		return floor
	}
	return current
}

func severityRank(s analysis.Severity) int {
	switch s {
	case analysis.SeverityCritical:
		return 3
	case analysis.SeverityHigh:
		return 2
	case analysis.SeverityMedium:
		return 1
	default:
		return 0
	}
}

func changesWithin(history []state.IPObservation, now time.Time, window time.Duration) int {
	cutoff := now.Add(-window).UnixMilli()
	count := 0
	for _, obs := range history {
		if obs.Timestamp >= cutoff {
			count++
		}
	}
	return count
}

func signatureSeen(history []state.IPObservation, current []string, now time.Time) bool {
	sig := state.Signature(current)
	cutoff := now.Add(-analysis.OscillationWindow).UnixMilli()
	for _, obs := range history {
		if obs.Timestamp >= cutoff && state.Signature(obs.IPs) == sig {
			return true
		}
	}
	return false
}
