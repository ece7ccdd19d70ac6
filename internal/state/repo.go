// Package state is the typed view over the store for per-domain monitoring
// state, notification tracking, and the global change log.
package state

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dnsvigil/dnsvigil/internal/store"
)

// DomainState is the monitoring lifecycle state of a domain.
type DomainState string

const (
	// StateUnseen means the domain has never been successfully observed.
	// It is represented by an absent state key.
	StateUnseen DomainState = "unseen"
	StateResolved    DomainState = "resolved"
	StateNoAuthority DomainState = "no_authority"
)

const (
	// HistoryMaxEntries bounds the recent-IP history per domain.
	HistoryMaxEntries = 10
	// HistoryMaxAge is the freshness horizon for history entries.
	HistoryMaxAge = 7 * 24 * time.Hour
)

// MonitoredState is the persisted per-domain snapshot.
type MonitoredState struct {
	State      DomainState
	LastIPs    []string
	LastSerial string
}

// IPObservation is one entry of the recent-IP history.
type IPObservation struct {
	IPs       []string `json:"ips"`
	Timestamp int64    `json:"timestamp"` // epoch ms
}

// At returns the observation instant.
func (o IPObservation) At() time.Time { return time.UnixMilli(o.Timestamp) }

// GlobalChange is one entry of a global change bucket.
type GlobalChange struct {
	Domain    string   `json:"domain"`
	IPs       []string `json:"ips"`
	Timestamp int64    `json:"timestamp"` // epoch ms
}

// BotStatus is the liveness blob written after each tick.
type BotStatus struct {
	Online           bool   `json:"online"`
	LastCheck        int64  `json:"lastCheck"` // epoch ms
	DomainsMonitored int    `json:"domainsMonitored"`
	Activity         string `json:"activity"`
	UpdatedAt        int64  `json:"updatedAt"` // epoch ms
}

// Canonical returns a sorted copy of ips. All persisted IP sets use this form.
func Canonical(ips []string) []string {
	out := append([]string(nil), ips...)
	sort.Strings(out)
	return out
}

// Signature is the canonical comparison form of an IP set.
func Signature(ips []string) string {
	return strings.Join(Canonical(ips), ",")
}

// Repo wraps the store with typed accessors.
type Repo struct {
	store store.Store
}

// NewRepo builds a Repo over s.
func NewRepo(s store.Store) *Repo {
	return &Repo{store: s}
}

// Store exposes the underlying store for callers that need raw access.
func (r *Repo) Store() store.Store { return r.store }

// MonitoredState loads the per-domain snapshot. A domain with no state key is
// reported as unseen.
func (r *Repo) MonitoredState(ctx context.Context, fqdn string) (MonitoredState, error) {
	ms := MonitoredState{State: StateUnseen}

	raw, found, err := r.store.Get(ctx, store.DomainStateKey(fqdn))
	if err != nil {
		return ms, err
	}
	if !found {
		return ms, nil
	}
	ms.State = DomainState(raw)

	ipsRaw, found, err := r.store.Get(ctx, store.DomainIPsKey(fqdn))
	if err != nil {
		return ms, err
	}
	if found && ipsRaw != "" {
		ms.LastIPs = strings.Split(ipsRaw, ",")
	}

	serial, _, err := r.store.Get(ctx, store.DomainSerialKey(fqdn))
	if err != nil {
		return ms, err
	}
	ms.LastSerial = serial
	return ms, nil
}

// SetMonitoredState persists a transition into resolved or no_authority.
// Write order within a tick is state, then IPs, then serial.
func (r *Repo) SetMonitoredState(ctx context.Context, fqdn string, st DomainState, ips []string, serial string) error {
	if err := r.store.Set(ctx, store.DomainStateKey(fqdn), string(st)); err != nil {
		return err
	}
	if err := r.store.Set(ctx, store.DomainIPsKey(fqdn), strings.Join(Canonical(ips), ",")); err != nil {
		return err
	}
	return r.store.Set(ctx, store.DomainSerialKey(fqdn), serial)
}

// SetState updates only the lifecycle state.
func (r *Repo) SetState(ctx context.Context, fqdn string, st DomainState) error {
	return r.store.Set(ctx, store.DomainStateKey(fqdn), string(st))
}

// SetSerial updates only the SOA serial.
func (r *Repo) SetSerial(ctx context.Context, fqdn, serial string) error {
	return r.store.Set(ctx, store.DomainSerialKey(fqdn), serial)
}

// LastNotificationAt returns the most recent notification instant for fqdn.
// ok is false when no notification was ever sent.
func (r *Repo) LastNotificationAt(ctx context.Context, fqdn string) (time.Time, bool, error) {
	raw, found, err := r.store.Get(ctx, store.LastNotifiedKey(fqdn))
	if err != nil || !found {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Warn().Str("domain", fqdn).Str("value", raw).Msg("Corrupt last-notification timestamp, treating as absent")
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

// SetLastNotificationAt advances the notification timestamp. The value is
// monotone non-decreasing per domain; stale writes are dropped.
func (r *Repo) SetLastNotificationAt(ctx context.Context, fqdn string, at time.Time) error {
	prev, ok, err := r.LastNotificationAt(ctx, fqdn)
	if err != nil {
		return err
	}
	if ok && at.Before(prev) {
		return nil
	}
	return r.store.Set(ctx, store.LastNotifiedKey(fqdn), strconv.FormatInt(at.UnixMilli(), 10))
}

// SuppressedUntil returns the auto-suppression expiry for fqdn. ok is false
// when no suppression window is active.
func (r *Repo) SuppressedUntil(ctx context.Context, fqdn string) (time.Time, bool, error) {
	raw, found, err := r.store.Get(ctx, store.SuppressedUntilKey(fqdn))
	if err != nil || !found {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Warn().Str("domain", fqdn).Str("value", raw).Msg("Corrupt suppression expiry, treating as absent")
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

// SetSuppressedUntil opens an auto-suppression window ending at until. The
// key expires on its own.
func (r *Repo) SetSuppressedUntil(ctx context.Context, fqdn string, now, until time.Time) error {
	return r.store.SetTTL(ctx, store.SuppressedUntilKey(fqdn),
		strconv.FormatInt(until.UnixMilli(), 10), until.Sub(now))
}

// ClearSuppression removes notification tracking so the next change
// notifies immediately.
func (r *Repo) ClearSuppression(ctx context.Context, fqdn string) error {
	return r.store.Delete(ctx, store.LastNotifiedKey(fqdn), store.SuppressedUntilKey(fqdn))
}

// RecentIPHistory returns the stored history, oldest first, already trimmed
// to the retention rules. Corrupt JSON is treated as an empty history.
func (r *Repo) RecentIPHistory(ctx context.Context, fqdn string, now time.Time) ([]IPObservation, error) {
	raw, found, err := r.store.Get(ctx, store.RecentIPsKey(fqdn))
	if err != nil || !found {
		return nil, err
	}
	var history []IPObservation
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		log.Warn().Str("domain", fqdn).Err(err).Msg("Corrupt recent-IP history, treating as absent")
		return nil, nil
	}
	return trimHistory(history, now), nil
}

// AppendRecentIPs records an observed IP set and persists the trimmed history.
func (r *Repo) AppendRecentIPs(ctx context.Context, fqdn string, ips []string, now time.Time) error {
	history, err := r.RecentIPHistory(ctx, fqdn, now)
	if err != nil {
		return err
	}
	history = append(history, IPObservation{IPs: Canonical(ips), Timestamp: now.UnixMilli()})
	history = trimHistory(history, now)

	buf, err := json.Marshal(history)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, store.RecentIPsKey(fqdn), string(buf))
}

// trimHistory enforces retention: last 10 entries, within 7 days, ordered by
// timestamp ascending.
func trimHistory(history []IPObservation, now time.Time) []IPObservation {
	sort.Slice(history, func(i, j int) bool { return history[i].Timestamp < history[j].Timestamp })

	horizon := now.Add(-HistoryMaxAge).UnixMilli()
	fresh := history[:0]
	for _, obs := range history {
		if obs.Timestamp >= horizon {
			fresh = append(fresh, obs)
		}
	}
	if len(fresh) > HistoryMaxEntries {
		fresh = fresh[len(fresh)-HistoryMaxEntries:]
	}
	if len(fresh) == 0 {
		return nil
	}
	return append([]IPObservation(nil), fresh...)
}

// AppendGlobalChange records a change in the current 5-minute bucket. The
// bucket is append-only with last-writer-wins; lost appends only reduce
// coordination recall.
func (r *Repo) AppendGlobalChange(ctx context.Context, fqdn string, ips []string, now time.Time) error {
	key := store.GlobalChangesKey(now)

	var entries []GlobalChange
	raw, found, err := r.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if found {
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			log.Warn().Str("key", key).Err(err).Msg("Corrupt global change bucket, resetting")
			entries = nil
		}
	}

	entries = append(entries, GlobalChange{Domain: fqdn, IPs: Canonical(ips), Timestamp: now.UnixMilli()})
	buf, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return r.store.SetTTL(ctx, key, string(buf), store.GlobalBucketTTL)
}

// RecentGlobalChanges gathers the entries of the current and previous
// buckets, covering the last ten minutes.
func (r *Repo) RecentGlobalChanges(ctx context.Context, now time.Time) ([]GlobalChange, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var out []GlobalChange
	for _, key := range []string{
		store.GlobalChangesKey(now),
		store.GlobalChangesKey(now.Add(-store.GlobalBucketWidth)),
	} {
		raw, found, err := r.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		var entries []GlobalChange
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			log.Warn().Str("key", key).Err(err).Msg("Corrupt global change bucket, skipping")
			continue
		}
		out = append(out, entries...)
	}
	return out, nil
}

// DynamicDomains returns the dynamic domain list.
func (r *Repo) DynamicDomains(ctx context.Context) ([]string, error) {
	raw, found, err := r.store.Get(ctx, store.KeyDynamicDomains)
	if err != nil || !found {
		return nil, err
	}
	var domains []string
	if err := json.Unmarshal([]byte(raw), &domains); err != nil {
		log.Warn().Err(err).Msg("Corrupt dynamic domain list, treating as empty")
		return nil, nil
	}
	return domains, nil
}

// SetDynamicDomains replaces the dynamic domain list.
func (r *Repo) SetDynamicDomains(ctx context.Context, domains []string) error {
	buf, err := json.Marshal(domains)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, store.KeyDynamicDomains, string(buf))
}

// DeleteDomain removes every key belonging to fqdn.
func (r *Repo) DeleteDomain(ctx context.Context, fqdn string) error {
	return r.store.Delete(ctx, store.DomainKeys(fqdn)...)
}

// VersionID returns the stored deployment id.
func (r *Repo) VersionID(ctx context.Context) (string, error) {
	raw, _, err := r.store.Get(ctx, store.KeyVersionID)
	return raw, err
}

// SetVersionID stores the deployment id.
func (r *Repo) SetVersionID(ctx context.Context, id string) error {
	return r.store.Set(ctx, store.KeyVersionID, id)
}

// SetBotStatus writes the liveness blob.
func (r *Repo) SetBotStatus(ctx context.Context, status BotStatus) error {
	buf, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, store.KeyBotStatus, string(buf))
}
