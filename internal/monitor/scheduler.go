package monitor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dnsvigil/dnsvigil/internal/notify"
	"github.com/dnsvigil/dnsvigil/internal/state"
)

// DefaultConcurrency bounds the per-tick fan-out.
const DefaultConcurrency = 16

// Scheduler fans one tick out over every monitored domain.
type Scheduler struct {
	repo        *state.Repo
	observer    *Observer
	notifier    notify.Notifier
	metrics     *Metrics
	static      func() []string
	version     string
	concurrency int
	now         func() time.Time
}

// NewScheduler wires a Scheduler. static supplies the configured domain
// list and is re-invoked every tick so hot reloads take effect; version is
// the host deployment id, empty to disable deployment notifications.
func NewScheduler(repo *state.Repo, observer *Observer, notifier notify.Notifier, metrics *Metrics,
	static func() []string, version string, concurrency int) *Scheduler {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Scheduler{
		repo:        repo,
		observer:    observer,
		notifier:    notifier,
		metrics:     metrics,
		static:      static,
		version:     version,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// Tick enumerates the monitored set and checks every domain with bounded
// concurrency. Per-domain failures are handled inside the Observer; Tick
// only fails on enumeration problems.
func (s *Scheduler) Tick(ctx context.Context) error {
	start := s.now()

	domains, err := s.Domains(ctx)
	if err != nil {
		return err
	}

	s.checkDeployment(ctx, len(domains))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, fqdn := range domains {
		fqdn := fqdn
		g.Go(func() error {
			s.observer.Check(gctx, fqdn)
			return nil
		})
	}
	g.Wait()

	elapsed := s.now().Sub(start)
	s.metrics.observeTick(elapsed, len(domains))

	status := state.BotStatus{
		Online:           true,
		LastCheck:        start.UnixMilli(),
		DomainsMonitored: len(domains),
		Activity:         fmt.Sprintf("watching %d domains", len(domains)),
		UpdatedAt:        s.now().UnixMilli(),
	}
	if err := s.repo.SetBotStatus(ctx, status); err != nil {
		log.Warn().Err(err).Msg("Writing bot status failed")
	}

	log.Info().
		Int("domains", len(domains)).
		Dur("elapsed", elapsed).
		Msg("Tick complete")
	return nil
}

// Domains returns the sorted, deduplicated union of static and dynamic
// domains.
func (s *Scheduler) Domains(ctx context.Context) ([]string, error) {
	dynamic, err := s.repo.DynamicDomains(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out []string
	for _, d := range append(s.static(), dynamic...) {
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Strings(out)
	return out, nil
}

// checkDeployment emits one deployment notification when the deployment id
// changed since the last tick. Runs before any domain checks.
func (s *Scheduler) checkDeployment(ctx context.Context, domains int) {
	if s.version == "" {
		return
	}
	stored, err := s.repo.VersionID(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Reading deployment id failed")
		return
	}
	if stored == s.version {
		return
	}

	if err := s.notifier.Emit(ctx, notify.BuildDeployment(s.version, domains, s.now())); err != nil {
		log.Warn().Err(err).Msg("Deployment notification failed")
	}
	if err := s.repo.SetVersionID(ctx, s.version); err != nil {
		log.Warn().Err(err).Msg("Persisting deployment id failed")
	}
	log.Info().Str("version", s.version).Msg("New deployment detected")
}
