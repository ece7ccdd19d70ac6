package monitor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/dnsvigil/dnsvigil/internal/notify"
	"github.com/dnsvigil/dnsvigil/internal/resolver"
	"github.com/dnsvigil/dnsvigil/internal/state"
	"github.com/dnsvigil/dnsvigil/internal/store"
)

type fakeResolver struct {
	results map[string]*resolver.Result
	errs    map[string]error
}

func (f *fakeResolver) Resolve(_ context.Context, fqdn string) (*resolver.Result, error) {
	if err, ok := f.errs[fqdn]; ok {
		return nil, err
	}
	res, ok := f.results[fqdn]
	if !ok {
		return nil, errors.New("no fixture for " + fqdn)
	}
	return res, nil
}

type captureNotifier struct {
	sent []notify.Notification
	err  error
}

func (c *captureNotifier) Emit(_ context.Context, n notify.Notification) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, n)
	return nil
}

type harness struct {
	repo     *state.Repo
	resolver *fakeResolver
	notifier *captureNotifier
	observer *Observer
	now      time.Time
}

func newHarness(t *testing.T, now time.Time) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	st := store.NewRedis(mr.Addr(), "", 0)
	t.Cleanup(func() { st.Close() })

	h := &harness{
		repo:     state.NewRepo(st),
		resolver: &fakeResolver{results: map[string]*resolver.Result{}, errs: map[string]error{}},
		notifier: &captureNotifier{},
		now:      now,
	}
	h.observer = NewObserver(h.repo, h.resolver, h.notifier, nil)
	h.observer.now = func() time.Time { return h.now }
	return h
}

func (h *harness) serve(fqdn string, ips []string, ttl int, serial string) {
	res := &resolver.Result{}
	for _, ip := range ips {
		res.ARecords = append(res.ARecords, resolver.ARecord{IP: ip, TTL: ttl})
	}
	if serial != "" {
		res.SOA = &resolver.SOA{PrimaryNS: "ns1.example.net", AdminEmail: "hostmaster@example.net", Serial: serial}
	}
	h.resolver.results[fqdn] = res
}

func field(t *testing.T, n notify.Notification, name string) string {
	t.Helper()
	for _, f := range n.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	t.Fatalf("field %q not present", name)
	return ""
}

// Tue 2024-06-11, UTC.
var (
	businessTime = time.Date(2024, 6, 11, 10, 0, 0, 0, time.UTC)
	eveningTime  = time.Date(2024, 6, 11, 20, 0, 0, 0, time.UTC)
)

func TestCheckFirstObservationIsSilent(t *testing.T) {
	h := newHarness(t, businessTime)
	h.serve("app.example.net", []string{"203.0.113.20", "203.0.113.10"}, 300, "2024061101")

	h.observer.Check(context.Background(), "app.example.net")

	require.Empty(t, h.notifier.sent)

	ms, err := h.repo.MonitoredState(context.Background(), "app.example.net")
	require.NoError(t, err)
	require.Equal(t, state.StateResolved, ms.State)
	require.Equal(t, []string{"203.0.113.10", "203.0.113.20"}, ms.LastIPs)
	require.Equal(t, "2024061101", ms.LastSerial)
}

func TestCheckUnchangedEmitsNothing(t *testing.T) {
	h := newHarness(t, businessTime)
	ctx := context.Background()
	require.NoError(t, h.repo.SetMonitoredState(ctx, "app.example.net", state.StateResolved,
		[]string{"203.0.113.10"}, "2024061101"))
	h.serve("app.example.net", []string{"203.0.113.10"}, 300, "2024061101")

	h.observer.Check(ctx, "app.example.net")

	require.Empty(t, h.notifier.sent)
}

func TestCheckCompleteChangeDuringBusinessHoursIsCritical(t *testing.T) {
	h := newHarness(t, businessTime)
	ctx := context.Background()
	require.NoError(t, h.repo.SetMonitoredState(ctx, "pay.example.net", state.StateResolved,
		[]string{"203.0.113.10"}, "2024061101"))
	h.serve("pay.example.net", []string{"198.51.100.7"}, 3600, "2024061101")

	h.observer.Check(ctx, "pay.example.net")

	require.Len(t, h.notifier.sent, 1)
	n := h.notifier.sent[0]
	require.Equal(t, notify.KindChange, n.Kind)
	require.Equal(t, notify.TitleCritical, n.Title)
	require.Equal(t, "critical", field(t, n, "Severity"))
	require.Equal(t, "complete_change", field(t, n, "Change Type"))
	require.Equal(t, "203.0.113.10", field(t, n, "Previous IPs"))
	require.Equal(t, "198.51.100.7", field(t, n, "Current IPs"))

	last, has, err := h.repo.LastNotificationAt(ctx, "pay.example.net")
	require.NoError(t, err)
	require.True(t, has)
	require.Equal(t, businessTime.UnixMilli(), last.UnixMilli())

	ms, err := h.repo.MonitoredState(ctx, "pay.example.net")
	require.NoError(t, err)
	require.Equal(t, []string{"198.51.100.7"}, ms.LastIPs)

	hist, err := h.repo.RecentIPHistory(ctx, "pay.example.net", h.now)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.Equal(t, []string{"198.51.100.7"}, hist[0].IPs)
}

func TestCheckSecondChangeWithinPeriodIsSuppressed(t *testing.T) {
	h := newHarness(t, businessTime)
	ctx := context.Background()
	require.NoError(t, h.repo.SetMonitoredState(ctx, "pay.example.net", state.StateResolved,
		[]string{"203.0.113.10"}, "2024061101"))
	h.serve("pay.example.net", []string{"198.51.100.7"}, 3600, "2024061101")
	h.observer.Check(ctx, "pay.example.net")
	require.Len(t, h.notifier.sent, 1)

	// Base 1h scaled by business hours and critical severity gives 14.4
	// minutes; five minutes later is still inside the window.
	h.now = h.now.Add(5 * time.Minute)
	h.serve("pay.example.net", []string{"192.0.2.9"}, 3600, "2024061101")
	h.observer.Check(ctx, "pay.example.net")

	require.Len(t, h.notifier.sent, 1)

	// The observation is persisted even when the notification is dampened.
	ms, err := h.repo.MonitoredState(ctx, "pay.example.net")
	require.NoError(t, err)
	require.Equal(t, []string{"192.0.2.9"}, ms.LastIPs)
}

func TestCheckOscillationOverrideSuppresses(t *testing.T) {
	h := newHarness(t, eveningTime)
	ctx := context.Background()
	require.NoError(t, h.repo.SetMonitoredState(ctx, "flip.example.net", state.StateResolved,
		[]string{"192.0.2.8"}, "1"))
	require.NoError(t, h.repo.AppendRecentIPs(ctx, "flip.example.net", []string{"203.0.113.10"}, h.now.Add(-2*time.Hour)))
	require.NoError(t, h.repo.SetLastNotificationAt(ctx, "flip.example.net", h.now.Add(-20*time.Minute)))

	// Flipping back to a signature seen two hours ago replaces the computed
	// 15 minute period with the 30 minute oscillation override.
	h.serve("flip.example.net", []string{"203.0.113.10"}, 60, "1")
	h.observer.Check(ctx, "flip.example.net")

	require.Empty(t, h.notifier.sent)

	hist, err := h.repo.RecentIPHistory(ctx, "flip.example.net", h.now)
	require.NoError(t, err)
	require.Len(t, hist, 2)
}

func TestCheckAutoSuppressionOpensSilenceWindow(t *testing.T) {
	h := newHarness(t, eveningTime)
	ctx := context.Background()
	require.NoError(t, h.repo.SetMonitoredState(ctx, "churn.example.net", state.StateResolved,
		[]string{"203.0.113.50"}, "1"))
	for i := 0; i < 5; i++ {
		ip := []string{fmt.Sprintf("203.0.113.%d", 60+i)}
		require.NoError(t, h.repo.AppendRecentIPs(ctx, "churn.example.net", ip,
			h.now.Add(-time.Duration(50-10*i)*time.Minute)))
	}

	h.serve("churn.example.net", []string{"198.51.100.40"}, 300, "1")
	h.observer.Check(ctx, "churn.example.net")

	require.Len(t, h.notifier.sent, 1)
	n := h.notifier.sent[0]
	require.Equal(t, notify.KindAutoSuppression, n.Kind)
	require.Equal(t, "6", field(t, n, "Changes In Last Hour"))

	until, active, err := h.repo.SuppressedUntil(ctx, "churn.example.net")
	require.NoError(t, err)
	require.True(t, active)
	require.Equal(t, h.now.Add(4*time.Hour).UnixMilli(), until.UnixMilli())

	// Changes inside the window are swallowed without any notice.
	h.now = h.now.Add(10 * time.Minute)
	h.serve("churn.example.net", []string{"198.51.100.41"}, 300, "1")
	h.observer.Check(ctx, "churn.example.net")
	require.Len(t, h.notifier.sent, 1)
}

func TestCheckAuthorityUnreachableNotifiesOnce(t *testing.T) {
	h := newHarness(t, businessTime)
	ctx := context.Background()
	require.NoError(t, h.repo.SetMonitoredState(ctx, "dead.example.net", state.StateResolved,
		[]string{"203.0.113.10"}, "1"))
	h.resolver.results["dead.example.net"] = &resolver.Result{NoAuthority: true}

	h.observer.Check(ctx, "dead.example.net")
	require.Len(t, h.notifier.sent, 1)
	require.Equal(t, notify.KindAuthorityUnreachable, h.notifier.sent[0].Kind)

	ms, err := h.repo.MonitoredState(ctx, "dead.example.net")
	require.NoError(t, err)
	require.Equal(t, state.StateNoAuthority, ms.State)

	h.observer.Check(ctx, "dead.example.net")
	require.Len(t, h.notifier.sent, 1)
}

func TestCheckResolverErrorLeavesStateUntouched(t *testing.T) {
	h := newHarness(t, businessTime)
	ctx := context.Background()
	h.resolver.errs["down.example.net"] = errors.New("connect timeout")

	h.observer.Check(ctx, "down.example.net")

	require.Len(t, h.notifier.sent, 1)
	require.Equal(t, notify.KindMonitoringError, h.notifier.sent[0].Kind)

	ms, err := h.repo.MonitoredState(ctx, "down.example.net")
	require.NoError(t, err)
	require.Equal(t, state.StateUnseen, ms.State)
}

func TestCheckSerialOnlyChangeReportsZoneUpdate(t *testing.T) {
	h := newHarness(t, businessTime)
	ctx := context.Background()
	require.NoError(t, h.repo.SetMonitoredState(ctx, "app.example.net", state.StateResolved,
		[]string{"203.0.113.10"}, "2024061101"))
	h.serve("app.example.net", []string{"203.0.113.10"}, 300, "2024061102")

	h.observer.Check(ctx, "app.example.net")

	require.Len(t, h.notifier.sent, 1)
	n := h.notifier.sent[0]
	require.Equal(t, notify.KindZoneUpdated, n.Kind)
	require.Equal(t, "2024061101", field(t, n, "Previous Serial"))
	require.Equal(t, "2024061102", field(t, n, "Current Serial"))

	ms, err := h.repo.MonitoredState(ctx, "app.example.net")
	require.NoError(t, err)
	require.Equal(t, "2024061102", ms.LastSerial)

	_, has, err := h.repo.LastNotificationAt(ctx, "app.example.net")
	require.NoError(t, err)
	require.True(t, has)
}

func TestCheckCoordinatedChangeEscalates(t *testing.T) {
	h := newHarness(t, eveningTime)
	ctx := context.Background()
	require.NoError(t, h.repo.SetMonitoredState(ctx, "api.example.com", state.StateResolved,
		[]string{"203.0.113.10"}, "1"))
	platform := []string{"198.51.100.7", "198.51.100.8"}
	require.NoError(t, h.repo.AppendGlobalChange(ctx, "web.example.com", platform, h.now))
	require.NoError(t, h.repo.AppendGlobalChange(ctx, "cdn.example.com", platform, h.now))

	h.serve("api.example.com", platform, 300, "1")
	h.observer.Check(ctx, "api.example.com")

	require.Len(t, h.notifier.sent, 1)
	n := h.notifier.sent[0]
	require.Equal(t, notify.TitleCoordinated, n.Title)
	require.Equal(t, "high", field(t, n, "Severity"))
	require.Contains(t, field(t, n, "Coordinated Change"), "cdn.example.com, web.example.com")
	// Sibling churn stands in for missing per-domain history.
	require.Contains(t, field(t, n, "Load Balancer"), "round_robin")
}

func TestCheckNotifierFailureStillAdvancesTimestamp(t *testing.T) {
	h := newHarness(t, businessTime)
	ctx := context.Background()
	require.NoError(t, h.repo.SetMonitoredState(ctx, "app.example.net", state.StateResolved,
		[]string{"203.0.113.10"}, "1"))
	h.notifier.err = errors.New("webhook 503")
	h.serve("app.example.net", []string{"198.51.100.7"}, 3600, "1")

	h.observer.Check(ctx, "app.example.net")

	last, has, err := h.repo.LastNotificationAt(ctx, "app.example.net")
	require.NoError(t, err)
	require.True(t, has)
	require.Equal(t, businessTime.UnixMilli(), last.UnixMilli())
}
