package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/dkorolevs/papersync/internal/client"
	"github.com/dkorolevs/papersync/internal/logging"
	"github.com/dkorolevs/papersync/internal/watch"
)

// ActivityLevel selects the probe cadence. Foreground means the user is
// looking at the app and deserves fresh state; background throttles the
// cadence to spare battery and data.
type ActivityLevel int

const (
	ActivityForeground ActivityLevel = iota
	ActivityBackground
)

// Monitor periodically probes the server and publishes reachability.
// Reachability is stricter than device connectivity: the device may be
// online while the server is down, misconfigured, or only half-alive
// behind a reverse proxy.
type Monitor struct {
	client   client.Client
	observer Observer
	log      logging.Logger

	foregroundInterval time.Duration
	backgroundInterval time.Duration

	mu          sync.Mutex
	level       ActivityLevel
	onReachable func()

	status    *watch.Stream[client.HealthStatus]
	reachable *watch.Stream[bool]
	probeCh   chan struct{}
}

// NewMonitor builds a monitor that probes via c, short-circuiting to an
// offline result whenever obs reports no device connectivity.
func NewMonitor(c client.Client, obs Observer, foreground, background time.Duration, log logging.Logger) *Monitor {
	return &Monitor{
		client:             c,
		observer:           obs,
		log:                log,
		foregroundInterval: foreground,
		backgroundInterval: background,
		level:              ActivityForeground,
		status:             watch.New[client.HealthStatus](),
		reachable:          watch.NewWith(false),
		probeCh:            make(chan struct{}, 1),
	}
}

// SetOnReachable registers a callback fired on every offline-to-online
// transition of server reachability. Must be set before Run starts.
func (m *Monitor) SetOnReachable(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReachable = fn
}

// SetActivityLevel switches the probe cadence. Moving to foreground also
// schedules an immediate probe so the UI never waits a full background
// interval for fresh state.
func (m *Monitor) SetActivityLevel(level ActivityLevel) {
	m.mu.Lock()
	changed := m.level != level
	m.level = level
	m.mu.Unlock()

	if changed && level == ActivityForeground {
		m.ProbeNow()
	}
}

func (m *Monitor) interval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.level == ActivityBackground {
		return m.backgroundInterval
	}
	return m.foregroundInterval
}

// ProbeNow asks the run loop to probe outside the regular cadence. It is
// a no-op when a probe request is already queued.
func (m *Monitor) ProbeNow() {
	select {
	case m.probeCh <- struct{}{}:
	default:
	}
}

// IsReachable reports the last published server reachability.
func (m *Monitor) IsReachable() bool {
	v, _ := m.reachable.Get()
	return v
}

// Reachable streams reachability transitions.
func (m *Monitor) Reachable() *watch.Stream[bool] {
	return m.reachable
}

// Status streams the full classified health results for diagnostics UIs.
func (m *Monitor) Status() *watch.Stream[client.HealthStatus] {
	return m.status
}

// CheckServerHealth runs one probe and records the result. When the device
// has no connectivity at all the server is not contacted: the answer is
// already known and a doomed request would only burn the radio.
func (m *Monitor) CheckServerHealth(ctx context.Context) client.HealthStatus {
	var st client.HealthStatus
	if !m.observer.Online() {
		st = client.HealthStatus{Kind: client.HealthNoInternet, Message: "device reports no connectivity"}
	} else {
		st = m.client.CheckHealth(ctx)
	}
	m.record(ctx, st)
	return st
}

func (m *Monitor) record(ctx context.Context, st client.HealthStatus) {
	wasReachable, _ := m.reachable.Get()
	now := st.Reachable()

	m.status.Publish(st)
	m.reachable.Publish(now)

	if now == wasReachable {
		return
	}
	if now {
		m.log.Info(ctx, "server became reachable")
		m.mu.Lock()
		fn := m.onReachable
		m.mu.Unlock()
		if fn != nil {
			fn()
		}
	} else {
		m.log.Warn(ctx, "server became unreachable", "kind", st.Kind, "message", st.Message)
	}
}

// Run probes on the adaptive cadence until ctx is cancelled. Device
// connectivity transitions and ProbeNow requests reset the timer, so a
// probe always follows them promptly.
func (m *Monitor) Run(ctx context.Context) {
	updates := m.observer.Updates().Subscribe(ctx)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-timer.C:

		case <-m.probeCh:
			stopTimer(timer)

		case online, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			stopTimer(timer)
			if !online {
				// No point probing; record the offline state directly.
				m.record(ctx, client.HealthStatus{Kind: client.HealthNoInternet, Message: "device reports no connectivity"})
				timer.Reset(m.interval())
				continue
			}
		}

		m.CheckServerHealth(ctx)
		timer.Reset(m.interval())
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
