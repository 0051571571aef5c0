package connectivity

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkorolevs/papersync/internal/client"
	"github.com/dkorolevs/papersync/internal/logging"
	"github.com/dkorolevs/papersync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient implements client.Client with a programmable health result.
type fakeClient struct {
	health  func(ctx context.Context) client.HealthStatus
	probes  atomic.Int64
	probeCh chan struct{}
}

func newFakeClient(st client.HealthStatus) *fakeClient {
	return &fakeClient{
		health:  func(context.Context) client.HealthStatus { return st },
		probeCh: make(chan struct{}, 64),
	}
}

func (f *fakeClient) CheckHealth(ctx context.Context) client.HealthStatus {
	f.probes.Add(1)
	select {
	case f.probeCh <- struct{}{}:
	default:
	}
	return f.health(ctx)
}

func (f *fakeClient) ListEntities(context.Context, models.EntityType) ([]models.Entity, error) {
	return nil, nil
}

func (f *fakeClient) CreateEntity(context.Context, models.EntityType, json.RawMessage) (*models.Entity, error) {
	return nil, nil
}

func (f *fakeClient) UpdateEntity(context.Context, models.EntityType, int64, json.RawMessage) (*models.Entity, error) {
	return nil, nil
}

func (f *fakeClient) DeleteEntity(context.Context, models.EntityType, int64) error {
	return nil
}

func (f *fakeClient) UploadDocument(context.Context, *client.UploadRequest) (string, error) {
	return "", nil
}

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newTestMonitor(c client.Client, obs Observer) *Monitor {
	return NewMonitor(c, obs, 30*time.Second, 5*time.Minute, testLogger())
}

func TestHostObserver_PublishesTransitions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obs := NewHostObserver(false)
	assert.False(t, obs.Online())

	updates := obs.Updates().Subscribe(ctx)
	require.False(t, <-updates, "subscription replays the current state")

	obs.SetOnline(true)
	require.True(t, <-updates)
	assert.True(t, obs.Online())
}

func TestCheckServerHealth_SkipsProbeWhenDeviceOffline(t *testing.T) {
	fc := newFakeClient(client.HealthStatus{Kind: client.HealthSuccess})
	m := newTestMonitor(fc, NewHostObserver(false))

	st := m.CheckServerHealth(context.Background())

	assert.Equal(t, client.HealthNoInternet, st.Kind)
	assert.Equal(t, int64(0), fc.probes.Load(), "no request may leave the device")
	assert.False(t, m.IsReachable())
}

func TestCheckServerHealth_PublishesReachability(t *testing.T) {
	fc := newFakeClient(client.HealthStatus{Kind: client.HealthSuccess})
	m := newTestMonitor(fc, NewHostObserver(true))

	require.False(t, m.IsReachable())
	st := m.CheckServerHealth(context.Background())

	assert.True(t, st.Reachable())
	assert.True(t, m.IsReachable())

	got, ok := m.Status().Get()
	require.True(t, ok)
	assert.Equal(t, client.HealthSuccess, got.Kind)
}

func TestMonitor_OnReachableFiresOncePerTransition(t *testing.T) {
	var healthy atomic.Bool
	fc := newFakeClient(client.HealthStatus{})
	fc.health = func(context.Context) client.HealthStatus {
		if healthy.Load() {
			return client.HealthStatus{Kind: client.HealthSuccess}
		}
		return client.HealthStatus{Kind: client.HealthConnectionRefused}
	}

	m := newTestMonitor(fc, NewHostObserver(true))
	var fired atomic.Int64
	m.SetOnReachable(func() { fired.Add(1) })

	ctx := context.Background()

	m.CheckServerHealth(ctx)
	assert.Equal(t, int64(0), fired.Load())

	healthy.Store(true)
	m.CheckServerHealth(ctx)
	m.CheckServerHealth(ctx)
	assert.Equal(t, int64(1), fired.Load(), "repeat healthy probes must not re-fire")

	healthy.Store(false)
	m.CheckServerHealth(ctx)
	healthy.Store(true)
	m.CheckServerHealth(ctx)
	assert.Equal(t, int64(2), fired.Load())
}

func TestMonitor_RunProbesOnStartAndOnDemand(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fc := newFakeClient(client.HealthStatus{Kind: client.HealthSuccess})
	m := NewMonitor(fc, NewHostObserver(true), time.Hour, time.Hour, testLogger())

	go m.Run(ctx)

	select {
	case <-fc.probeCh:
	case <-time.After(2 * time.Second):
		t.Fatal("expected an immediate probe on start")
	}

	m.ProbeNow()
	select {
	case <-fc.probeCh:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a probe after ProbeNow")
	}
}

func TestMonitor_RunReactsToConnectivityLoss(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obs := NewHostObserver(true)
	fc := newFakeClient(client.HealthStatus{Kind: client.HealthSuccess})
	m := NewMonitor(fc, obs, time.Hour, time.Hour, testLogger())

	go m.Run(ctx)

	select {
	case <-fc.probeCh:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the startup probe")
	}
	require.Eventually(t, m.IsReachable, 2*time.Second, 10*time.Millisecond)

	obs.SetOnline(false)
	require.Eventually(t, func() bool { return !m.IsReachable() }, 2*time.Second, 10*time.Millisecond)

	st, ok := m.Status().Get()
	require.True(t, ok)
	assert.Equal(t, client.HealthNoInternet, st.Kind)
}

func TestMonitor_ActivityLevelSelectsInterval(t *testing.T) {
	fc := newFakeClient(client.HealthStatus{Kind: client.HealthSuccess})
	m := NewMonitor(fc, NewHostObserver(true), 30*time.Second, 5*time.Minute, testLogger())

	assert.Equal(t, 30*time.Second, m.interval())

	m.SetActivityLevel(ActivityBackground)
	assert.Equal(t, 5*time.Minute, m.interval())

	m.SetActivityLevel(ActivityForeground)
	assert.Equal(t, 30*time.Second, m.interval())
}
