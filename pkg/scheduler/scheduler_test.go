package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creker7/netvigil/pkg/alerts"
	"github.com/creker7/netvigil/pkg/config"
	"github.com/creker7/netvigil/pkg/models"
	"github.com/creker7/netvigil/pkg/probe"
	"github.com/creker7/netvigil/pkg/snmp"
	"github.com/creker7/netvigil/pkg/statemon"
	"github.com/creker7/netvigil/pkg/store"
)

type stubProber struct {
	latency models.Latency
}

func (s *stubProber) Probe(context.Context, models.Endpoint) (models.Latency, string) {
	return s.latency, ""
}

type popupSink struct {
	texts chan string
}

func (p *popupSink) Notification(text string) { p.texts <- text }

func newTestScheduler(t *testing.T, latency models.Latency, threshold int) (*Scheduler, *store.Store, *popupSink) {
	t.Helper()

	st := store.New()
	machine := statemon.New(st, threshold)

	prober := &stubProber{latency: latency}
	runner := probe.NewRunnerWith(prober, prober, prober)

	poller := snmp.NewPollerWith(func(string, string, time.Duration) (snmp.Client, error) {
		return nil, assert.AnError
	})

	dispatcher := alerts.NewDispatcher(machine.Transitions(), poller.UPSEvents(), machine, nil)
	sink := &popupSink{texts: make(chan string, 8)}
	dispatcher.SetBroadcaster(sink)
	dispatcher.Configure("Test", alerts.Channels{Popup: true}, nil, nil)

	return New(st, runner, machine, poller, dispatcher, nil), st, sink
}

func TestProbeTickConfirmsDownAndFiresDispatcher(t *testing.T) {
	s, st, sink := newTestScheduler(t, models.Unreachable(), 1)

	ep, err := st.Upsert(models.Endpoint{Target: "10.0.0.1", Kind: models.ProbeICMP})
	require.NoError(t, err)

	s.probeTick(context.Background())

	got, err := st.Get(ep.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOffline, got.Status)

	select {
	case text := <-sink.texts:
		assert.Contains(t, text, "1 down")
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not fire after the cycle")
	}
}

func TestProbeTickOnlineLeavesCountersZero(t *testing.T) {
	s, st, _ := newTestScheduler(t, models.ReachableLatency(20*time.Millisecond), 3)

	ep, err := st.Upsert(models.Endpoint{Target: "10.0.0.1", Kind: models.ProbeICMP})
	require.NoError(t, err)

	s.probeTick(context.Background())

	got, err := st.Get(ep.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOnline, got.Status)
	assert.True(t, got.Counters.HS.IsZero())
	assert.NotNil(t, got.LastSuccess)
}

func TestApplyConfigClampsInterval(t *testing.T) {
	s, _, _ := newTestScheduler(t, models.Unreachable(), 3)

	cfg := config.Default()
	cfg.Alerts.ProbeInterval = config.Duration(200 * time.Millisecond)

	s.ApplyConfig(cfg)
	assert.Equal(t, time.Second, s.currentInterval())

	cfg.Alerts.ProbeInterval = config.Duration(30 * time.Second)
	s.ApplyConfig(cfg)
	assert.Equal(t, 30*time.Second, s.currentInterval())
}

func TestStartStopUnwindsPromptly(t *testing.T) {
	s, st, _ := newTestScheduler(t, models.ReachableLatency(5*time.Millisecond), 3)

	_, err := st.Upsert(models.Endpoint{Target: "10.0.0.1", Kind: models.ProbeICMP})
	require.NoError(t, err)

	s.Start(context.Background())

	stopped := make(chan struct{})

	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop in time")
	}
}
