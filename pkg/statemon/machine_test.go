package statemon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creker7/netvigil/pkg/models"
	"github.com/creker7/netvigil/pkg/store"
)

func newTestMachine(t *testing.T, threshold int) (*Machine, *store.Store, models.Endpoint) {
	t.Helper()

	st := store.New()

	ep, err := st.Upsert(models.Endpoint{Target: "10.0.0.1"})
	require.NoError(t, err)

	return New(st, threshold), st, ep
}

func observe(m *Machine, id string, ok bool) {
	latency := models.Unreachable()
	if ok {
		latency = models.LatencyMS(12)
	}

	m.Apply(models.Observation{EndpointID: id, Latency: latency})
}

func drainTransitions(m *Machine) []models.Transition {
	var out []models.Transition

	for {
		select {
		case t := <-m.Transitions():
			out = append(out, t)
		default:
			return out
		}
	}
}

func TestThresholdReached(t *testing.T) {
	m, st, ep := newTestMachine(t, 3)

	// HS, HS, HS, HS, OK across five ticks.
	for _, ok := range []bool{false, false, false, false, true} {
		observe(m, ep.ID, ok)
	}

	events := drainTransitions(m)
	require.Len(t, events, 2)
	assert.Equal(t, models.TransitionDownConfirmed, events[0].Kind)
	assert.Equal(t, models.TransitionUpRecovered, events[1].Kind)

	// Dispatcher observes the recovery, counters return to zero.
	m.AckRecovery(ep.ID)

	got, err := st.Get(ep.ID)
	require.NoError(t, err)
	assert.True(t, got.Counters.HS.IsZero())
	assert.True(t, got.Counters.Mail.IsZero())
	assert.Equal(t, models.StatusOnline, got.Status)
}

func TestSuspectedButNotConfirmed(t *testing.T) {
	m, st, ep := newTestMachine(t, 3)

	observe(m, ep.ID, false)
	observe(m, ep.ID, false)

	got, err := st.Get(ep.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusVerifying, got.Status)
	assert.Equal(t, 2, got.Counters.HS.Count())

	observe(m, ep.ID, true)
	observe(m, ep.ID, true)

	got, err = st.Get(ep.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOnline, got.Status)
	assert.True(t, got.Counters.HS.IsZero())

	assert.Empty(t, drainTransitions(m))
}

func TestThresholdReducedMidIncident(t *testing.T) {
	m, st, ep := newTestMachine(t, 5)

	observe(m, ep.ID, false)
	observe(m, ep.ID, false)
	observe(m, ep.ID, false)

	got, err := st.Get(ep.ID)
	require.NoError(t, err)
	require.Equal(t, 3, got.Counters.HS.Count())

	m.SetThreshold(2)

	got, err = st.Get(ep.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Counters.HS.Count(), "counter clamped to min(3, N-1)")

	observe(m, ep.ID, false)

	got, err = st.Get(ep.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CounterAlertSent, got.Counters.HS.State())

	events := drainTransitions(m)
	require.Len(t, events, 1)
	assert.Equal(t, models.TransitionDownConfirmed, events[0].Kind)
}

func TestThresholdIncreasePreservesCounters(t *testing.T) {
	m, st, ep := newTestMachine(t, 3)

	observe(m, ep.ID, false)
	observe(m, ep.ID, false)

	m.SetThreshold(5)

	got, err := st.Get(ep.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Counters.HS.Count())
}

func TestExcludedEndpointNeverAdvances(t *testing.T) {
	m, st, ep := newTestMachine(t, 2)

	require.NoError(t, st.SetExclusion(ep.ID, true))

	for i := 0; i < 5; i++ {
		observe(m, ep.ID, false)
	}

	got, err := st.Get(ep.ID)
	require.NoError(t, err)
	assert.True(t, got.Counters.HS.IsZero())
	assert.Equal(t, models.StatusOffline, got.Status, "volatile state still tracks reality")
	assert.False(t, got.Latency.Reachable())

	assert.Empty(t, drainTransitions(m))
}

func TestFrozenChannelCounters(t *testing.T) {
	m, st, ep := newTestMachine(t, 2)

	require.NoError(t, st.SetNotify(ep.ID, models.NotifyOptions{Email: false, Telegram: true}))

	observe(m, ep.ID, false)
	observe(m, ep.ID, false)

	got, err := st.Get(ep.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CounterAlertSent, got.Counters.HS.State())
	assert.Equal(t, models.CounterAlertSent, got.Counters.Telegram.State())
	assert.True(t, got.Counters.Mail.IsZero(), "mail counter frozen while opted out")
}

func TestCounterDomainInvariant(t *testing.T) {
	const n = 4

	c := models.RunningCounter(0)

	check := func(c models.Counter) {
		switch c.State() {
		case models.CounterAlertSent, models.CounterRecoveryPending:
		default:
			assert.GreaterOrEqual(t, c.Count(), 0)
			assert.Less(t, c.Count(), n)
		}
	}

	// Exhaustive walk over a mixed probe sequence.
	seq := []bool{false, false, true, false, false, false, false, false, true, true, false}
	for _, ok := range seq {
		c, _, _ = advance(c, ok, n)
		check(c)
	}
}

func TestTemperatureFamily(t *testing.T) {
	m, st, ep := newTestMachine(t, 3)
	m.ConfigureTemperature(true, 65)

	temp := func(v float64) {
		m.ApplySNMP(models.SNMPResult{EndpointID: ep.ID, Temperature: &v, At: time.Now()})
	}

	temp(60)
	assert.Empty(t, drainTransitions(m))

	temp(70)
	events := drainTransitions(m)
	require.Len(t, events, 1)
	assert.Equal(t, models.TransitionTempHigh, events[0].Kind)

	// Holding above the threshold does not re-fire.
	temp(72)
	assert.Empty(t, drainTransitions(m))

	temp(58)
	events = drainTransitions(m)
	require.Len(t, events, 1)
	assert.Equal(t, models.TransitionTempNormalized, events[0].Kind)

	got, err := st.Get(ep.ID)
	require.NoError(t, err)
	assert.True(t, got.Counters.Temp.IsZero())
}

func TestSNMPErrorClearsReadings(t *testing.T) {
	m, st, ep := newTestMachine(t, 3)

	v := 42.0
	m.ApplySNMP(models.SNMPResult{
		EndpointID:  ep.ID,
		Temperature: &v,
		Bandwidth:   &models.Bandwidth{InMbps: 10, OutMbps: 2, At: time.Now()},
		At:          time.Now(),
	})

	got, err := st.Get(ep.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Temperature)
	require.NotNil(t, got.Bandwidth)

	m.ApplySNMP(models.SNMPResult{EndpointID: ep.ID, Err: "timeout", At: time.Now()})

	got, err = st.Get(ep.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Temperature)
	assert.Nil(t, got.Bandwidth)

	// Reachability untouched by SNMP failures.
	assert.Equal(t, models.StatusOnline, got.Status)
}

func TestSNMPSuccessWithoutReadingsClearsStale(t *testing.T) {
	m, st, ep := newTestMachine(t, 3)

	v := 42.0
	m.ApplySNMP(models.SNMPResult{
		EndpointID:  ep.ID,
		Temperature: &v,
		Bandwidth:   &models.Bandwidth{InMbps: 10, OutMbps: 2, At: time.Now()},
		At:          time.Now(),
	})

	got, err := st.Get(ep.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Temperature)
	require.NotNil(t, got.Bandwidth)

	// The host still answers SNMP but the sensor and interface stopped
	// producing values; the old readings must not linger.
	m.ApplySNMP(models.SNMPResult{EndpointID: ep.ID, At: time.Now()})

	got, err = st.Get(ep.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Temperature)
	assert.Nil(t, got.Bandwidth)
	assert.Equal(t, models.StatusOnline, got.Status)
}
