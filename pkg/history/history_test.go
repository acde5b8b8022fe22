package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creker7/netvigil/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestTemperatureRoundTrip(t *testing.T) {
	s := openTestStore(t)

	base := time.Now().Add(-time.Hour).Truncate(time.Second)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AddTemperature("e1", base.Add(time.Duration(i)*time.Minute), 40+float64(i)))
	}

	require.NoError(t, s.AddTemperature("e2", base, 60))

	samples, err := s.TemperatureSince("e1", base.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, samples, 5)
	assert.InDelta(t, 40.0, samples[0].Celsius, 0.001)
	assert.InDelta(t, 44.0, samples[4].Celsius, 0.001)

	// Range query excludes older samples.
	samples, err = s.TemperatureSince("e1", base.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Len(t, samples, 2)
}

func TestBandwidthClampsNegative(t *testing.T) {
	s := openTestStore(t)

	now := time.Now()
	require.NoError(t, s.AddBandwidth("e1", now, -5, 3))

	samples, err := s.BandwidthSince("e1", now.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Zero(t, samples[0].InMbps)
	assert.InDelta(t, 3.0, samples[0].OutMbps, 0.001)
}

func TestEventLogDurations(t *testing.T) {
	s := openTestStore(t)

	down := time.Now().Add(-10 * time.Minute)
	up := down.Add(3 * time.Minute)

	require.NoError(t, s.AddEvent("e1", down, models.ConnDisconnect, 0))
	require.NoError(t, s.AddEvent("e1", up, models.ConnReconnect, 3*time.Minute))

	events, err := s.EventsSince("e1", down.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, models.ConnDisconnect, events[0].Kind)
	assert.Equal(t, models.ConnReconnect, events[1].Kind)
	assert.InDelta(t, (3 * time.Minute).Seconds(), events[1].Duration.Seconds(), 0.5)

	// Empty endpoint ID returns every endpoint's events.
	require.NoError(t, s.AddEvent("e2", up, models.ConnDisconnect, 0))

	all, err := s.EventsSince("", down.Add(-time.Minute))
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestCleanOldKeepsEvents(t *testing.T) {
	s := openTestStore(t)
	s.retention = time.Hour

	old := time.Now().Add(-2 * time.Hour)
	fresh := time.Now()

	require.NoError(t, s.AddTemperature("e1", old, 40))
	require.NoError(t, s.AddTemperature("e1", fresh, 41))
	require.NoError(t, s.AddEvent("e1", old, models.ConnDisconnect, 0))

	require.NoError(t, s.CleanOld())

	samples, err := s.TemperatureSince("e1", old.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.InDelta(t, 41.0, samples[0].Celsius, 0.001)

	events, err := s.EventsSince("e1", old.Add(-time.Minute))
	require.NoError(t, err)
	assert.Len(t, events, 1, "events survive retention")
}

func TestStatsAggregates(t *testing.T) {
	s := openTestStore(t)

	since := time.Now().Add(-time.Hour)
	mid := since.Add(30 * time.Minute)

	require.NoError(t, s.AddEvent("e1", mid, models.ConnDisconnect, 0))
	require.NoError(t, s.AddEvent("e1", mid.Add(6*time.Minute), models.ConnReconnect, 6*time.Minute))

	require.NoError(t, s.AddTemperature("e1", mid, 40))
	require.NoError(t, s.AddTemperature("e1", mid.Add(time.Minute), 50))

	require.NoError(t, s.AddBandwidth("e2", mid, 10, 1))
	require.NoError(t, s.AddBandwidth("e2", mid.Add(time.Minute), 20, 3))

	stats, err := s.Stats(since)
	require.NoError(t, err)

	e1 := stats["e1"]
	require.NotNil(t, e1)
	assert.Equal(t, 1, e1.Disconnects)
	assert.InDelta(t, (6 * time.Minute).Seconds(), e1.TotalDowntime.Seconds(), 0.5)
	assert.InDelta(t, 90.0, e1.AvailabilityPct, 0.5)
	require.NotNil(t, e1.AvgTemperature)
	assert.InDelta(t, 45.0, *e1.AvgTemperature, 0.001)
	require.NotNil(t, e1.MaxTemperature)
	assert.InDelta(t, 50.0, *e1.MaxTemperature, 0.001)

	e2 := stats["e2"]
	require.NotNil(t, e2)
	assert.Zero(t, e2.Disconnects)
	assert.InDelta(t, 100.0, e2.AvailabilityPct, 0.001)
	require.NotNil(t, e2.AvgInMbps)
	assert.InDelta(t, 15.0, *e2.AvgInMbps, 0.001)
	require.NotNil(t, e2.PeakInMbps)
	assert.InDelta(t, 20.0, *e2.PeakInMbps, 0.001)
}
