package snmp

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creker7/netvigil/pkg/models"
)

// fakeClient serves canned OID values and records what was asked.
type fakeClient struct {
	values map[string]interface{}
	err    error
	asked  []string
}

func (f *fakeClient) Get(oids []string) (map[string]interface{}, error) {
	f.asked = append(f.asked, oids...)

	if f.err != nil {
		return nil, f.err
	}

	out := make(map[string]interface{})

	for _, oid := range oids {
		if v, ok := f.values[oid]; ok {
			out[oid] = v
		}
	}

	return out, nil
}

func (f *fakeClient) Close() error { return nil }

func fakeFactory(client *fakeClient) ClientFactory {
	return func(_, _ string, _ time.Duration) (Client, error) {
		return client, nil
	}
}

func TestNormalizeTemperature(t *testing.T) {
	tests := []struct {
		raw  float64
		want float64
	}{
		{raw: 42, want: 42},
		{raw: 185, want: 185}, // still passed through; plausibility rejects later
		{raw: 420, want: 42},  // deci-degrees
		{raw: 4200, want: 42}, // centi-degrees
		{raw: 42000, want: 42}, // milli-degrees
	}

	for _, tt := range tests {
		assert.InDelta(t, tt.want, normalizeTemperature(tt.raw), 0.001, "raw=%v", tt.raw)
	}
}

func TestParseTemperature(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want float64
		ok   bool
	}{
		{name: "plain int", in: int64(47), want: 47, ok: true},
		{name: "milli-degrees", in: int64(47000), want: 47, ok: true},
		{name: "qnap string", in: "40 C/104 F", want: 40, ok: true},
		{name: "negative", in: int64(-10), want: -10, ok: true},
		{name: "implausible", in: int64(180), ok: false},
		{name: "garbage string", in: "N/A", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseTemperature(tt.in)
			require.Equal(t, tt.ok, ok)

			if ok {
				assert.InDelta(t, tt.want, got, 0.001)
			}
		})
	}
}

func TestBandwidthWrapClampsToZero(t *testing.T) {
	prev := octetSample{
		in:  math.MaxUint32 - 1000,
		out: math.MaxUint32 - 500,
		at:  time.Now(),
	}
	cur := octetSample{
		in:  500,
		out: 1000,
		at:  prev.at.Add(5 * time.Second),
	}

	bw := bandwidth(prev, cur)
	assert.Zero(t, bw.InMbps, "wrapped in counter must not go negative")
	assert.Zero(t, bw.OutMbps, "wrapped out counter must not go negative")
}

func TestBandwidthDelta(t *testing.T) {
	now := time.Now()
	prev := octetSample{in: 0, out: 0, at: now}
	// 6.25 MB in 5s = 10 Mbps.
	cur := octetSample{in: 6_250_000, out: 625_000, at: now.Add(5 * time.Second)}

	bw := bandwidth(prev, cur)
	assert.InDelta(t, 10.0, bw.InMbps, 0.01)
	assert.InDelta(t, 1.0, bw.OutMbps, 0.01)
	assert.GreaterOrEqual(t, bw.InMbps, 0.0)
	assert.GreaterOrEqual(t, bw.OutMbps, 0.0)
}

func TestPollerElectsTemperatureOID(t *testing.T) {
	client := &fakeClient{values: map[string]interface{}{
		oidSysUpTime:     uint64(12345),
		oidSysDescr:      "Linux myhost 5.10 #1 SMP armv7l",
		oidTempLMSensors: int64(52000),
	}}

	p := NewPollerWith(fakeFactory(client))

	ep := models.Endpoint{ID: "e1", Target: "192.168.1.10", Kind: models.ProbeICMP}

	results := p.Poll(context.Background(), []models.Endpoint{ep})
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Temperature)
	assert.InDelta(t, 52.0, *results[0].Temperature, 0.001)

	prof := p.profileFor("192.168.1.10")
	assert.Equal(t, models.DeviceLinux, prof.kind)
	assert.Equal(t, oidTempLMSensors, prof.tempOID, "winning OID cached")

	// Second cycle asks the cached OID directly.
	client.asked = nil
	results = p.Poll(context.Background(), []models.Endpoint{ep})
	require.Len(t, results, 1)
	assert.Contains(t, client.asked, oidTempLMSensors)
	assert.NotContains(t, client.asked, oidTempSynology)
}

func TestPollerSkipsExcludedAndNonIP(t *testing.T) {
	client := &fakeClient{values: map[string]interface{}{oidSysUpTime: uint64(1)}}
	p := NewPollerWith(fakeFactory(client))

	results := p.Poll(context.Background(), []models.Endpoint{
		{ID: "e1", Target: "192.168.1.20", Excluded: true},
		{ID: "e2", Target: "nas.local", Kind: models.ProbeICMP},
		{ID: "e3", Target: "https://example.test", Kind: models.ProbeHTTP},
	})

	assert.Empty(t, results)
	assert.Empty(t, client.asked)
}

func TestPollerNoSNMPCachedWithRetest(t *testing.T) {
	client := &fakeClient{err: fmt.Errorf("timeout")}
	p := NewPollerWith(fakeFactory(client))

	ep := models.Endpoint{ID: "e1", Target: "10.0.0.9", Kind: models.ProbeICMP}

	results := p.Poll(context.Background(), []models.Endpoint{ep})
	assert.Empty(t, results, "never-SNMP host produces no result")

	// Within the retest window the host is not asked again.
	client.asked = nil
	p.Poll(context.Background(), []models.Endpoint{ep})
	assert.Empty(t, client.asked)

	// After the window it is retested.
	p.profileFor("10.0.0.9").lastAttempt = time.Now().Add(-noSNMPRetestInterval - time.Second)
	p.Poll(context.Background(), []models.Endpoint{ep})
	assert.NotEmpty(t, client.asked)
}

func TestPollerBandwidthElectionAndDelta(t *testing.T) {
	in1 := fmt.Sprintf(oidIfHCInOctets, 1)
	out1 := fmt.Sprintf(oidIfHCOutOctets, 1)

	client := &fakeClient{values: map[string]interface{}{
		oidSysUpTime: uint64(1),
		oidSysDescr:  "Linux server",
		in1:          uint64(1000),
		out1:         uint64(2000),
	}}

	p := NewPollerWith(fakeFactory(client))
	ep := models.Endpoint{ID: "e1", Target: "10.0.0.5", Kind: models.ProbeICMP}

	// First cycle elects the interface and seeds the delta.
	results := p.Poll(context.Background(), []models.Endpoint{ep})
	require.Len(t, results, 1)
	assert.Nil(t, results[0].Bandwidth)

	prof := p.profileFor("10.0.0.5")
	assert.Equal(t, 1, prof.ifIndex)
	assert.True(t, prof.ifHC)

	// Advance the counters; the second cycle reports a rate.
	prof.prevOctets.at = prof.prevOctets.at.Add(-5 * time.Second)
	client.values[in1] = uint64(1000 + 6_250_000)
	client.values[out1] = uint64(2000 + 625_000)

	results = p.Poll(context.Background(), []models.Endpoint{ep})
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Bandwidth)
	assert.InDelta(t, 10.0, results[0].Bandwidth.InMbps, 1.0)
}

// overlapClient counts concurrent Get calls, to observe profile sharing.
type overlapClient struct {
	values   map[string]interface{}
	inFlight *int32
	peak     *int32
}

func (c *overlapClient) Get(oids []string) (map[string]interface{}, error) {
	n := atomic.AddInt32(c.inFlight, 1)
	defer atomic.AddInt32(c.inFlight, -1)

	for {
		peak := atomic.LoadInt32(c.peak)
		if n <= peak || atomic.CompareAndSwapInt32(c.peak, peak, n) {
			break
		}
	}

	time.Sleep(2 * time.Millisecond)

	out := make(map[string]interface{})

	for _, oid := range oids {
		if v, ok := c.values[oid]; ok {
			out[oid] = v
		}
	}

	return out, nil
}

func (c *overlapClient) Close() error { return nil }

func TestPollerSerializesEndpointsSharingHost(t *testing.T) {
	var inFlight, peak int32

	factory := func(_, _ string, _ time.Duration) (Client, error) {
		return &overlapClient{
			values: map[string]interface{}{
				oidSysUpTime: uint64(1),
				oidSysDescr:  "Linux server",
			},
			inFlight: &inFlight,
			peak:     &peak,
		}, nil
	}

	p := NewPollerWith(factory)

	// A bare IP and a host:port target resolve to the same host and share
	// one profile; their polls must not interleave.
	endpoints := []models.Endpoint{
		{ID: "e1", Target: "10.0.0.1", Kind: models.ProbeICMP},
		{ID: "e2", Target: "10.0.0.1:80", Kind: models.ProbeTCP},
	}

	results := p.Poll(context.Background(), endpoints)

	assert.Len(t, results, 2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&peak),
		"polls against a shared profile must be serialized")
	assert.Same(t, p.profileFor("10.0.0.1"), p.profileFor("10.0.0.1"))
}

func TestPollerUPSEvents(t *testing.T) {
	client := &fakeClient{values: map[string]interface{}{
		oidSysUpTime:        uint64(1),
		oidSysDescr:         "Smart-UPS 1500",
		oidUPSBatteryStatus: int64(2),
		oidUPSInputSource:   int64(int(models.UPSSourceNormal)),
		oidUPSChargeRemaining: int64(100),
		oidUPSMinutesRemaining: int64(45),
	}}

	p := NewPollerWith(fakeFactory(client))
	ep := models.Endpoint{ID: "ups1", Target: "10.0.0.50", Kind: models.ProbeICMP}

	results := p.Poll(context.Background(), []models.Endpoint{ep})
	require.Len(t, results, 1)
	require.NotNil(t, results[0].UPS)
	assert.Equal(t, models.UPSSourceNormal, results[0].UPS.InputSource)

	// Power failure: normal -> battery emits one event.
	client.values[oidUPSInputSource] = int64(int(models.UPSSourceBattery))
	client.values[oidUPSBatteryStatus] = int64(3)

	p.Poll(context.Background(), []models.Endpoint{ep})

	select {
	case ev := <-p.UPSEvents():
		assert.Equal(t, models.UPSEventOnBattery, ev.Kind)
		assert.True(t, ev.Status.Critical())
	default:
		t.Fatal("expected a UPS on-battery event")
	}

	// Holding on battery does not re-fire.
	p.Poll(context.Background(), []models.Endpoint{ep})

	select {
	case ev := <-p.UPSEvents():
		t.Fatalf("unexpected event %v", ev.Kind)
	default:
	}

	// Restore fires the clear.
	client.values[oidUPSInputSource] = int64(int(models.UPSSourceNormal))
	p.Poll(context.Background(), []models.Endpoint{ep})

	select {
	case ev := <-p.UPSEvents():
		assert.Equal(t, models.UPSEventRestored, ev.Kind)
	default:
		t.Fatal("expected a power-restored event")
	}
}
