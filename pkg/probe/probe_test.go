package probe

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creker7/netvigil/pkg/models"
)

func TestHTTPProber(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		reachable bool
	}{
		{name: "200 ok", status: http.StatusOK, reachable: true},
		{name: "302 redirect target", status: http.StatusNoContent, reachable: true},
		{name: "500 error", status: http.StatusInternalServerError, reachable: false},
		{name: "404 not found", status: http.StatusNotFound, reachable: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			p := NewHTTPProber()
			latency, diag := p.Probe(context.Background(), models.Endpoint{
				Target: srv.URL,
				Kind:   models.ProbeHTTP,
			})

			assert.Equal(t, tt.reachable, latency.Reachable(), diag)
		})
	}
}

func TestHTTPProberSelfSigned(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewHTTPProber()
	latency, diag := p.Probe(context.Background(), models.Endpoint{
		Target: srv.URL,
		Kind:   models.ProbeHTTP,
	})

	assert.True(t, latency.Reachable(), "verification must be off for probes: %s", diag)
}

func TestHTTPProberConnectionRefused(t *testing.T) {
	// Grab a port and close it again so the connect is refused.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	url := "http://" + l.Addr().String()
	require.NoError(t, l.Close())

	p := NewHTTPProber()
	latency, diag := p.Probe(context.Background(), models.Endpoint{Target: url, Kind: models.ProbeHTTP})

	assert.False(t, latency.Reachable())
	assert.NotEmpty(t, diag)
	assert.InDelta(t, 500, latency.Legacy(), 0.01, "unreachable encodes as the legacy sentinel")
}

func TestTCPProber(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	p := NewTCPProber()
	latency, diag := p.Probe(context.Background(), models.Endpoint{
		Target: l.Addr().String(),
		Kind:   models.ProbeTCP,
	})

	require.Empty(t, diag)
	assert.True(t, latency.Reachable())
	assert.Greater(t, latency.Milliseconds(), 0.0)
	assert.Less(t, latency.Milliseconds(), 500.0)
}

func TestICMPSocketCancellation(t *testing.T) {
	p := NewICMPProber()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	// TEST-NET-3, nothing answers; without cancellation the read would
	// block for the full per-request timeout.
	start := time.Now()
	latency, diag, permission := p.pingSocket(ctx, "203.0.113.1", 30*time.Second)

	if permission {
		t.Skipf("datagram ICMP socket not permitted: %s", diag)
	}

	assert.False(t, latency.Reachable())
	assert.Less(t, time.Since(start), time.Second,
		"cancellation must unblock the pending read")
}

type stubProber struct {
	latency models.Latency
	delay   time.Duration
}

func (s *stubProber) Probe(ctx context.Context, _ models.Endpoint) (models.Latency, string) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return models.Unreachable(), "cancelled"
		}
	}

	return s.latency, ""
}

func TestRunnerOneObservationPerEndpoint(t *testing.T) {
	ok := &stubProber{latency: models.LatencyMS(5)}
	runner := NewRunnerWith(ok, ok, ok)

	endpoints := make([]models.Endpoint, 0, 23)
	for i := 0; i < 12; i++ {
		endpoints = append(endpoints, models.Endpoint{ID: string(rune('a' + i)), Kind: models.ProbeICMP})
	}
	for i := 0; i < 7; i++ {
		endpoints = append(endpoints, models.Endpoint{ID: string(rune('m' + i)), Kind: models.ProbeTCP})
	}
	for i := 0; i < 4; i++ {
		endpoints = append(endpoints, models.Endpoint{ID: string(rune('t' + i)), Kind: models.ProbeHTTP})
	}

	seen := make(map[string]int)
	for obs := range runner.Run(context.Background(), endpoints, 7) {
		seen[obs.EndpointID]++
		assert.Equal(t, uint64(7), obs.TickID)
	}

	require.Len(t, seen, len(endpoints))
	for id, count := range seen {
		assert.Equal(t, 1, count, "endpoint %s", id)
	}
}

func TestRunnerCancellation(t *testing.T) {
	slow := &stubProber{latency: models.LatencyMS(5), delay: 5 * time.Second}
	runner := NewRunnerWith(slow, slow, slow)

	endpoints := []models.Endpoint{
		{ID: "e1", Kind: models.ProbeICMP},
		{ID: "e2", Kind: models.ProbeHTTP},
	}

	ctx, cancel := context.WithCancel(context.Background())

	results := runner.Run(ctx, endpoints, 1)
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range results {
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not unwind within 1s of cancellation")
	}
}
