package probe

import (
	"context"
	"runtime"
	"sync"

	"github.com/creker7/netvigil/pkg/models"
)

const (
	// ipBatchSize is calibrated against driver throttling on Windows and
	// routing stalls: more than five concurrent ICMP/TCP probes per batch
	// produced spurious losses in the field.
	ipBatchSize = 5

	maxWorkers = 32
)

// Runner executes one probe cycle over a partitioned endpoint set: ICMP and
// TCP targets in parallel bounded batches, HTTP targets strictly
// sequentially to avoid simultaneous TLS handshakes starving each other.
type Runner struct {
	icmp Prober
	tcp  Prober
	http Prober

	// sem bounds in-flight probes across partitions at min(cpu*2, 32).
	sem chan struct{}
}

func NewRunner() *Runner {
	workers := runtime.NumCPU() * 2
	if workers > maxWorkers {
		workers = maxWorkers
	}

	return &Runner{
		icmp: NewICMPProber(),
		tcp:  NewTCPProber(),
		http: NewHTTPProber(),
		sem:  make(chan struct{}, workers),
	}
}

// NewRunnerWith injects probers, for tests.
func NewRunnerWith(icmpProber, tcpProber, httpProber Prober) *Runner {
	return &Runner{icmp: icmpProber, tcp: tcpProber, http: httpProber, sem: make(chan struct{}, maxWorkers)}
}

// Run probes every endpoint once and streams observations. The returned
// channel closes when the cycle completes or the context is cancelled.
// Exactly one observation is emitted per endpoint unless cancelled.
func (r *Runner) Run(ctx context.Context, endpoints []models.Endpoint, tickID uint64) <-chan models.Observation {
	results := make(chan models.Observation, len(endpoints))

	var ipTargets, httpTargets []models.Endpoint

	for _, ep := range endpoints {
		if ep.Kind == models.ProbeHTTP {
			httpTargets = append(httpTargets, ep)
		} else {
			ipTargets = append(ipTargets, ep)
		}
	}

	go func() {
		defer close(results)

		var wg sync.WaitGroup

		wg.Add(1)
		go func() {
			defer wg.Done()
			r.runBatched(ctx, ipTargets, tickID, results)
		}()

		wg.Add(1)
		go func() {
			defer wg.Done()
			r.runSequential(ctx, httpTargets, tickID, results)
		}()

		wg.Wait()
	}()

	return results
}

func (r *Runner) runBatched(ctx context.Context, targets []models.Endpoint, tickID uint64, results chan<- models.Observation) {
	for start := 0; start < len(targets); start += ipBatchSize {
		if ctx.Err() != nil {
			return
		}

		end := start + ipBatchSize
		if end > len(targets) {
			end = len(targets)
		}

		var wg sync.WaitGroup

		for _, ep := range targets[start:end] {
			wg.Add(1)

			go func(ep models.Endpoint) {
				defer wg.Done()
				r.probeOne(ctx, ep, tickID, results)
			}(ep)
		}

		wg.Wait()
	}
}

func (r *Runner) runSequential(ctx context.Context, targets []models.Endpoint, tickID uint64, results chan<- models.Observation) {
	for _, ep := range targets {
		if ctx.Err() != nil {
			return
		}

		r.probeOne(ctx, ep, tickID, results)
	}
}

func (r *Runner) probeOne(ctx context.Context, ep models.Endpoint, tickID uint64, results chan<- models.Observation) {
	select {
	case r.sem <- struct{}{}:
		defer func() { <-r.sem }()
	case <-ctx.Done():
		return
	}

	var prober Prober

	switch ep.Kind {
	case models.ProbeHTTP:
		prober = r.http
	case models.ProbeTCP:
		prober = r.tcp
	default:
		prober = r.icmp
	}

	latency, diag := prober.Probe(ctx, ep)

	obs := models.Observation{
		EndpointID: ep.ID,
		TickID:     tickID,
		Latency:    latency,
		Err:        diag,
	}

	select {
	case results <- obs:
	case <-ctx.Done():
	}
}
