// Package probe executes ICMP, TCP-connect and HTTP probes against
// endpoints with bounded concurrency. Probes never fail loudly: an
// unreachable target yields an Unreachable latency plus a diagnostic string
// for the logs.
package probe

import (
	"context"

	"github.com/creker7/netvigil/pkg/models"
)

// Prober checks a single endpoint and reports its latency. Implementations
// must honour context cancellation and return within one second of it.
type Prober interface {
	Probe(ctx context.Context, ep models.Endpoint) (models.Latency, string)
}
