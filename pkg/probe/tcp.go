package probe

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/creker7/netvigil/pkg/models"
)

const defaultTCPTimeout = 2 * time.Second

// TCPProber declares success when a connection to host:port is established;
// the connection is closed immediately. Latency is the wall time from dial
// start to established.
type TCPProber struct {
	timeout time.Duration
}

func NewTCPProber() *TCPProber {
	return &TCPProber{timeout: defaultTCPTimeout}
}

func (p *TCPProber) Probe(ctx context.Context, ep models.Endpoint) (models.Latency, string) {
	addr := ep.Target

	if _, _, err := net.SplitHostPort(addr); err != nil {
		// ICMP-classified endpoints can carry extra TCP ports to probe.
		if len(ep.Ports) > 0 {
			addr = net.JoinHostPort(ep.Target, strconv.Itoa(ep.Ports[0]))
		} else {
			return models.Unreachable(), fmt.Sprintf("no port for %s", ep.Target)
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var d net.Dialer

	start := time.Now()

	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return models.Unreachable(), fmt.Sprintf("connect %s: %v", addr, err)
	}

	latency := time.Since(start)
	_ = conn.Close()

	return models.ReachableLatency(latency), ""
}
