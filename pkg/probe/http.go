package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/creker7/netvigil/pkg/models"
)

const defaultHTTPTimeout = 10 * time.Second

// HTTPProber issues a GET, follows redirects and accepts any 2xx or 3xx.
// Certificate verification is off: operator-supplied endpoints are routinely
// self-signed appliances and the probe measures reachability, not trust.
type HTTPProber struct {
	client *http.Client
}

func NewHTTPProber() *HTTPProber {
	return &HTTPProber{
		client: &http.Client{
			Timeout: defaultHTTPTimeout,
			Transport: &http.Transport{
				TLSClientConfig:   &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // reachability probe
				DisableKeepAlives: true,
			},
		},
	}
}

func (p *HTTPProber) Probe(ctx context.Context, ep models.Endpoint) (models.Latency, string) {
	target := ep.Target

	if !strings.Contains(target, "://") {
		// Schemeless targets: HTTPS first, then HTTP.
		if latency, diag := p.get(ctx, "https://"+target); latency.Reachable() || ctx.Err() != nil {
			return latency, diag
		}

		return p.get(ctx, "http://"+target)
	}

	return p.get(ctx, target)
}

func (p *HTTPProber) get(ctx context.Context, url string) (models.Latency, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.Unreachable(), fmt.Sprintf("request %s: %v", url, err)
	}

	start := time.Now()

	resp, err := p.client.Do(req)
	if err != nil {
		return models.Unreachable(), fmt.Sprintf("get %s: %v", url, err)
	}

	latency := time.Since(start)

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return models.ReachableLatency(latency), ""
	}

	return models.Unreachable(), fmt.Sprintf("get %s: status %d", url, resp.StatusCode)
}
