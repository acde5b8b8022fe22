package models

import (
	"net"
	"net/url"
	"strings"
	"time"
)

// ProbeKind is the probe family an endpoint is checked with, derived from
// its target string on insertion and re-derived on edit.
type ProbeKind string

const (
	ProbeICMP ProbeKind = "icmp"
	ProbeTCP  ProbeKind = "tcp"
	ProbeHTTP ProbeKind = "http"
)

// Status is the operator-visible reachability state.
type Status string

const (
	StatusOnline    Status = "online"
	StatusVerifying Status = "verifying"
	StatusOffline   Status = "offline"
)

// NotifyOptions are the per-host channel opt-outs. Both default to enabled.
type NotifyOptions struct {
	Email    bool `json:"email"`
	Telegram bool `json:"telegram"`
}

func DefaultNotifyOptions() NotifyOptions {
	return NotifyOptions{Email: true, Telegram: true}
}

// Bandwidth is the latest interface throughput computed from SNMP counters.
type Bandwidth struct {
	InMbps  float64   `json:"in_mbps"`
	OutMbps float64   `json:"out_mbps"`
	At      time.Time `json:"at"`
}

// Endpoint is one monitored target together with its volatile state.
type Endpoint struct {
	ID      string    `json:"id"`
	Target  string    `json:"target"`
	Kind    ProbeKind `json:"kind"`
	Name    string    `json:"name,omitempty"`
	MAC     string    `json:"mac,omitempty"`
	Site    string    `json:"site,omitempty"`
	Comment string    `json:"comment,omitempty"`
	Ports   []int     `json:"ports,omitempty"`

	Excluded bool          `json:"excluded"`
	Notify   NotifyOptions `json:"notify"`

	Latency     Latency    `json:"latency"`
	LastSuccess time.Time  `json:"last_success,omitempty"`
	Status      Status     `json:"status"`
	Temperature *float64   `json:"temperature,omitempty"`
	Bandwidth   *Bandwidth `json:"bandwidth,omitempty"`

	Counters Counters `json:"counters"`

	AddedAt time.Time `json:"added_at"`
}

// ClassifyTarget derives the probe kind from a target string: URLs with a
// scheme probe HTTP, host:port probes TCP, everything else ICMP.
func ClassifyTarget(target string) ProbeKind {
	t := strings.TrimSpace(target)

	if strings.Contains(t, "://") {
		return ProbeHTTP
	}

	if host, port, err := net.SplitHostPort(t); err == nil && host != "" && port != "" {
		// Bare IPv6 addresses contain colons but are not host:port pairs;
		// SplitHostPort only succeeds for them when bracketed.
		return ProbeTCP
	}

	return ProbeICMP
}

// NormalizeTarget produces the canonical form used for uniqueness checks:
// URLs are lowercased, IPs and hostnames are kept exact.
func NormalizeTarget(target string) string {
	t := strings.TrimSpace(target)

	if strings.Contains(t, "://") {
		if u, err := url.Parse(t); err == nil {
			u.Scheme = strings.ToLower(u.Scheme)
			u.Host = strings.ToLower(u.Host)

			return strings.TrimSuffix(u.String(), "/")
		}

		return strings.ToLower(t)
	}

	return t
}

// Host extracts the bare host for DNS/SNMP purposes: the URL hostname for
// HTTP endpoints, the host part for TCP, the target itself for ICMP.
func (e *Endpoint) Host() string {
	switch e.Kind {
	case ProbeHTTP:
		if u, err := url.Parse(e.Target); err == nil && u.Hostname() != "" {
			return u.Hostname()
		}

		return e.Target
	case ProbeTCP:
		if host, _, err := net.SplitHostPort(e.Target); err == nil {
			return host
		}

		return e.Target
	default:
		return e.Target
	}
}

// IPHost reports whether the endpoint's host parses as a literal IP. The
// SNMP poller only visits endpoints with IP hosts.
func (e *Endpoint) IPHost() (net.IP, bool) {
	ip := net.ParseIP(e.Host())

	return ip, ip != nil
}

// Clone returns a deep copy safe to hand out of the store.
func (e *Endpoint) Clone() Endpoint {
	clone := *e

	if e.Ports != nil {
		clone.Ports = append([]int(nil), e.Ports...)
	}

	if e.Temperature != nil {
		v := *e.Temperature
		clone.Temperature = &v
	}

	if e.Bandwidth != nil {
		v := *e.Bandwidth
		clone.Bandwidth = &v
	}

	return clone
}
