// Package snmp polls monitored hosts for temperature, interface throughput
// and UPS state on its own cadence, independent of the reachability probes.
// Each host gets an adaptive profile: device type, the temperature OID that
// actually answers, the interface index worth graphing. SNMP failures are
// silent per OID and never move an endpoint offline.
package snmp

import "time"

//go:generate mockgen -destination=mock_client.go -package=snmp github.com/creker7/netvigil/pkg/snmp Client

// Client is the minimal SNMP surface the poller needs. The production
// implementation wraps gosnmp; tests substitute a mock.
type Client interface {
	// Get fetches scalar OIDs and returns values keyed by the OID string
	// as sent (leading dot preserved). Missing OIDs are absent from the
	// map rather than an error.
	Get(oids []string) (map[string]interface{}, error)
	Close() error
}

// ClientFactory builds a client for one host. Injected into the poller so
// tests can run without a network.
type ClientFactory func(host, community string, timeout time.Duration) (Client, error)
