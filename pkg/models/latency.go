package models

import (
	"encoding/json"
	"time"
)

// legacySentinelMS is the wire encoding for an unreachable endpoint. Older
// operator clients treat any latency at or above this value as "host down",
// so it must never be produced by a real measurement.
const legacySentinelMS = 500.0

// Latency is either a round-trip measurement or the unreachable marker.
// The zero value is unreachable.
type Latency struct {
	ms        float64
	reachable bool
}

func ReachableLatency(d time.Duration) Latency {
	return Latency{ms: float64(d.Microseconds()) / 1000.0, reachable: true}
}

func LatencyMS(ms float64) Latency {
	return Latency{ms: ms, reachable: true}
}

func Unreachable() Latency {
	return Latency{}
}

func (l Latency) Reachable() bool {
	return l.reachable
}

// Milliseconds returns the measured round-trip time. Only meaningful when
// Reachable reports true.
func (l Latency) Milliseconds() float64 {
	return l.ms
}

// Legacy returns the wire value understood by existing operator clients:
// the measurement in milliseconds, or the 500 sentinel when unreachable.
func (l Latency) Legacy() float64 {
	if !l.reachable {
		return legacySentinelMS
	}

	return l.ms
}

func (l Latency) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Legacy())
}

func (l *Latency) UnmarshalJSON(b []byte) error {
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	if v >= legacySentinelMS {
		*l = Unreachable()
	} else {
		*l = LatencyMS(v)
	}

	return nil
}
