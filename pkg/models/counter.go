package models

import (
	"encoding/json"
	"fmt"
)

// CounterState tags the alert counter automaton.
type CounterState uint8

const (
	// CounterRunning counts consecutive failures toward the threshold.
	CounterRunning CounterState = iota
	// CounterAlertSent is pinned after a down alert fired.
	CounterAlertSent
	// CounterRecoveryPending is set on the first OK after an alert and held
	// until the dispatcher observes the recovery.
	CounterRecoveryPending
)

// Legacy numeric encodings kept for the operator wire format.
const (
	legacyAlertSent       = 10
	legacyRecoveryPending = 20
)

// Counter is one alert counter: a running failure count or one of the two
// sticky states. The zero value is a running count of zero.
type Counter struct {
	state CounterState
	count int
}

func RunningCounter(n int) Counter {
	if n < 0 {
		n = 0
	}

	return Counter{state: CounterRunning, count: n}
}

func AlertSentCounter() Counter {
	return Counter{state: CounterAlertSent}
}

func RecoveryPendingCounter() Counter {
	return Counter{state: CounterRecoveryPending}
}

func (c Counter) State() CounterState {
	return c.state
}

// Count returns the running failure count; zero for sticky states.
func (c Counter) Count() int {
	if c.state != CounterRunning {
		return 0
	}

	return c.count
}

func (c Counter) IsZero() bool {
	return c.state == CounterRunning && c.count == 0
}

// Clamp bounds a running count to max; sticky states pass through untouched.
func (c Counter) Clamp(max int) Counter {
	if c.state != CounterRunning || c.count <= max {
		return c
	}

	return Counter{state: CounterRunning, count: max}
}

// Legacy returns the numeric encoding used by existing operator clients.
func (c Counter) Legacy() int {
	switch c.state {
	case CounterAlertSent:
		return legacyAlertSent
	case CounterRecoveryPending:
		return legacyRecoveryPending
	default:
		return c.count
	}
}

func CounterFromLegacy(v int) Counter {
	switch v {
	case legacyAlertSent:
		return AlertSentCounter()
	case legacyRecoveryPending:
		return RecoveryPendingCounter()
	default:
		return RunningCounter(v)
	}
}

func (c Counter) String() string {
	switch c.state {
	case CounterAlertSent:
		return "alert_sent"
	case CounterRecoveryPending:
		return "recovery_pending"
	default:
		return fmt.Sprintf("running(%d)", c.count)
	}
}

func (c Counter) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Legacy())
}

func (c *Counter) UnmarshalJSON(b []byte) error {
	var v int
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	*c = CounterFromLegacy(v)

	return nil
}

// Counters groups the four alert counters tracked per endpoint.
type Counters struct {
	HS       Counter `json:"hs_count"`
	Mail     Counter `json:"mail_count"`
	Telegram Counter `json:"telegram_count"`
	Temp     Counter `json:"temp_count"`
}

// Reset zeroes every counter, including sticky states. Used on re-inclusion.
func (c *Counters) Reset() {
	*c = Counters{}
}
