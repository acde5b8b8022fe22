package statemon

import "github.com/creker7/netvigil/pkg/models"

// advance applies one probe observation to a reachability counter and
// reports what fired. The transition table, with n the configured
// consecutive-failure threshold:
//
//	HS, Running(c), c+1 <  n  -> Running(c+1)
//	HS, Running(c), c+1 == n  -> AlertSent, down fires
//	HS, AlertSent             -> AlertSent
//	HS, RecoveryPending       -> RecoveryPending
//	OK, Running(c)            -> Running(0), silent
//	OK, AlertSent             -> RecoveryPending, recovery fires
//	OK, RecoveryPending       -> RecoveryPending (awaiting dispatcher ack)
func advance(c models.Counter, ok bool, n int) (next models.Counter, down, recovered bool) {
	if ok {
		switch c.State() {
		case models.CounterAlertSent:
			return models.RecoveryPendingCounter(), false, true
		case models.CounterRecoveryPending:
			return c, false, false
		default:
			return models.RunningCounter(0), false, false
		}
	}

	switch c.State() {
	case models.CounterAlertSent, models.CounterRecoveryPending:
		return c, false, false
	default:
		count := c.Count() + 1
		if count >= n {
			return models.AlertSentCounter(), true, false
		}

		return models.RunningCounter(count), false, false
	}
}
