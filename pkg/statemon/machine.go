// Package statemon applies probe and SNMP observations to per-endpoint
// alert counters and emits transition events. Counters are owned by this
// package's single goroutine context; the store only sees finished values.
package statemon

import (
	"log"
	"sync"
	"time"

	"github.com/creker7/netvigil/pkg/models"
	"github.com/creker7/netvigil/pkg/store"
)

const transitionQueueSize = 256

// Machine is the per-endpoint failure state machine with hysteresis.
type Machine struct {
	store *store.Store

	mu        sync.Mutex
	threshold int
	tempAlert bool
	tempHighC float64

	transitions chan models.Transition
}

func New(st *store.Store, threshold int) *Machine {
	if threshold < 1 {
		threshold = 1
	}

	return &Machine{
		store:       st,
		threshold:   threshold,
		transitions: make(chan models.Transition, transitionQueueSize),
	}
}

// Transitions is the event stream consumed by the alert dispatcher.
func (m *Machine) Transitions() <-chan models.Transition {
	return m.transitions
}

// ConfigureTemperature sets the temperature alert policy.
func (m *Machine) ConfigureTemperature(enabled bool, highC float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tempAlert = enabled
	m.tempHighC = highC
}

// SetThreshold changes N mid-run. Running counters are clamped to
// min(c, N-1) so a lowered threshold cannot fire phantom alerts on the next
// observation; sticky states are preserved.
func (m *Machine) SetThreshold(n int) {
	if n < 1 {
		n = 1
	}

	m.mu.Lock()
	old := m.threshold
	m.threshold = n
	m.mu.Unlock()

	if n >= old {
		return
	}

	for _, ep := range m.store.List(nil) {
		counters := ep.Counters
		counters.HS = counters.HS.Clamp(n - 1)
		counters.Mail = counters.Mail.Clamp(n - 1)
		counters.Telegram = counters.Telegram.Clamp(n - 1)

		if _, err := m.store.PatchVolatile(ep.ID, store.VolatilePatch{Counters: &counters}); err != nil {
			log.Printf("statemon: failed to clamp counters for %s: %v", ep.ID, err)
		}
	}
}

// Apply consumes one probe observation. Exactly one observation per endpoint
// per cycle reaches this method, in emission order.
func (m *Machine) Apply(obs models.Observation) {
	ep, err := m.store.Get(obs.EndpointID)
	if err != nil {
		// Deleted mid-cycle; the observation dies with the endpoint.
		return
	}

	m.mu.Lock()
	n := m.threshold
	m.mu.Unlock()

	ok := obs.Latency.Reachable()
	now := time.Now()

	patch := store.VolatilePatch{Latency: &obs.Latency}
	if ok {
		patch.LastSuccess = &now
	}

	if ep.Excluded {
		// Excluded endpoints still update volatile state but counters stay
		// pinned at zero and no events fire.
		counters := ep.Counters
		counters.Reset()
		patch.Counters = &counters

		status := models.StatusOnline
		if !ok {
			status = models.StatusOffline
		}
		patch.Status = &status

		if _, err := m.store.PatchVolatile(ep.ID, patch); err != nil {
			log.Printf("statemon: patch failed for %s: %v", ep.ID, err)
		}

		return
	}

	counters := ep.Counters

	hs, down, recovered := advance(counters.HS, ok, n)
	counters.HS = hs

	// Mail and telegram counters run the same automaton independently but
	// freeze while the per-host toggle is off.
	if ep.Notify.Email {
		counters.Mail, _, _ = advance(counters.Mail, ok, n)
	}

	if ep.Notify.Telegram {
		counters.Telegram, _, _ = advance(counters.Telegram, ok, n)
	}

	patch.Counters = &counters

	status := statusFor(ok, counters.HS, n)
	patch.Status = &status

	snap, err := m.store.PatchVolatile(ep.ID, patch)
	if err != nil {
		log.Printf("statemon: patch failed for %s: %v", ep.ID, err)
		return
	}

	if down {
		m.emit(models.Transition{
			EndpointID: ep.ID,
			Kind:       models.TransitionDownConfirmed,
			At:         now,
			Endpoint:   snap,
		})
	}

	if recovered {
		m.emit(models.Transition{
			EndpointID: ep.ID,
			Kind:       models.TransitionUpRecovered,
			At:         now,
			Endpoint:   snap,
		})
	}
}

// AckRecovery zeroes a RecoveryPending counter set after the dispatcher has
// observed the matching up_recovered event.
func (m *Machine) AckRecovery(endpointID string) {
	ep, err := m.store.Get(endpointID)
	if err != nil {
		return
	}

	counters := ep.Counters

	if counters.HS.State() == models.CounterRecoveryPending {
		counters.HS = models.RunningCounter(0)
	}

	if counters.Mail.State() == models.CounterRecoveryPending {
		counters.Mail = models.RunningCounter(0)
	}

	if counters.Telegram.State() == models.CounterRecoveryPending {
		counters.Telegram = models.RunningCounter(0)
	}

	if _, err := m.store.PatchVolatile(endpointID, store.VolatilePatch{Counters: &counters}); err != nil {
		log.Printf("statemon: recovery ack failed for %s: %v", endpointID, err)
	}
}

// ApplySNMP consumes one SNMP poll result: temperature threshold checks plus
// clearing of SNMP-derived readings on error, and of any reading a
// successful poll no longer produced. SNMP never drives the reachability
// counters.
func (m *Machine) ApplySNMP(res models.SNMPResult) {
	ep, err := m.store.Get(res.EndpointID)
	if err != nil {
		return
	}

	patch := store.VolatilePatch{}

	if res.Err != "" {
		patch.ClearTemperature = true
		patch.ClearBandwidth = true

		if _, err := m.store.PatchVolatile(ep.ID, patch); err != nil {
			log.Printf("statemon: snmp clear failed for %s: %v", ep.ID, err)
		}

		return
	}

	// A poll that answered but returned no reading invalidates the last
	// one: the elected OID or interface died while the host stayed alive.
	if res.Temperature != nil {
		patch.Temperature = res.Temperature
	} else {
		patch.ClearTemperature = true
	}

	if res.Bandwidth != nil {
		patch.Bandwidth = res.Bandwidth
	} else {
		patch.ClearBandwidth = true
	}

	m.mu.Lock()
	tempAlert := m.tempAlert
	highC := m.tempHighC
	m.mu.Unlock()

	var fire models.TransitionKind

	if tempAlert && res.Temperature != nil && !ep.Excluded {
		counters := ep.Counters

		switch {
		case *res.Temperature >= highC && counters.Temp.State() != models.CounterAlertSent:
			counters.Temp = models.AlertSentCounter()
			fire = models.TransitionTempHigh
		case *res.Temperature < highC && counters.Temp.State() == models.CounterAlertSent:
			counters.Temp = models.RunningCounter(0)
			fire = models.TransitionTempNormalized
		}

		if fire != "" {
			patch.Counters = &counters
		}
	}

	snap, err := m.store.PatchVolatile(ep.ID, patch)
	if err != nil {
		log.Printf("statemon: snmp patch failed for %s: %v", ep.ID, err)
		return
	}

	if fire != "" {
		m.emit(models.Transition{
			EndpointID: ep.ID,
			Kind:       fire,
			At:         res.At,
			Endpoint:   snap,
		})
	}
}

func (m *Machine) emit(t models.Transition) {
	m.store.PublishTransition(t)

	select {
	case m.transitions <- t:
	default:
		log.Printf("statemon: transition queue full, dropping %s for %s", t.Kind, t.EndpointID)
	}
}

func statusFor(ok bool, hs models.Counter, n int) models.Status {
	if ok {
		return models.StatusOnline
	}

	switch hs.State() {
	case models.CounterAlertSent, models.CounterRecoveryPending:
		return models.StatusOffline
	default:
		if hs.Count() > 0 && hs.Count() < n {
			return models.StatusVerifying
		}

		return models.StatusOffline
	}
}
