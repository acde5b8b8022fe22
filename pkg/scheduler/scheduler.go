// Package scheduler drives the monitoring loops: the probe tick, the SNMP
// poll tick and the recap schedule. One scheduler runs per process.
package scheduler

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/creker7/netvigil/pkg/alerts"
	"github.com/creker7/netvigil/pkg/config"
	"github.com/creker7/netvigil/pkg/history"
	"github.com/creker7/netvigil/pkg/models"
	"github.com/creker7/netvigil/pkg/probe"
	"github.com/creker7/netvigil/pkg/snmp"
	"github.com/creker7/netvigil/pkg/statemon"
	"github.com/creker7/netvigil/pkg/store"
)

const (
	// snmpInterval is fixed; probe cadence is operator-configurable, SNMP
	// polling is not.
	snmpInterval = 5 * time.Second

	// recapCheckInterval is how often the recap schedule is evaluated. One
	// minute matches the schedule's HH:MM resolution.
	recapCheckInterval = time.Minute

	minProbeInterval = time.Second
)

var probeCycles = promauto.NewCounter(prometheus.CounterOpts{
	Name: "netvigil_probe_cycles_total",
	Help: "Probe cycles completed.",
})

// Scheduler owns the tick loops and hands results to the state machine and
// dispatcher. Start runs until Stop; interval changes apply on the next
// tick.
type Scheduler struct {
	store      *store.Store
	runner     *probe.Runner
	machine    *statemon.Machine
	poller     *snmp.Poller
	dispatcher *alerts.Dispatcher
	hist       *history.Store

	mu       sync.Mutex
	interval time.Duration
	recap    config.MailRecap

	probeBusy atomic.Bool
	snmpBusy  atomic.Bool
	tickID    atomic.Uint64
	running   atomic.Bool

	baseCtx context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(st *store.Store, runner *probe.Runner, machine *statemon.Machine,
	poller *snmp.Poller, dispatcher *alerts.Dispatcher, hist *history.Store) *Scheduler {
	return &Scheduler{
		store:      st,
		runner:     runner,
		machine:    machine,
		poller:     poller,
		dispatcher: dispatcher,
		hist:       hist,
		interval:   10 * time.Second,
	}
}

// ApplyConfig swaps the live cadence and recap schedule and pushes the
// alert thresholds into the state machine.
func (s *Scheduler) ApplyConfig(cfg config.Config) {
	interval := time.Duration(cfg.Alerts.ProbeInterval)
	if interval < minProbeInterval {
		interval = minProbeInterval
	}

	s.mu.Lock()
	s.interval = interval
	s.recap = cfg.MailRecap
	if !cfg.Alerts.MailRecap {
		s.recap.Time = ""
	}
	s.mu.Unlock()

	s.machine.SetThreshold(cfg.Alerts.FailureThreshold)
	s.machine.ConfigureTemperature(cfg.Alerts.TempAlert, cfg.Alerts.TempHighC)
}

func (s *Scheduler) currentInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.interval
}

// Start launches the loops. Returns immediately; Stop blocks until they
// unwind.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}

	s.baseCtx = ctx

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	var wg sync.WaitGroup

	wg.Add(3)

	go func() { defer wg.Done(); s.probeLoop(runCtx) }()
	go func() { defer wg.Done(); s.snmpLoop(runCtx) }()
	go func() { defer wg.Done(); s.recapLoop(runCtx) }()

	go func() {
		wg.Wait()
		close(s.done)
	}()

	log.Printf("Scheduler: started, probe interval %s", s.currentInterval())
}

// Stop cancels the loops, waits for the in-flight cycle to drain and
// flushes the dispatcher queue.
func (s *Scheduler) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}

	s.cancel()
	<-s.done

	// One last fire delivers anything the final cycle produced.
	s.dispatcher.Fire(context.Background())

	log.Printf("Scheduler: stopped")
}

// Running reports whether the monitoring loops are active.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// StartMonitoring resumes a stopped scheduler from the operator UI.
func (s *Scheduler) StartMonitoring() {
	if s.baseCtx == nil || s.baseCtx.Err() != nil {
		return
	}

	s.Start(s.baseCtx)
}

// StopMonitoring pauses the loops from the operator UI.
func (s *Scheduler) StopMonitoring() {
	s.Stop()
}

func (s *Scheduler) probeLoop(ctx context.Context) {
	// First cycle runs immediately so a fresh start shows statuses without
	// waiting a full interval.
	s.probeTick(ctx)

	timer := time.NewTimer(s.currentInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.probeTick(ctx)
			timer.Reset(s.currentInterval())
		}
	}
}

// probeTick runs one full cycle synchronously: probe everything, apply the
// observations in arrival order, then fire the dispatcher once.
func (s *Scheduler) probeTick(ctx context.Context) {
	if !s.probeBusy.CompareAndSwap(false, true) {
		log.Printf("Scheduler: skipping probe tick, previous cycle still running")
		return
	}
	defer s.probeBusy.Store(false)

	tick := s.tickID.Add(1)
	endpoints := s.store.List(nil)

	for obs := range s.runner.Run(ctx, endpoints, tick) {
		s.machine.Apply(obs)
	}

	s.dispatcher.Fire(ctx)
	probeCycles.Inc()
}

func (s *Scheduler) snmpLoop(ctx context.Context) {
	ticker := time.NewTicker(snmpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.snmpTick(ctx)
		}
	}
}

func (s *Scheduler) snmpTick(ctx context.Context) {
	if !s.snmpBusy.CompareAndSwap(false, true) {
		log.Printf("Scheduler: skipping SNMP tick, previous poll still running")
		return
	}
	defer s.snmpBusy.Store(false)

	results := s.poller.Poll(ctx, s.store.List(nil))

	for i := range results {
		s.machine.ApplySNMP(results[i])
		s.persistReadings(&results[i])
	}
}

func (s *Scheduler) persistReadings(res *models.SNMPResult) {
	if s.hist == nil || res.Err != "" {
		return
	}

	if res.Temperature != nil {
		if err := s.hist.AddTemperature(res.EndpointID, res.At, *res.Temperature); err != nil {
			log.Printf("Scheduler: failed to persist temperature: %v", err)
		}
	}

	if res.Bandwidth != nil {
		if err := s.hist.AddBandwidth(res.EndpointID, res.At,
			res.Bandwidth.InMbps, res.Bandwidth.OutMbps); err != nil {
			log.Printf("Scheduler: failed to persist bandwidth: %v", err)
		}
	}
}

func (s *Scheduler) recapLoop(ctx context.Context) {
	ticker := time.NewTicker(recapCheckInterval)
	defer ticker.Stop()

	var lastFired string

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.mu.Lock()
			recap := s.recap
			s.mu.Unlock()

			day := now.Format("2006-01-02")
			if day == lastFired || !alerts.RecapDue(now, recap.Time, recap.Weekdays) {
				continue
			}

			lastFired = day
			s.fireRecap(ctx)
		}
	}
}

func (s *Scheduler) fireRecap(ctx context.Context) {
	var stats map[string]*history.EndpointStats

	if s.hist != nil {
		var err error

		stats, err = s.hist.Stats(time.Now().Add(-24 * time.Hour))
		if err != nil {
			log.Printf("Scheduler: recap stats unavailable: %v", err)
		}
	}

	s.dispatcher.SendRecap(ctx, s.store.List(nil), stats)
}
