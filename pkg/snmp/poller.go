package snmp

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/creker7/netvigil/pkg/models"
)

const (
	// Hosts that failed SNMP are retested on this cadence instead of being
	// written off permanently.
	noSNMPRetestInterval = 5 * time.Minute

	pollConcurrency = 8

	upsEventQueueSize = 32
)

// Interface indices probed when electing the interface to graph. Covers the
// common cases: first port, second port, bonded/bridge indices on NAS
// appliances, high indices on stacked switches.
var candidateIfIndices = []int{1, 2, 10, 100, 1000}

// Poller owns every per-host SNMP profile and produces one SNMPResult per
// reachable host per cycle. Profiles are confined to the poller; nothing
// else reads them.
type Poller struct {
	factory   ClientFactory
	community string
	timeout   time.Duration

	mu       sync.Mutex
	profiles map[string]*profile

	upsEvents chan models.UPSEvent
}

func NewPoller(community string) *Poller {
	return &Poller{
		factory:   NewClient,
		community: community,
		timeout:   2 * time.Second,
		profiles:  make(map[string]*profile),
		upsEvents: make(chan models.UPSEvent, upsEventQueueSize),
	}
}

// NewPollerWith injects a client factory, for tests.
func NewPollerWith(factory ClientFactory) *Poller {
	p := NewPoller("public")
	p.factory = factory

	return p
}

// UPSEvents is the stream of battery/restore events consumed by the alert
// dispatcher.
func (p *Poller) UPSEvents() <-chan models.UPSEvent {
	return p.upsEvents
}

// Poll visits every non-excluded endpoint with an IP host once and returns
// the cycle's results. Hosts without SNMP are skipped silently between
// retests; they produce no result and therefore keep no stale readings.
func (p *Poller) Poll(ctx context.Context, endpoints []models.Endpoint) []models.SNMPResult {
	type job struct {
		ep   models.Endpoint
		prof *profile
	}

	var jobs []job

	now := time.Now()

	for i := range endpoints {
		ep := endpoints[i]

		if ep.Excluded {
			continue
		}

		ip, ok := ep.IPHost()
		if !ok || ip.To4() == nil {
			continue
		}

		prof := p.profileFor(ep.Host())

		prof.mu.Lock()
		skip := !prof.hasSNMP && !prof.lastAttempt.IsZero() && now.Sub(prof.lastAttempt) < noSNMPRetestInterval
		prof.mu.Unlock()

		if skip {
			continue
		}

		jobs = append(jobs, job{ep: ep, prof: prof})
	}

	results := make([]models.SNMPResult, 0, len(jobs))

	var (
		wg    sync.WaitGroup
		resMu sync.Mutex
	)

	sem := make(chan struct{}, pollConcurrency)

	for _, j := range jobs {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		sem <- struct{}{}

		go func(j job) {
			defer wg.Done()
			defer func() { <-sem }()

			res, ok := p.pollHost(ctx, j.ep, j.prof)
			if !ok {
				return
			}

			resMu.Lock()
			results = append(results, res)
			resMu.Unlock()
		}(j)
	}

	wg.Wait()

	return results
}

func (p *Poller) profileFor(host string) *profile {
	p.mu.Lock()
	defer p.mu.Unlock()

	prof, ok := p.profiles[host]
	if !ok {
		prof = &profile{host: host, kind: models.DeviceUnknown}
		p.profiles[host] = prof
	}

	return prof
}

// pollHost runs one full cycle against one host. The bool return is false
// when the host has no SNMP at all (nothing to report, nothing to clear).
// The profile lock serialises concurrent cycles for endpoints that resolve
// to the same host.
func (p *Poller) pollHost(ctx context.Context, ep models.Endpoint, prof *profile) (models.SNMPResult, bool) {
	prof.mu.Lock()
	defer prof.mu.Unlock()

	prof.lastAttempt = time.Now()

	client, err := p.factory(prof.host, p.community, p.timeout)
	if err != nil {
		if prof.hasSNMP {
			prof.hasSNMP = false
			return models.SNMPResult{EndpointID: ep.ID, Err: err.Error(), At: time.Now()}, true
		}

		return models.SNMPResult{}, false
	}
	defer client.Close()

	// Liveness first: a host that answers sysUpTime has SNMP.
	if _, err := getOne(client, oidSysUpTime); err != nil {
		hadSNMP := prof.hasSNMP
		prof.hasSNMP = false

		if hadSNMP {
			// Readings from the previous profile are stale now.
			return models.SNMPResult{EndpointID: ep.ID, Err: err.Error(), At: time.Now()}, true
		}

		return models.SNMPResult{}, false
	}

	prof.hasSNMP = true

	if !prof.detected {
		p.detect(client, prof)
	}

	res := models.SNMPResult{EndpointID: ep.ID, At: time.Now()}

	if ctx.Err() != nil {
		return models.SNMPResult{}, false
	}

	if temp, ok := p.readTemperature(client, prof); ok {
		res.Temperature = &temp
	}

	if !prof.isCamera && !prof.isUPS {
		if bw, ok := p.readBandwidth(client, prof); ok {
			res.Bandwidth = &bw
		}
	}

	if prof.isUPS {
		if ups := p.readUPS(client, ep.ID, prof); ups != nil {
			res.UPS = ups
		}
	}

	return res, true
}

// detect classifies the device once: vendor model OIDs first, then sysDescr
// keywords, plus the one-time UPS capability check.
func (p *Poller) detect(client Client, prof *profile) {
	prof.detected = true

	if model, err := getOne(client, oidSynologyModel); err == nil {
		if _, ok := model.(string); ok {
			prof.kind = models.DeviceSynology
		}
	}

	if prof.kind == models.DeviceUnknown {
		if model, err := getOne(client, oidQNAPModel); err == nil {
			if _, ok := model.(string); ok {
				prof.kind = models.DeviceQNAP
			}
		}
	}

	descr := ""
	if v, err := getOne(client, oidSysDescr); err == nil {
		if s, ok := v.(string); ok {
			descr = s
		}
	}

	if prof.kind == models.DeviceUnknown && descr != "" {
		prof.kind = classifyDescr(descr)
	}

	prof.isCamera = looksLikeCamera(descr)

	if status, err := getOne(client, oidUPSBatteryStatus); err == nil {
		if _, ok := toInt(status); ok {
			prof.isUPS = true
		}
	}

	log.Printf("SNMP: %s classified as %s (camera=%v ups=%v)", prof.host, prof.kind, prof.isCamera, prof.isUPS)
}

// readTemperature asks the elected OID, or elects one by walking the
// vendor's candidate list until a plausible value answers. A cached OID
// that stops answering is dropped so the next cycle re-elects.
func (p *Poller) readTemperature(client Client, prof *profile) (float64, bool) {
	if prof.tempOID != "" {
		v, err := getOne(client, prof.tempOID)
		if err == nil {
			if c, ok := parseTemperature(v); ok {
				return c, true
			}
		}

		prof.tempOID = ""

		return 0, false
	}

	if prof.tempExhausted {
		return 0, false
	}

	for _, oid := range temperatureCandidates(prof.kind) {
		v, err := getOne(client, oid)
		if err != nil {
			continue
		}

		if c, ok := parseTemperature(v); ok {
			prof.tempOID = oid
			return c, true
		}
	}

	prof.tempExhausted = true

	return 0, false
}

// readBandwidth reads the elected interface's octet counters and computes
// the delta rate against the previous sample.
func (p *Poller) readBandwidth(client Client, prof *profile) (models.Bandwidth, bool) {
	if prof.ifIndex == 0 {
		if prof.ifExhausted {
			return models.Bandwidth{}, false
		}

		if !p.electInterface(client, prof) {
			prof.ifExhausted = true
			return models.Bandwidth{}, false
		}
	}

	in, out, ok := p.readOctets(client, prof.ifIndex, prof.ifHC)
	if !ok {
		// Interface disappeared; re-elect next cycle.
		prof.ifIndex = 0
		prof.prevOctets = nil

		return models.Bandwidth{}, false
	}

	cur := octetSample{in: in, out: out, at: time.Now()}
	prev := prof.prevOctets
	prof.prevOctets = &cur

	if prev == nil {
		// First sample only seeds the delta.
		return models.Bandwidth{}, false
	}

	return bandwidth(*prev, cur), true
}

// electInterface probes the candidate indices and keeps the first with
// non-trivial counters, preferring 64-bit counters when the device has
// them.
func (p *Poller) electInterface(client Client, prof *profile) bool {
	for _, idx := range candidateIfIndices {
		if in, out, ok := p.readOctets(client, idx, true); ok && in+out > 0 {
			prof.ifIndex = idx
			prof.ifHC = true

			return true
		}

		if in, out, ok := p.readOctets(client, idx, false); ok && in+out > 0 {
			prof.ifIndex = idx
			prof.ifHC = false

			return true
		}
	}

	return false
}

func (p *Poller) readOctets(client Client, idx int, hc bool) (in, out uint64, ok bool) {
	inOID, outOID := fmt.Sprintf(oidIfInOctets, idx), fmt.Sprintf(oidIfOutOctets, idx)
	if hc {
		inOID, outOID = fmt.Sprintf(oidIfHCInOctets, idx), fmt.Sprintf(oidIfHCOutOctets, idx)
	}

	values, err := client.Get([]string{inOID, outOID})
	if err != nil {
		return 0, 0, false
	}

	inV, inOK := toUint(values[inOID])
	outV, outOK := toUint(values[outOID])

	if !inOK || !outOK {
		return 0, 0, false
	}

	return inV, outV, true
}

// readUPS reads the UPS state and emits battery/restore events on input
// source flips.
func (p *Poller) readUPS(client Client, endpointID string, prof *profile) *models.UPSStatus {
	values, err := client.Get([]string{
		oidUPSBatteryStatus,
		oidUPSMinutesRemaining,
		oidUPSChargeRemaining,
		oidUPSInputSource,
	})
	if err != nil {
		return nil
	}

	source, ok := toInt(values[oidUPSInputSource])
	if !ok {
		return nil
	}

	status := &models.UPSStatus{
		EndpointID:  endpointID,
		InputSource: models.UPSInputSource(source),
		At:          time.Now(),
	}

	if v, ok := toInt(values[oidUPSBatteryStatus]); ok {
		status.BatteryStatus = int(v)
	}

	if v, ok := toInt(values[oidUPSChargeRemaining]); ok {
		status.ChargePercent = int(v)
	}

	if v, ok := toInt(values[oidUPSMinutesRemaining]); ok {
		status.MinutesRemaining = int(v)
	}

	prev := prof.lastSource
	prof.lastSource = status.InputSource

	switch {
	case prev == models.UPSSourceNormal && status.InputSource == models.UPSSourceBattery:
		p.emitUPS(models.UPSEvent{
			EndpointID: endpointID,
			Kind:       models.UPSEventOnBattery,
			Status:     *status,
			At:         status.At,
		})
	case prev == models.UPSSourceBattery && status.InputSource == models.UPSSourceNormal:
		p.emitUPS(models.UPSEvent{
			EndpointID: endpointID,
			Kind:       models.UPSEventRestored,
			Status:     *status,
			At:         status.At,
		})
	}

	return status
}

func (p *Poller) emitUPS(ev models.UPSEvent) {
	select {
	case p.upsEvents <- ev:
	default:
		log.Printf("SNMP: UPS event queue full, dropping %s for %s", ev.Kind, ev.EndpointID)
	}
}

func getOne(client Client, oid string) (interface{}, error) {
	values, err := client.Get([]string{oid})
	if err != nil {
		return nil, err
	}

	v, ok := values[oid]
	if !ok {
		return nil, fmt.Errorf("no value for %s", oid)
	}

	return v, nil
}

func toUint(v interface{}) (uint64, bool) {
	switch value := v.(type) {
	case uint64:
		return value, true
	case int64:
		if value < 0 {
			return 0, false
		}

		return uint64(value), true
	default:
		return 0, false
	}
}

func toInt(v interface{}) (int64, bool) {
	switch value := v.(type) {
	case int64:
		return value, true
	case uint64:
		return int64(value), true
	default:
		return 0, false
	}
}
