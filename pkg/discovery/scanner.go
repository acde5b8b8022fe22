// Package discovery fires UDP broadcast and multicast probes for the
// device classes seen on surveillance and office networks and parses the
// vendor-specific answers into discovered devices.
package discovery

import (
	"context"
	"errors"
	"log"
	"net"
	"sync"
	"time"

	"github.com/creker7/netvigil/pkg/models"
)

const (
	// scanWindow is how long each probe listens for answers after sending.
	scanWindow = 8 * time.Second

	deviceQueueSize = 64

	maxResponseSize = 8192
)

var ErrScanRunning = errors.New("a network scan is already running")

// Scanner runs one scan at a time. Devices found stream out of Devices();
// the web layer forwards them to connected operators as they arrive.
type Scanner struct {
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	seen    map[string]bool

	probes  []probeSpec
	window  time.Duration
	devices chan models.DiscoveredDevice
}

func NewScanner() *Scanner {
	return &Scanner{
		probes:  defaultProbes(),
		window:  scanWindow,
		devices: make(chan models.DiscoveredDevice, deviceQueueSize),
	}
}

// newScannerWith injects probe specs and a short window, for tests.
func newScannerWith(probes []probeSpec, window time.Duration) *Scanner {
	s := NewScanner()
	s.probes = probes
	s.window = window

	return s
}

// Devices is the stream of deduplicated scan results.
func (s *Scanner) Devices() <-chan models.DiscoveredDevice {
	return s.devices
}

func (s *Scanner) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// Start launches every probe in parallel and returns immediately. A second
// Start while a scan is in flight fails with ErrScanRunning.
func (s *Scanner) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrScanRunning
	}

	scanCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.seen = make(map[string]bool)

	var wg sync.WaitGroup

	for i := range s.probes {
		wg.Add(1)

		go func(spec probeSpec) {
			defer wg.Done()

			if err := s.runProbe(scanCtx, spec); err != nil {
				log.Printf("Discovery: %s probe failed: %v", spec.name, err)
			}
		}(s.probes[i])
	}

	go func() {
		wg.Wait()
		cancel()

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()

		log.Printf("Discovery: scan finished")
	}()

	return nil
}

// Stop aborts an in-flight scan. Safe to call when idle.
func (s *Scanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
}

// runProbe sends one probe payload and collects answers until the window
// closes or the scan is cancelled.
func (s *Scanner) runProbe(ctx context.Context, spec probeSpec) error {
	dest, err := net.ResolveUDPAddr("udp4", spec.dest)
	if err != nil {
		return err
	}

	conn, err := listenBroadcast(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.WriteTo(spec.payload(), dest); err != nil {
		return err
	}

	deadline := time.Now().Add(s.window)
	_ = conn.SetReadDeadline(deadline)

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, maxResponseSize)

	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil
			}

			return err
		}

		ip, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			continue
		}

		dev, ok := spec.parse(ip, buf[:n])
		if !ok {
			continue
		}

		s.emit(models.DiscoveredDevice{
			IP:       ip,
			Vendor:   dev.vendor,
			Model:    dev.model,
			MAC:      dev.mac,
			Name:     dev.name,
			Class:    classify(spec.name, dev),
			Protocol: spec.name,
			SeenAt:   time.Now(),
		})
	}
}

func (s *Scanner) emit(dev models.DiscoveredDevice) {
	s.mu.Lock()

	key := dev.Key()
	if s.seen[key] {
		s.mu.Unlock()
		return
	}

	s.seen[key] = true
	s.mu.Unlock()

	select {
	case s.devices <- dev:
	default:
		log.Printf("Discovery: device queue full, dropping %s", dev.IP)
	}
}
