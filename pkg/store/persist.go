package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/creker7/netvigil/pkg/models"
)

const (
	hostsFile = "hosts.json"

	// persistDebounce batches bursts of changes (a probe tick touches every
	// endpoint) into one write.
	persistDebounce = 2 * time.Second
)

var errFailedToPersist = errors.New("failed to persist endpoints")

// LoadFile restores the endpoint set saved by a previous run. Volatile state
// is not trusted across restarts: every endpoint comes back online with
// clean counters and no readings. A missing file is a first start, not an
// error.
func (s *Store) LoadFile(root string) error {
	data, err := os.ReadFile(filepath.Join(root, hostsFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("%w: %w", errFailedToPersist, err)
	}

	var endpoints []models.Endpoint
	if err := json.Unmarshal(data, &endpoints); err != nil {
		return fmt.Errorf("%w: %w", errFailedToPersist, err)
	}

	for _, ep := range endpoints {
		ep.Status = models.StatusOnline
		ep.Latency = models.Latency{}
		ep.LastSuccess = time.Time{}
		ep.Temperature = nil
		ep.Bandwidth = nil
		ep.Counters.Reset()

		if _, err := s.Upsert(ep); err != nil {
			log.Printf("Store: skipping persisted endpoint %q: %v", ep.Target, err)
		}
	}

	return nil
}

// SaveFile writes the current endpoint set atomically next to the config.
func (s *Store) SaveFile(root string) error {
	data, err := json.MarshalIndent(s.List(nil), "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %w", errFailedToPersist, err)
	}

	path := filepath.Join(root, hostsFile)
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("%w: %w", errFailedToPersist, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %w", errFailedToPersist, err)
	}

	return nil
}

// RunPersister watches the change stream and saves the endpoint set,
// debounced, until ctx is cancelled. A final save runs on the way out.
func (s *Store) RunPersister(ctx context.Context, root string) {
	sub := s.Subscribe()
	defer sub.Close()

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			if err := s.SaveFile(root); err != nil {
				log.Printf("Store: final save failed: %v", err)
			}

			return

		case <-sub.C:
			if timer == nil {
				timer = time.NewTimer(persistDebounce)
				fire = timer.C
			}

		case <-fire:
			timer = nil
			fire = nil

			if err := s.SaveFile(root); err != nil {
				log.Printf("Store: save failed: %v", err)
			}
		}
	}
}
