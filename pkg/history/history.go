// Package history persists temperature and bandwidth time series plus the
// connection event log in SQLite under the config root. Writes are
// single-writer and transactional, so a record is either fully present or
// absent after a crash; readers get snapshot range queries.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/creker7/netvigil/pkg/models"
)

const (
	// DefaultRetention bounds the rolling sample window. Connection events
	// are kept indefinitely, bounded only by disk.
	DefaultRetention = 7 * 24 * time.Hour

	janitorInterval = time.Hour

	temperatureDB = "temperature.db"
	bandwidthDB   = "bandwidth.db"
	eventsDB      = "events.db"
)

var (
	errFailedToOpen   = errors.New("failed to open history database")
	errFailedToInit   = errors.New("failed to initialize history schema")
	errFailedToInsert = errors.New("failed to insert history record")
	errFailedToQuery  = errors.New("failed to query history")
)

const temperatureSchema = `
	CREATE TABLE IF NOT EXISTS temperature_samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		endpoint_id TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		celsius REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_temp_endpoint_time
		ON temperature_samples(endpoint_id, timestamp);

	PRAGMA journal_mode=WAL;
`

const bandwidthSchema = `
	CREATE TABLE IF NOT EXISTS bandwidth_samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		endpoint_id TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		in_mbps REAL NOT NULL,
		out_mbps REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_bw_endpoint_time
		ON bandwidth_samples(endpoint_id, timestamp);

	PRAGMA journal_mode=WAL;
`

const eventsSchema = `
	CREATE TABLE IF NOT EXISTS conn_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		endpoint_id TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		kind TEXT NOT NULL,
		duration_seconds REAL NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_events_endpoint_time
		ON conn_events(endpoint_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_time
		ON conn_events(timestamp);

	PRAGMA journal_mode=WAL;
`

// Store owns the three history databases.
type Store struct {
	temp   *sql.DB
	bw     *sql.DB
	events *sql.DB

	retention time.Duration
}

// Open opens (creating if needed) the history databases under root.
func Open(root string) (*Store, error) {
	s := &Store{retention: DefaultRetention}

	for _, db := range []struct {
		file   string
		schema string
		dst    **sql.DB
	}{
		{temperatureDB, temperatureSchema, &s.temp},
		{bandwidthDB, bandwidthSchema, &s.bw},
		{eventsDB, eventsSchema, &s.events},
	} {
		handle, err := sql.Open("sqlite3", filepath.Join(root, db.file))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("%w: %s: %w", errFailedToOpen, db.file, err)
		}

		if _, err := handle.Exec(db.schema); err != nil {
			handle.Close()
			s.Close()

			return nil, fmt.Errorf("%w: %s: %w", errFailedToInit, db.file, err)
		}

		*db.dst = handle
	}

	return s, nil
}

func (s *Store) Close() error {
	var firstErr error

	for _, db := range []*sql.DB{s.temp, s.bw, s.events} {
		if db == nil {
			continue
		}

		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// AddTemperature appends one temperature sample.
func (s *Store) AddTemperature(endpointID string, at time.Time, celsius float64) error {
	_, err := s.temp.Exec(
		`INSERT INTO temperature_samples (endpoint_id, timestamp, celsius) VALUES (?, ?, ?)`,
		endpointID, at.UTC(), celsius)
	if err != nil {
		return fmt.Errorf("%w: temperature: %w", errFailedToInsert, err)
	}

	return nil
}

// AddBandwidth appends one bandwidth sample. Negative rates are clamped at
// the source; this guards the invariant at the persistence edge too.
func (s *Store) AddBandwidth(endpointID string, at time.Time, inMbps, outMbps float64) error {
	if inMbps < 0 {
		inMbps = 0
	}

	if outMbps < 0 {
		outMbps = 0
	}

	_, err := s.bw.Exec(
		`INSERT INTO bandwidth_samples (endpoint_id, timestamp, in_mbps, out_mbps) VALUES (?, ?, ?, ?)`,
		endpointID, at.UTC(), inMbps, outMbps)
	if err != nil {
		return fmt.Errorf("%w: bandwidth: %w", errFailedToInsert, err)
	}

	return nil
}

// AddEvent appends one connection event. Duration carries the downtime for
// reconnect records and is zero otherwise.
func (s *Store) AddEvent(endpointID string, at time.Time, kind models.ConnEventKind, duration time.Duration) error {
	_, err := s.events.Exec(
		`INSERT INTO conn_events (endpoint_id, timestamp, kind, duration_seconds) VALUES (?, ?, ?, ?)`,
		endpointID, at.UTC(), string(kind), duration.Seconds())
	if err != nil {
		return fmt.Errorf("%w: event: %w", errFailedToInsert, err)
	}

	return nil
}

// TemperatureSince returns samples for one endpoint from since onward, in
// time order.
func (s *Store) TemperatureSince(endpointID string, since time.Time) ([]models.TemperatureSample, error) {
	rows, err := s.temp.Query(
		`SELECT endpoint_id, timestamp, celsius FROM temperature_samples
		 WHERE endpoint_id = ? AND timestamp >= ? ORDER BY timestamp`,
		endpointID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("%w: temperature: %w", errFailedToQuery, err)
	}
	defer rows.Close()

	var out []models.TemperatureSample

	for rows.Next() {
		var sample models.TemperatureSample
		if err := rows.Scan(&sample.EndpointID, &sample.At, &sample.Celsius); err != nil {
			return nil, err
		}

		out = append(out, sample)
	}

	return out, rows.Err()
}

// BandwidthSince returns samples for one endpoint from since onward.
func (s *Store) BandwidthSince(endpointID string, since time.Time) ([]models.BandwidthSample, error) {
	rows, err := s.bw.Query(
		`SELECT endpoint_id, timestamp, in_mbps, out_mbps FROM bandwidth_samples
		 WHERE endpoint_id = ? AND timestamp >= ? ORDER BY timestamp`,
		endpointID, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("%w: bandwidth: %w", errFailedToQuery, err)
	}
	defer rows.Close()

	var out []models.BandwidthSample

	for rows.Next() {
		var sample models.BandwidthSample
		if err := rows.Scan(&sample.EndpointID, &sample.At, &sample.InMbps, &sample.OutMbps); err != nil {
			return nil, err
		}

		out = append(out, sample)
	}

	return out, rows.Err()
}

// EventsSince returns connection events from since onward, newest last.
// Empty endpointID returns events for all endpoints.
func (s *Store) EventsSince(endpointID string, since time.Time) ([]models.ConnEvent, error) {
	query := `SELECT endpoint_id, timestamp, kind, duration_seconds FROM conn_events
		 WHERE timestamp >= ? ORDER BY timestamp`
	args := []interface{}{since.UTC()}

	if endpointID != "" {
		query = `SELECT endpoint_id, timestamp, kind, duration_seconds FROM conn_events
		 WHERE endpoint_id = ? AND timestamp >= ? ORDER BY timestamp`
		args = []interface{}{endpointID, since.UTC()}
	}

	rows, err := s.events.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: events: %w", errFailedToQuery, err)
	}
	defer rows.Close()

	var out []models.ConnEvent

	for rows.Next() {
		var (
			ev   models.ConnEvent
			kind string
			secs float64
		)

		if err := rows.Scan(&ev.EndpointID, &ev.At, &kind, &secs); err != nil {
			return nil, err
		}

		ev.Kind = models.ConnEventKind(kind)

		ev.Duration = time.Duration(secs * float64(time.Second))
		out = append(out, ev)
	}

	return out, rows.Err()
}

// CleanOld deletes samples older than the retention window. Events are
// never cleaned.
func (s *Store) CleanOld() error {
	cutoff := time.Now().Add(-s.retention).UTC()

	if _, err := s.temp.Exec(`DELETE FROM temperature_samples WHERE timestamp < ?`, cutoff); err != nil {
		return fmt.Errorf("failed to clean temperature samples: %w", err)
	}

	if _, err := s.bw.Exec(`DELETE FROM bandwidth_samples WHERE timestamp < ?`, cutoff); err != nil {
		return fmt.Errorf("failed to clean bandwidth samples: %w", err)
	}

	return nil
}

// RunJanitor enforces retention until the context is cancelled.
func (s *Store) RunJanitor(ctx context.Context) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.CleanOld(); err != nil {
				log.Printf("History janitor: %v", err)
			}
		}
	}
}
