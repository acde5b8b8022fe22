package history

import (
	"fmt"
	"time"
)

// EndpointStats aggregates one endpoint's history over a window.
type EndpointStats struct {
	EndpointID       string        `json:"endpoint_id"`
	Disconnects      int           `json:"disconnects"`
	TotalDowntime    time.Duration `json:"total_downtime"`
	AvailabilityPct  float64       `json:"availability_pct"`
	AvgTemperature   *float64      `json:"avg_temperature,omitempty"`
	MaxTemperature   *float64      `json:"max_temperature,omitempty"`
	AvgInMbps        *float64      `json:"avg_in_mbps,omitempty"`
	AvgOutMbps       *float64      `json:"avg_out_mbps,omitempty"`
	PeakInMbps       *float64      `json:"peak_in_mbps,omitempty"`
	PeakOutMbps      *float64      `json:"peak_out_mbps,omitempty"`
}

// Stats computes the per-endpoint aggregates for every endpoint that has
// history within the window. Availability is derived from the recorded
// reconnect downtimes, so an endpoint that is still down reads high until
// its reconnect lands; the event log is the source of truth here.
func (s *Store) Stats(since time.Time) (map[string]*EndpointStats, error) {
	window := time.Since(since)
	if window <= 0 {
		return map[string]*EndpointStats{}, nil
	}

	out := make(map[string]*EndpointStats)

	get := func(id string) *EndpointStats {
		st, ok := out[id]
		if !ok {
			st = &EndpointStats{EndpointID: id, AvailabilityPct: 100}
			out[id] = st
		}

		return st
	}

	rows, err := s.events.Query(
		`SELECT endpoint_id,
		        SUM(CASE WHEN kind = 'disconnect' THEN 1 ELSE 0 END),
		        SUM(CASE WHEN kind = 'reconnect' THEN duration_seconds ELSE 0 END)
		 FROM conn_events WHERE timestamp >= ? GROUP BY endpoint_id`,
		since.UTC())
	if err != nil {
		return nil, fmt.Errorf("%w: event stats: %w", errFailedToQuery, err)
	}

	for rows.Next() {
		var (
			id       string
			count    int
			downSecs float64
		)

		if err := rows.Scan(&id, &count, &downSecs); err != nil {
			rows.Close()
			return nil, err
		}

		st := get(id)
		st.Disconnects = count
		st.TotalDowntime = time.Duration(downSecs * float64(time.Second))

		pct := 100 * (1 - downSecs/window.Seconds())
		if pct < 0 {
			pct = 0
		}

		st.AvailabilityPct = pct
	}

	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}

	rows.Close()

	rows, err = s.temp.Query(
		`SELECT endpoint_id, AVG(celsius), MAX(celsius)
		 FROM temperature_samples WHERE timestamp >= ? GROUP BY endpoint_id`,
		since.UTC())
	if err != nil {
		return nil, fmt.Errorf("%w: temperature stats: %w", errFailedToQuery, err)
	}

	for rows.Next() {
		var (
			id       string
			avg, max float64
		)

		if err := rows.Scan(&id, &avg, &max); err != nil {
			rows.Close()
			return nil, err
		}

		st := get(id)
		st.AvgTemperature = &avg
		st.MaxTemperature = &max
	}

	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}

	rows.Close()

	rows, err = s.bw.Query(
		`SELECT endpoint_id, AVG(in_mbps), AVG(out_mbps), MAX(in_mbps), MAX(out_mbps)
		 FROM bandwidth_samples WHERE timestamp >= ? GROUP BY endpoint_id`,
		since.UTC())
	if err != nil {
		return nil, fmt.Errorf("%w: bandwidth stats: %w", errFailedToQuery, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id                         string
			avgIn, avgOut, pkIn, pkOut float64
		)

		if err := rows.Scan(&id, &avgIn, &avgOut, &pkIn, &pkOut); err != nil {
			return nil, err
		}

		st := get(id)
		st.AvgInMbps = &avgIn
		st.AvgOutMbps = &avgOut
		st.PeakInMbps = &pkIn
		st.PeakOutMbps = &pkOut
	}

	return out, rows.Err()
}
