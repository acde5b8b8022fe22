package models

import "time"

// TemperatureSample is one persisted temperature reading.
type TemperatureSample struct {
	EndpointID string    `json:"endpoint_id"`
	At         time.Time `json:"at"`
	Celsius    float64   `json:"celsius"`
}

// BandwidthSample is one persisted throughput reading.
type BandwidthSample struct {
	EndpointID string    `json:"endpoint_id"`
	At         time.Time `json:"at"`
	InMbps     float64   `json:"in_mbps"`
	OutMbps    float64   `json:"out_mbps"`
}

// ConnEventKind classifies connection event log records.
type ConnEventKind string

const (
	ConnDisconnect ConnEventKind = "disconnect"
	ConnReconnect  ConnEventKind = "reconnect"
)

// ConnEvent is one record in the connection event log. Duration is only set
// for reconnect records and holds the preceding downtime.
type ConnEvent struct {
	EndpointID string        `json:"endpoint_id"`
	At         time.Time     `json:"at"`
	Kind       ConnEventKind `json:"kind"`
	Duration   time.Duration `json:"duration,omitempty"`
}
