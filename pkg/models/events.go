package models

import "time"

// TransitionKind classifies a state machine transition event.
type TransitionKind string

const (
	TransitionDownConfirmed  TransitionKind = "down_confirmed"
	TransitionUpRecovered    TransitionKind = "up_recovered"
	TransitionTempHigh       TransitionKind = "temp_high"
	TransitionTempNormalized TransitionKind = "temp_normalized"
)

// Transition is emitted by the state machine and consumed by the alert
// dispatcher and the WebSocket broadcaster. Endpoint is a snapshot taken at
// emission time, never a live pointer.
type Transition struct {
	EndpointID string         `json:"endpoint_id"`
	Kind       TransitionKind `json:"kind"`
	At         time.Time      `json:"at"`
	Endpoint   Endpoint       `json:"endpoint"`
}

// Observation is one probe cycle's result for one endpoint. Produced by the
// probe workers, applied to the state machine, then discarded.
type Observation struct {
	EndpointID string  `json:"endpoint_id"`
	TickID     uint64  `json:"tick_id"`
	Latency    Latency `json:"latency"`
	Err        string  `json:"err,omitempty"`
}

// UPSInputSource mirrors upsInputSource from the UPS MIB.
type UPSInputSource int

const (
	UPSSourceOther   UPSInputSource = 1
	UPSSourceNone    UPSInputSource = 2
	UPSSourceNormal  UPSInputSource = 3
	UPSSourceBypass  UPSInputSource = 4
	UPSSourceBattery UPSInputSource = 5
)

// UPSStatus is one UPS poll result.
type UPSStatus struct {
	EndpointID       string         `json:"endpoint_id"`
	InputSource      UPSInputSource `json:"input_source"`
	BatteryStatus    int            `json:"battery_status"`
	ChargePercent    int            `json:"charge_percent"`
	MinutesRemaining int            `json:"minutes_remaining"`
	At               time.Time      `json:"at"`
}

// Critical reports whether the battery status escalates alert severity
// (batteryLow=3 or batteryDepleted=4 in the UPS MIB).
func (u *UPSStatus) Critical() bool {
	return u.BatteryStatus == 3 || u.BatteryStatus == 4
}

// UPSEventKind classifies UPS alerts derived from input source flips.
type UPSEventKind string

const (
	UPSEventOnBattery UPSEventKind = "on_battery"
	UPSEventRestored  UPSEventKind = "power_restored"
)

// UPSEvent is emitted when a UPS input source crosses normal <-> battery.
type UPSEvent struct {
	EndpointID string       `json:"endpoint_id"`
	Kind       UPSEventKind `json:"kind"`
	Status     UPSStatus    `json:"status"`
	At         time.Time    `json:"at"`
}
