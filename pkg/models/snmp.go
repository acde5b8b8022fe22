package models

import "time"

// DeviceType is the vendor classification cached per SNMP host.
type DeviceType string

const (
	DeviceSynology  DeviceType = "synology"
	DeviceQNAP      DeviceType = "qnap"
	DeviceCisco     DeviceType = "cisco"
	DeviceHP        DeviceType = "hp"
	DeviceDell      DeviceType = "dell"
	DeviceUbiquiti  DeviceType = "ubiquiti"
	DeviceMikrotik  DeviceType = "mikrotik"
	DeviceRaspberry DeviceType = "raspberry"
	DeviceLinux     DeviceType = "linux"
	DeviceWindows   DeviceType = "windows"
	DeviceUnknown   DeviceType = "unknown"
)

// SNMPResult is one poll cycle's outcome for one host. Nil fields mean the
// corresponding reading was unavailable this cycle; Err is set when the host
// failed SNMP entirely, in which case volatile temperature and bandwidth on
// the endpoint are cleared.
type SNMPResult struct {
	EndpointID  string     `json:"endpoint_id"`
	Temperature *float64   `json:"temperature,omitempty"`
	Bandwidth   *Bandwidth `json:"bandwidth,omitempty"`
	UPS         *UPSStatus `json:"ups,omitempty"`
	Err         string     `json:"err,omitempty"`
	At          time.Time  `json:"at"`
}
