package models

import "time"

// DeviceClass is the coarse classification assigned to a discovered device.
type DeviceClass string

const (
	ClassCameraHikvision DeviceClass = "camera_hikvision"
	ClassCameraDahua     DeviceClass = "camera_dahua"
	ClassCameraGeneric   DeviceClass = "camera_generic"
	ClassSwitch          DeviceClass = "switch"
	ClassServer          DeviceClass = "server"
	ClassUPS             DeviceClass = "ups"
	ClassUPnP            DeviceClass = "upnp_device"
	ClassUnknown         DeviceClass = "unknown"
)

// DiscoveredDevice is one parsed discovery response, deduplicated by MAC
// when present, otherwise by IP.
type DiscoveredDevice struct {
	IP       string      `json:"ip"`
	Vendor   string      `json:"vendor,omitempty"`
	Model    string      `json:"model,omitempty"`
	MAC      string      `json:"mac,omitempty"`
	Name     string      `json:"name,omitempty"`
	Class    DeviceClass `json:"type"`
	Protocol string      `json:"protocol"`
	SeenAt   time.Time   `json:"seen_at"`
}

// Key is the dedupe key: MAC when known, IP otherwise.
func (d *DiscoveredDevice) Key() string {
	if d.MAC != "" {
		return d.MAC
	}

	return d.IP
}
