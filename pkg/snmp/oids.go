package snmp

import "github.com/creker7/netvigil/pkg/models"

// MIB-2 system group.
const (
	oidSysDescr  = ".1.3.6.1.2.1.1.1.0"
	oidSysUpTime = ".1.3.6.1.2.1.1.3.0"
	oidSysName   = ".1.3.6.1.2.1.1.5.0"
)

// Vendor model OIDs tried before falling back to sysDescr keywords.
const (
	oidSynologyModel = ".1.3.6.1.4.1.6574.1.5.1.0"
	oidQNAPModel     = ".1.3.6.1.4.1.24681.1.2.12.0"
)

// Interface counters; %d is the ifIndex.
const (
	oidIfHCInOctets  = ".1.3.6.1.2.1.31.1.1.1.6.%d"
	oidIfHCOutOctets = ".1.3.6.1.2.1.31.1.1.1.10.%d"
	oidIfInOctets    = ".1.3.6.1.2.1.2.2.1.10.%d"
	oidIfOutOctets   = ".1.3.6.1.2.1.2.2.1.16.%d"
)

// UPS-MIB (RFC 1628).
const (
	oidUPSBatteryStatus    = ".1.3.6.1.2.1.33.1.2.1.0"
	oidUPSMinutesRemaining = ".1.3.6.1.2.1.33.1.2.3.0"
	oidUPSChargeRemaining  = ".1.3.6.1.2.1.33.1.2.4.0"
	oidUPSInputSource      = ".1.3.6.1.2.1.33.1.4.1.0"
)

// Candidate temperature OIDs in probe order.
var (
	oidTempSynology  = ".1.3.6.1.4.1.6574.1.2.0"
	oidTempQNAP      = ".1.3.6.1.4.1.24681.1.2.5.0"
	oidTempQNAPES    = ".1.3.6.1.4.1.24681.1.3.6.0"
	oidTempCisco     = ".1.3.6.1.4.1.9.9.13.1.3.1.3.1"
	oidTempHP        = ".1.3.6.1.4.1.11.2.14.11.1.2.6.1.4.1"
	oidTempDell      = ".1.3.6.1.4.1.674.10892.1.700.20.1.6.1.1"
	oidTempUbiquiti  = ".1.3.6.1.4.1.41112.1.4.8.1.2.1"
	oidTempMikrotik  = ".1.3.6.1.4.1.14988.1.1.3.10.0"
	oidTempLMSensors = ".1.3.6.1.4.1.2021.13.16.2.1.3.1"
	oidTempHostRes   = ".1.3.6.1.2.1.99.1.1.1.4.1"
)

// temperatureCandidates returns the ordered OID list for a device type. The
// generic tail is shared: most Linux-ish devices expose lm-sensors through
// net-snmp, and ENTITY-SENSOR is the last resort everywhere.
func temperatureCandidates(kind models.DeviceType) []string {
	generic := []string{oidTempLMSensors, oidTempHostRes}

	switch kind {
	case models.DeviceSynology:
		return append([]string{oidTempSynology}, generic...)
	case models.DeviceQNAP:
		return append([]string{oidTempQNAP, oidTempQNAPES}, generic...)
	case models.DeviceCisco:
		return append([]string{oidTempCisco}, generic...)
	case models.DeviceHP:
		return append([]string{oidTempHP}, generic...)
	case models.DeviceDell:
		return append([]string{oidTempDell}, generic...)
	case models.DeviceUbiquiti:
		return append([]string{oidTempUbiquiti}, generic...)
	case models.DeviceMikrotik:
		return append([]string{oidTempMikrotik}, generic...)
	case models.DeviceRaspberry, models.DeviceLinux:
		return generic
	case models.DeviceWindows:
		return []string{oidTempHostRes}
	default:
		return append([]string{oidTempSynology, oidTempQNAP, oidTempMikrotik}, generic...)
	}
}

// descrKeywords maps sysDescr substrings (lowercased) to a device type, in
// match order.
var descrKeywords = []struct {
	substr string
	kind   models.DeviceType
}{
	{"synology", models.DeviceSynology},
	{"qnap", models.DeviceQNAP},
	{"cisco", models.DeviceCisco},
	{"procurve", models.DeviceHP},
	{"hewlett", models.DeviceHP},
	{"hp ", models.DeviceHP},
	{"dell", models.DeviceDell},
	{"ubiquiti", models.DeviceUbiquiti},
	{"ubnt", models.DeviceUbiquiti},
	{"edgeos", models.DeviceUbiquiti},
	{"mikrotik", models.DeviceMikrotik},
	{"routeros", models.DeviceMikrotik},
	{"raspberry", models.DeviceRaspberry},
	{"raspbian", models.DeviceRaspberry},
	{"windows", models.DeviceWindows},
	{"linux", models.DeviceLinux},
}

// cameraKeywords marks devices skipped for bandwidth queries.
var cameraKeywords = []string{"camera", "ipcam", "ipc-", "hikvision", "dahua", "nvr", "dvr"}
