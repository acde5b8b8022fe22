package snmp

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/creker7/netvigil/pkg/models"
)

// Temperature plausibility window after unit normalisation.
const (
	minPlausibleC = -40.0
	maxPlausibleC = 150.0
)

// octetSample is one raw counter reading used for delta bandwidth.
type octetSample struct {
	in  uint64
	out uint64
	at  time.Time
}

// profile is the cached per-host verdict: whether the host speaks SNMP at
// all, what it is, which temperature OID answers, which interface carries
// traffic, and whether it is a UPS. Endpoints sharing a host (bare IP plus
// host:port) share one profile, so cycles poll it under mu.
type profile struct {
	mu   sync.Mutex
	host string

	hasSNMP     bool
	lastAttempt time.Time

	detected bool
	kind     models.DeviceType
	isCamera bool

	tempOID       string // elected OID; empty until elected
	tempExhausted bool   // every candidate failed; stop asking

	ifIndex     int // elected interface; 0 until elected
	ifHC        bool
	ifExhausted bool

	isUPS      bool
	lastSource models.UPSInputSource

	prevOctets *octetSample
}

// normalizeTemperature scales raw vendor values into degrees Celsius:
// milli-degrees, centi-degrees and deci-degrees are recognised by
// magnitude.
func normalizeTemperature(raw float64) float64 {
	switch {
	case raw > 10000:
		return raw / 1000
	case raw > 1000:
		return raw / 100
	case raw > 200:
		return raw / 10
	default:
		return raw
	}
}

func plausibleTemperature(c float64) bool {
	return c >= minPlausibleC && c <= maxPlausibleC
}

// parseTemperature coerces an SNMP value into a normalised reading. String
// values like "40 C/104 F" (QNAP) have their leading number extracted.
func parseTemperature(v interface{}) (float64, bool) {
	var raw float64

	switch value := v.(type) {
	case int64:
		raw = float64(value)
	case uint64:
		raw = float64(value)
	case float64:
		raw = value
	case string:
		fields := strings.FieldsFunc(value, func(r rune) bool {
			return (r < '0' || r > '9') && r != '.' && r != '-'
		})

		if len(fields) == 0 {
			return 0, false
		}

		parsed, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return 0, false
		}

		raw = parsed
	default:
		return 0, false
	}

	c := normalizeTemperature(raw)
	if !plausibleTemperature(c) {
		return 0, false
	}

	return c, true
}

// bandwidth computes Mbps from two octet samples. A negative delta means
// the counter wrapped (or the device rebooted); it clamps to zero rather
// than producing a negative rate.
func bandwidth(prev, cur octetSample) models.Bandwidth {
	elapsed := cur.at.Sub(prev.at).Seconds()
	if elapsed <= 0 {
		return models.Bandwidth{At: cur.at}
	}

	return models.Bandwidth{
		InMbps:  octetRate(prev.in, cur.in, elapsed),
		OutMbps: octetRate(prev.out, cur.out, elapsed),
		At:      cur.at,
	}
}

func octetRate(prev, cur uint64, elapsed float64) float64 {
	if cur < prev {
		return 0
	}

	return float64(cur-prev) / elapsed * 8 / 1e6
}

// classifyDescr maps a sysDescr string to a device type.
func classifyDescr(descr string) models.DeviceType {
	lower := strings.ToLower(descr)

	for _, kw := range descrKeywords {
		if strings.Contains(lower, kw.substr) {
			return kw.kind
		}
	}

	return models.DeviceUnknown
}

func looksLikeCamera(descr string) bool {
	lower := strings.ToLower(descr)

	for _, kw := range cameraKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}

	return false
}
