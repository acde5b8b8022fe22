package discovery

import (
	"encoding/binary"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"

	"github.com/creker7/netvigil/pkg/models"
)

// hikvisionMatch mirrors the fields this service cares about in a
// Hikvision SADP inquiry response.
type hikvisionMatch struct {
	XMLName           xml.Name `xml:"ProbeMatch"`
	DeviceDescription string   `xml:"DeviceDescription"`
	DeviceSN          string   `xml:"DeviceSN"`
	MAC               string   `xml:"MAC"`
	IPv4Address       string   `xml:"IPv4Address"`
}

func parseHikvision(_ string, data []byte) (device, bool) {
	var m hikvisionMatch
	if err := xml.Unmarshal(data, &m); err != nil {
		return device{}, false
	}

	if m.DeviceDescription == "" && m.DeviceSN == "" {
		return device{}, false
	}

	return device{
		vendor: "Hikvision",
		model:  m.DeviceDescription,
		mac:    normalizeMAC(m.MAC),
		name:   m.DeviceSN,
	}, true
}

var (
	onvifNameRe     = regexp.MustCompile(`onvif://www\.onvif\.org/name/([^< "]+)`)
	onvifHardwareRe = regexp.MustCompile(`onvif://www\.onvif\.org/hardware/([^< "]+)`)
	onvifMfrRe      = regexp.MustCompile(`onvif://www\.onvif\.org/(?:manufacturer|mfr)/([^< "]+)`)
)

func parseONVIF(_ string, data []byte) (device, bool) {
	body := string(data)
	if !strings.Contains(body, "ProbeMatch") {
		return device{}, false
	}

	d := device{}

	if m := onvifNameRe.FindStringSubmatch(body); m != nil {
		d.name = unescapeScope(m[1])
	}

	if m := onvifHardwareRe.FindStringSubmatch(body); m != nil {
		d.model = unescapeScope(m[1])
	}

	if m := onvifMfrRe.FindStringSubmatch(body); m != nil {
		d.vendor = unescapeScope(m[1])
	}

	if d.name == "" && d.model == "" {
		return device{}, false
	}

	return d, true
}

// unescapeScope undoes the %20-style escaping ONVIF scopes carry.
func unescapeScope(s string) string {
	return strings.ReplaceAll(s, "%20", " ")
}

func parseSSDP(_ string, data []byte) (device, bool) {
	body := string(data)
	if !strings.HasPrefix(body, "HTTP/1.1 200") && !strings.HasPrefix(body, "NOTIFY") {
		return device{}, false
	}

	d := device{}

	for _, line := range strings.Split(body, "\r\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}

		value = strings.TrimSpace(value)

		switch strings.ToUpper(strings.TrimSpace(key)) {
		case "SERVER":
			d.model = value
		case "USN":
			d.name = value
		}
	}

	if d.model == "" && d.name == "" {
		return device{}, false
	}

	return d, true
}

func parseMiio(_ string, data []byte) (device, bool) {
	if len(data) < 32 || data[0] != 0x21 || data[1] != 0x31 {
		return device{}, false
	}

	deviceID := binary.BigEndian.Uint32(data[8:12])

	return device{
		vendor: "Xiaomi",
		name:   fmt.Sprintf("miio-%08x", deviceID),
	}, true
}

func parseSNMP(_ string, data []byte) (device, bool) {
	sysDescr, sysName, err := decodeSNMPResponse(data)
	if err != nil || (sysDescr == "" && sysName == "") {
		return device{}, false
	}

	return device{
		model: sysDescr,
		name:  sysName,
	}, true
}

func parseDahua(_ string, data []byte) (device, bool) {
	if len(data) <= 32 {
		return device{}, false
	}

	body := data[32:]

	var payload struct {
		MAC    string `json:"mac"`
		Params struct {
			DeviceInfo struct {
				Type         string `json:"DeviceType"`
				MachineName  string `json:"MachineName"`
				SerialNumber string `json:"SerialNo"`
			} `json:"deviceInfo"`
		} `json:"params"`
	}

	if err := json.Unmarshal(body, &payload); err != nil {
		return device{}, false
	}

	info := payload.Params.DeviceInfo
	if payload.MAC == "" && info.Type == "" {
		return device{}, false
	}

	name := info.MachineName
	if name == "" {
		name = info.SerialNumber
	}

	return device{
		vendor: "Dahua",
		model:  info.Type,
		mac:    normalizeMAC(payload.MAC),
		name:   name,
	}, true
}

func normalizeMAC(mac string) string {
	mac = strings.ToLower(strings.TrimSpace(mac))

	return strings.ReplaceAll(mac, "-", ":")
}

var (
	switchWords = []string{"switch", "cisco", "procurve", "aruba", "juniper", "mikrotik", "edgeswitch"}
	serverWords = []string{"linux", "windows", "freebsd", "synology", "qnap", "server"}
	upsWords    = []string{"ups", "apc", "eaton", "smart-ups", "powerwalker"}
	cameraWords = []string{"camera", "ipcam", "ipc-", "nvr", "dvr"}
)

// classify assigns the coarse device class from the probe that answered and
// whatever text the response carried.
func classify(probeName string, d device) models.DeviceClass {
	switch probeName {
	case "hikvision":
		return models.ClassCameraHikvision
	case "dahua":
		return models.ClassCameraDahua
	case "onvif":
		return models.ClassCameraGeneric
	case "ssdp":
		return models.ClassUPnP
	}

	text := strings.ToLower(d.model + " " + d.name + " " + d.vendor)

	for _, w := range cameraWords {
		if strings.Contains(text, w) {
			return models.ClassCameraGeneric
		}
	}

	for _, w := range upsWords {
		if strings.Contains(text, w) {
			return models.ClassUPS
		}
	}

	for _, w := range switchWords {
		if strings.Contains(text, w) {
			return models.ClassSwitch
		}
	}

	for _, w := range serverWords {
		if strings.Contains(text, w) {
			return models.ClassServer
		}
	}

	return models.ClassUnknown
}
