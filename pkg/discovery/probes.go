package discovery

import (
	"fmt"

	"github.com/google/uuid"
)

// probeSpec describes one discovery protocol: where to send, what to send
// and how to turn a response into a device.
type probeSpec struct {
	name    string
	dest    string // broadcast or multicast address, overridable in tests
	payload func() []byte
	parse   func(ip string, data []byte) (device, bool)
}

// device is a parse result before classification and dedupe.
type device struct {
	vendor string
	model  string
	mac    string
	name   string
}

func defaultProbes() []probeSpec {
	return []probeSpec{
		{
			name:    "hikvision",
			dest:    "255.255.255.255:37020",
			payload: hikvisionPayload,
			parse:   parseHikvision,
		},
		{
			name:    "onvif",
			dest:    "239.255.255.250:3702",
			payload: onvifPayload,
			parse:   parseONVIF,
		},
		{
			name:    "ssdp",
			dest:    "239.255.255.250:1900",
			payload: ssdpPayload,
			parse:   parseSSDP,
		},
		{
			name:    "miio",
			dest:    "255.255.255.255:54321",
			payload: miioPayload,
			parse:   parseMiio,
		},
		{
			name:    "snmp",
			dest:    "255.255.255.255:161",
			payload: snmpPayload,
			parse:   parseSNMP,
		},
		{
			name:    "dahua",
			dest:    "255.255.255.255:37810",
			payload: dahuaPayload,
			parse:   parseDahua,
		},
	}
}

func hikvisionPayload() []byte {
	return []byte(fmt.Sprintf(
		`<?xml version="1.0" encoding="utf-8"?><Probe><Uuid>%s</Uuid><Types>inquiry</Types></Probe>`,
		uuid.NewString()))
}

func onvifPayload() []byte {
	return []byte(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<e:Envelope xmlns:e="http://www.w3.org/2003/05/soap-envelope"
 xmlns:w="http://schemas.xmlsoap.org/ws/2004/08/addressing"
 xmlns:d="http://schemas.xmlsoap.org/ws/2005/04/discovery"
 xmlns:dn="http://www.onvif.org/ver10/network/wsdl">
<e:Header><w:MessageID>uuid:%s</w:MessageID>
<w:To e:mustUnderstand="true">urn:schemas-xmlsoap-org:ws:2005:04:discovery</w:To>
<w:Action e:mustUnderstand="true">http://schemas.xmlsoap.org/ws/2005/04/discovery/Probe</w:Action>
</e:Header><e:Body><d:Probe><d:Types>dn:NetworkVideoTransmitter</d:Types></d:Probe></e:Body></e:Envelope>`,
		uuid.NewString()))
}

func ssdpPayload() []byte {
	return []byte("M-SEARCH * HTTP/1.1\r\n" +
		"HOST: 239.255.255.250:1900\r\n" +
		"MAN: \"ssdp:discover\"\r\n" +
		"MX: 3\r\n" +
		"ST: ssdp:all\r\n\r\n")
}

// miioPayload is the 32-byte miio hello: magic 0x2131, length 32, the rest
// all-ones.
func miioPayload() []byte {
	p := make([]byte, 32)
	p[0], p[1] = 0x21, 0x31
	p[2], p[3] = 0x00, 0x20

	for i := 4; i < 32; i++ {
		p[i] = 0xff
	}

	return p
}

func snmpPayload() []byte {
	return encodeSNMPGet("public", oidSysDescr, oidSysName)
}

// dahuaPayload is the DHIP discovery frame: a 32-byte header carrying the
// payload length, then a JSON body.
func dahuaPayload() []byte {
	body := []byte(`{"method":"DHDiscover.search","params":{"mac":"","uni":1}}`)

	header := make([]byte, 32)
	header[0] = 0x20
	header[16] = byte(len(body))
	header[17] = byte(len(body) >> 8)
	header[24] = header[16]
	header[25] = header[17]

	return append(header, body...)
}
