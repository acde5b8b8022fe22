package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creker7/netvigil/pkg/models"
)

const hikvisionResponse = `<?xml version="1.0" encoding="utf-8"?>
<ProbeMatch><Uuid>x</Uuid><Types>inquiry</Types>
<DeviceDescription>DS-2CD2143G0-I</DeviceDescription>
<DeviceSN>DS-2CD2143G0-I20190114AAWR</DeviceSN>
<MAC>44-47-cc-9a-12-f0</MAC>
<IPv4Address>192.168.1.64</IPv4Address></ProbeMatch>`

// responder plays one fake device: it answers every request on its socket
// with the canned payload, `times` copies each.
func responder(t *testing.T, payload string, times int) string {
	t.Helper()

	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 4096)

		for {
			_, addr, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}

			for i := 0; i < times; i++ {
				_, _ = conn.WriteTo([]byte(payload), addr)
			}
		}
	}()

	return conn.LocalAddr().String()
}

func TestScannerFindsAndDeduplicates(t *testing.T) {
	addr := responder(t, hikvisionResponse, 2)

	s := newScannerWith([]probeSpec{{
		name:    "hikvision",
		dest:    addr,
		payload: hikvisionPayload,
		parse:   parseHikvision,
	}}, time.Second)

	require.NoError(t, s.Start(context.Background()))

	select {
	case dev := <-s.Devices():
		assert.Equal(t, "127.0.0.1", dev.IP)
		assert.Equal(t, "Hikvision", dev.Vendor)
		assert.Equal(t, "DS-2CD2143G0-I", dev.Model)
		assert.Equal(t, "44:47:cc:9a:12:f0", dev.MAC)
		assert.Equal(t, models.ClassCameraHikvision, dev.Class)
	case <-time.After(3 * time.Second):
		t.Fatal("no device discovered")
	}

	// The duplicate response was deduplicated by MAC.
	select {
	case dev := <-s.Devices():
		t.Fatalf("unexpected second device %v", dev)
	case <-time.After(1500 * time.Millisecond):
	}
}

func TestScannerRejectsConcurrentScan(t *testing.T) {
	addr := responder(t, hikvisionResponse, 1)

	s := newScannerWith([]probeSpec{{
		name:    "hikvision",
		dest:    addr,
		payload: hikvisionPayload,
		parse:   parseHikvision,
	}}, 2*time.Second)

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrScanRunning)

	s.Stop()

	require.Eventually(t, func() bool { return !s.Running() }, 2*time.Second, 20*time.Millisecond)
}

func TestParseSSDP(t *testing.T) {
	resp := "HTTP/1.1 200 OK\r\n" +
		"CACHE-CONTROL: max-age=100\r\n" +
		"SERVER: Linux/3.14 UPnP/1.0 Sonos/57 (ZPS1)\r\n" +
		"USN: uuid:RINCON_000E5812345601400::upnp:rootdevice\r\n\r\n"

	dev, ok := parseSSDP("10.0.0.2", []byte(resp))
	require.True(t, ok)
	assert.Contains(t, dev.model, "Sonos")

	_, ok = parseSSDP("10.0.0.2", []byte("M-SEARCH * HTTP/1.1\r\n\r\n"))
	assert.False(t, ok, "our own query must not parse as a device")
}

func TestParseDahua(t *testing.T) {
	body := `{"mac":"a0:b1:c2:d3:e4:f5","method":"client.notifyDeviceInfo",` +
		`"params":{"deviceInfo":{"DeviceType":"IPC-HDW2431T","MachineName":"gate-cam"}}}`

	data := append(make([]byte, 32), []byte(body)...)

	dev, ok := parseDahua("10.0.0.3", data)
	require.True(t, ok)
	assert.Equal(t, "Dahua", dev.vendor)
	assert.Equal(t, "IPC-HDW2431T", dev.model)
	assert.Equal(t, "gate-cam", dev.name)
	assert.Equal(t, "a0:b1:c2:d3:e4:f5", dev.mac)

	_, ok = parseDahua("10.0.0.3", []byte("short"))
	assert.False(t, ok)
}

func TestParseMiio(t *testing.T) {
	resp := make([]byte, 32)
	resp[0], resp[1] = 0x21, 0x31
	resp[8], resp[9], resp[10], resp[11] = 0x0a, 0x0b, 0x0c, 0x0d

	dev, ok := parseMiio("10.0.0.4", resp)
	require.True(t, ok)
	assert.Equal(t, "Xiaomi", dev.vendor)
	assert.Equal(t, "miio-0a0b0c0d", dev.name)
}

func TestParseONVIF(t *testing.T) {
	resp := `<Envelope><Body><ProbeMatches><ProbeMatch>
<Scopes>onvif://www.onvif.org/name/AXIS%20M3045 onvif://www.onvif.org/hardware/M3045-V</Scopes>
</ProbeMatch></ProbeMatches></Body></Envelope>`

	dev, ok := parseONVIF("10.0.0.5", []byte(resp))
	require.True(t, ok)
	assert.Equal(t, "AXIS M3045", dev.name)
	assert.Equal(t, "M3045-V", dev.model)
}

// buildSNMPResponse assembles a GetResponse carrying the two system
// varbinds, reusing the package's own BER primitives.
func buildSNMPResponse(sysDescr, sysName string) []byte {
	vb1 := berTag(tagSequence, append(berOID(oidSysDescr), berTag(tagOctetString, []byte(sysDescr))...))
	vb2 := berTag(tagSequence, append(berOID(oidSysName), berTag(tagOctetString, []byte(sysName))...))

	pdu := berInt(42)
	pdu = append(pdu, berInt(0)...)
	pdu = append(pdu, berInt(0)...)
	pdu = append(pdu, berTag(tagSequence, append(vb1, vb2...))...)

	msg := berInt(1)
	msg = append(msg, berTag(tagOctetString, []byte("public"))...)
	msg = append(msg, berTag(tagGetResponse, pdu)...)

	return berTag(tagSequence, msg)
}

func TestSNMPDecodeAndClassify(t *testing.T) {
	data := buildSNMPResponse("Cisco IOS Software, C2960 switch", "core-sw")

	dev, ok := parseSNMP("10.0.0.6", data)
	require.True(t, ok)
	assert.Equal(t, "core-sw", dev.name)
	assert.Equal(t, models.ClassSwitch, classify("snmp", dev))

	dev, ok = parseSNMP("10.0.0.7", buildSNMPResponse("APC Smart-UPS 1500", "ups-rack"))
	require.True(t, ok)
	assert.Equal(t, models.ClassUPS, classify("snmp", dev))

	_, ok = parseSNMP("10.0.0.8", []byte{0x30, 0x01, 0x00})
	assert.False(t, ok)
}

func TestSNMPGetEncodesParsableOIDs(t *testing.T) {
	data := encodeSNMPGet("public", oidSysDescr, oidSysName)

	tag, msg, _, err := readTLV(data)
	require.NoError(t, err)
	assert.Equal(t, byte(tagSequence), tag)

	// Version, community, then the request PDU.
	tag, _, rest, err := readTLV(msg)
	require.NoError(t, err)
	assert.Equal(t, byte(tagInteger), tag)

	tag, community, rest, err := readTLV(rest)
	require.NoError(t, err)
	assert.Equal(t, byte(tagOctetString), tag)
	assert.Equal(t, "public", string(community))

	tag, _, _, err = readTLV(rest)
	require.NoError(t, err)
	assert.Equal(t, byte(tagGetRequest), tag)
}
