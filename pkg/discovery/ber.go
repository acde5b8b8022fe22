package discovery

import (
	"errors"
	"fmt"
	"math/rand"
)

// Minimal BER encode/decode for one SNMP v2c GetRequest over broadcast.
// gosnmp drives the unicast poller but refuses broadcast destinations, so
// the scanner builds its single fixed PDU by hand.

var (
	oidSysDescr = []int{1, 3, 6, 1, 2, 1, 1, 1, 0}
	oidSysName  = []int{1, 3, 6, 1, 2, 1, 1, 5, 0}
)

const (
	tagInteger     = 0x02
	tagOctetString = 0x04
	tagNull        = 0x05
	tagOID         = 0x06
	tagSequence    = 0x30
	tagGetRequest  = 0xa0
	tagGetResponse = 0xa2
)

var errTruncatedBER = errors.New("truncated BER data")

func berTag(tag byte, content []byte) []byte {
	out := []byte{tag}

	n := len(content)
	switch {
	case n < 0x80:
		out = append(out, byte(n))
	case n < 0x100:
		out = append(out, 0x81, byte(n))
	default:
		out = append(out, 0x82, byte(n>>8), byte(n))
	}

	return append(out, content...)
}

func berInt(v int) []byte {
	// Strip leading zero octets, keep sign bit clear for the non-negative
	// values SNMP uses here.
	var content []byte

	for i := 3; i >= 0; i-- {
		b := byte(v >> (8 * i))
		if len(content) == 0 && b == 0 && i > 0 {
			continue
		}

		content = append(content, b)
	}

	if content[0]&0x80 != 0 {
		content = append([]byte{0}, content...)
	}

	return berTag(tagInteger, content)
}

func berOID(oid []int) []byte {
	content := []byte{byte(oid[0]*40 + oid[1])}

	for _, arc := range oid[2:] {
		if arc < 0x80 {
			content = append(content, byte(arc))
			continue
		}

		var stack []byte
		for arc > 0 {
			stack = append(stack, byte(arc&0x7f))
			arc >>= 7
		}

		for i := len(stack) - 1; i > 0; i-- {
			content = append(content, stack[i]|0x80)
		}

		content = append(content, stack[0])
	}

	return berTag(tagOID, content)
}

func encodeSNMPGet(community string, oids ...[]int) []byte {
	var varbinds []byte

	for _, oid := range oids {
		varbinds = append(varbinds, berTag(tagSequence,
			append(berOID(oid), berTag(tagNull, nil)...))...)
	}

	pdu := berInt(rand.Intn(0x7fffffff))       // request id
	pdu = append(pdu, berInt(0)...)            // error-status
	pdu = append(pdu, berInt(0)...)            // error-index
	pdu = append(pdu, berTag(tagSequence, varbinds)...)

	msg := berInt(1) // version: v2c
	msg = append(msg, berTag(tagOctetString, []byte(community))...)
	msg = append(msg, berTag(tagGetRequest, pdu)...)

	return berTag(tagSequence, msg)
}

func readTLV(data []byte) (tag byte, content, rest []byte, err error) {
	if len(data) < 2 {
		return 0, nil, nil, errTruncatedBER
	}

	tag = data[0]
	n := int(data[1])
	offset := 2

	if n >= 0x80 {
		lenBytes := n & 0x7f
		if lenBytes == 0 || lenBytes > 2 || len(data) < 2+lenBytes {
			return 0, nil, nil, fmt.Errorf("%w: bad length", errTruncatedBER)
		}

		n = 0
		for i := 0; i < lenBytes; i++ {
			n = n<<8 | int(data[2+i])
		}

		offset += lenBytes
	}

	if len(data) < offset+n {
		return 0, nil, nil, errTruncatedBER
	}

	return tag, data[offset : offset+n], data[offset+n:], nil
}

func decodeOID(content []byte) []int {
	if len(content) == 0 {
		return nil
	}

	oid := []int{int(content[0]) / 40, int(content[0]) % 40}

	arc := 0
	for _, b := range content[1:] {
		arc = arc<<7 | int(b&0x7f)
		if b&0x80 == 0 {
			oid = append(oid, arc)
			arc = 0
		}
	}

	return oid
}

func oidEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

// decodeSNMPResponse pulls the string varbind values out of a GetResponse,
// keyed by which of the two requested OIDs they answer.
func decodeSNMPResponse(data []byte) (sysDescr, sysName string, err error) {
	tag, msg, _, err := readTLV(data)
	if err != nil || tag != tagSequence {
		return "", "", fmt.Errorf("not an SNMP message: %w", errTruncatedBER)
	}

	// version
	_, _, rest, err := readTLV(msg)
	if err != nil {
		return "", "", err
	}

	// community
	_, _, rest, err = readTLV(rest)
	if err != nil {
		return "", "", err
	}

	tag, pdu, _, err := readTLV(rest)
	if err != nil || tag != tagGetResponse {
		return "", "", fmt.Errorf("not a GetResponse: %w", errTruncatedBER)
	}

	// request id, error-status, error-index
	for i := 0; i < 3; i++ {
		_, _, pdu, err = readTLV(pdu)
		if err != nil {
			return "", "", err
		}
	}

	tag, varbinds, _, err := readTLV(pdu)
	if err != nil || tag != tagSequence {
		return "", "", errTruncatedBER
	}

	for len(varbinds) > 0 {
		var vb []byte

		tag, vb, varbinds, err = readTLV(varbinds)
		if err != nil || tag != tagSequence {
			return sysDescr, sysName, nil
		}

		tag, oidContent, valueTLV, err := readTLV(vb)
		if err != nil || tag != tagOID {
			continue
		}

		tag, value, _, err := readTLV(valueTLV)
		if err != nil || tag != tagOctetString {
			continue
		}

		oid := decodeOID(oidContent)

		switch {
		case oidEqual(oid, oidSysDescr):
			sysDescr = string(value)
		case oidEqual(oid, oidSysName):
			sysName = string(value)
		}
	}

	return sysDescr, sysName, nil
}
