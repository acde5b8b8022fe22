package snmp

import (
	"fmt"
	"time"

	"github.com/gosnmp/gosnmp"
)

// gosnmpClient implements Client over gosnmp with SNMPv2c.
type gosnmpClient struct {
	conn *gosnmp.GoSNMP
}

// NewClient connects to host with the given community string. The
// connection is a UDP socket; Connect only binds it.
func NewClient(host, community string, timeout time.Duration) (Client, error) {
	if community == "" {
		community = "public"
	}

	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	conn := &gosnmp.GoSNMP{
		Target:             host,
		Port:               161,
		Community:          community,
		Version:            gosnmp.Version2c,
		Timeout:            timeout,
		Retries:            1,
		ExponentialTimeout: true,
		MaxOids:            gosnmp.MaxOids,
	}

	if err := conn.Connect(); err != nil {
		return nil, fmt.Errorf("snmp connect %s: %w", host, err)
	}

	return &gosnmpClient{conn: conn}, nil
}

func (c *gosnmpClient) Get(oids []string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(oids))

	for i := 0; i < len(oids); i += gosnmp.MaxOids {
		end := i + gosnmp.MaxOids
		if end > len(oids) {
			end = len(oids)
		}

		packet, err := c.conn.Get(oids[i:end])
		if err != nil {
			return nil, fmt.Errorf("snmp get %s: %w", c.conn.Target, err)
		}

		for _, pdu := range packet.Variables {
			value, ok := convertPDU(pdu)
			if !ok {
				continue
			}

			out[pdu.Name] = value
		}
	}

	return out, nil
}

func (c *gosnmpClient) Close() error {
	if c.conn.Conn == nil {
		return nil
	}

	return c.conn.Conn.Close()
}

// convertPDU converts an SNMP variable to a Go type. NoSuchObject and
// friends report false so missing OIDs silently drop out of the result map.
func convertPDU(pdu gosnmp.SnmpPDU) (interface{}, bool) {
	switch pdu.Type {
	case gosnmp.OctetString:
		b, ok := pdu.Value.([]byte)
		if !ok {
			return nil, false
		}

		return string(b), true
	case gosnmp.Integer:
		return int64(pdu.Value.(int)), true
	case gosnmp.Counter32, gosnmp.Gauge32, gosnmp.TimeTicks:
		return uint64(pdu.Value.(uint)), true
	case gosnmp.Counter64:
		return pdu.Value.(uint64), true
	case gosnmp.IPAddress, gosnmp.ObjectIdentifier:
		s, ok := pdu.Value.(string)
		return s, ok
	case gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.EndOfMibView, gosnmp.Null:
		return nil, false
	default:
		return nil, false
	}
}
