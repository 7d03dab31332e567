package frame

import (
	"encoding/json"
	"fmt"
)

// Protocol constants.
const (
	// Sync marks the start of every frame.
	Sync byte = 0xAA

	// Version is the only protocol version this package understands.
	Version byte = 0x01

	// HeaderSize covers SYNC, VERSION and TYPE.
	HeaderSize = 3

	// CRCSize is the trailing checksum length.
	CRCSize = 1

	// MACSize is the length of a hardware address on the wire.
	MACSize = 6

	// MaxPayloadSize is the largest payload a single LEN byte can describe.
	MaxPayloadSize = 255

	rssiSize   = 1
	lenSize    = 1
	statusSize = 1
)

// Type identifies the kind of frame carried in the TYPE byte.
type Type byte

// Frame types.
const (
	TypeGatewayInit    Type = 0x01
	TypeEspNowRx       Type = 0x20
	TypeEspNowTx       Type = 0x21
	TypeEspNowTxStatus Type = 0x22
)

// String returns the protocol name of the frame type.
func (t Type) String() string {
	switch t {
	case TypeGatewayInit:
		return "GATEWAY_INIT"
	case TypeEspNowRx:
		return "ESPNOW_RX"
	case TypeEspNowTx:
		return "ESPNOW_TX"
	case TypeEspNowTxStatus:
		return "ESPNOW_TX_STATUS"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", byte(t))
	}
}

// Packet is a decoded inbound frame. It is one of *GatewayInit, *EspNowRx
// or *EspNowTxStatus; use a type switch to access the fields.
type Packet interface {
	// Type returns the frame type the packet was decoded from.
	Type() Type

	// SourceMAC returns the colon-hex MAC carried in the frame.
	SourceMAC() string

	packet()
}

// GatewayInit announces that the gateway radio has (re)started.
type GatewayInit struct {
	MAC string
}

// EspNowRx is a message relayed from a mesh device.
type EspNowRx struct {
	MAC  string
	RSSI int8

	// Payload is the raw JSON object sent by the device.
	Payload json.RawMessage
}

// EspNowTxStatus reports the delivery outcome of a previous ESPNOW_TX.
// A zero Status means the radio saw an acknowledgement.
type EspNowTxStatus struct {
	MAC    string
	Status uint8
}

func (*GatewayInit) Type() Type    { return TypeGatewayInit }
func (*EspNowRx) Type() Type       { return TypeEspNowRx }
func (*EspNowTxStatus) Type() Type { return TypeEspNowTxStatus }

func (p *GatewayInit) SourceMAC() string    { return p.MAC }
func (p *EspNowRx) SourceMAC() string       { return p.MAC }
func (p *EspNowTxStatus) SourceMAC() string { return p.MAC }

func (*GatewayInit) packet()    {}
func (*EspNowRx) packet()       {}
func (*EspNowTxStatus) packet() {}

// CRC8 returns the running XOR of buf. The protocol calls this a CRC but
// it is a plain XOR checksum, so CRC8([1,2,3]) == 0.
func CRC8(buf []byte) byte {
	var crc byte
	for _, b := range buf {
		crc ^= b
	}
	return crc
}

// ToInt8 reinterprets a raw RSSI byte as a signed two's complement value.
func ToInt8(v byte) int8 {
	return int8(v) //nolint:gosec // two's complement reinterpretation is the point
}
