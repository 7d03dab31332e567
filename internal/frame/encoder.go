package frame

import "fmt"

// EncodeRaw wraps body in a frame of type t.
//
// The result is SYNC, VERSION, t, body and the XOR checksum over
// VERSION..body.
func EncodeRaw(t Type, body []byte) []byte {
	out := make([]byte, 0, HeaderSize+len(body)+CRCSize)
	out = append(out, Sync, Version, byte(t))
	out = append(out, body...)
	return append(out, CRC8(out[1:]))
}

// EncodeEspNowTx builds an ESPNOW_TX frame addressed to mac.
//
// Parameters:
//   - mac: destination in any form accepted by ParseMAC
//   - payload: bytes delivered to the device, at most MaxPayloadSize
//
// Returns:
//   - []byte: the complete frame ready to write to the serial port
//   - error: ErrInvalidMAC or ErrPayloadTooLarge
func EncodeEspNowTx(mac string, payload []byte) ([]byte, error) {
	hw, err := ParseMAC(mac)
	if err != nil {
		return nil, err
	}
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}

	body := make([]byte, 0, MACSize+lenSize+len(payload))
	body = append(body, hw...)
	body = append(body, byte(len(payload)))
	body = append(body, payload...)
	return EncodeRaw(TypeEspNowTx, body), nil
}
