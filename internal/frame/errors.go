package frame

import "errors"

// Sentinel errors for frame encoding and decoding.
var (
	// ErrInvalidMAC is returned when a MAC address cannot be parsed or is not 6 bytes.
	ErrInvalidMAC = errors.New("frame: invalid MAC address")

	// ErrPayloadTooLarge is returned when a payload does not fit in a single length byte.
	ErrPayloadTooLarge = errors.New("frame: payload too large")

	// ErrInvalidPayload is returned when an ESPNOW_RX payload is not a JSON object.
	ErrInvalidPayload = errors.New("frame: payload is not a JSON object")

	// ErrShortBody is returned when a frame body is shorter than its type requires.
	ErrShortBody = errors.New("frame: body too short")
)
