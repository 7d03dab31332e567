package espnow

import "errors"

// Domain errors for the ESP-NOW bridge package.
var (
	// ErrUnsupportedPlatform is returned when a discovery payload names a
	// platform the bridge cannot represent.
	ErrUnsupportedPlatform = errors.New("espnow: unsupported platform")

	// ErrInvalidPayload is returned when a mesh payload fails to decode
	// or validate.
	ErrInvalidPayload = errors.New("espnow: invalid payload")

	// ErrInvalidTopic is returned when an MQTT topic does not address an entity.
	ErrInvalidTopic = errors.New("espnow: invalid topic")

	// ErrPlatformMismatch is returned when a state packet names a different
	// platform than the entity it resolves to.
	ErrPlatformMismatch = errors.New("espnow: platform mismatch")

	// ErrNotCommandable is returned when a command targets an entity that
	// does not accept commands.
	ErrNotCommandable = errors.New("espnow: entity does not accept commands")

	// ErrUnknownButton is returned for a WiZmote button name with no code.
	ErrUnknownButton = errors.New("espnow: unknown wizmote button")
)
