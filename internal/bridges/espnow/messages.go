package espnow

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// PacketType is the ".t" tag of a mesh payload.
type PacketType string

// Mesh payload types.
const (
	PacketDiscovery PacketType = "d"
	PacketState     PacketType = "s"
	PacketHybrid    PacketType = "h"
)

// Switch and light states on the wire.
const (
	StateOn  = "ON"
	StateOff = "OFF"
)

// NowPayload is the JSON object carried by an ESPNOW_RX frame.
type NowPayload struct {
	Type       PacketType `json:".t" validate:"required,oneof=d s h"`
	DeviceID   string     `json:"dev_id" validate:"required"`
	ID         string     `json:"id" validate:"required"`
	Platform   string     `json:"p,omitempty" validate:"required_unless=Type s"`
	State      string     `json:"stat,omitempty" validate:"omitempty,oneof=ON OFF"`
	Brightness *int       `json:"br,omitempty" validate:"omitempty,min=0,max=255"`
}

// payloadParser decodes and validates mesh payloads. It owns its validator
// instance so struct metadata is cached once per bridge.
type payloadParser struct {
	validate *validator.Validate
}

func newPayloadParser() *payloadParser {
	return &payloadParser{validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Parse decodes raw and validates the result.
func (p *payloadParser) Parse(raw []byte) (*NowPayload, error) {
	var msg NowPayload
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := p.validate.Struct(&msg); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPayload, describeValidation(err))
	}
	return &msg, nil
}

// describeValidation flattens validator errors into "field rule" pairs.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Field()+" "+fe.Tag())
	}
	return strings.Join(parts, ", ")
}

// discoveryRequest asks a node to resend discovery for one entity.
type discoveryRequest struct {
	Type PacketType `json:".t"`
	ID   string     `json:"id"`
}

func encodeDiscoveryRequest(entityID string) ([]byte, error) {
	return json.Marshal(discoveryRequest{Type: PacketDiscovery, ID: entityID})
}

// meshCommand is sent to a node to drive one of its entities.
type meshCommand struct {
	ID         string `json:"id"`
	State      string `json:"stat,omitempty"`
	Brightness *int   `json:"br,omitempty"`
}

// LightState is the JSON state (and command) document of a light.
type LightState struct {
	State      string `json:"state"`
	Brightness *int   `json:"brightness,omitempty"`
}

// onOff normalises a command payload: exactly "ON" switches on,
// anything else switches off.
func onOff(payload []byte) string {
	if string(payload) == StateOn {
		return StateOn
	}
	return StateOff
}
