package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultMaxIterations bounds the work done by a single Feed call.
//
// Each iteration either consumes a frame or drops at least one byte, so a
// live stream that keeps calling Feed always drains the backlog.
const DefaultMaxIterations = 1024

// Frame length offsets derived from the body layout.
const (
	gatewayInitLen = HeaderSize + MACSize + CRCSize
	txStatusLen    = HeaderSize + MACSize + statusSize + CRCSize

	// rxLenOffset is the number of bytes needed before LEN can be read.
	rxLenOffset = HeaderSize + MACSize + rssiSize + lenSize
)

// Decoder reassembles frames from an unreliable byte stream.
//
// Thread Safety: a Decoder is not safe for concurrent use. The serial
// transport owns one and feeds it from its read goroutine.
type Decoder struct {
	buf           []byte
	maxIterations int
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithMaxIterations overrides DefaultMaxIterations. Values below 1 are ignored.
func WithMaxIterations(n int) DecoderOption {
	return func(d *Decoder) {
		if n > 0 {
			d.maxIterations = n
		}
	}
}

// NewDecoder creates a Decoder with an empty accumulator.
func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{maxIterations: DefaultMaxIterations}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Buffered returns the number of bytes waiting for the rest of a frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset discards any partially received frame.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
}

// Feed appends chunk to the accumulator and extracts every complete frame.
//
// Frames that pass the CRC check but carry an undecodable body are consumed
// and reported through the returned error (one joined error per call);
// packets decoded in the same call are still returned.
func (d *Decoder) Feed(chunk []byte) ([]Packet, error) {
	d.buf = append(d.buf, chunk...)

	var (
		packets []Packet
		errs    []error
	)

	for range d.maxIterations {
		idx := bytes.IndexByte(d.buf, Sync)
		if idx < 0 {
			d.buf = d.buf[:0]
			break
		}
		if idx > 0 {
			d.buf = d.buf[idx:]
		}
		if len(d.buf) < HeaderSize+CRCSize {
			break
		}

		if d.buf[1] != Version {
			d.buf = d.buf[1:]
			continue
		}

		t := Type(d.buf[2])
		var frameLen int
		switch t {
		case TypeGatewayInit:
			frameLen = gatewayInitLen
		case TypeEspNowTxStatus:
			frameLen = txStatusLen
		case TypeEspNowRx:
			if len(d.buf) < rxLenOffset {
				return packets, errors.Join(errs...)
			}
			frameLen = rxLenOffset + int(d.buf[rxLenOffset-1]) + CRCSize
		default:
			d.buf = d.buf[1:]
			continue
		}

		if len(d.buf) < frameLen {
			break
		}

		raw := d.buf[:frameLen]
		if CRC8(raw[1:frameLen-1]) != raw[frameLen-1] {
			d.buf = d.buf[1:]
			continue
		}

		pkt, err := decodeBody(t, raw[HeaderSize:frameLen-1])
		d.buf = d.buf[frameLen:]
		if err != nil {
			errs = append(errs, err)
			continue
		}
		packets = append(packets, pkt)
	}

	// Compact so a long-lived accumulator does not pin an ever-growing array.
	if len(d.buf) == 0 {
		d.buf = nil
	}

	return packets, errors.Join(errs...)
}

// decodeBody converts a CRC-checked body into its Packet variant.
func decodeBody(t Type, body []byte) (Packet, error) {
	if len(body) < MACSize {
		return nil, fmt.Errorf("%w: %s has %d bytes", ErrShortBody, t, len(body))
	}
	mac := FormatMAC(body[:MACSize])

	switch t {
	case TypeGatewayInit:
		return &GatewayInit{MAC: mac}, nil

	case TypeEspNowRx:
		rssi := ToInt8(body[MACSize])
		n := int(body[MACSize+rssiSize])
		payload := body[MACSize+rssiSize+lenSize:]
		if len(payload) < n {
			return nil, fmt.Errorf("%w: %s payload %d of %d bytes", ErrShortBody, t, len(payload), n)
		}
		payload = payload[:n]
		if !isJSONObject(payload) {
			return nil, fmt.Errorf("%w: from %s", ErrInvalidPayload, mac)
		}
		// Copy out of the accumulator; it is reused by later Feed calls.
		return &EspNowRx{
			MAC:     mac,
			RSSI:    rssi,
			Payload: json.RawMessage(bytes.Clone(payload)),
		}, nil

	case TypeEspNowTxStatus:
		return &EspNowTxStatus{MAC: mac, Status: body[MACSize]}, nil

	default:
		return nil, fmt.Errorf("frame: unhandled type %s", t)
	}
}

func isJSONObject(b []byte) bool {
	trimmed := bytes.TrimSpace(b)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}
