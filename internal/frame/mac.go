package frame

import (
	"encoding/hex"
	"fmt"
	"net"
	"strings"
)

// BroadcastMAC addresses every ESP-NOW peer in range.
const BroadcastMAC = "ff:ff:ff:ff:ff:ff"

// compactMACLen is the length of a MAC written as bare hex digits.
const compactMACLen = 2 * MACSize

// FormatMAC renders a 6-byte hardware address as lowercase colon-hex.
func FormatMAC(b []byte) string {
	return net.HardwareAddr(b).String()
}

// ParseMAC accepts "aa:bb:cc:dd:ee:ff", "aa-bb-cc-dd-ee-ff" or
// "aabbccddeeff" (any case) and returns the 6 address bytes.
func ParseMAC(s string) ([]byte, error) {
	if len(s) == compactMACLen {
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidMAC, s)
		}
		return b, nil
	}

	hw, err := net.ParseMAC(s)
	if err != nil || len(hw) != MACSize {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMAC, s)
	}
	return hw, nil
}

// NormalizeMAC parses s and re-renders it as lowercase colon-hex.
func NormalizeMAC(s string) (string, error) {
	b, err := ParseMAC(s)
	if err != nil {
		return "", err
	}
	return FormatMAC(b), nil
}

// CompactMAC strips separators and lowercases a MAC ("AA:BB:.." -> "aabb..").
func CompactMAC(s string) string {
	r := strings.NewReplacer(":", "", "-", "")
	return strings.ToLower(r.Replace(s))
}

// ExpandMAC converts 12 hex digits into colon-hex form.
func ExpandMAC(compact string) (string, error) {
	if len(compact) != compactMACLen {
		return "", fmt.Errorf("%w: %q", ErrInvalidMAC, compact)
	}
	return NormalizeMAC(compact)
}
