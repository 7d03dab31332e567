package frame

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestEncodeRaw(t *testing.T) {
	got := EncodeRaw(Type(0x42), []byte{0x10, 0x20})
	want := []byte{0xAA, 0x01, 0x42, 0x10, 0x20, 0x01 ^ 0x42 ^ 0x10 ^ 0x20}
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeRaw() = % X, want % X", got, want)
	}
}

func TestEncodeEspNowTx(t *testing.T) {
	payload := []byte(`{".t":"d","id":"sw1"}`)
	got, err := EncodeEspNowTx("AA:BB:CC:DD:EE:FF", payload)
	if err != nil {
		t.Fatalf("EncodeEspNowTx() error = %v", err)
	}

	if got[0] != Sync || got[1] != Version || Type(got[2]) != TypeEspNowTx {
		t.Fatalf("header = % X", got[:3])
	}
	if !bytes.Equal(got[3:9], testMACBytes) {
		t.Errorf("MAC = % X, want % X", got[3:9], testMACBytes)
	}
	if int(got[9]) != len(payload) {
		t.Errorf("LEN = %d, want %d", got[9], len(payload))
	}
	if !bytes.Equal(got[10:len(got)-1], payload) {
		t.Errorf("payload = %q", got[10:len(got)-1])
	}
	if got[len(got)-1] != CRC8(got[1:len(got)-1]) {
		t.Errorf("CRC = 0x%02X, want 0x%02X", got[len(got)-1], CRC8(got[1:len(got)-1]))
	}
}

func TestEncodeEspNowTx_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mac     string
		payload []byte
		wantErr error
	}{
		{name: "bad mac", mac: "not-a-mac", payload: nil, wantErr: ErrInvalidMAC},
		{name: "eui64 mac", mac: "00:00:5e:00:53:01:02:03", payload: nil, wantErr: ErrInvalidMAC},
		{name: "oversized payload", mac: BroadcastMAC, payload: []byte(strings.Repeat("x", 256)), wantErr: ErrPayloadTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeEspNowTx(tt.mac, tt.payload)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("EncodeEspNowTx() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		typ  Type
		body []byte
	}{
		{name: "gateway init", typ: TypeGatewayInit, body: testMACBytes},
		{name: "tx status", typ: TypeEspNowTxStatus, body: append(append([]byte{}, testMACBytes...), 0x00)},
		{name: "rx", typ: TypeEspNowRx, body: append(append([]byte{}, testMACBytes...), 0xB0, 2, '{', '}')},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packets, err := NewDecoder().Feed(EncodeRaw(tt.typ, tt.body))
			if err != nil {
				t.Fatalf("Feed() error = %v", err)
			}
			if len(packets) != 1 {
				t.Fatalf("Feed() returned %d packets, want 1", len(packets))
			}
			if packets[0].Type() != tt.typ {
				t.Errorf("Type() = %s, want %s", packets[0].Type(), tt.typ)
			}
			if packets[0].SourceMAC() != "aa:bb:cc:dd:ee:ff" {
				t.Errorf("SourceMAC() = %q", packets[0].SourceMAC())
			}
		})
	}
}

func TestTypeString(t *testing.T) {
	if TypeEspNowRx.String() != "ESPNOW_RX" {
		t.Errorf("String() = %q", TypeEspNowRx.String())
	}
	if Type(0x99).String() != "UNKNOWN(0x99)" {
		t.Errorf("String() = %q", Type(0x99).String())
	}
}
