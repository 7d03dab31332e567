package espnow

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/tanishqmanuja/espnow2mqtt/internal/frame"
)

// DefaultWizmoteTopic receives button names to broadcast.
const DefaultWizmoteTopic = "espnow/wizmote/send"

const wizmotePayloadSize = 13

// wizmoteButtons maps button names to WiZmote codes. The short names are
// accepted for existing automations.
var wizmoteButtons = map[string]byte{
	"on":                    1,
	"off":                   2,
	"night":                 3,
	"brightness_down":       8,
	"brightness_up":         9,
	"scene_1":               16,
	"scene_2":               17,
	"scene_3":               18,
	"scene_4":               19,
	"smart_on":              100,
	"smart_off":             101,
	"smart_brightness_up":   102,
	"smart_brightness_down": 103,

	"down":       8,
	"up":         9,
	"scene1":     16,
	"scene2":     17,
	"scene3":     18,
	"scene4":     19,
	"smart_up":   102,
	"smart_down": 103,
}

// WizmoteButtonCode returns the code of a button name.
func WizmoteButtonCode(name string) (byte, bool) {
	code, ok := wizmoteButtons[strings.ToLower(strings.TrimSpace(name))]
	return code, ok
}

// Wizmote emulates a WiZmote remote by broadcasting its button frames.
//
// Thread Safety: all methods are safe for concurrent use.
type Wizmote struct {
	sender Sender
	seq    atomic.Uint32
}

// NewWizmote creates a remote whose first frame carries sequence 2.
func NewWizmote(sender Sender) *Wizmote {
	w := &Wizmote{sender: sender}
	w.seq.Store(1)
	return w
}

// Payload builds the 13 byte button frame for code and advances the
// sequence counter.
func (w *Wizmote) Payload(code byte) []byte {
	seq := w.seq.Add(1)

	program := byte(0x81)
	if code == 1 || code == 100 {
		program = 0x91
	}

	p := make([]byte, wizmotePayloadSize)
	p[0] = program
	binary.LittleEndian.PutUint32(p[1:5], seq)
	p[5] = 0x32
	p[6] = code
	p[7] = 0x01
	p[8] = 90 // battery level
	return p
}

// Press broadcasts the named button.
func (w *Wizmote) Press(button string) error {
	code, ok := WizmoteButtonCode(button)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownButton, button)
	}
	out, err := frame.EncodeEspNowTx(frame.BroadcastMAC, w.Payload(code))
	if err != nil {
		return err
	}
	return w.sender.Send(out)
}
