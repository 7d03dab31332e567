package espnow

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tanishqmanuja/espnow2mqtt/internal/frame"
)

// Topic defaults.
const (
	DefaultHAPrefix     = "homeassistant"
	DefaultBridgePrefix = "espnow2mqtt"

	uniqueIDPrefix = "espnow"

	suffixState   = "state"
	suffixCommand = "cmd"

	wordSeparators = "-_/."
)

// minorWords stay lower case inside display names.
var minorWords = map[string]bool{
	"a": true, "an": true, "and": true, "as": true, "at": true, "but": true,
	"by": true, "for": true, "if": true, "in": true, "is": true, "nor": true,
	"of": true, "on": true, "or": true, "the": true, "to": true, "with": true,
}

// Topics builds every MQTT topic and identifier the bridge uses.
type Topics struct {
	HAPrefix     string
	BridgePrefix string
}

// NewTopics trims trailing slashes and falls back to the defaults for
// empty prefixes.
func NewTopics(haPrefix, bridgePrefix string) Topics {
	t := Topics{
		HAPrefix:     strings.TrimRight(haPrefix, "/"),
		BridgePrefix: strings.TrimRight(bridgePrefix, "/"),
	}
	if t.HAPrefix == "" {
		t.HAPrefix = DefaultHAPrefix
	}
	if t.BridgePrefix == "" {
		t.BridgePrefix = DefaultBridgePrefix
	}
	return t
}

// EntityRef identifies an entity addressed by an MQTT topic.
type EntityRef struct {
	DeviceID string
	MAC      string
	EntityID string

	// Suffix is whatever follows the entity segment ("cmd", "state", ...).
	Suffix string
}

// UniqueID returns the Home Assistant unique_id for an entity.
//
// Example: UniqueID("livingRoom", "relay1") = "espnow_living_room_relay1"
func (Topics) UniqueID(deviceID, entityID string) string {
	return uniqueIDPrefix + "_" + snakeCase(deviceID+"_"+entityID)
}

// Discovery returns the retained discovery config topic.
func (t Topics) Discovery(platform, deviceID, entityID string) string {
	return t.HAPrefix + "/" + platform + "/" + t.UniqueID(deviceID, entityID) + "/config"
}

// NodeID joins the device id and its compact MAC.
//
// Example: NodeID("kitchen", "aa:bb:cc:dd:ee:ff") = "kitchen_aabbccddeeff"
func (Topics) NodeID(deviceID, mac string) string {
	return deviceID + "_" + frame.CompactMAC(mac)
}

// EntityBase returns the "~" base topic of an entity.
func (t Topics) EntityBase(deviceID, mac, entityID string) string {
	return t.BridgePrefix + "/" + t.NodeID(deviceID, mac) + "/" + entityID
}

// State returns the state topic under base.
func (Topics) State(base string) string { return base + "/" + suffixState }

// Command returns the command topic under base.
func (Topics) Command(base string) string { return base + "/" + suffixCommand }

// CommandSubscription matches the command topic of every entity.
func (t Topics) CommandSubscription() string {
	return t.BridgePrefix + "/+/+/" + suffixCommand
}

// ParseEntityTopic reverses EntityBase. The node segment is split at its
// last underscore and the remainder must be a 12 digit hex MAC.
func (t Topics) ParseEntityTopic(topic string) (EntityRef, bool) {
	rest, ok := strings.CutPrefix(topic, t.BridgePrefix+"/")
	if !ok {
		return EntityRef{}, false
	}

	parts := strings.SplitN(rest, "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return EntityRef{}, false
	}

	node := parts[0]
	idx := strings.LastIndexByte(node, '_')
	if idx <= 0 {
		return EntityRef{}, false
	}

	mac, err := frame.ExpandMAC(node[idx+1:])
	if err != nil {
		return EntityRef{}, false
	}

	ref := EntityRef{
		DeviceID: node[:idx],
		MAC:      mac,
		EntityID: parts[1],
	}
	if len(parts) == 3 {
		ref.Suffix = parts[2]
	}
	return ref, true
}

// DisplayName turns an identifier into a human readable name.
//
// Example: DisplayName("living_room") = "Living Room"
func DisplayName(id string) string {
	words := splitWords(id)
	out := make([]string, 0, len(words))
	upper := cases.Upper(language.Und)
	lower := cases.Lower(language.Und)
	for _, w := range words {
		if w == "" {
			continue
		}
		if lw := lower.String(w); minorWords[lw] {
			out = append(out, lw)
			continue
		}
		first, rest := splitFirstRune(w)
		out = append(out, upper.String(first)+rest)
	}
	return strings.Join(out, " ")
}

func snakeCase(s string) string {
	words := splitWords(s)
	lower := cases.Lower(language.Und)
	for i, w := range words {
		words[i] = lower.String(w)
	}
	return strings.Join(words, "_")
}

type runeCase int

const (
	caseNeutral runeCase = iota
	caseLower
	caseUpper
)

func caseOf(r rune) runeCase {
	switch {
	case unicode.IsDigit(r):
		return caseNeutral
	case unicode.ToLower(r) != r:
		return caseUpper
	default:
		return caseLower
	}
}

// splitWords breaks an identifier at separators and at lower-to-upper
// and acronym-to-word case changes. Digits never start a new word, so
// "relay1" stays one word. Empty words between adjacent separators are kept.
func splitWords(s string) []string {
	var (
		words []string
		buf   []rune
		prev  = caseNeutral
	)
	for _, r := range s {
		if strings.ContainsRune(wordSeparators, r) {
			words = append(words, string(buf))
			buf = buf[:0]
			prev = caseNeutral
			continue
		}

		cur := caseOf(r)
		switch {
		case prev == caseLower && cur == caseUpper:
			words = append(words, string(buf))
			buf = buf[:0]
		case prev == caseUpper && cur == caseLower && len(buf) > 1:
			last := buf[len(buf)-1]
			words = append(words, string(buf[:len(buf)-1]))
			buf = append(buf[:0], last)
		}
		buf = append(buf, r)
		prev = cur
	}
	return append(words, string(buf))
}

func splitFirstRune(s string) (string, string) {
	for i := range s {
		if i > 0 {
			return s[:i], s[i:]
		}
	}
	return s, ""
}
