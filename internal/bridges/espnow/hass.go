package espnow

// Home Assistant discovery documents, using the abbreviated keys.

// Manufacturer and model strings advertised in device blocks.
const (
	manufacturer = "tmlabs"
	nodeModel    = "ESPNow Node"
	gatewayModel = "ESPNow Gateway"
	originName   = "espnow2mqtt"
)

// DeviceInfo is the "dev" block.
type DeviceInfo struct {
	Identifiers     []string    `json:"ids"`
	Connections     [][2]string `json:"cns,omitempty"`
	Name            string      `json:"name,omitempty"`
	Manufacturer    string      `json:"mf,omitempty"`
	Model           string      `json:"mdl,omitempty"`
	SoftwareVersion string      `json:"sw,omitempty"`
	HardwareVersion string      `json:"hw,omitempty"`
	ViaDevice       string      `json:"via_device,omitempty"`
}

// Origin is the "o" block.
type Origin struct {
	Name            string `json:"name"`
	SoftwareVersion string `json:"sw,omitempty"`
	SupportURL      string `json:"url,omitempty"`
}

// DiscoveryConfig is the payload published to a discovery topic.
type DiscoveryConfig struct {
	Device *DeviceInfo `json:"dev,omitempty"`
	Origin *Origin     `json:"o,omitempty"`

	Base         string `json:"~"`
	Name         string `json:"name,omitempty"`
	UniqueID     string `json:"uniq_id"`
	StateTopic   string `json:"stat_t"`
	CommandTopic string `json:"cmd_t,omitempty"`

	DeviceClass       string `json:"dev_cla,omitempty"`
	UnitOfMeasurement string `json:"unit_of_meas,omitempty"`
	EntityCategory    string `json:"ent_cat,omitempty"`
	ExpireAfter       int    `json:"exp_aft,omitempty"`
	ForceUpdate       bool   `json:"frc_upd,omitempty"`

	// Light (json schema) only.
	Schema              string   `json:"schema,omitempty"`
	SupportedColorModes []string `json:"sup_clrm,omitempty"`
	Brightness          *bool    `json:"brightness,omitempty"`

	QoS int `json:"qos"`
}

// Relative topics used with the "~" base.
const (
	relStateTopic   = "~/" + suffixState
	relCommandTopic = "~/" + suffixCommand
)

// shortDeviceInfo identifies a node without repeating its metadata.
func shortDeviceInfo(id, mac string) *DeviceInfo {
	return &DeviceInfo{
		Identifiers: []string{id, mac},
		Connections: [][2]string{{"mac", mac}},
	}
}

// fullDeviceInfo is published once per node with the RSSI sensor.
func fullDeviceInfo(id, mac string) *DeviceInfo {
	d := shortDeviceInfo(id, mac)
	d.Name = DisplayName(id)
	d.Manufacturer = manufacturer
	d.Model = nodeModel
	d.ViaDevice = GatewayDeviceID
	return d
}
