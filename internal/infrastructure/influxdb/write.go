package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementRSSI     = "espnow_rssi"
	MeasurementTxStatus = "espnow_tx_status"
	MeasurementGateway  = "espnow_gateway"
)

// WriteRSSI records the signal strength of a frame received from a device.
// The write is non-blocking; points are batched and sent asynchronously.
//
// Example:
//
//	client.WriteRSSI("kitchen", "aa:bb:cc:dd:ee:ff", -42)
func (c *Client) WriteRSSI(deviceID, mac string, rssi int) {
	c.write(rssiPoint(deviceID, mac, rssi, time.Now()))
}

// WriteTxStatus records the delivery report for a frame sent to mac.
// Status 0 means the radio saw an acknowledgement.
func (c *Client) WriteTxStatus(mac string, status uint8) {
	c.write(txStatusPoint(mac, status, time.Now()))
}

// WriteGatewayState records a change of the serial link to the gateway radio.
func (c *Client) WriteGatewayState(port string, connected bool) {
	c.write(gatewayPoint(port, connected, time.Now()))
}

func rssiPoint(deviceID, mac string, rssi int, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementRSSI,
		map[string]string{
			"device_id": deviceID,
			"mac":       mac,
		},
		map[string]interface{}{
			"rssi": rssi,
		},
		ts,
	)
}

func txStatusPoint(mac string, status uint8, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementTxStatus,
		map[string]string{
			"mac": mac,
		},
		map[string]interface{}{
			"status":    int(status),
			"delivered": status == 0,
		},
		ts,
	)
}

func gatewayPoint(port string, connected bool, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementGateway,
		map[string]string{
			"port": port,
		},
		map[string]interface{}{
			"connected": connected,
		},
		ts,
	)
}
