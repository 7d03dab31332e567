// Package influxdb records ESP-NOW radio telemetry in InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library and exposes one
// writer per measurement:
//
//   - espnow_rssi (tags device_id, mac; field rssi)
//   - espnow_tx_status (tag mac; fields status, delivered)
//   - espnow_gateway (tag port; field connected)
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB,
//	    influxdb.WithErrorHandler(func(err error) { log.Error("write failed", "error", err) }))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteRSSI("kitchen", "aa:bb:cc:dd:ee:ff", -42)
//
// Writes are non-blocking and batched (batch_size, flush_interval).
// Batch failures go to the WithErrorHandler callback; connection and
// health check errors are returned directly. Close flushes what is queued.
package influxdb
