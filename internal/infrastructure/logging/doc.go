// Package logging provides structured logging for espnow2mqtt.
//
// It wraps log/slog so every component logs with the same handler and
// the same default fields (service, version).
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "text"     # text, json
//	  output: "stdout"   # stdout, stderr, discard
//
// ESPNOW2MQTT_LOG_LEVEL and ESPNOW2MQTT_LOG_FORMAT override the file.
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	bridgeLog := logger.Component("bridge")
//	bridgeLog.Info("entity discovered", "entity", "espnow_kitchen_light")
//
// Never log the MQTT password; config.MQTTAuthConfig redacts it when
// formatted.
package logging
