// Package config handles loading and validating espnow2mqtt configuration.
//
// This package manages:
//   - Loading configuration from an optional YAML file
//   - Loading an optional .env file
//   - Overriding with environment variables
//   - Validation of required fields
//
// Environment variables keep the names used by the container image
// (MQTT_HOST, MQTT_PORT, MQTT_USER, MQTT_PASSWORD, MQTT_HA_PREFIX,
// MQTT_ESPNOW2MQTT_PREFIX, SERIAL_PORT, SERIAL_BAUD_RATE,
// SERIAL_RESET_ON_CONNECT). Less common settings use ESPNOW2MQTT_*.
//
// Security Considerations:
//   - Credentials should be set via environment variables or the .env file
//   - MQTTAuthConfig redacts the password when formatted
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml", ".env")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Serial.Port)
package config
