// espnow2mqtt bridges an ESP-NOW mesh to Home Assistant over MQTT.
//
// A gateway radio on a serial port relays mesh frames. Nodes announce
// their entities, which are published as Home Assistant MQTT discovery
// configs, and commands from Home Assistant are sent back over the mesh.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/tanishqmanuja/espnow2mqtt/internal/bridges/espnow"
	"github.com/tanishqmanuja/espnow2mqtt/internal/history"
	"github.com/tanishqmanuja/espnow2mqtt/internal/infrastructure/config"
	"github.com/tanishqmanuja/espnow2mqtt/internal/infrastructure/database"
	"github.com/tanishqmanuja/espnow2mqtt/internal/infrastructure/influxdb"
	"github.com/tanishqmanuja/espnow2mqtt/internal/infrastructure/logging"
	"github.com/tanishqmanuja/espnow2mqtt/internal/infrastructure/mqtt"
	"github.com/tanishqmanuja/espnow2mqtt/internal/infrastructure/serial"
	"github.com/tanishqmanuja/espnow2mqtt/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Environment variables naming the optional config files.
const (
	configPathEnv  = "ESPNOW2MQTT_CONFIG"
	envFileEnv     = "ESPNOW2MQTT_ENV_FILE"
	defaultEnvFile = ".env"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application body, separated from main for testability.
// It returns nil on a clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting espnow2mqtt",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath, envFile := getConfigPaths()
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath, "env_file", envFile)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// MQTT
	topics := espnow.NewTopics(cfg.Bridge.HAPrefix, cfg.Bridge.BridgePrefix)
	mqttClient, err := mqtt.Connect(ctx, cfg.MQTT, topics.BridgePrefix+"/status")
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	mqttClient.SetLogger(log.Component("mqtt"))
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
		"status_topic", mqttClient.StatusTopic(),
	)

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxLog := log.Component("influxdb")
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB, influxdb.WithErrorHandler(func(err error) {
			influxLog.Error("InfluxDB write error", "error", err)
		}))
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Sightings journal (optional)
	var (
		db       *database.DB
		recorder *history.Recorder
	)
	if cfg.Database.Enabled {
		db, err = openJournal(ctx, cfg.Database, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		recorder = history.NewRecorder(history.NewStore(db.DB),
			history.WithLogger(log.Component("history")),
			history.WithRetention(cfg.Database.TxStatusRetention, 0),
		)
	} else {
		log.Info("sightings journal disabled")
	}

	// Serial link
	transport, err := serial.New(serial.Config{
		Port:           cfg.Serial.Port,
		BaudRate:       cfg.Serial.BaudRate,
		ResetOnConnect: cfg.Serial.ResetOnConnect,
		ReconnectDelay: cfg.Serial.ReconnectDelay,
		WriteQueue:     cfg.Serial.WriteQueue,
	}, serial.WithLogger(log.Component("serial")))
	if err != nil {
		return fmt.Errorf("creating serial transport: %w", err)
	}
	defer func() {
		log.Info("closing serial port")
		if closeErr := transport.Close(); closeErr != nil {
			log.Error("error closing serial port", "error", closeErr)
		}
	}()

	// Bridge
	loop := espnow.NewLoop(log.Component("loop"))
	opts := espnow.BridgeOptions{
		Config:     bridgeConfig(cfg),
		MQTTClient: &mqttBridgeAdapter{client: mqttClient},
		Transport:  transport,
		Scheduler:  loop,
		Logger:     log.Component("bridge"),
	}
	// Optional collaborators stay nil interfaces when disabled.
	if influxClient != nil {
		opts.Telemetry = influxClient
	}
	if recorder != nil {
		opts.History = recorder
	}
	bridge, err := espnow.NewBridge(opts)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	transport.SetOnPacket(bridge.HandlePacket)
	transport.SetOnConnect(bridge.HandleSerialConnect)
	transport.SetOnDisconnect(bridge.HandleSerialDisconnect)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
		bridge.HandleMQTTConnect()
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { return loop.Run(gctx) })
	if recorder != nil {
		// Detached from the signal: the loop's final drain still records
		// sightings, and recorder.Stop below writes them out.
		recorder.Start(context.WithoutCancel(ctx))
	}
	transport.Start(gctx)

	if err := bridge.Start(gctx); err != nil {
		stop()
		_ = g.Wait()
		return fmt.Errorf("starting bridge: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal",
		"serial_port", transport.PortName(),
	)

	err = g.Wait()
	log.Info("shutdown signal received, cleaning up")

	bridge.Stop()
	if recorder != nil {
		recorder.Stop()
		log.Info("sightings journal stopped", "stats", fmt.Sprintf("%+v", recorder.Stats()))
	}
	log.Info("bridge stopped",
		"bridge", fmt.Sprintf("%+v", bridge.Stats()),
		"serial", fmt.Sprintf("%+v", transport.Stats()),
	)

	if err != nil {
		return fmt.Errorf("bridge loop: %w", err)
	}

	log.Info("espnow2mqtt stopped")
	return nil
}

// getConfigPaths returns the YAML config path (empty skips the file) and
// the dotenv path.
func getConfigPaths() (configPath, envFile string) {
	configPath = os.Getenv(configPathEnv)
	envFile = defaultEnvFile
	if path, ok := os.LookupEnv(envFileEnv); ok {
		envFile = path
	}
	return configPath, envFile
}

// bridgeConfig maps the bridge section of the configuration.
func bridgeConfig(cfg *config.Config) espnow.Config {
	return espnow.Config{
		HAPrefix:            cfg.Bridge.HAPrefix,
		BridgePrefix:        cfg.Bridge.BridgePrefix,
		DiscoveryCooldown:   cfg.Bridge.DiscoveryCooldown,
		RSSIDebounce:        cfg.Bridge.RSSIDebounce,
		DiscoveryRequestTTL: cfg.Bridge.DiscoveryRequestTTL,
		MaxPendingJobs:      cfg.Bridge.MaxPendingJobs,
		GatewayInterval:     cfg.Bridge.GatewayInterval,
		WizmoteTopic:        cfg.Bridge.WizmoteTopic,
		SupportURL:          cfg.Bridge.SupportURL,
		Version:             version,
		SerialPort:          cfg.Serial.Port,
	}
}

// openJournal opens the SQLite journal and applies the embedded migrations.
func openJournal(ctx context.Context, cfg config.DatabaseConfig, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", db.Path())
	return db, nil
}

// healthCheck verifies the infrastructure connections. db and
// influxClient may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	// The serial link is not checked: the transport keeps retrying and
	// the gateway sensor reports it as disconnected meanwhile.
	return nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The bridge handlers do not return errors.
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// PublishAsync implements espnow.Publisher.
func (a *mqttBridgeAdapter) PublishAsync(topic string, payload []byte, qos byte, retained bool) <-chan error {
	return a.client.PublishAsync(topic, payload, qos, retained)
}

// Subscribe implements espnow.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements espnow.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
