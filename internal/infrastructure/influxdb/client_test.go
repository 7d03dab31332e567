package influxdb

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/tanishqmanuja/espnow2mqtt/internal/infrastructure/config"
)

// testConfig returns a configuration for a local dev InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "espnow2mqtt-dev-token",
		Org:           "espnow2mqtt",
		Bucket:        "telemetry",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

// skipIfNoInfluxDB skips the test if InfluxDB is not running.
func skipIfNoInfluxDB(t *testing.T) {
	t.Helper()
	if os.Getenv("RUN_INTEGRATION") == "" {
		client, err := Connect(context.Background(), testConfig())
		if err != nil {
			t.Skip("InfluxDB not available, skipping integration test")
		}
		client.Close()
	}
}

// =============================================================================
// Point Tests
// =============================================================================

var testTime = time.Unix(1700000000, 0)

func lineOf(p *write.Point) string {
	return strings.TrimSpace(write.PointToLineProtocol(p, time.Second))
}

func TestPoints(t *testing.T) {
	tests := []struct {
		name  string
		point *write.Point
		want  string
	}{
		{
			name:  "rssi",
			point: rssiPoint("kitchen", "aa:bb:cc:dd:ee:ff", -42, testTime),
			want:  `espnow_rssi,device_id=kitchen,mac=aa:bb:cc:dd:ee:ff rssi=-42i 1700000000`,
		},
		{
			name:  "tx delivered",
			point: txStatusPoint("aa:bb:cc:dd:ee:ff", 0, testTime),
			want:  `espnow_tx_status,mac=aa:bb:cc:dd:ee:ff delivered=true,status=0i 1700000000`,
		},
		{
			name:  "tx failed",
			point: txStatusPoint("aa:bb:cc:dd:ee:ff", 1, testTime),
			want:  `espnow_tx_status,mac=aa:bb:cc:dd:ee:ff delivered=false,status=1i 1700000000`,
		},
		{
			name:  "gateway",
			point: gatewayPoint("/dev/ttyUSB0", true, testTime),
			want:  `espnow_gateway,port=/dev/ttyUSB0 connected=true 1700000000`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := lineOf(tt.point); got != tt.want {
				t.Errorf("line protocol =\n  %s\nwant\n  %s", got, tt.want)
			}
		})
	}
}

func TestBatchSettings(t *testing.T) {
	tests := []struct {
		batch, flush         int
		wantBatch, wantFlush int
	}{
		{100, 1, 100, 1},
		{0, 0, 100, 10},
		{-5, -1, 100, 10},
	}
	for _, tt := range tests {
		cfg := testConfig()
		cfg.BatchSize, cfg.FlushInterval = tt.batch, tt.flush
		b, f := batchSettings(cfg)
		if b != tt.wantBatch || f != tt.wantFlush {
			t.Errorf("batchSettings(%d, %d) = %d, %d", tt.batch, tt.flush, b, f)
		}
	}
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := Connect(context.Background(), cfg)
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_InvalidURL(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999"

	_, err := Connect(context.Background(), cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Connect(ctx, testConfig())
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestClose_Nil(t *testing.T) {
	client := &Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on zero client error = %v", err)
	}
	// Writes on a closed or never connected client are dropped silently.
	client.WriteRSSI("d", "m", -1)
	client.WriteTxStatus("m", 0)
	client.WriteGatewayState("/dev/ttyUSB0", false)

	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestWriteTelemetry(t *testing.T) {
	skipIfNoInfluxDB(t)

	var writeErrs atomic.Int32
	client, err := Connect(context.Background(), testConfig(),
		WithErrorHandler(func(error) { writeErrs.Add(1) }))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	client.WriteRSSI("kitchen", "aa:bb:cc:dd:ee:ff", -55)
	client.WriteTxStatus("aa:bb:cc:dd:ee:ff", 0)
	client.WriteGatewayState("/dev/ttyUSB0", true)

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if n := writeErrs.Load(); n != 0 {
		t.Errorf("async write errors = %d, want 0", n)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
