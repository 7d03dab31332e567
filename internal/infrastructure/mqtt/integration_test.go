//go:build integration

package mqtt

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tanishqmanuja/espnow2mqtt/internal/infrastructure/config"
)

// Integration tests against a real broker at 127.0.0.1:1883.
//
// Run with:
//
//	go test -tags=integration -count=1 -v ./internal/infrastructure/mqtt/...

func integrationConfig(clientID string) config.MQTTConfig {
	cfg := testConfig()
	cfg.Broker.ClientID = clientID
	return cfg
}

func TestIntegration_StatusTopic(t *testing.T) {
	watcher, err := Connect(context.Background(), integrationConfig("espnow2mqtt-int-watch"), "")
	if err != nil {
		t.Fatalf("Connect(watcher) error = %v", err)
	}
	defer watcher.Close()

	received := make(chan string, 4)
	err = watcher.Subscribe("espnow2mqtt-int/status", 1, func(_ string, p []byte) error {
		received <- string(p)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	client, err := Connect(context.Background(), integrationConfig("espnow2mqtt-int-status"), "espnow2mqtt-int/status")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	waitFor(t, received, StatusOnline)
	client.Close()
	waitFor(t, received, StatusOffline)
}

func TestIntegration_PublishAsyncKeepsOrder(t *testing.T) {
	client, err := Connect(context.Background(), integrationConfig("espnow2mqtt-int-order"), "")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	const n = 50
	var (
		mu  sync.Mutex
		got []string
	)
	done := make(chan struct{})
	err = client.Subscribe("espnow2mqtt-int/order", 1, func(_ string, p []byte) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, string(p))
		if len(got) == n {
			close(done)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	results := make([]<-chan error, n)
	for i := range n {
		results[i] = client.PublishAsync("espnow2mqtt-int/order", []byte(fmt.Sprint(i)), 1, false)
	}
	for i, ch := range results {
		if err := <-ch; err != nil {
			t.Fatalf("publish %d error = %v", i, err)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for messages")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, p := range got {
		if p != fmt.Sprint(i) {
			t.Fatalf("message %d = %s, want %d", i, p, i)
		}
	}
}

func waitFor(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-ch:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}
