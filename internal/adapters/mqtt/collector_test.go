package mqtt

import (
	"testing"
	"time"

	"github.com/parthCJ/Aarma-be/internal/domain"
)

func TestCollectorHandleForwardsDecodedBatch(t *testing.T) {
	c, err := NewCollector(Config{Broker: "tcp://localhost:1883"}, nil)
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}
	out := make(chan *domain.Batch, 1)
	c.out = out
	c.stop = make(chan struct{})

	c.handle("sensors/data", []byte(`{"sensor_id":"S1","device_id":"D1","readings":[{"sensor_name":"Temp","status":"OK","reading":21.5,"unit":"C"}]}`))

	select {
	case b := <-out:
		if b.SensorID != "S1" || len(b.Channels) != 1 || b.Channels[0].Value != 21.5 {
			t.Fatalf("unexpected batch: %+v", b)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected batch on channel")
	}
}

func TestCollectorHandleDropsMalformed(t *testing.T) {
	c, _ := NewCollector(Config{Broker: "tcp://localhost:1883"}, nil)
	out := make(chan *domain.Batch, 1)
	c.out = out
	c.stop = make(chan struct{})

	c.handle("sensors/data", []byte(`{"sensor_id":`))
	c.handle("sensors/data", []byte(`{"sensor_id":"S1","readings":[{"sensor_name":"Temp"}]}`))

	if len(out) != 0 {
		t.Fatalf("malformed payloads must not be forwarded")
	}
	if c.Dropped() != 2 {
		t.Fatalf("expected 2 drops, got %d", c.Dropped())
	}
}

func TestCollectorHandleUnblocksOnStop(t *testing.T) {
	c, _ := NewCollector(Config{Broker: "tcp://localhost:1883"}, nil)
	c.out = make(chan *domain.Batch)
	c.stop = make(chan struct{})

	done := make(chan struct{})
	go func() {
		c.handle("t", []byte(`{"sensor_id":"S1","readings":[{"sensor_name":"Temp","reading":1}]}`))
		close(done)
	}()
	if err := c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("handler still blocked after stop")
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()
	if cfg.Topic != "sensors/data" || cfg.ClientID == "" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected missing broker error")
	}
	cfg.Broker = "tcp://b:1883"
	cfg.QoS = 3
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected qos error")
	}
}
