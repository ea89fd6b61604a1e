// Package mqtt receives batch JSON from an MQTT topic.
package mqtt

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/parthCJ/Aarma-be/internal/domain"
	"github.com/parthCJ/Aarma-be/internal/ports"
)

type Config struct {
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	Topic          string        `yaml:"topic"`
	QoS            byte          `yaml:"qos"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

func (c *Config) ApplyDefaults() {
	if c.ClientID == "" {
		c.ClientID = "aarma-ingest"
	}
	if c.Topic == "" {
		c.Topic = "sensors/data"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
}

func (c *Config) Validate() error {
	if c.Broker == "" {
		return errors.New("broker is required")
	}
	if c.QoS > 2 {
		return fmt.Errorf("qos must be 0, 1 or 2, got %d", c.QoS)
	}
	return nil
}

// Collector decodes every message on the topic; malformed payloads are
// logged and dropped.
type Collector struct {
	cfg     Config
	log     *slog.Logger
	mu      sync.Mutex
	client  paho.Client
	out     chan<- *domain.Batch
	stop    chan struct{}
	stopped bool
	dropped uint64
}

func NewCollector(cfg Config, logger *slog.Logger) (*Collector, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{cfg: cfg, log: logger.With(slog.String("collector", "mqtt"))}, nil
}

func (c *Collector) Name() string { return "mqtt" }

func (c *Collector) Start(out chan<- *domain.Batch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return fmt.Errorf("mqtt collector already started")
	}
	c.out = out
	c.stop = make(chan struct{})
	c.stopped = false

	opts := paho.NewClientOptions().
		AddBroker(c.cfg.Broker).
		SetClientID(c.cfg.ClientID).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetConnectTimeout(c.cfg.ConnectTimeout)
	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username).SetPassword(c.cfg.Password)
	}
	// Subscribing in the connect handler restores the subscription after reconnects.
	opts.SetOnConnectHandler(func(cl paho.Client) {
		token := cl.Subscribe(c.cfg.Topic, c.cfg.QoS, func(_ paho.Client, msg paho.Message) {
			c.handle(msg.Topic(), msg.Payload())
		})
		if token.Wait() && token.Error() != nil {
			c.log.Error("subscribe failed", slog.String("topic", c.cfg.Topic), slog.Any("err", token.Error()))
			return
		}
		c.log.Info("subscribed", slog.String("topic", c.cfg.Topic))
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.log.Warn("connection lost", slog.Any("err", err))
	})

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(c.cfg.ConnectTimeout) {
		return fmt.Errorf("mqtt connect to %s: timeout", c.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect to %s: %w", c.cfg.Broker, err)
	}
	c.client = client
	return nil
}

func (c *Collector) handle(topic string, payload []byte) {
	b, err := domain.DecodeBatch(payload)
	if err != nil {
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
		c.log.Warn("dropping malformed payload", slog.String("topic", topic), slog.Any("err", err))
		return
	}
	c.mu.Lock()
	out, stop := c.out, c.stop
	c.mu.Unlock()
	select {
	case out <- b:
	case <-stop:
	}
}

// Dropped counts payloads that failed to decode.
func (c *Collector) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

func (c *Collector) Stop() error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	if c.stop != nil && !c.stopped {
		close(c.stop)
		c.stopped = true
	}
	c.mu.Unlock()

	if client == nil {
		return nil
	}
	if token := client.Unsubscribe(c.cfg.Topic); token.WaitTimeout(time.Second) && token.Error() != nil {
		c.log.Warn("unsubscribe failed", slog.Any("err", token.Error()))
	}
	client.Disconnect(250)
	return nil
}

var _ ports.Collector = (*Collector)(nil)
