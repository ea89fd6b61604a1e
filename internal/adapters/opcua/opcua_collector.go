// Package opcua subscribes to OPC UA nodes and turns each data-change
// notification into one batch per sensor. Every node maps to one channel.
package opcua

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/parthCJ/Aarma-be/internal/domain"
	"github.com/parthCJ/Aarma-be/internal/ports"
)

type Config struct {
	Endpoint         string        `yaml:"endpoint"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	SecurityMode     string        `yaml:"security_mode"`
	SecurityPolicy   string        `yaml:"security_policy"`
	ApplicationName  string        `yaml:"application_name"`
	PublishInterval  time.Duration `yaml:"publish_interval"`
	SamplingInterval time.Duration `yaml:"sampling_interval"`
	Nodes            []NodeConfig  `yaml:"nodes"`
}

// NodeConfig binds a node to a channel of a sensor.
type NodeConfig struct {
	NodeID        string `yaml:"node_id"`
	SensorID      string `yaml:"sensor_id"`
	DeviceID      string `yaml:"device_id"`
	Channel       string `yaml:"channel"`
	Unit          string `yaml:"unit"`
	Specification string `yaml:"specification"`
}

func (c *Config) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "Aarma Ingest"
	}
	if c.PublishInterval <= 0 {
		c.PublishInterval = time.Second
	}
	if c.SamplingInterval < 0 {
		c.SamplingInterval = 0
	}
	for i := range c.Nodes {
		if c.Nodes[i].SensorID == "" {
			c.Nodes[i].SensorID = c.Nodes[i].NodeID
		}
		if c.Nodes[i].Channel == "" {
			c.Nodes[i].Channel = c.Nodes[i].NodeID
		}
	}
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if len(c.Nodes) == 0 {
		return errors.New("at least one node must be configured")
	}
	seen := make(map[string]bool, len(c.Nodes))
	for _, n := range c.Nodes {
		key := n.SensorID + "\x00" + n.Channel
		if seen[key] {
			return fmt.Errorf("sensor %q maps channel %q twice", n.SensorID, n.Channel)
		}
		seen[key] = true
	}
	return nil
}

type Collector struct {
	cfg     Config
	log     *slog.Logger
	mu      sync.Mutex
	client  *opcua.Client
	sub     *opcua.Subscription
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	handles map[uint32]NodeConfig
	started bool
}

func NewCollector(cfg Config, logger *slog.Logger) (*Collector, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{cfg: cfg, log: logger.With(slog.String("collector", "opcua"))}, nil
}

func (c *Collector) Name() string { return "opcua" }

func (c *Collector) Start(out chan<- *domain.Batch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("opcua collector already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	client, err := opcua.NewClient(c.cfg.Endpoint, c.clientOptions()...)
	if err != nil {
		cancel()
		return fmt.Errorf("opcua new client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		cancel()
		return fmt.Errorf("opcua connect: %w", err)
	}

	notifyCh := make(chan *opcua.PublishNotificationData, len(c.cfg.Nodes)*4)
	sub, err := client.Subscribe(ctx, &opcua.SubscriptionParameters{Interval: c.cfg.PublishInterval}, notifyCh)
	if err != nil {
		cancel()
		_ = client.Close(ctx)
		return fmt.Errorf("opcua subscribe: %w", err)
	}

	handles, err := c.monitor(ctx, sub)
	if err != nil {
		cancel()
		_ = sub.Cancel(ctx)
		_ = client.Close(ctx)
		return err
	}

	c.client, c.sub, c.cancel, c.handles = client, sub, cancel, handles
	c.started = true

	c.wg.Add(1)
	go c.consume(ctx, notifyCh, out)
	return nil
}

func (c *Collector) monitor(ctx context.Context, sub *opcua.Subscription) (map[uint32]NodeConfig, error) {
	handles := make(map[uint32]NodeConfig, len(c.cfg.Nodes))
	for i, node := range c.cfg.Nodes {
		nodeID, err := ua.ParseNodeID(node.NodeID)
		if err != nil {
			return nil, fmt.Errorf("parse node id %q: %w", node.NodeID, err)
		}
		handle := uint32(i + 1)
		req := opcua.NewMonitoredItemCreateRequestWithDefaults(nodeID, ua.AttributeIDValue, handle)
		if c.cfg.SamplingInterval > 0 {
			req.RequestedParameters.SamplingInterval = float64(c.cfg.SamplingInterval / time.Millisecond)
		}
		res, err := sub.Monitor(ctx, ua.TimestampsToReturnBoth, req)
		if err != nil {
			return nil, fmt.Errorf("monitor node %q: %w", node.NodeID, err)
		}
		if len(res.Results) == 0 || res.Results[0].StatusCode != ua.StatusOK {
			return nil, fmt.Errorf("monitor node %q rejected", node.NodeID)
		}
		handles[handle] = node
	}
	return handles, nil
}

func (c *Collector) Stop() error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	cancel, sub, client := c.cancel, c.sub, c.client
	c.started = false
	c.cancel, c.sub, c.client = nil, nil, nil
	c.mu.Unlock()

	cancel()

	ctx, ctxCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ctxCancel()

	var err error
	if e := sub.Cancel(ctx); e != nil && !errors.Is(e, context.Canceled) {
		err = errors.Join(err, e)
	}
	if e := client.Close(ctx); e != nil && !errors.Is(e, context.Canceled) {
		err = errors.Join(err, e)
	}
	c.wg.Wait()
	return err
}

func (c *Collector) consume(ctx context.Context, ch <-chan *opcua.PublishNotificationData, out chan<- *domain.Batch) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case notif := <-ch:
			if notif == nil {
				continue
			}
			if notif.Error != nil {
				c.log.Warn("notification error", slog.Any("err", notif.Error))
				continue
			}
			data, ok := notif.Value.(*ua.DataChangeNotification)
			if !ok {
				continue
			}
			for _, b := range batchesFrom(data, c.handles, c.log) {
				select {
				case <-ctx.Done():
					return
				case out <- b:
				}
			}
		}
	}
}

// batchesFrom groups the monitored items of one notification by sensor.
// Batches come out sorted by sensor id; channels keep notification order.
func batchesFrom(data *ua.DataChangeNotification, handles map[uint32]NodeConfig, log *slog.Logger) []*domain.Batch {
	bySensor := make(map[string]*domain.Batch)
	for _, item := range data.MonitoredItems {
		node, ok := handles[item.ClientHandle]
		if !ok || item.Value == nil {
			continue
		}
		v, ok := variantToFloat(item.Value.Value)
		if !ok {
			log.Debug("skipping node with non-numeric value", slog.String("node_id", node.NodeID))
			continue
		}

		b, ok := bySensor[node.SensorID]
		if !ok {
			b = &domain.Batch{SensorID: node.SensorID, DeviceID: node.DeviceID}
			bySensor[node.SensorID] = b
		}
		b.Channels = append(b.Channels, domain.Channel{
			Name:          node.Channel,
			Status:        statusText(item.Value.Status),
			Value:         v,
			Unit:          node.Unit,
			Note:          node.NodeID,
			Specification: node.Specification,
		})
	}

	out := make([]*domain.Batch, 0, len(bySensor))
	for _, b := range bySensor {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SensorID < out[j].SensorID })
	return out
}

func statusText(code ua.StatusCode) string {
	if code == ua.StatusOK {
		return "OK"
	}
	return code.Error()
}

func (c *Collector) clientOptions() []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(c.cfg.SecurityMode)),
		opcua.SecurityPolicy(c.cfg.SecurityPolicy),
		opcua.ApplicationName(c.cfg.ApplicationName),
		opcua.AutoReconnect(true),
	}
	if c.cfg.Username != "" {
		return append(opts, opcua.AuthUsername(c.cfg.Username, c.cfg.Password))
	}
	return append(opts, opcua.AuthAnonymous())
}

func variantToFloat(v *ua.Variant) (float64, bool) {
	if v == nil {
		return 0, false
	}
	switch val := v.Value().(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int8:
		return float64(val), true
	case uint8:
		return float64(val), true
	case int16:
		return float64(val), true
	case uint16:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

var _ ports.Collector = (*Collector)(nil)
