package mqttctrl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Agrid-Dev/stmq/internal/applog"
	"github.com/Agrid-Dev/stmq/internal/controllers/view"
	"github.com/Agrid-Dev/stmq/internal/heating"
	"github.com/Agrid-Dev/stmq/internal/ports"
)

var (
	ErrNotConnected = errors.New("mqtt: not connected")
	ErrTimeout      = errors.New("mqtt: publish timed out")
)

type Config struct {
	// MQTT connection
	BrokerURL string
	ClientID  string
	Username  string
	Password  string

	// Topics
	ActionTopic  string
	ReceiptTopic string
	BaseTopic    string

	// Behavior
	QoS            byte
	RetainStatus   bool
	PublishTimeout time.Duration
}

// Controller is the actuator channel: it publishes heating actions, logs
// the device receipts and mirrors each decision to <base>/status.
type Controller struct {
	svc ports.HeatingService
	cfg Config
	log *applog.Logger

	client    mqtt.Client
	ready     chan struct{}
	readyOnce sync.Once

	mu          sync.Mutex
	runCtx      context.Context
	lastReceipt string
}

func New(cfg Config, log *applog.Logger) (*Controller, error) {
	// ---- defaults ----

	if cfg.BrokerURL == "" {
		cfg.BrokerURL = "tcp://localhost:1883"
	}
	if cfg.ActionTopic == "" {
		cfg.ActionTopic = "from_stmq/heat/action"
	}
	if cfg.ReceiptTopic == "" {
		cfg.ReceiptTopic = "to_stmq/heat/receipt"
	}
	if cfg.BaseTopic == "" {
		cfg.BaseTopic = "stmq"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "stmq"
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	if cfg.QoS > 1 {
		return nil, errors.New("mqtt: QoS must be 0 or 1")
	}
	return &Controller{
		cfg:    cfg,
		log:    log.With("mqtt"),
		ready:  make(chan struct{}),
		runCtx: context.Background(),
	}, nil
}

// Attach wires the service that backs the adjust command. The engine
// needs the controller as its actuator first, so this happens after New.
func (c *Controller) Attach(svc ports.HeatingService) { c.svc = svc }

func (c *Controller) Run(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(c.cfg.BrokerURL).
		SetClientID(c.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second).
		SetWill(c.topic("availability"), "offline", c.cfg.QoS, true)

	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}

	// Subscribe when connected/reconnected.
	opts.OnConnect = func(cl mqtt.Client) {
		subs := map[string]byte{
			c.cfg.ReceiptTopic: c.cfg.QoS,
			c.topic("set/+"):   c.cfg.QoS,
		}
		if tok := cl.SubscribeMultiple(subs, c.onMessage); tok.Wait() && tok.Error() != nil {
			c.log.Errorf("subscribe: %v", tok.Error())
		}
		cl.Publish(c.topic("availability"), c.cfg.QoS, true, "online")
		c.log.Infof("connected to %s", c.cfg.BrokerURL)
		c.markReady()
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		c.log.Warnf("connection lost: %v", err)
	}

	c.mu.Lock()
	c.runCtx = ctx
	c.mu.Unlock()

	c.client = mqtt.NewClient(opts)
	// With connect retry the token completes only once the broker is up.
	tok := c.client.Connect()
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}
		<-ctx.Done()
	case <-ctx.Done():
	}

	c.client.Publish(c.topic("availability"), c.cfg.QoS, true, "offline").WaitTimeout(time.Second)
	c.client.Disconnect(250)
	return ctx.Err()
}

func (c *Controller) markReady() {
	c.readyOnce.Do(func() { close(c.ready) })
}

func (c *Controller) waitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.cfg.PublishTimeout):
		return ErrNotConnected
	}
}

func (c *Controller) wait(tok mqtt.Token) error {
	if !tok.WaitTimeout(c.cfg.PublishTimeout) {
		return ErrTimeout
	}
	return tok.Error()
}

// Publish sends the action token to the actuator topic.
func (c *Controller) Publish(ctx context.Context, a heating.Action) error {
	if !a.Valid() {
		return fmt.Errorf("mqtt: %w: %d", heating.ErrInvalidAction, int(a))
	}
	if err := c.waitReady(ctx); err != nil {
		return err
	}
	if err := c.wait(c.client.Publish(c.cfg.ActionTopic, c.cfg.QoS, false, a.String())); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", c.cfg.ActionTopic, err)
	}
	c.log.Debugf("published %s to %s", a, c.cfg.ActionTopic)
	return nil
}

// Observe mirrors a decision to the status topic.
func (c *Controller) Observe(ctx context.Context, d heating.Decision) {
	if err := c.waitReady(ctx); err != nil {
		return
	}
	b, err := json.Marshal(view.FromDecision(d))
	if err != nil {
		c.log.Errorf("encode status: %v", err)
		return
	}
	if err := c.wait(c.client.Publish(c.topic("status"), c.cfg.QoS, c.cfg.RetainStatus, b)); err != nil {
		c.log.Warnf("publish status: %v", err)
	}
}

// LastReceipt is the most recent payload seen on the receipt topic.
func (c *Controller) LastReceipt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastReceipt
}

// Command payload format: {"value": ...}
type valueReq[T any] struct {
	Value *T `json:"value"`
}

func (c *Controller) onMessage(_ mqtt.Client, msg mqtt.Message) {
	t := msg.Topic()
	payload := msg.Payload()

	if t == c.cfg.ReceiptTopic {
		c.mu.Lock()
		c.lastReceipt = string(payload)
		c.mu.Unlock()
		c.log.Infof("receipt: %s", payload)
		return
	}

	// topic format: <base>/set/<field>
	prefix := strings.TrimRight(c.cfg.BaseTopic, "/") + "/set/"
	if !strings.HasPrefix(t, prefix) {
		return
	}
	field := strings.TrimPrefix(t, prefix)

	// Dispatch by field
	switch field {
	case "adjust":
		v, err := decodeValueStrict[bool](payload)
		if err != nil || !v || c.svc == nil {
			return
		}
		c.mu.Lock()
		ctx := c.runCtx
		c.mu.Unlock()
		// The cycle publishes through this client, so it must not run on
		// the paho callback goroutine.
		go func() {
			if _, err := c.svc.Adjust(ctx); err != nil {
				c.log.Warnf("requested cycle: %v", err)
			}
		}()
	}
}

func (c *Controller) topic(suffix string) string {
	return strings.TrimRight(c.cfg.BaseTopic, "/") + "/" + suffix
}

func decodeValueStrict[T any](b []byte) (T, error) {
	var zero T
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var req valueReq[T]
	if err := dec.Decode(&req); err != nil {
		return zero, err
	}
	if req.Value == nil {
		return zero, errors.New("missing field 'value'")
	}
	return *req.Value, nil
}
