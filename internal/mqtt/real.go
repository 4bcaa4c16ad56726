package mqtt

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/sweeney/humidity-fan/internal/logic"
)

// Options configures a RealClient.
type Options struct {
	Broker        string
	ClientID      string
	Username      string
	Password      string
	StatePrefix   string
	CommandPrefix string
	EventTopic    string
	SystemTopic   string
	OutboxSize    int
	ConnectWait   time.Duration
}

func (o Options) withDefaults() Options {
	if o.ClientID == "" {
		o.ClientID = "humidity-fan"
	}
	if o.StatePrefix == "" {
		o.StatePrefix = DefaultStatePrefix
	}
	if o.CommandPrefix == "" {
		o.CommandPrefix = DefaultCommandPrefix
	}
	if o.EventTopic == "" {
		o.EventTopic = DefaultEventTopic
	}
	if o.SystemTopic == "" {
		o.SystemTopic = DefaultSystemTopic
	}
	if o.OutboxSize <= 0 {
		o.OutboxSize = 100
	}
	if o.ConnectWait <= 0 {
		o.ConnectWait = 10 * time.Second
	}
	return o
}

// pahoClient is the subset of paho.Client used here.
type pahoClient interface {
	IsConnectionOpen() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
}

const tokenWait = 5 * time.Second

// RealClient talks to an actual MQTT broker. It implements EntityClient,
// Publisher and ConnectionStatus.
type RealClient struct {
	opts   Options
	log    *zap.SugaredLogger
	client pahoClient

	mu        sync.Mutex
	topics    map[string]string // state topic -> entity
	outbox    *outbox
	connected bool // a connection has been established at least once

	updates chan Update
	done    chan struct{}
	once    sync.Once
}

// NewRealClient connects to the broker. If the broker is unreachable the
// client keeps retrying in the background; events published meanwhile wait
// in the outbox.
func NewRealClient(opts Options, log *zap.SugaredLogger) (*RealClient, error) {
	opts = opts.withDefaults()
	c := newClient(opts, log)

	po := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetBinaryWill(opts.SystemTopic, willPayload(), 1, true).
		SetOnConnectHandler(func(paho.Client) { c.onConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.log.Warnw("mqtt connection lost", "broker", opts.Broker, "err", err)
		})
	if opts.Username != "" {
		po.SetUsername(opts.Username).SetPassword(opts.Password)
	}

	c.client = paho.NewClient(po)
	token := c.client.Connect()
	if !token.WaitTimeout(opts.ConnectWait) {
		c.log.Warnw("mqtt broker not reachable yet, retrying in background", "broker", opts.Broker)
		return c, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return c, nil
}

func newClient(opts Options, log *zap.SugaredLogger) *RealClient {
	return &RealClient{
		opts:    opts,
		log:     log,
		topics:  make(map[string]string),
		outbox:  newOutbox(opts.OutboxSize),
		updates: make(chan Update, 64),
		done:    make(chan struct{}),
	}
}

// Updates returns the channel entity updates are delivered on.
func (c *RealClient) Updates() <-chan Update {
	return c.updates
}

// Subscribe registers entity and subscribes to its state topic. While
// disconnected the subscription is made on the next connect.
func (c *RealClient) Subscribe(entity string) error {
	topic, err := StateTopic(c.opts.StatePrefix, entity)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.topics[topic] = entity
	c.mu.Unlock()

	if !c.client.IsConnectionOpen() {
		return nil
	}
	return c.subscribe(topic)
}

// Unsubscribe releases the subscription for entity.
func (c *RealClient) Unsubscribe(entity string) error {
	topic, err := StateTopic(c.opts.StatePrefix, entity)
	if err != nil {
		return err
	}
	c.mu.Lock()
	_, ok := c.topics[topic]
	delete(c.topics, topic)
	c.mu.Unlock()

	if !ok || !c.client.IsConnectionOpen() {
		return nil
	}
	return wait(c.client.Unsubscribe(topic), "unsubscribe "+topic)
}

// Command publishes ON or OFF to the entity's command topic.
func (c *RealClient) Command(entity string, on bool) error {
	topic, err := CommandTopic(c.opts.CommandPrefix, entity)
	if err != nil {
		return err
	}
	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	return wait(c.client.Publish(topic, 1, false, CommandPayload(on)), "command "+topic)
}

// Publish sends a controller event (QoS 0, not retained).
func (c *RealClient) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return c.publish(outboxMsg{topic: c.opts.EventTopic, payload: payload})
}

// PublishSystem sends a lifecycle event (QoS 1).
func (c *RealClient) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return c.publish(outboxMsg{topic: c.opts.SystemTopic, payload: payload, qos: 1, retained: event.Retained})
}

// IsConnected reports whether the broker connection is currently up.
func (c *RealClient) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Close releases every subscription and disconnects.
func (c *RealClient) Close() error {
	c.once.Do(func() {
		close(c.done)

		c.mu.Lock()
		topics := make([]string, 0, len(c.topics))
		for t := range c.topics {
			topics = append(topics, t)
		}
		c.topics = make(map[string]string)
		c.mu.Unlock()

		if len(topics) > 0 && c.client.IsConnectionOpen() {
			if err := wait(c.client.Unsubscribe(topics...), "unsubscribe"); err != nil {
				c.log.Warnw("mqtt unsubscribe on close failed", "err", err)
			}
		}
		c.client.Disconnect(1000)
	})
	return nil
}

func (c *RealClient) publish(msg outboxMsg) error {
	if !c.client.IsConnectionOpen() {
		c.mu.Lock()
		dropped := c.outbox.push(msg)
		c.mu.Unlock()
		if dropped {
			c.log.Warnw("mqtt outbox full, dropped oldest message", "capacity", c.opts.OutboxSize)
		}
		return nil
	}
	return wait(c.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload), "publish "+msg.topic)
}

func (c *RealClient) subscribe(topic string) error {
	return wait(c.client.Subscribe(topic, 1, c.onMessage), "subscribe "+topic)
}

// onConnect runs on every (re)connection: restore subscriptions, replay the
// outbox and announce the reconnect.
func (c *RealClient) onConnect() {
	c.mu.Lock()
	topics := make([]string, 0, len(c.topics))
	for t := range c.topics {
		topics = append(topics, t)
	}
	pending, dropped := c.outbox.drain()
	reconnect := c.connected
	c.connected = true
	c.mu.Unlock()

	c.log.Infow("mqtt connected", "broker", c.opts.Broker, "subscriptions", len(topics), "replay", len(pending), "dropped", dropped)

	for _, t := range topics {
		if err := c.subscribe(t); err != nil {
			c.log.Errorw("mqtt resubscribe failed", "topic", t, "err", err)
		}
	}
	for _, m := range pending {
		if err := wait(c.client.Publish(m.topic, m.qos, m.retained, m.payload), "replay "+m.topic); err != nil {
			c.log.Warnw("mqtt replay failed", "topic", m.topic, "err", err)
		}
	}
	if reconnect {
		if err := c.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"}); err != nil {
			c.log.Warnw("mqtt reconnect announcement failed", "err", err)
		}
	}
}

func (c *RealClient) onMessage(_ paho.Client, m paho.Message) {
	c.deliver(m.Topic(), m.Payload())
}

// deliver maps a state message to its entity and hands it to the event loop.
func (c *RealClient) deliver(topic string, payload []byte) {
	c.mu.Lock()
	entity, ok := c.topics[topic]
	c.mu.Unlock()
	if !ok {
		return
	}

	select {
	case c.updates <- Update{Entity: entity, Value: stateValue(payload)}:
	case <-c.done:
	}
}

// stateValue strips the JSON quoting some statestream versions add.
func stateValue(payload []byte) string {
	s := strings.TrimSpace(string(payload))
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		if v, err := strconv.Unquote(s); err == nil {
			return v
		}
	}
	return s
}

func wait(t paho.Token, what string) error {
	if !t.WaitTimeout(tokenWait) {
		return fmt.Errorf("%s: timeout", what)
	}
	if err := t.Error(); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}
