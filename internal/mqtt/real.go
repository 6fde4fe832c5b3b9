package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Options configures the real MQTT client.
type Options struct {
	Broker     string
	ClientID   string
	Topic      string // base topic
	BufferSize int    // messages kept while disconnected

	// OnSet is called from the paho goroutine for every valid set request.
	OnSet func(on bool)
}

// RealPublisher publishes to, and receives set requests from, an actual
// MQTT broker.
type RealPublisher struct {
	client paho.Client
	topic  string
	onSet  func(on bool)

	mu     sync.Mutex
	outbox *outbox
}

// NewRealPublisher creates a publisher connected to the given broker.
// An unreachable broker is not fatal: paho keeps retrying in the background
// and messages are queued until the first connection.
func NewRealPublisher(o Options) (*RealPublisher, error) {
	if o.Topic == "" {
		o.Topic = DefaultTopic
	}
	if o.ClientID == "" {
		o.ClientID = "relay-switch"
	}
	if o.BufferSize <= 0 {
		o.BufferSize = 64
	}

	p := &RealPublisher{
		topic:  o.Topic,
		onSet:  o.OnSet,
		outbox: newOutbox(o.BufferSize),
	}

	will, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE"})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(o.Topic+SuffixSystem, string(will), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if token.WaitTimeout(10 * time.Second) {
		if err := token.Error(); err != nil {
			return nil, fmt.Errorf("connect to broker: %w", err)
		}
	} else {
		log.Printf("mqtt: broker %s not reachable yet, retrying in background", o.Broker)
	}

	return p, nil
}

// onConnect runs on every (re)connection: paho drops subscriptions with a
// clean session, and anything published while offline is replayed.
func (p *RealPublisher) onConnect(c paho.Client) {
	log.Printf("mqtt: connected")

	if p.onSet != nil {
		token := c.Subscribe(p.topic+SuffixSet, 1, p.handleSet)
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Printf("mqtt: subscribe %s: %v", p.topic+SuffixSet, token.Error())
		}
	}

	p.mu.Lock()
	pending := p.outbox.flush()
	p.mu.Unlock()
	if len(pending) > 0 {
		log.Printf("mqtt: replaying %d queued messages", len(pending))
	}
	for _, m := range pending {
		c.Publish(m.topic, m.qos, m.retained, m.payload)
	}
}

func (p *RealPublisher) handleSet(_ paho.Client, msg paho.Message) {
	on, err := ParseSetPayload(msg.Payload())
	if err != nil {
		log.Printf("mqtt: ignoring set request: %v", err)
		return
	}
	p.onSet(on)
}

// publish sends, or queues in the outbox when the connection is down.
func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.outbox.add(pendingMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		p.mu.Unlock()
		return nil
	}

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// PublishState sends a relay state change to the MQTT broker.
// QoS 1 and retained, so new subscribers see the current state.
func (p *RealPublisher) PublishState(event StateEvent) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return p.publish(p.topic+SuffixState, 1, true, payload)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) - we want to ensure delivery of lifecycle events
	return p.publish(p.topic+SuffixSystem, 1, event.Retained, payload)
}

// IsConnected reports whether the broker connection is currently up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
