// Package mqtt publishes force commands to an MQTT broker.
//
// MQTT does not expose who is subscribed to a topic, so consumers announce
// themselves: each one keeps a retained, non-empty message on
// <topic>/subscribers/<client-id> and registers an empty retained last will
// on the same topic. The publisher counts the ids currently announced.
package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/gwillem/keyforce/pkg/force"
)

const (
	presenceLevel  = "subscribers"
	presenceOnline = "online"
	disconnectMs   = 250
	defaultTimeout = 2 * time.Second
)

// Config holds broker settings.
type Config struct {
	Broker   string
	ClientID string
	Topic    string
	Timeout  time.Duration // bound on connect and publish acknowledgements
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return defaultTimeout
	}
	return c.Timeout
}

// PresenceTopic is where the consumer clientID announces itself for topic.
func PresenceTopic(topic, clientID string) string {
	return topic + "/" + presenceLevel + "/" + clientID
}

// PresenceFilter matches every presence announcement for topic.
func PresenceFilter(topic string) string {
	return topic + "/" + presenceLevel + "/+"
}

// Presence tracks which consumers are announced for a topic.
type Presence struct {
	prefix string

	mu  sync.Mutex
	ids map[string]struct{}
}

// NewPresence creates an empty tracker for topic.
func NewPresence(topic string) *Presence {
	return &Presence{
		prefix: topic + "/" + presenceLevel + "/",
		ids:    make(map[string]struct{}),
	}
}

// Handle is a paho message handler for PresenceFilter.
func (p *Presence) Handle(_ paho.Client, msg paho.Message) {
	id, ok := strings.CutPrefix(msg.Topic(), p.prefix)
	if !ok || id == "" || strings.Contains(id, "/") {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(msg.Payload()) == 0 {
		delete(p.ids, id)
		return
	}
	p.ids[id] = struct{}{}
}

// Count returns the number of announced consumers.
func (p *Presence) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ids)
}

// Publisher sends force commands as JSON to one topic.
type Publisher struct {
	client   paho.Client
	topic    string
	timeout  time.Duration
	presence *Presence
	logger   *zap.SugaredLogger
}

// Connect connects to the broker and starts tracking subscriber presence.
func Connect(cfg Config, logger *zap.SugaredLogger) (*Publisher, error) {
	p := &Publisher{
		topic:    cfg.Topic,
		timeout:  cfg.timeout(),
		presence: NewPresence(cfg.Topic),
		logger:   logger.Named("mqtt"),
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetConnectTimeout(p.timeout)

	// Subscribing here also restores the subscription after a reconnect.
	opts.SetOnConnectHandler(func(c paho.Client) {
		token := c.Subscribe(PresenceFilter(cfg.Topic), 1, p.presence.Handle)
		if token.WaitTimeout(p.timeout) && token.Error() != nil {
			p.logger.Errorw("presence subscribe failed", "topic", PresenceFilter(cfg.Topic), "error", token.Error())
		}
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		p.logger.Warnw("connection lost", "broker", cfg.Broker, "error", err)
	})

	p.client = paho.NewClient(opts)
	if token := p.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, token.Error())
	}
	p.logger.Infow("connected", "broker", cfg.Broker, "topic", cfg.Topic)

	return p, nil
}

func (p *Publisher) Name() string { return p.topic }

// Subscribers returns the number of consumers announced on the presence topic.
func (p *Publisher) Subscribers() int { return p.presence.Count() }

// Publish sends cmd at QoS 0 without the retained flag, so a late consumer
// never acts on a stale command.
func (p *Publisher) Publish(cmd force.Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	token := p.client.Publish(p.topic, 0, false, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish to %s: timed out after %v", p.topic, p.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() error {
	p.client.Disconnect(disconnectMs)
	return nil
}

// DecodeCommand parses a command payload.
func DecodeCommand(payload []byte) (force.Command, error) {
	var cmd force.Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return force.Command{}, fmt.Errorf("decode command: %w", err)
	}
	return cmd, nil
}
