package mqtt

import (
	"fmt"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gwillem/keyforce/pkg/force"
)

// Subscriber receives force commands and announces itself to publishers.
type Subscriber struct {
	client        paho.Client
	topic         string
	presenceTopic string
}

// Subscribe connects as a consumer of cfg.Topic and calls handle for every
// command received. handle runs on the paho callback goroutine.
func Subscribe(cfg Config, handle func(force.Command), logger *zap.SugaredLogger) (*Subscriber, error) {
	logger = logger.Named("mqtt")
	presenceTopic := PresenceTopic(cfg.Topic, cfg.ClientID)
	timeout := cfg.timeout()

	onCommand := func(_ paho.Client, msg paho.Message) {
		cmd, err := DecodeCommand(msg.Payload())
		if err != nil {
			logger.Warnw("dropping message", "topic", msg.Topic(), "error", err)
			return
		}
		handle(cmd)
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetConnectTimeout(timeout).
		SetWill(presenceTopic, "", 1, true)

	opts.SetOnConnectHandler(func(c paho.Client) {
		if token := c.Subscribe(cfg.Topic, 0, onCommand); token.WaitTimeout(timeout) && token.Error() != nil {
			logger.Errorw("subscribe failed", "topic", cfg.Topic, "error", token.Error())
			return
		}
		if token := c.Publish(presenceTopic, 1, true, presenceOnline); token.WaitTimeout(timeout) && token.Error() != nil {
			logger.Errorw("announce failed", "topic", presenceTopic, "error", token.Error())
		}
	})

	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, token.Error())
	}
	logger.Infow("subscribed", "broker", cfg.Broker, "topic", cfg.Topic)

	return &Subscriber{
		client:        client,
		topic:         cfg.Topic,
		presenceTopic: presenceTopic,
	}, nil
}

// Close stops receiving, withdraws the presence announcement and
// disconnects.
func (s *Subscriber) Close() error {
	unsub := s.client.Unsubscribe(s.topic)
	unsub.Wait()

	withdraw := s.client.Publish(s.presenceTopic, 1, true, []byte{})
	withdraw.Wait()

	s.client.Disconnect(disconnectMs)
	return multierr.Combine(unsub.Error(), withdraw.Error())
}
