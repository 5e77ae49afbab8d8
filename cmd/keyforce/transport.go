package main

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/gwillem/keyforce/pkg/force"
	"github.com/gwillem/keyforce/pkg/teleop"
	"github.com/gwillem/keyforce/pkg/transport"
	"github.com/gwillem/keyforce/pkg/transport/mqtt"
	"github.com/gwillem/keyforce/pkg/transport/servo"
	"github.com/gwillem/keyforce/pkg/transport/ws"
)

type publisher interface {
	teleop.Publisher
	io.Closer
}

// openPublisher connects the transport named in cfg.
func openPublisher(ctx context.Context, cfg *force.Config, logger *zap.SugaredLogger) (publisher, error) {
	switch cfg.Transport {
	case force.TransportLog:
		return transport.NewLog(logger), nil

	case force.TransportMQTT:
		pub, err := mqtt.Connect(mqtt.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
		}, logger)
		if err != nil {
			return nil, err
		}
		return pub, nil

	case force.TransportWebSocket:
		hub := ws.NewHub(cfg.WebSocket.Path, logger)
		if err := hub.Listen(cfg.WebSocket.Addr); err != nil {
			return nil, err
		}
		return hub, nil

	case force.TransportServo:
		thrusters, err := servo.Open(ctx, cfg.Servo.Port, cfg.Servo.Thrusters)
		if err != nil {
			return nil, err
		}
		return thrusters, nil
	}
	return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
}
