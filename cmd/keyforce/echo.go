package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gwillem/keyforce/pkg/force"
	"github.com/gwillem/keyforce/pkg/logging"
	"github.com/gwillem/keyforce/pkg/transport/mqtt"
	"github.com/gwillem/keyforce/pkg/transport/ws"
)

type EchoCommand struct {
	Transport string `long:"transport" choice:"mqtt" choice:"websocket" description:"Transport to listen on (overrides config)"`
	URL       string `long:"url" description:"Websocket URL (default derived from the websocket config)"`
	Debug     bool   `long:"debug" description:"Enable debug logging"`
}

func printCommand(cmd force.Command) {
	fmt.Printf("%s  x: %6.1f  y: %6.1f  n: %6.1f\n", time.Now().Format("15:04:05.000"), cmd.X, cmd.Y, cmd.N)
}

// websocketURL turns a listen address such as ":8080" into a dialable URL.
func websocketURL(cfg force.WebSocketConfig) string {
	host := cfg.Addr
	if len(host) > 0 && host[0] == ':' {
		host = "localhost" + host
	}
	return "ws://" + host + cfg.Path
}

func (c *EchoCommand) Execute(args []string) error {
	cfg, err := force.LoadConfigFrom(opts.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if c.Transport != "" {
		cfg.Transport = c.Transport
	}

	logger, err := logging.New(c.Debug, "")
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cfg.Transport {
	case force.TransportMQTT:
		sub, err := mqtt.Subscribe(mqtt.Config{
			Broker:   cfg.MQTT.Broker,
			ClientID: fmt.Sprintf("%s-echo-%d", cfg.MQTT.ClientID, os.Getpid()),
			Topic:    cfg.MQTT.Topic,
		}, printCommand, logger)
		if err != nil {
			return err
		}
		<-ctx.Done()
		return sub.Close()

	case force.TransportWebSocket:
		url := c.URL
		if url == "" {
			url = websocketURL(cfg.WebSocket)
		}
		logger.Infow("watching", "url", url)
		return ws.Watch(ctx, url, printCommand)
	}

	return fmt.Errorf("echo supports mqtt and websocket, not %q", cfg.Transport)
}
