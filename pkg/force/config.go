package force

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Transport names accepted in Config.Transport.
const (
	TransportLog       = "log"
	TransportMQTT      = "mqtt"
	TransportWebSocket = "websocket"
	TransportServo     = "servo"
)

// Transports lists the supported transports in display order.
func Transports() []string {
	return []string{TransportMQTT, TransportWebSocket, TransportServo, TransportLog}
}

// Config holds the teleoperation configuration
type Config struct {
	// RepeatRate is the publish rate in Hz. Zero publishes only on change.
	RepeatRate float64 `json:"repeat_rate"`
	// KeyTimeout is the key poll timeout in seconds. Zero blocks until a key arrives.
	KeyTimeout float64 `json:"key_timeout"`

	Transport string          `json:"transport"`
	MQTT      MQTTConfig      `json:"mqtt"`
	WebSocket WebSocketConfig `json:"websocket"`
	Servo     ServoConfig     `json:"servo"`
}

// MQTTConfig holds broker settings for the MQTT transport
type MQTTConfig struct {
	Broker   string `json:"broker"`
	ClientID string `json:"client_id"`
	Topic    string `json:"topic"`
}

// WebSocketConfig holds listener settings for the websocket transport
type WebSocketConfig struct {
	Addr string `json:"addr"`
	Path string `json:"path"`
}

// ServoConfig holds bus settings for the servo thruster transport
type ServoConfig struct {
	Port      string      `json:"port"`
	Thrusters Calibration `json:"thrusters,omitempty"`
}

// IsCalibrated returns true if every thruster has calibration data
func (s *ServoConfig) IsCalibrated() bool {
	for _, name := range AllThrusters() {
		if _, ok := s.Thrusters[name]; !ok {
			return false
		}
	}
	return true
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Transport: TransportMQTT,
		MQTT: MQTTConfig{
			Broker:   "tcp://localhost:1883",
			ClientID: "keyforce",
			Topic:    "force_control",
		},
		WebSocket: WebSocketConfig{
			Addr: ":8080",
			Path: "/force_control",
		},
		Servo: ServoConfig{
			Thrusters: DefaultCalibration(),
		},
	}
}

// LoadConfigFrom loads configuration from a specific file. Fields absent
// from the file keep their defaults; a missing file yields DefaultConfig.
func LoadConfigFrom(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// SaveTo saves configuration to a specific file
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ConfigExists returns true if a config file exists at path
func ConfigExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Validate checks the values a session depends on.
func (c *Config) Validate() error {
	if c.RepeatRate < 0 {
		return fmt.Errorf("repeat_rate must not be negative, got %g", c.RepeatRate)
	}
	if c.KeyTimeout < 0 {
		return fmt.Errorf("key_timeout must not be negative, got %g", c.KeyTimeout)
	}

	switch c.Transport {
	case TransportLog:
	case TransportMQTT:
		if c.MQTT.Broker == "" {
			return errors.New("mqtt.broker is required")
		}
		if c.MQTT.Topic == "" {
			return errors.New("mqtt.topic is required")
		}
	case TransportWebSocket:
		if c.WebSocket.Addr == "" {
			return errors.New("websocket.addr is required")
		}
	case TransportServo:
		if c.Servo.Port == "" {
			return errors.New("servo.port is required")
		}
		if !c.Servo.IsCalibrated() {
			return errors.New("servo.thrusters must calibrate surge, sway and yaw")
		}
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	return nil
}
