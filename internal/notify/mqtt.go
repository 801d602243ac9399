// Package notify propagates blocklist changes to device agents over MQTT.
package notify

import (
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Config holds the broker connection settings.
type Config struct {
	Broker         string
	Topic          string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	Retain         bool
	ConnectTimeout time.Duration
}

// Client is the subset of an MQTT client the notifier uses.
type Client interface {
	Connect() error
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Disconnect()
}

// pahoClient adapts the paho client to Client. Every blocking call is bounded
// by timeout.
type pahoClient struct {
	c       mqtt.Client
	timeout time.Duration
}

// NewPahoClient builds a paho client that reconnects on its own after the
// first successful connect.
func NewPahoClient(cfg Config, logger *zap.Logger) Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetOrderMatters(false).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("mqtt connection lost", zap.String("broker", cfg.Broker), zap.Error(err))
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			logger.Info("mqtt connected", zap.String("broker", cfg.Broker))
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	return &pahoClient{c: mqtt.NewClient(opts), timeout: cfg.ConnectTimeout}
}

func (p *pahoClient) Connect() error {
	return wait(p.c.Connect(), p.timeout, "connect")
}

func (p *pahoClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	return wait(p.c.Publish(topic, qos, retained, payload), p.timeout, "publish")
}

func (p *pahoClient) Disconnect() {
	p.c.Disconnect(250)
}

func wait(tok mqtt.Token, timeout time.Duration, op string) error {
	if !tok.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt %s: timed out after %s", op, timeout)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt %s: %w", op, err)
	}
	return nil
}

// errClosed is returned when a message is queued after Stop.
var errClosed = errors.New("notifier stopped")
