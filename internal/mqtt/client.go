// Package mqtt is the server's connection to the broker: retained revoke messages, device
// commands and the presence subscription.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/kiranshivaraju/trapfleet/internal/config"
)

// Sentinel errors for broker failures.
var (
	ErrNotConnected   = errors.New("mqtt client not connected")
	ErrPublishTimeout = errors.New("mqtt publish timeout")
)

// Publisher sends one message to the broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error
}

// MessageHandler receives messages from a subscription.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// Client implements Publisher over an eclipse/paho connection.
type Client struct {
	conn    paho.Client
	timeout time.Duration

	mu   sync.Mutex
	subs map[string]MessageHandler
}

// Connect dials the broker and waits up to cfg.ConnectTimeout for the session. Subscriptions
// registered with Subscribe are restored after every reconnect.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{timeout: cfg.ConnectTimeout, subs: make(map[string]MessageHandler)}

	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			slog.Warn("mqtt connection lost", "error", err)
		})

	c.conn = paho.NewClient(opts)
	tok := c.conn.Connect()
	if !tok.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("connect to broker %s: timed out after %s", cfg.BrokerURL, cfg.ConnectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker %s: %w", cfg.BrokerURL, err)
	}
	return c, nil
}

func (c *Client) onConnect(conn paho.Client) {
	slog.Info("mqtt connected")
	c.mu.Lock()
	subs := make(map[string]MessageHandler, len(c.subs))
	for topic, h := range c.subs {
		subs[topic] = h
	}
	c.mu.Unlock()

	for topic, h := range subs {
		if err := c.subscribe(conn, topic, h); err != nil {
			slog.Error("mqtt resubscribe failed", "topic", topic, "error", err)
		}
	}
}

func (c *Client) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	if !c.conn.IsConnectionOpen() {
		return ErrNotConnected
	}
	tok := c.conn.Publish(topic, qos, retained, payload)
	return c.wait(ctx, tok)
}

// Subscribe registers h for topic and subscribes immediately.
func (c *Client) Subscribe(topic string, h MessageHandler) error {
	c.mu.Lock()
	c.subs[topic] = h
	c.mu.Unlock()
	return c.subscribe(c.conn, topic, h)
}

func (c *Client) subscribe(conn paho.Client, topic string, h MessageHandler) error {
	tok := conn.Subscribe(topic, 1, func(_ paho.Client, msg paho.Message) {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		h(ctx, msg.Topic(), msg.Payload())
	})
	return c.wait(context.Background(), tok)
}

func (c *Client) wait(ctx context.Context, tok paho.Token) error {
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrPublishTimeout
	}
}

// Ping reports whether the broker session is up.
func (c *Client) Ping(_ context.Context) error {
	if !c.conn.IsConnectionOpen() {
		return ErrNotConnected
	}
	return nil
}

// Close disconnects, allowing in-flight work a short grace period.
func (c *Client) Close() {
	c.conn.Disconnect(250)
}
