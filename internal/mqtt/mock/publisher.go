// Package mock provides a recording mqtt.Publisher for tests.
package mock

import (
	"context"
	"strings"
	"sync"
)

// Message is one recorded publish.
type Message struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

// Publisher records every publish. Err, when set, is returned instead.
type Publisher struct {
	mu       sync.Mutex
	messages []Message
	Err      error
}

func (p *Publisher) Publish(_ context.Context, topic string, qos byte, retained bool, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	cp := append([]byte(nil), payload...)
	p.messages = append(p.messages, Message{Topic: topic, QoS: qos, Retained: retained, Payload: cp})
	return nil
}

// Messages returns a copy of everything published so far.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.messages...)
}

// OnTopicSuffix returns the messages whose topic ends with suffix, e.g. "/revoke".
func (p *Publisher) OnTopicSuffix(suffix string) []Message {
	var out []Message
	for _, m := range p.Messages() {
		if strings.HasSuffix(m.Topic, suffix) {
			out = append(out, m)
		}
	}
	return out
}
