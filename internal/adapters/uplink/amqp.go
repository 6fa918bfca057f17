// Package uplink publishes relay messages to an AMQP broker instead of the
// mesh. Bench nodes with network access use it so the collector side can be
// exercised without a provisioned mesh.
package uplink

import (
	"context"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/streadway/amqp"

	"meshbeacon/internal/domain"
	"meshbeacon/internal/ports"
)

const (
	exchangeTypeDirect = "direct"

	routingKeyObservation = "beacon.observation"
	routingKeySensor      = "beacon.sensor"
)

type Config struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

func (c *Config) ApplyDefaults() {
	if c.Exchange == "" {
		c.Exchange = "beacon"
	}
}

func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}
	return nil
}

// Session is an AMQP-backed ports.MeshSession. The node token travels in the
// Authorization header so the collector can attribute messages.
type Session struct {
	cfg Config

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	auth    string
}

func NewSession(cfg Config) *Session {
	cfg.ApplyDefaults()
	return &Session{cfg: cfg}
}

func (s *Session) Open(ctx context.Context, identity domain.NodeIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil && !s.conn.IsClosed() {
		return fmt.Errorf("uplink session already open")
	}

	connect := func() error {
		conn, err := amqp.Dial(s.cfg.URL)
		if err != nil {
			return err
		}
		channel, err := conn.Channel()
		if err != nil {
			conn.Close()
			return err
		}
		s.conn = conn
		s.channel = channel
		return nil
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	if err := backoff.Retry(connect, bo); err != nil {
		return errors.Wrap(err, "uplink connect")
	}

	if err := s.channel.ExchangeDeclare(
		s.cfg.Exchange,
		exchangeTypeDirect,
		true,  // durable
		false, // delete when complete
		false, // internal
		false, // noWait
		nil,   // arguments
	); err != nil {
		return errors.Wrap(err, "declare exchange")
	}

	s.auth = identity.String()
	return nil
}

func (s *Session) Send(ctx context.Context, kind ports.MessageKind, payload []byte) error {
	s.mu.Lock()
	channel := s.channel
	auth := s.auth
	s.mu.Unlock()
	if channel == nil {
		return fmt.Errorf("uplink session not open")
	}

	key := routingKeyObservation
	if kind == ports.MessageKindSensor {
		key = routingKeySensor
	}

	err := channel.Publish(
		s.cfg.Exchange,
		key,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			Headers:      amqp.Table{"Authorization": auth},
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         payload,
		},
	)
	if err != nil {
		return errors.Wrap(err, "uplink publish")
	}
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.channel != nil {
		defer s.channel.Close()
		s.channel = nil
	}
	if s.conn != nil && !s.conn.IsClosed() {
		defer s.conn.Close()
		s.conn = nil
	}
	return nil
}

var _ ports.MeshSession = (*Session)(nil)
