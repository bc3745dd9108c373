package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"pkt.systems/pslog"

	"pkt.systems/ledgerd/internal/svcfields"
)

// DefaultExchange receives audit events when none is configured.
const DefaultExchange = "ledgerd.audit"

const (
	amqpBuffer      = 1024
	amqpRoutingBase = "tool."
	redialDelay     = 2 * time.Second
)

// AMQPConfig configures an AMQPSink.
type AMQPConfig struct {
	URL      string
	Exchange string
	Logger   pslog.Logger
}

// AMQPSink publishes events as JSON to a topic exchange with routing key
// "tool.<outcome>". Events are queued in memory and published by a single
// goroutine; when the queue is full new events are dropped and logged.
type AMQPSink struct {
	url      string
	exchange string
	logger   pslog.Logger

	events chan Event
	done   chan struct{}
	once   sync.Once

	conn *amqp.Connection
	ch   *amqp.Channel
}

// DialAMQP connects, declares the exchange and starts the publisher.
func DialAMQP(cfg AMQPConfig) (*AMQPSink, error) {
	s := &AMQPSink{
		url:      cfg.URL,
		exchange: cfg.Exchange,
		logger:   svcfields.WithSubsystem(cfg.Logger, "audit.amqp"),
		events:   make(chan Event, amqpBuffer),
		done:     make(chan struct{}),
	}
	if s.exchange == "" {
		s.exchange = DefaultExchange
	}
	if err := s.connect(); err != nil {
		return nil, err
	}
	go s.run()
	return s, nil
}

func (s *AMQPSink) connect() error {
	conn, err := amqp.Dial(s.url)
	if err != nil {
		return fmt.Errorf("audit: dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("audit: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		s.exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("audit: declare exchange %s: %w", s.exchange, err)
	}
	s.conn, s.ch = conn, ch
	return nil
}

func (s *AMQPSink) disconnect() {
	if s.ch != nil {
		s.ch.Close()
		s.ch = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// Record implements Sink.
func (s *AMQPSink) Record(_ context.Context, ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("audit.amqp.dropped", svcfields.CallKey, ev.CallID, svcfields.ToolKey, ev.Tool)
	}
}

func (s *AMQPSink) run() {
	defer close(s.done)
	defer s.disconnect()
	for ev := range s.events {
		if err := s.publish(ev); err != nil {
			s.logger.Warn("audit.amqp.publish_failed", svcfields.CallKey, ev.CallID, "error", err)
		}
	}
}

// publish sends ev, redialing once when the connection has gone away.
func (s *AMQPSink) publish(ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.At,
		MessageId:    ev.CallID,
		Body:         body,
	}
	key := amqpRoutingBase + string(ev.Outcome)
	if s.ch != nil {
		if err := s.ch.Publish(s.exchange, key, false, false, msg); err == nil {
			return nil
		}
	}
	s.disconnect()
	if err := s.connect(); err != nil {
		time.Sleep(redialDelay)
		return err
	}
	return s.ch.Publish(s.exchange, key, false, false, msg)
}

// Close drains queued events and closes the connection.
func (s *AMQPSink) Close() error {
	s.once.Do(func() {
		close(s.events)
	})
	<-s.done
	return nil
}
