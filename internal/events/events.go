// Package events publishes facility changes to Kafka and consumes inspection
// results submitted by other systems.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"

	"github.com/lox/sanitrack/internal/grading"
	"github.com/lox/sanitrack/internal/metrics"
	"github.com/lox/sanitrack/internal/scoring"
)

type Type string

const (
	TypeInspectionRecorded Type = "inspection.recorded"
	TypeFacilityCreated    Type = "facility.created"
	TypeFacilityUpdated    Type = "facility.updated"
	TypeFacilityDeleted    Type = "facility.deleted"
)

// Alternative names a better facility suggested alongside a poor result.
type Alternative struct {
	FacilityID int64         `json:"toilet_id"`
	Name       string        `json:"name"`
	Grade      grading.Grade `json:"grade"`
	DistanceKM float64       `json:"distance_km"`
}

// Event is one entry in the change feed.
type Event struct {
	Type         Type               `json:"type"`
	FacilityID   int64              `json:"toilet_id"`
	InspectionID string             `json:"inspection_id,omitempty"`
	Score        float64            `json:"score"`
	Grade        grading.Grade      `json:"grade"`
	Provenance   scoring.Provenance `json:"provenance,omitempty"`
	Alternatives []Alternative      `json:"alternatives,omitempty"`
	At           time.Time          `json:"at"`
}

// Publisher delivers change events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events keyed by facility id so all changes to one
// facility land on the same partition in order.
type KafkaPublisher struct {
	w messageWriter
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	err = p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(ev.FacilityID, 10)),
		Value: b,
		Time:  ev.At,
	})
	metrics.EventsPublished.WithLabelValues("kafka", metrics.Status(err)).Inc()
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

// InspectionMessage is an inspection submitted through the intake topic.
// Score, when present, bypasses signal scoring.
type InspectionMessage struct {
	FacilityID  int64    `json:"toilet_id"`
	InspectorID string   `json:"inspector_id,omitempty"`
	LitterCount int      `json:"litter_count"`
	WetFloor    bool     `json:"wet_floor_detected"`
	Overflow    bool     `json:"overflow_detected"`
	Score       *float64 `json:"score,omitempty"`
}

// Signals returns the message's inspection signals.
func (m InspectionMessage) Signals() scoring.Signals {
	return scoring.Signals{LitterCount: m.LitterCount, WetFloor: m.WetFloor, Overflow: m.Overflow}
}

// Handler processes one decoded intake message.
type Handler func(ctx context.Context, msg InspectionMessage, raw []byte) error

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Consumer reads inspection messages from the intake topic.
type Consumer struct {
	r      messageReader
	logger *slog.Logger
	// retry paces reads after a broker error. Nil uses readBackOff.
	retry backoff.BackOff
}

func readBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0
	return bo
}

func NewConsumer(brokers []string, topic, groupID string, logger *slog.Logger) *Consumer {
	return &Consumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10e6,
			MaxWait:  500 * time.Millisecond,
		}),
		logger: logger,
		retry:  readBackOff(),
	}
}

// Run consumes until ctx is cancelled. Undecodable or rejected messages are
// logged and skipped. Read errors back off before the next attempt.
func (c *Consumer) Run(ctx context.Context, handle Handler) {
	defer c.r.Close()
	bo := c.retry
	if bo == nil {
		bo = readBackOff()
	}
	bo.Reset()
	for {
		m, err := c.r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := bo.NextBackOff()
			if wait == backoff.Stop {
				bo.Reset()
				wait = bo.NextBackOff()
			}
			c.logger.Warn("kafka read error", "err", err, "retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()

		var msg InspectionMessage
		if err := json.Unmarshal(m.Value, &msg); err != nil {
			c.logger.Warn("kafka decode error", "err", err, "offset", m.Offset)
			continue
		}
		if msg.FacilityID <= 0 {
			c.logger.Warn("kafka message missing toilet_id", "offset", m.Offset)
			continue
		}
		if err := handle(ctx, msg, m.Value); err != nil {
			c.logger.Warn("kafka inspection rejected", "err", err, "toilet_id", msg.FacilityID)
		}
	}
}
