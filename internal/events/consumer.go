package events

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sirupsen/logrus"

	kafka "github.com/segmentio/kafka-go"

	"github.com/orderpulse/realtime-connector/internal/broadcast"
	"github.com/orderpulse/realtime-connector/internal/domain"
	"github.com/orderpulse/realtime-connector/internal/platform/logger"
	"github.com/orderpulse/realtime-connector/internal/protocol"
)

var errUnroutableEvent = errors.New("unroutable bridge event")

// BridgeEvent is the message format backend services publish on the events
// topic to reach connected devices.
type BridgeEvent struct {
	Type        string          `json:"type"`
	TenantID    string          `json:"tenant_id"`
	Data        json.RawMessage `json:"data,omitempty"`
	TargetUser  string          `json:"target_user,omitempty"`
	TargetTypes []string        `json:"target_types,omitempty"`
	ExcludeUser string          `json:"exclude_user,omitempty"`
}

// Consumer pulls bridge events off Kafka and fans them out to the websocket
// connections this instance owns.
type Consumer struct {
	reader      *kafka.Reader
	broadcaster *broadcast.Broadcaster
}

func NewConsumer(reader *kafka.Reader, broadcaster *broadcast.Broadcaster) *Consumer {
	return &Consumer{
		reader:      reader,
		broadcaster: broadcaster,
	}
}

// Run consumes until the context is canceled or the reader is closed.
func (c *Consumer) Run(ctx context.Context) {
	logger.Log.Info("Event bridge consumer - waiting on messages from kafka...")

	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Log.Info("Event bridge consumer leaving...")
				return
			}
			logger.Log.WithFields(logrus.Fields{"error": err}).Error("Event bridge consumer - error reading message")
			return
		}

		var event BridgeEvent
		if err := json.Unmarshal(m.Value, &event); err != nil {
			logger.Log.WithFields(logrus.Fields{"error": err}).Error("Unable to unmarshal message from the events topic")
			metrics.eventsDroppedCounter.With(map[string]string{"reason": "unmarshal"}).Inc()
			continue
		}

		if err := DispatchBridgeEvent(ctx, c.broadcaster, event); err != nil {
			logger.Log.WithFields(logrus.Fields{
				"error":     err,
				"type":      event.Type,
				"tenant_id": event.TenantID}).Error("Unable to dispatch a bridge event")
			metrics.eventsDroppedCounter.With(map[string]string{"reason": "dispatch"}).Inc()
			continue
		}

		metrics.eventsConsumedCounter.With(map[string]string{"type": event.Type}).Inc()
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DispatchBridgeEvent converts a bridge event into an envelope and routes it.
// A target user narrows delivery to that user's connections, target types
// narrow it to the named device types, otherwise the event follows the
// default audience for its kind.
func DispatchBridgeEvent(ctx context.Context, broadcaster *broadcast.Broadcaster, event BridgeEvent) error {
	kind := protocol.ParseMessageKind(event.Type)
	if kind == protocol.KindUnknown {
		return errUnroutableEvent
	}

	if event.TenantID == "" {
		return errUnroutableEvent
	}

	var payload interface{}
	if len(event.Data) > 0 {
		payload = event.Data
	}

	envelope, err := protocol.BuildEnvelope(kind, domain.TenantID(event.TenantID), payload)
	if err != nil {
		return err
	}

	if event.TargetUser != "" {
		broadcaster.SendToUser(ctx, domain.UserID(event.TargetUser), envelope)
		return nil
	}

	if len(event.TargetTypes) > 0 {
		for _, targetType := range event.TargetTypes {
			connectionType := domain.ConnectionType(targetType)
			if !connectionType.Valid() {
				continue
			}
			broadcaster.SendToType(ctx, domain.TenantID(event.TenantID), connectionType, envelope)
		}
		return nil
	}

	RouteEnvelope(ctx, broadcaster, envelope, domain.UserID(event.ExcludeUser))

	return nil
}
