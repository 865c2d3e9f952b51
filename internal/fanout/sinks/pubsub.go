package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/engagement-tracker/internal/fanout"
)

// PubSubSink publishes one JSON message per event to a Pub/Sub topic.
// Attributes carry the command, the event name and the propagated trace
// context so subscribers can filter without decoding the payload.
type PubSubSink struct {
	topic  *pubsub.Topic
	client *pubsub.Client
}

// NewPubSubSink wraps an existing topic. The caller keeps ownership of the
// topic's client.
func NewPubSubSink(topic *pubsub.Topic) (*PubSubSink, error) {
	if topic == nil {
		return nil, errors.New("pubsub topic is required")
	}
	return &PubSubSink{topic: topic}, nil
}

// OpenPubSubSink dials Pub/Sub with Application Default Credentials and
// verifies the topic exists.
func OpenPubSubSink(ctx context.Context, projectID, topicID string) (*PubSubSink, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	ok, err := topic.Exists(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("check pubsub topic %q: %w", topicID, err)
	}
	if !ok {
		_ = client.Close()
		return nil, fmt.Errorf("pubsub topic %q does not exist", topicID)
	}
	return &PubSubSink{topic: topic, client: client}, nil
}

// Name implements fanout.Named.
func (s *PubSubSink) Name() string { return "pubsub" }

// Consume publishes the batch and waits for every result.
func (s *PubSubSink) Consume(ctx context.Context, batch []fanout.Event) error {
	results := make([]*pubsub.PublishResult, 0, len(batch))
	for _, evt := range batch {
		data, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", evt.ID, err)
		}
		msg := &pubsub.Message{
			Data: data,
			Attributes: map[string]string{
				"event_id": evt.ID,
				"command":  evt.Command,
				"name":     evt.Name,
			},
		}
		if len(evt.Trace) > 0 {
			maps.Copy(msg.Attributes, evt.Trace)
		} else {
			otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})
		}
		results = append(results, s.topic.Publish(ctx, msg))
	}
	var errs []error
	for _, res := range results {
		if _, err := res.Get(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("publish events: %w", err)
	}
	return nil
}

// Close flushes pending publishes and releases the client when owned.
func (s *PubSubSink) Close(context.Context) error {
	s.topic.Stop()
	if s.client == nil {
		return nil
	}
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
