package runstream

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/stoewer/go-runstream/event"
)

// MetadataKind is the watermill message metadata key holding the outcome kind.
const MetadataKind = "outcome_kind"

// WatermillSink publishes stream outcomes to a watermill Publisher, so that they can be distributed
// through a message bus to multiple subscribers.
type WatermillSink struct {
	publisher message.Publisher
	topic     string
}

// NewWatermillSink creates a new WatermillSink that publishes to the given publisher and topic.
func NewWatermillSink(publisher message.Publisher, topic string) *WatermillSink {
	return &WatermillSink{
		publisher: publisher,
		topic:     topic,
	}
}

// OutcomeMessage is the JSON payload of a published outcome.
type OutcomeMessage struct {
	Kind    string             `json:"kind"`
	Event   *event.Event       `json:"event,omitempty"`
	Output  *event.OutputChunk `json:"output,omitempty"`
	Error   string             `json:"error,omitempty"`
	Attempt int                `json:"attempt,omitempty"`
	WaitMS  int64              `json:"wait_ms,omitempty"`
}

// PublishOutcome serializes the outcome to JSON and publishes it as a single message.
func (w *WatermillSink) PublishOutcome(outcome Outcome) error {
	body := OutcomeMessage{
		Kind:    outcome.Kind.String(),
		Event:   outcome.Event,
		Output:  outcome.Output,
		Attempt: outcome.Attempt,
		WaitMS:  outcome.Wait.Milliseconds()}
	if outcome.Err != nil {
		body.Error = outcome.Err.Error()
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "unable to marshal outcome")
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetadataKind, body.Kind)

	err = w.publisher.Publish(w.topic, msg)
	if err != nil {
		return errors.Wrapf(err, "unable to publish outcome to topic %s", w.topic)
	}

	log.Trace().Str("topic", w.topic).Str("kind", body.Kind).Msg("published outcome")
	return nil
}

// Forward publishes every outcome of source until a Closed outcome was published or ctx is done.
// Publishing errors are logged and do not stop forwarding. Like Consume, Forward stops at a Closed
// outcome left over from an earlier Connect/Disconnect cycle of the same stream.
func (w *WatermillSink) Forward(ctx context.Context, source OutcomeSource) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case outcome := <-source.Outcomes():
			if err := w.PublishOutcome(outcome); err != nil {
				log.Warn().Err(err).Msg("failed to forward outcome")
			}
			if outcome.Kind == Closed {
				return nil
			}
		}
	}
}
