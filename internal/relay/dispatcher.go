package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfman30/chatbot-relay/internal/media"
	"github.com/wolfman30/chatbot-relay/internal/observability/metrics"
	"github.com/wolfman30/chatbot-relay/pkg/logging"
)

// Sender is the outbound half of a channel adapter.
type Sender interface {
	SendText(ctx context.Context, to, text string) error
	SendPhoto(ctx context.Context, to, url string) error
	SendAudio(ctx context.Context, to, url string) error
}

// Dispatcher routes answer elements to the matching native send primitive.
type Dispatcher struct {
	channel    string
	sender     Sender
	classifier media.Classifier
	escape     func(string) string
	metrics    *metrics.RelayMetrics
	logger     *logging.Logger
}

// NewDispatcher builds a dispatcher for one channel. escape rewrites text
// elements into the channel's markup; nil sends them as-is.
func NewDispatcher(channel string, sender Sender, classifier media.Classifier, escape func(string) string, m *metrics.RelayMetrics, logger *logging.Logger) *Dispatcher {
	if sender == nil {
		panic("relay: sender cannot be nil")
	}
	if escape == nil {
		escape = func(s string) string { return s }
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		channel:    channel,
		sender:     sender,
		classifier: classifier,
		escape:     escape,
		metrics:    m,
		logger:     logger,
	}
}

// Deliver sends every element of answer to the recipient in order. The first
// failure stops delivery; nothing is retried.
func (d *Dispatcher) Deliver(ctx context.Context, to string, answer Answer) error {
	if answer.IsZero() {
		return errors.New("relay: empty answer")
	}
	if answer.IsSingle() {
		return d.deliverElement(ctx, to, answer.elements[0])
	}
	for i, element := range answer.elements {
		if err := d.deliverElement(ctx, to, element); err != nil {
			return fmt.Errorf("relay: element %d: %w", i, err)
		}
	}
	return nil
}

func (d *Dispatcher) deliverElement(ctx context.Context, to, element string) error {
	kind := d.classifier.Classify(element)
	var err error
	switch kind {
	case media.KindPhoto:
		err = d.sender.SendPhoto(ctx, to, element)
	case media.KindAudio:
		err = d.sender.SendAudio(ctx, to, element)
	default:
		err = d.sender.SendText(ctx, to, d.escape(element))
	}
	d.metrics.ObserveDelivery(d.channel, string(kind), err)
	if err != nil {
		d.logger.Error("relay: delivery failed", "channel", d.channel, "kind", string(kind), "error", err)
		return fmt.Errorf("relay: send %s: %w", kind, err)
	}
	return nil
}
