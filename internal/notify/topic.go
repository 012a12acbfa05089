package notify

import (
	"context"

	"github.com/JakeFAU/realtime-file-converter/internal/convert"
	"github.com/JakeFAU/realtime-file-converter/internal/metrics"
)

// TopicNotifier forwards updates to a publisher topic.
type TopicNotifier struct {
	publisher convert.Publisher
	topic     string
}

// NewTopicNotifier returns a notifier publishing to topic.
func NewTopicNotifier(publisher convert.Publisher, topic string) *TopicNotifier {
	return &TopicNotifier{publisher: publisher, topic: topic}
}

// Notify publishes the update.
func (n *TopicNotifier) Notify(ctx context.Context, update convert.Update) error {
	_, err := n.publisher.Publish(ctx, n.topic, update)
	metrics.ObserveNotification("topic", err)
	return err
}
