package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
)

// RunSummary describes a finished harvest.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Stubs      int       `json:"stubs"`
	Details    int       `json:"details"`
	Skipped    int       `json:"skipped"`
	Records    int       `json:"records"`
	Artifacts  []string  `json:"artifacts"`
}

// Duration is the wall time of the run.
func (s RunSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// PubSubNotifier publishes run summaries to a topic.
type PubSubNotifier struct {
	topic *pubsub.Topic
}

// NewPubSubNotifier binds to an existing topic.
func NewPubSubNotifier(ctx context.Context, client *pubsub.Client, topicID string) (*PubSubNotifier, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	if topicID == "" {
		return nil, fmt.Errorf("pubsub.topic is required")
	}
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check pubsub topic %q: %w", topicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %q does not exist", topicID)
	}
	return &PubSubNotifier{topic: topic}, nil
}

// Notify publishes summary and waits for the server to accept it.
func (n *PubSubNotifier) Notify(ctx context.Context, summary RunSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal run summary: %w", err)
	}
	result := n.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"run_id": summary.RunID},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish run summary: %w", err)
	}
	return nil
}

// Close flushes and stops the topic publisher.
func (n *PubSubNotifier) Close() {
	n.topic.Stop()
}
