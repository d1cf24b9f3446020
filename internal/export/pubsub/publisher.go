// Package pubsub announces completed scans on a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/bangumi-scanner/internal/export"
	"github.com/JakeFAU/bangumi-scanner/internal/scan"
)

// Notification is the JSON payload published for each completed run.
type Notification struct {
	RunID      string    `json:"run_id"`
	RangeBegin int64     `json:"range_begin"`
	RangeEnd   int64     `json:"range_end"`
	Records    int       `json:"records"`
	Output     string    `json:"output"`
	SHA256     string    `json:"sha256,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// Publisher wraps a Pub/Sub topic.
type Publisher struct {
	topic *pubsub.Topic
	// lastID is the server-assigned id of the last published message.
	lastID string
}

// New creates a Publisher for the provided topic.
func New(topic *pubsub.Topic) *Publisher {
	return &Publisher{topic: topic}
}

// Name identifies the exporter in logs.
func (p *Publisher) Name() string { return "pubsub" }

// MessageID returns the id of the last published notification.
func (p *Publisher) MessageID() string { return p.lastID }

// Export marshals the run summary to JSON and publishes it to the topic.
func (p *Publisher) Export(ctx context.Context, summary export.Summary, _ []scan.Record) error {
	if p.topic == nil {
		return fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(Notification{
		RunID:      summary.RunID.String(),
		RangeBegin: summary.RangeBegin,
		RangeEnd:   summary.RangeEnd,
		Records:    summary.Records,
		Output:     summary.Output,
		SHA256:     summary.SHA256,
		FinishedAt: summary.FinishedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"run_id": summary.RunID.String(), "type": "scan.completed"},
	}
	result := p.topic.Publish(ctx, msg)
	id, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	p.lastID = id
	return nil
}

// Stop flushes pending messages and releases the topic's goroutines.
func (p *Publisher) Stop() {
	if p.topic != nil {
		p.topic.Stop()
	}
}
