// Package notify delivers job lifecycle notifications: Kafka events for
// downstream consumers and webhook callbacks to the job's submitter. All
// delivery is best-effort; the sync path never depends on it.
package notify

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"outreach-sync-engine/internal/syncjob/domain"
)

// JobEventMessage is the JSON payload written for each lifecycle event.
type JobEventMessage struct {
	JobID      string          `json:"job_id"`
	Event      string          `json:"event"`
	Mode       string          `json:"mode"`
	Status     string          `json:"status"`
	Error      string          `json:"error,omitempty"`
	Summary    *domain.Summary `json:"summary,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// KafkaNotifier writes job lifecycle events to a Kafka topic using segmentio/kafka-go.
type KafkaNotifier struct {
	writer *kafka.Writer
	topic  string
}

// NewKafkaNotifier creates a notifier writing to the given topic. Returns nil
// when brokers or topic are unset, so callers can wire it unconditionally.
// Call Close when shutting down.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaNotifier{writer: writer, topic: topic}
}

// JobEvent serializes the event as JSON and writes it, keyed by job id so one
// job's events stay ordered within a partition.
func (n *KafkaNotifier) JobEvent(ctx context.Context, job *domain.Job, event string) error {
	if n == nil || n.writer == nil || job == nil {
		return nil
	}
	msg := JobEventMessage{
		JobID:      job.ID,
		Event:      event,
		Mode:       string(job.Mode),
		Status:     string(job.Status),
		Error:      job.Error,
		OccurredAt: time.Now().UTC(),
	}
	if job.Status.IsTerminal() {
		msg.Summary = job.Summary
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err = n.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(job.ID),
		Value: payload,
	})
	if err != nil {
		log.Printf("notify: kafka emit failed: %v", err)
		return err
	}
	return nil
}

// Close closes the Kafka writer. Safe to call multiple times.
func (n *KafkaNotifier) Close() error {
	if n == nil || n.writer == nil {
		return nil
	}
	return n.writer.Close()
}
