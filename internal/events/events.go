// Package events fans job progress out to interested subscribers. Delivery
// is best-effort at-most-once: clients that need a reliable picture resync
// from the job status endpoint.
package events

import (
	"context"
	"time"
)

// Event type constants
const (
	TypeJobProgress       = "job-progress"
	TypeJobCompleted      = "job-completed"
	TypeJobFailed         = "job-failed"
	TypeInstitutionUpdate = "institution-update"
)

// Event is one progress notification published to a topic
type Event struct {
	Type           string    `json:"type"`
	JobID          string    `json:"job_id"`
	InstitutionID  string    `json:"institution_id"`
	TotalCount     int       `json:"total_count"`
	ProcessedCount int       `json:"processed_count"`
	FailedCount    int       `json:"failed_count"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// JobTopic names the per-job event channel
func JobTopic(jobID string) string {
	return "job:" + jobID
}

// InstitutionTopic names the per-institution event channel
func InstitutionTopic(institutionID string) string {
	return "institution:" + institutionID
}

// Broadcaster publishes events and hands out subscriptions
type Broadcaster interface {
	// Publish delivers the event to current subscribers of the topic.
	// It never blocks on slow subscribers.
	Publish(ctx context.Context, topic string, event Event) error

	// Subscribe returns a channel of events for the topic. The returned
	// cancel function must be called to release the subscription.
	Subscribe(ctx context.Context, topic string) (<-chan Event, func(), error)

	// Close releases all subscriptions
	Close() error
}
