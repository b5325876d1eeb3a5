// Package events fans out per-run progress events to live subscribers.
// Events are transient and never persisted.
package events

import "time"

// EventType classifies a progress event.
type EventType string

const (
	// EventRunState is the snapshot sent first on every subscription.
	EventRunState EventType = "run_state"
	// EventRunStatus reports a run status transition.
	EventRunStatus EventType = "run_status"
	// EventTestResult reports one finished test.
	EventTestResult EventType = "test_result"
	// EventHeartbeat keeps idle subscriptions alive.
	EventHeartbeat EventType = "heartbeat"
	// EventRunCompleted is the final event; the subscription ends after it.
	EventRunCompleted EventType = "run_completed"
)

// Event is one progress message for a run.
type Event struct {
	RunID     string    `json:"run_id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}
