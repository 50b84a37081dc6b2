package models

import "time"

// NotifyTask is a queued notification about a lifecycle change. Tasks are
// persisted so that a restart does not lose pending deliveries.
type NotifyTask struct {
	ID          int64      `json:"id"`
	EventType   string     `json:"event_type"`
	EntityID    int64      `json:"entity_id"`
	Payload     string     `json:"payload"`
	Status      string     `json:"status"` // pending, retry, completed, failed
	RetryCount  int        `json:"retry_count"`
	LastError   string     `json:"last_error"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
}
