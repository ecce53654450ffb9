package model

import (
	"time"

	"github.com/google/uuid"
)

// GenerationEvent records one item reaching a terminal status. Events
// are published to the queue and archived for the history endpoint.
type GenerationEvent struct {
	SessionID  uuid.UUID  `json:"session_id"`
	Key        string     `json:"key"`
	Status     ItemStatus `json:"status"`
	ResultPath string     `json:"result_path,omitempty"`
	ErrMessage string     `json:"error,omitempty"`
	Duration   int64      `json:"duration_ms"`
	OccurredAt time.Time  `json:"occurred_at"`
}
