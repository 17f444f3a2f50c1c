package types

import (
	"time"

	"github.com/google/uuid"
)

// PipelineEvent is an append-only record of a state transition or
// externally significant action, keyed by application or document id.
type PipelineEvent struct {
	ID        uuid.UUID      `json:"id"`
	SubjectID uuid.UUID      `json:"subject_id"`
	EventType string         `json:"event_type"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
