package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	// Score events
	ScoreAccepted = "scores.accepted"
	ScoreRejected = "scores.rejected"

	// Leaderboard events
	LeaderboardPruned = "leaderboard.pruned"
)

// BaseEvent contains common event fields
type BaseEvent struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	Metadata  Metadata        `json:"metadata"`
}

// Metadata contains event metadata
type Metadata struct {
	CorrelationID string            `json:"correlation_id"`
	Source        string            `json:"source"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// ScoreAcceptedData is published after a verified submission is stored
type ScoreAcceptedData struct {
	Address string    `json:"address"`
	Score   int64     `json:"score"`
	TxHash  string    `json:"tx_hash"`
	PaidAt  time.Time `json:"paid_at"`
}

// ScoreRejectedData is published when a submission is turned away
type ScoreRejectedData struct {
	Address string `json:"address,omitempty"`
	TxHash  string `json:"tx_hash,omitempty"`
	Reason  string `json:"reason"`
}

// PrunedData reports entries removed by a prune pass
type PrunedData struct {
	Removed  int64 `json:"removed"`
	Capacity int   `json:"capacity"`
}

// NewEvent creates a new event
func NewEvent(eventType string, data interface{}, metadata Metadata) (*BaseEvent, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &BaseEvent{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      dataBytes,
		Metadata:  metadata,
	}, nil
}

// ParseData parses event data into the given type
func (e *BaseEvent) ParseData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}
