package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/zlog"

	"github.com/stagefox/rockstar-booth/internal/model"
)

// archive defines the interface for persisting generation events.
type archive interface {
	SaveEvent(ctx context.Context, ev model.GenerationEvent) (uuid.UUID, error)
}

// CompletedHandler handles Kafka messages for items that reached a
// terminal status and archives them for the history endpoint.
type CompletedHandler struct {
	archive archive
}

// NewCompletedHandler creates a new handler with the given archive.
func NewCompletedHandler(a archive) *CompletedHandler {
	return &CompletedHandler{archive: a}
}

// Handle unmarshals a generation event and stores it in the archive.
func (h *CompletedHandler) Handle(ctx context.Context, msg kafka.Message) error {
	var ev model.GenerationEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return fmt.Errorf("unmarshal event: %w", err)
	}

	id, err := h.archive.SaveEvent(ctx, ev)
	if err != nil {
		return fmt.Errorf("archive event: %w", err)
	}

	zlog.Logger.Printf("event archived: %s (%s/%s)", id, ev.SessionID, ev.Key)

	return nil
}
