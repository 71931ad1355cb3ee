package services

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"nextbb-automation/models"
)

// Event is a domain event emitted by a collaborator after its own state change committed.
type Event struct {
	ID         string             `json:"id"`
	Type       models.TriggerType `json:"type"`
	SubjectID  string             `json:"user_id"`
	Payload    map[string]any     `json:"payload,omitempty"`
	OccurredAt time.Time          `json:"occurred_at"`
}

// Context is the condition context: payload fields plus user_id and event_type.
func (e Event) Context() map[string]any {
	ctx := make(map[string]any, len(e.Payload)+2)
	for k, v := range e.Payload {
		ctx[k] = v
	}
	ctx["user_id"] = e.SubjectID
	ctx["event_type"] = string(e.Type)
	return ctx
}

// validate rejects events the bus cannot route. CRON is reserved for the scheduler.
func (e Event) validate() error {
	ve := &ValidationError{}
	switch {
	case !e.Type.Valid():
		ve.add("unknown event type %q", e.Type)
	case e.Type == models.TriggerCron:
		ve.add("CRON events are produced by the scheduler only")
	}
	if e.SubjectID == "" {
		ve.add("user_id is required")
	} else if _, err := uuid.Parse(e.SubjectID); err != nil {
		ve.add("user_id must be a uuid")
	}
	return ve.orNil()
}

func (e Event) String() string {
	return fmt.Sprintf("%s(%s) for %s", e.Type, e.ID, e.SubjectID)
}
