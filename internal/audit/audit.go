package audit

import (
	"encoding/json"
	"log"
	"time"

	"github.com/shopspring/decimal"
)

// Event is one structured audit line emitted for a ledger mutation. These
// complement the durable salary_histories rows: histories capture the data
// delta, events capture the operational outcome (including failures, which
// never reach the histories table).
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	SubjectID int64     `json:"subject_id,omitempty"`
	ActorID   *int64    `json:"actor_id,omitempty"`
	Status    string    `json:"status"`
	Details   any       `json:"details,omitempty"`
}

type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogEntryCreated(subjectID int64, actorID *int64, displayedTotal decimal.Decimal) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "ENTRY_CREATED",
		SubjectID: subjectID,
		ActorID:   actorID,
		Status:    "SUCCESS",
		Details:   map[string]string{"displayed_total": displayedTotal.StringFixed(2)},
	})
}

func (a *Logger) LogEntryUpdated(subjectID int64, actorID *int64, oldTotal, newTotal decimal.Decimal, reason string) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "ENTRY_UPDATED",
		SubjectID: subjectID,
		ActorID:   actorID,
		Status:    "SUCCESS",
		Details: map[string]string{
			"old_displayed_total": oldTotal.StringFixed(2),
			"new_displayed_total": newTotal.StringFixed(2),
			"reason":              reason,
		},
	})
}

func (a *Logger) LogBulkUpdate(batchID string, actorID *int64, successCount, failureCount int) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: "BULK_UPDATE",
		ActorID:   actorID,
		Status:    "SUCCESS",
		Details: map[string]any{
			"batch_id":      batchID,
			"success_count": successCount,
			"failure_count": failureCount,
		},
	})
}

func (a *Logger) LogError(operation string, subjectID int64, err error) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: operation,
		SubjectID: subjectID,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	})
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
