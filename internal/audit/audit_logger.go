package audit

import (
	"encoding/json"
	"log"
	"time"
)

type AuditEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	EventType   string    `json:"event_type"`
	ReferenceID string    `json:"reference_id,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
	SourceIP    string    `json:"source_ip,omitempty"`
	Amount      float64   `json:"amount,omitempty"`
	Status      string    `json:"status"`
	Details     any       `json:"details,omitempty"`
}

// Logger emits one JSON line per balance-affecting or rejected event. The
// trail is what fraud review works from, so every postback attempt is
// recorded regardless of outcome.
type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogPostback(referenceID, userID, sourceIP string, amount float64, status string) {
	a.log(AuditEvent{
		Timestamp:   time.Now(),
		EventType:   "POSTBACK",
		ReferenceID: referenceID,
		UserID:      userID,
		SourceIP:    sourceIP,
		Amount:      amount,
		Status:      status,
	})
}

func (a *Logger) LogRejection(sourceIP, reason string) {
	a.log(AuditEvent{
		Timestamp: time.Now(),
		EventType: "POSTBACK",
		SourceIP:  sourceIP,
		Status:    "REJECTED",
		Details:   map[string]string{"reason": reason},
	})
}

func (a *Logger) LogWithdrawal(referenceID, userID string, amount float64, status string) {
	a.log(AuditEvent{
		Timestamp:   time.Now(),
		EventType:   "WITHDRAWAL",
		ReferenceID: referenceID,
		UserID:      userID,
		Amount:      amount,
		Status:      status,
	})
}

func (a *Logger) LogError(referenceID, userID string, err error) {
	a.log(AuditEvent{
		Timestamp:   time.Now(),
		EventType:   "ERROR",
		ReferenceID: referenceID,
		UserID:      userID,
		Status:      "FAILED",
		Details:     map[string]string{"error": err.Error()},
	})
}

func (a *Logger) log(event AuditEvent) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
