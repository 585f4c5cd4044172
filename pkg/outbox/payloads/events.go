package payloads

import "github.com/google/uuid"

// NotificationEvent is the data block shared by every ledger event routed to
// the notification topic.
type NotificationEvent struct {
	Subject     string    `json:"subject"`
	SubjectID   uuid.UUID `json:"subject_id"`
	UserID      uuid.UUID `json:"user_id"`
	Status      string    `json:"status"`
	AmountCents int64     `json:"amount_cents"`
	ServiceName string    `json:"service_name"`
	AdminNotes  *string   `json:"admin_notes,omitempty"`
}
