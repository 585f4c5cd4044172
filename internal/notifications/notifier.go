// Package notifications hands ledger state changes to the notification
// pipeline. Messages are rendered downstream; this package only records
// that a transition happened, inside the transaction that made it.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/payment-ledger/pkg/enums"
	"github.com/angelmondragon/payment-ledger/pkg/outbox"
	"github.com/angelmondragon/payment-ledger/pkg/outbox/payloads"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Subject names the aggregate a notification is about.
type Subject string

const (
	SubjectPayment       Subject = "payment"
	SubjectRefundRequest Subject = "refund_request"
)

// Notification is the collaborator contract: who, what state, how much.
type Notification struct {
	Event       enums.OutboxEventType
	Subject     Subject
	SubjectID   uuid.UUID
	UserID      uuid.UUID
	ActorID     *uuid.UUID
	ActorRole   string
	Status      string
	AmountCents int64
	ServiceName string
	AdminNotes  *string
	OccurredAt  time.Time
}

const payloadVersion = 1

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Notifier writes notification requests to the transactional outbox.
type Notifier struct {
	outbox outboxEmitter
}

func NewNotifier(emitter outboxEmitter) (*Notifier, error) {
	if emitter == nil {
		return nil, errors.New("outbox emitter required")
	}
	return &Notifier{outbox: emitter}, nil
}

// Notify must be called with the transaction that committed the transition.
func (n *Notifier) Notify(ctx context.Context, tx *gorm.DB, note Notification) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if note.SubjectID == uuid.Nil {
		return errors.New("notification subject id required")
	}
	aggregate, err := aggregateFor(note.Subject)
	if err != nil {
		return err
	}
	eventType := note.Event
	if eventType == "" {
		eventType = enums.EventNotificationRequested
	}
	if !eventType.IsValid() {
		return fmt.Errorf("unknown notification event %q", eventType)
	}

	var actor *outbox.ActorRef
	if note.ActorID != nil {
		actor = &outbox.ActorRef{UserID: *note.ActorID, Role: note.ActorRole}
	}

	return n.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: aggregate,
		AggregateID:   note.SubjectID,
		Actor:         actor,
		Version:       payloadVersion,
		OccurredAt:    note.OccurredAt,
		Data: payloads.NotificationEvent{
			Subject:     string(note.Subject),
			SubjectID:   note.SubjectID,
			UserID:      note.UserID,
			Status:      note.Status,
			AmountCents: note.AmountCents,
			ServiceName: note.ServiceName,
			AdminNotes:  note.AdminNotes,
		},
	})
}

func aggregateFor(subject Subject) (enums.OutboxAggregateType, error) {
	switch subject {
	case SubjectPayment:
		return enums.AggregatePayment, nil
	case SubjectRefundRequest:
		return enums.AggregateRefundRequest, nil
	}
	return "", fmt.Errorf("unknown notification subject %q", subject)
}
