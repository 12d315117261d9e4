// Package domain contains the payment event dedup ledger and the
// reconciler contract.
package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// WebhookEvent is the dedup ledger. The unique event_id index is the
// sole dedup mechanism: a failed insert means the event was already
// processed, closing the race between two concurrent deliveries.
type WebhookEvent struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	EventID    string       `json:"event_id" gorm:"type:text;not null;uniqueIndex:ux_webhook_events_event_id"`
	EventType  string       `json:"event_type" gorm:"type:text;not null"`
	ReceivedAt time.Time    `json:"received_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }

// Event is a verified, parsed payment-processor event.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	InvoiceID string          `json:"invoice_id"`
	Raw       json.RawMessage `json:"-"`
}

// Outcome reports how a delivery was handled. Duplicate and
// unrecognized deliveries are acknowledged, not errors.
type Outcome struct {
	Duplicate bool `json:"duplicate"`
	Processed bool `json:"processed"`
}

type Service interface {
	// VerifySignature checks the signature over the exact raw wire
	// bytes and parses the payload. The error never reveals which
	// check failed.
	VerifySignature(raw []byte, signatureHeader string) (*Event, error)

	// CheckAndRecordEvent inserts the dedup record. duplicate=true
	// means the event was already recorded and must not be re-applied.
	CheckAndRecordEvent(ctx context.Context, eventID, eventType string) (bool, error)

	// RouteEvent applies a recognized event's state transition.
	// Unrecognized types return processed=false without error.
	RouteEvent(ctx context.Context, event *Event) (bool, error)

	// HandleDelivery is the full webhook path: verify, dedup, route.
	HandleDelivery(ctx context.Context, raw []byte, signatureHeader string) (*Outcome, error)
}

// ErrSignatureVerification is deliberately generic: callers can never
// tell a missing secret from a bad signature or a malformed payload.
var ErrSignatureVerification = errors.New("signature_verification_failed")
