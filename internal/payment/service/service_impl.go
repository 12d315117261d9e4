package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/meterline/meterline/internal/config"
	invoicedomain "github.com/meterline/meterline/internal/invoice/domain"
	"github.com/meterline/meterline/internal/payment/domain"
	"github.com/meterline/meterline/internal/secrets"
	"github.com/meterline/meterline/pkg/db"
)

// recognizedEvents is the fixed set of event types this system acts
// on. Everything else is acknowledged so the processor stops retrying.
var recognizedEvents = map[string]bool{
	"checkout.session.completed":    true,
	"customer.subscription.created": true,
	"customer.subscription.updated": true,
	"customer.subscription.deleted": true,
	"invoice.paid":                  true,
	"invoice.payment_failed":        true,
	"payment_intent.succeeded":      true,
	"payment_intent.payment_failed": true,
}

type Params struct {
	fx.In

	DB       *gorm.DB
	GenID    *snowflake.Node
	Cfg      config.Config
	Cipher   *secrets.Cipher `optional:"true"`
	Invoices invoicedomain.Service
	Log      *zap.Logger
}

type paymentService struct {
	db       *gorm.DB
	genID    *snowflake.Node
	secret   string
	invoices invoicedomain.Service
	log      *zap.Logger
}

func New(p Params) (domain.Service, error) {
	secret, err := resolveSecret(p.Cfg.PaymentWebhookSecret, p.Cipher)
	if err != nil {
		return nil, err
	}
	return &paymentService{
		db:       p.DB,
		genID:    p.GenID,
		secret:   secret,
		invoices: p.Invoices,
		log:      p.Log.Named("payment.service"),
	}, nil
}

// resolveSecret unseals a webhook secret that was stored encrypted
// under SECRETS_KEY. Plaintext secrets pass through unchanged.
func resolveSecret(configured string, cipher *secrets.Cipher) (string, error) {
	if !secrets.Encrypted(configured) {
		return configured, nil
	}
	if cipher == nil {
		return "", errors.New("payment webhook secret is encrypted but SECRETS_KEY is unset")
	}
	plain, err := cipher.Decrypt(configured)
	if err != nil {
		return "", fmt.Errorf("decrypt payment webhook secret: %w", err)
	}
	return plain, nil
}

type wireEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			Metadata map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

func (s *paymentService) VerifySignature(raw []byte, signatureHeader string) (*domain.Event, error) {
	if strings.TrimSpace(s.secret) == "" {
		return nil, domain.ErrSignatureVerification
	}

	timestamp, signatures, err := parseSignatureHeader(signatureHeader)
	if err != nil {
		return nil, domain.ErrSignatureVerification
	}

	// The signature covers the exact wire bytes, never a reserialized
	// form of the payload.
	mac := hmac.New(sha256.New, []byte(s.secret))
	fmt.Fprintf(mac, "%s.%s", timestamp, raw)
	expected := hex.EncodeToString(mac.Sum(nil))

	matched := false
	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			matched = true
			break
		}
	}
	if !matched {
		return nil, domain.ErrSignatureVerification
	}

	var wire wireEvent
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, domain.ErrSignatureVerification
	}
	if strings.TrimSpace(wire.ID) == "" || strings.TrimSpace(wire.Type) == "" {
		return nil, domain.ErrSignatureVerification
	}

	return &domain.Event{
		ID:        wire.ID,
		Type:      wire.Type,
		InvoiceID: wire.Data.Object.Metadata["invoice_id"],
		Raw:       raw,
	}, nil
}

func parseSignatureHeader(header string) (string, []string, error) {
	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		switch strings.TrimSpace(keyValue[0]) {
		case "t":
			timestamp = strings.TrimSpace(keyValue[1])
		case "v1":
			signatures = append(signatures, strings.TrimSpace(keyValue[1]))
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature_header")
	}
	return timestamp, signatures, nil
}

func (s *paymentService) CheckAndRecordEvent(ctx context.Context, eventID, eventType string) (bool, error) {
	record := domain.WebhookEvent{
		ID:         s.genID.Generate(),
		EventID:    eventID,
		EventType:  eventType,
		ReceivedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

func (s *paymentService) RouteEvent(ctx context.Context, event *domain.Event) (bool, error) {
	if !recognizedEvents[event.Type] {
		s.log.Debug("unrecognized payment event acknowledged", zap.String("event_type", event.Type))
		return false, nil
	}

	switch event.Type {
	case "invoice.paid", "payment_intent.succeeded":
		return true, s.applyPaid(ctx, event)
	case "invoice.payment_failed", "payment_intent.payment_failed":
		s.log.Warn("payment failed for invoice",
			zap.String("event_id", event.ID),
			zap.String("invoice_id", event.InvoiceID),
		)
		return true, nil
	default:
		// Subscription lifecycle and checkout completion carry no
		// invoice state transition yet.
		s.log.Info("payment event received",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
		)
		return true, nil
	}
}

func (s *paymentService) applyPaid(ctx context.Context, event *domain.Event) error {
	invoiceID, err := snowflake.ParseString(strings.TrimSpace(event.InvoiceID))
	if err != nil || invoiceID == 0 {
		s.log.Warn("paid event without usable invoice reference", zap.String("event_id", event.ID))
		return nil
	}

	_, err = s.invoices.MarkPaid(ctx, invoiceID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, invoicedomain.ErrInvoiceNotFound):
		s.log.Warn("paid event for unknown invoice",
			zap.String("event_id", event.ID),
			zap.String("invoice_id", event.InvoiceID),
		)
		return nil
	case errors.Is(err, invoicedomain.ErrInvalidInvoiceStatus):
		// Already PAID or VOID. Reconciliation is idempotent.
		return nil
	default:
		return err
	}
}

func (s *paymentService) HandleDelivery(ctx context.Context, raw []byte, signatureHeader string) (*domain.Outcome, error) {
	event, err := s.VerifySignature(raw, signatureHeader)
	if err != nil {
		return nil, err
	}

	// The dedup insert is the first durable action. A crash after it
	// drops the event on retry instead of applying it twice: favoring
	// no-duplicate-effects over guaranteed-eventual-effect is the
	// accepted trade-off here.
	duplicate, err := s.CheckAndRecordEvent(ctx, event.ID, event.Type)
	if err != nil {
		return nil, err
	}
	if duplicate {
		return &domain.Outcome{Duplicate: true}, nil
	}

	processed, err := s.RouteEvent(ctx, event)
	if err != nil {
		return nil, err
	}
	return &domain.Outcome{Processed: processed}, nil
}
