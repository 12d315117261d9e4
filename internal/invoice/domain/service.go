package domain

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// Generate creates an ad hoc invoice for an explicit window,
	// outside the scheduled period-close flow.
	Generate(ctx context.Context, teamID snowflake.ID, periodStart, periodEnd time.Time) (*Invoice, error)

	GetByID(ctx context.Context, id snowflake.ID) (*Invoice, error)

	// Export renders the invoice as a PDF document.
	Export(ctx context.Context, id snowflake.ID) (io.Reader, error)

	// MarkPaid transitions DRAFT or ISSUED to PAID.
	MarkPaid(ctx context.Context, id snowflake.ID) (*Invoice, error)

	// MarkVoid cancels a non-PAID invoice.
	MarkVoid(ctx context.Context, id snowflake.ID) (*Invoice, error)
}

var (
	ErrInvoiceNotFound      = errors.New("invoice_not_found")
	ErrInvalidInvoiceStatus = errors.New("invalid_invoice_status")
	ErrInvalidPeriod        = errors.New("invalid_period")
)
