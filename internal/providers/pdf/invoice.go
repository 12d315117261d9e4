// Package pdf renders invoices into PDF documents.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// InvoiceDocument is the render-ready view of an invoice. Amounts are
// preformatted strings so the renderer never touches money arithmetic.
type InvoiceDocument struct {
	InvoiceNumber string
	Status        string
	TeamName      string
	BundleCodes   string
	PeriodStart   string
	PeriodEnd     string
	Currency      string
	Total         string

	Items []InvoiceLine
}

type InvoiceLine struct {
	MeterKey   string
	ChargeType string
	Quantity   string
	UnitPrice  string
	Amount     string
	Note       string
}

type Renderer interface {
	RenderInvoice(ctx context.Context, doc InvoiceDocument) (io.Reader, error)
}

type marotoRenderer struct{}

func New() Renderer {
	return &marotoRenderer{}
}

func (r *marotoRenderer) RenderInvoice(ctx context.Context, doc InvoiceDocument) (io.Reader, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(10,
		text.NewCol(12, "Invoice", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)

	m.AddRow(24,
		col.New(6).Add(
			text.New("Invoice number: "+doc.InvoiceNumber, props.Text{Top: 0}),
			text.New("Status: "+doc.Status, props.Text{Top: 4}),
			text.New(fmt.Sprintf("Service period: %s to %s", doc.PeriodStart, doc.PeriodEnd), props.Text{Top: 8}),
		),
		col.New(6).Add(
			text.New("Billed to: "+doc.TeamName, props.Text{Top: 0}),
			text.New("Bundles: "+doc.BundleCodes, props.Text{Top: 4}),
			text.New("Currency: "+doc.Currency, props.Text{Top: 8}),
		),
	)

	m.AddRow(10,
		text.NewCol(4, "Meter", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Charge", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Qty", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Unit price", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	for _, item := range doc.Items {
		label := item.MeterKey
		if item.Note != "" {
			label = fmt.Sprintf("%s (%s)", item.MeterKey, item.Note)
		}
		m.AddRow(12,
			text.NewCol(4, label, props.Text{Size: 9}),
			text.NewCol(2, item.ChargeType, props.Text{Size: 9}),
			text.NewCol(2, item.Quantity, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, item.UnitPrice, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, item.Amount, props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(12,
		col.New(8),
		text.NewCol(2, "Total", props.Text{Style: fontstyle.Bold, Size: 10}),
		text.NewCol(2, doc.Total, props.Text{Style: fontstyle.Bold, Size: 10, Align: align.Right}),
	)

	rendered, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(rendered.GetBytes()), nil
}
