package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Receipt carries the fields printed onto a payment receipt.
type Receipt struct {
	Reference    string
	Purpose      string
	Amount       int64
	Currency     string
	PaidAt       time.Time
	PayerEmail   string
	DiscountCode string
	Discount     int64
	Lines        []ReceiptLine
}

// ReceiptLine is one labelled row on the receipt body.
type ReceiptLine struct {
	Label string
	Value string
}

// ReceiptExporter renders paid-payment receipts as PDF.
type ReceiptExporter struct {
	organisation string
}

// NewReceiptExporter constructs an exporter stamped with the organisation name.
func NewReceiptExporter(organisation string) *ReceiptExporter {
	if organisation == "" {
		organisation = "Billing"
	}
	return &ReceiptExporter{organisation: organisation}
}

// Render produces the PDF bytes for a receipt.
func (e *ReceiptExporter) Render(r Receipt) ([]byte, error) {
	if r.Reference == "" {
		return nil, fmt.Errorf("receipt requires a payment reference")
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 20, 15)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, strings.ToUpper(e.organisation), "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 11)
	pdf.CellFormat(0, 8, "Payment Receipt", "", 1, "C", false, 0, "")
	pdf.Ln(6)

	lines := []ReceiptLine{
		{Label: "Reference", Value: r.Reference},
		{Label: "Purpose", Value: strings.ReplaceAll(r.Purpose, "_", " ")},
		{Label: "Amount", Value: formatMinorUnit(r.Amount, r.Currency)},
	}
	if r.Discount > 0 {
		lines = append(lines,
			ReceiptLine{Label: "Discount", Value: fmt.Sprintf("%s (-%s)", r.DiscountCode, formatMinorUnit(r.Discount, r.Currency))},
		)
	}
	if !r.PaidAt.IsZero() {
		lines = append(lines, ReceiptLine{Label: "Paid at", Value: r.PaidAt.UTC().Format("January 2, 2006 15:04 MST")})
	}
	if r.PayerEmail != "" {
		lines = append(lines, ReceiptLine{Label: "Billed to", Value: r.PayerEmail})
	}
	lines = append(lines, r.Lines...)

	pdf.SetFont("Arial", "", 10)
	for _, line := range lines {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(50, 8, line.Label, "B", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(130, 8, line.Value, "B", 1, "", false, 0, "")
	}

	pdf.Ln(10)
	pdf.SetFont("Arial", "I", 8)
	pdf.CellFormat(0, 6, fmt.Sprintf("Generated %s", time.Now().UTC().Format(time.RFC1123)), "", 1, "", false, 0, "")

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render receipt pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// formatMinorUnit renders a minor-currency-unit amount with two decimals.
func formatMinorUnit(amount int64, currency string) string {
	if currency == "" {
		currency = "NGN"
	}
	return fmt.Sprintf("%s %d.%02d", currency, amount/100, amount%100)
}
