package ledger

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// RawInvoice mirrors the loose JSON shape the fee data service returns.
// Every field is optional; normalization substitutes documented defaults so
// the computation core never has to null-check.
type RawInvoice struct {
	InvoiceNo   *string  `json:"invoiceNo" validate:"required"`
	StudentID   *string  `json:"studentId"`
	TotalAmount *float64 `json:"totalAmount" validate:"omitempty,gte=0"`
	PaidAmount  *float64 `json:"paidAmount"`
	// PendingAmount is accepted but ignored: the pending balance is always
	// recomputed from total and paid, even when the source stores one.
	PendingAmount *float64   `json:"pendingAmount"`
	Status        *string    `json:"status"`
	InvoiceDate   *time.Time `json:"invoiceDate"`
	DueDate       *time.Time `json:"dueDate"`
}

// RawInstallment mirrors the loose JSON shape for payment installments.
type RawInstallment struct {
	TransactionNo *string    `json:"transactionNo" validate:"required"`
	InvoiceNo     *string    `json:"invoiceId"`
	Amount        *float64   `json:"amount" validate:"omitempty,gt=0"`
	PaymentMethod *string    `json:"paymentMethod"`
	PaymentDate   *time.Time `json:"paymentDate"`
	CollectedBy   *string    `json:"collectedByName"`
	CreatedAt     *time.Time `json:"createdAt"`
}

// NormalizeInvoices converts raw invoice documents into the strict model.
// Missing amounts become 0 and missing strings become empty; no document is
// ever rejected. The second return value counts documents that failed
// validation, for logging at the call site.
func NormalizeInvoices(raws []RawInvoice) ([]Invoice, int) {
	malformed := 0
	out := make([]Invoice, 0, len(raws))
	for _, raw := range raws {
		if err := validate.Struct(raw); err != nil {
			malformed++
		}
		inv := Invoice{
			InvoiceNo:   strVal(raw.InvoiceNo),
			StudentID:   strVal(raw.StudentID),
			TotalAmount: numVal(raw.TotalAmount),
			// Deliberately not clamped here: ComputeSummary clamps and
			// flags out-of-range paid amounts so the inconsistency stays
			// visible on the invoice.
			PaidAmount: floatVal(raw.PaidAmount),
			DueDate:    raw.DueDate,
		}
		if raw.InvoiceDate != nil {
			inv.InvoiceDate = *raw.InvoiceDate
		}
		out = append(out, inv)
	}
	return out, malformed
}

// NormalizeInstallments converts raw installment documents into the strict
// model and annotates installments whose invoice is absent from the
// student's invoice set as orphaned. Orphaned installments stay in the
// result; they still contribute to paid totals.
func NormalizeInstallments(raws []RawInstallment, invoices []Invoice) ([]Installment, int) {
	known := make(map[string]struct{}, len(invoices))
	for _, inv := range invoices {
		known[inv.InvoiceNo] = struct{}{}
	}

	malformed := 0
	out := make([]Installment, 0, len(raws))
	for _, raw := range raws {
		if err := validate.Struct(raw); err != nil {
			malformed++
		}
		ins := Installment{
			TransactionNo: strVal(raw.TransactionNo),
			InvoiceNo:     strVal(raw.InvoiceNo),
			Amount:        numVal(raw.Amount),
			PaymentMethod: PaymentMethod(strings.ToLower(strVal(raw.PaymentMethod))),
			CollectedBy:   strVal(raw.CollectedBy),
		}
		if raw.PaymentDate != nil {
			ins.PaymentDate = *raw.PaymentDate
		}
		if raw.CreatedAt != nil {
			ins.CreatedAt = *raw.CreatedAt
		}
		if _, ok := known[ins.InvoiceNo]; !ok {
			ins.Orphaned = true
		}
		out = append(out, ins)
	}
	return out, malformed
}

func floatVal(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func strVal(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// numVal defaults missing amounts to 0 and clamps negatives, so a corrupt
// document can only under-count, never flip a sign downstream.
func numVal(p *float64) float64 {
	if p == nil || *p < 0 {
		return 0
	}
	return *p
}
