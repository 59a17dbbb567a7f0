package ledger

import "time"

// InvoiceStatus describes where an invoice sits in its payment lifecycle.
type InvoiceStatus string

const (
	StatusPending InvoiceStatus = "pending"
	StatusPartial InvoiceStatus = "partial"
	StatusPaid    InvoiceStatus = "paid"
	StatusOverdue InvoiceStatus = "overdue"
	// StatusDataInconsistent marks invoices whose paid amount had to be
	// clamped into [0, total] before summing.
	StatusDataInconsistent InvoiceStatus = "data-inconsistent"
)

// PaymentMethod identifies how an installment was collected.
type PaymentMethod string

const (
	MethodCash         PaymentMethod = "cash"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodOnline       PaymentMethod = "online"
	MethodCheque       PaymentMethod = "cheque"
	MethodCard         PaymentMethod = "card"
)

// Valid returns true when the method is a supported value.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodBankTransfer, MethodOnline, MethodCheque, MethodCard:
		return true
	default:
		return false
	}
}

// Invoice is one billing document for a student. PendingAmount is never
// stored; it is always derived from the other two amounts.
type Invoice struct {
	InvoiceNo   string        `json:"invoice_no"`
	StudentID   string        `json:"student_id"`
	TotalAmount float64       `json:"total_amount"`
	PaidAmount  float64       `json:"paid_amount"`
	Status      InvoiceStatus `json:"status"`
	InvoiceDate time.Time     `json:"invoice_date"`
	DueDate     *time.Time    `json:"due_date,omitempty"`
}

// PendingAmount is the derived outstanding balance.
func (inv Invoice) PendingAmount() float64 {
	return inv.TotalAmount - inv.PaidAmount
}

// Installment is one discrete payment against an invoice. Installments are
// append-only; they are never edited after creation.
type Installment struct {
	TransactionNo string        `json:"transaction_no"`
	InvoiceNo     string        `json:"invoice_no"`
	Amount        float64       `json:"amount"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	PaymentDate   time.Time     `json:"payment_date"`
	CollectedBy   string        `json:"collected_by,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	// Orphaned is set during normalization when the referenced invoice is
	// missing from the student's invoice set. Orphaned installments still
	// count toward paid totals.
	Orphaned bool `json:"orphaned,omitempty"`
}

// EffectiveDate is the date used for ordering and month grouping:
// the payment date, falling back to the record creation time.
func (ins Installment) EffectiveDate() time.Time {
	if !ins.PaymentDate.IsZero() {
		return ins.PaymentDate
	}
	return ins.CreatedAt
}

// Summary aggregates a student's invoices.
type Summary struct {
	TotalFee   float64   `json:"total_fee"`
	TotalPaid  float64   `json:"total_paid"`
	PendingFee float64   `json:"pending_fee"`
	Invoices   []Invoice `json:"invoices"`
}

// MonthGroup is one calendar month of installments, keyed YYYY-MM.
type MonthGroup struct {
	Month        string        `json:"month"`
	TotalAmount  float64       `json:"total_amount"`
	Transactions []Installment `json:"transactions"`
}

// TimelineEntry pairs an installment with the running total of all
// payments up to and including it.
type TimelineEntry struct {
	Installment  Installment `json:"installment"`
	RunningTotal float64     `json:"running_total"`
}

// History is the full ledger view served to the student-history page.
type History struct {
	Summary  Summary         `json:"summary"`
	Monthly  []MonthGroup    `json:"monthly"`
	Timeline []TimelineEntry `json:"timeline"`
}
