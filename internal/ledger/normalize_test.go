package ledger

import (
	"testing"
	"time"
)

func strp(s string) *string        { return &s }
func numf(f float64) *float64      { return &f }
func timep(t time.Time) *time.Time { return &t }

func TestNormalizeInvoicesDefaultsMissingFields(t *testing.T) {
	raws := []RawInvoice{
		{InvoiceNo: strp("INV-1"), TotalAmount: numf(1000), PaidAmount: numf(400)},
		{}, // everything missing
	}
	invoices, malformed := NormalizeInvoices(raws)
	if len(invoices) != 2 {
		t.Fatalf("invoices = %d, want 2 (malformed documents are kept)", len(invoices))
	}
	if malformed != 1 {
		t.Errorf("malformed = %d, want 1", malformed)
	}
	if invoices[1].InvoiceNo != "" || invoices[1].TotalAmount != 0 || invoices[1].PaidAmount != 0 {
		t.Errorf("empty document should normalize to zero values, got %+v", invoices[1])
	}
}

func TestNormalizeInvoicesIgnoresStoredPendingAmount(t *testing.T) {
	// The source sometimes stores a stale pendingAmount; it must never
	// survive normalization.
	raws := []RawInvoice{{
		InvoiceNo:     strp("INV-1"),
		TotalAmount:   numf(1000),
		PaidAmount:    numf(400),
		PendingAmount: numf(9999),
	}}
	invoices, _ := NormalizeInvoices(raws)
	if got := invoices[0].PendingAmount(); got != 600 {
		t.Errorf("pending = %.0f, want 600 (recomputed, not trusted)", got)
	}
}

func TestNormalizeInvoicesKeepsOutOfRangePaidAmount(t *testing.T) {
	raws := []RawInvoice{{InvoiceNo: strp("INV-1"), TotalAmount: numf(100), PaidAmount: numf(150)}}
	invoices, _ := NormalizeInvoices(raws)
	// Clamping happens in ComputeSummary so the invoice gets flagged there.
	if invoices[0].PaidAmount != 150 {
		t.Errorf("paid = %.0f, want 150 passed through", invoices[0].PaidAmount)
	}
	sum := ComputeSummary(invoices, time.Now())
	if sum.Invoices[0].Status != StatusDataInconsistent {
		t.Errorf("status = %s, want %s", sum.Invoices[0].Status, StatusDataInconsistent)
	}
}

func TestNormalizeInstallmentsFlagsOrphans(t *testing.T) {
	invoices := []Invoice{{InvoiceNo: "INV-1"}}
	raws := []RawInstallment{
		{TransactionNo: strp("T1"), InvoiceNo: strp("INV-1"), Amount: numf(100)},
		{TransactionNo: strp("T2"), InvoiceNo: strp("INV-MISSING"), Amount: numf(50)},
	}
	installments, malformed := NormalizeInstallments(raws, invoices)
	if malformed != 0 {
		t.Errorf("malformed = %d, want 0", malformed)
	}
	if installments[0].Orphaned {
		t.Error("T1 flagged orphaned with its invoice present")
	}
	if !installments[1].Orphaned {
		t.Error("T2 not flagged orphaned")
	}
}

func TestNormalizeInstallmentsDefaults(t *testing.T) {
	paid := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	raws := []RawInstallment{
		{TransactionNo: strp("T1"), Amount: numf(-5), PaymentMethod: strp("CASH"), PaymentDate: timep(paid)},
		{Amount: numf(0)}, // missing transaction no, zero amount
	}
	installments, malformed := NormalizeInstallments(raws, nil)
	if malformed != 2 {
		t.Errorf("malformed = %d, want 2", malformed)
	}
	if installments[0].Amount != 0 {
		t.Errorf("negative amount = %.0f, want clamped to 0", installments[0].Amount)
	}
	if installments[0].PaymentMethod != MethodCash {
		t.Errorf("method = %s, want %s (case-folded)", installments[0].PaymentMethod, MethodCash)
	}
	if !installments[0].EffectiveDate().Equal(paid) {
		t.Error("effective date should be the payment date when present")
	}
}
