package ledger

import (
	"math/rand"
	"testing"
	"time"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestComputeSummary(t *testing.T) {
	asOf := day(2024, 6, 1)
	invoices := []Invoice{
		{InvoiceNo: "INV-1", TotalAmount: 1000, PaidAmount: 600},
		{InvoiceNo: "INV-2", TotalAmount: 500, PaidAmount: 500},
	}
	sum := ComputeSummary(invoices, asOf)
	if sum.TotalFee != 1500 || sum.TotalPaid != 1100 || sum.PendingFee != 400 {
		t.Fatalf("summary = {%.0f %.0f %.0f}, want {1500 1100 400}", sum.TotalFee, sum.TotalPaid, sum.PendingFee)
	}
	if got := sum.Invoices[0].Status; got != StatusPartial {
		t.Errorf("INV-1 status = %s, want %s", got, StatusPartial)
	}
	if got := sum.Invoices[1].Status; got != StatusPaid {
		t.Errorf("INV-2 status = %s, want %s", got, StatusPaid)
	}
}

func TestComputeSummaryStatuses(t *testing.T) {
	asOf := day(2024, 6, 1)
	past := day(2024, 5, 1)
	future := day(2024, 7, 1)
	tests := []struct {
		name string
		inv  Invoice
		want InvoiceStatus
	}{
		{"untouched", Invoice{TotalAmount: 100}, StatusPending},
		{"partial", Invoice{TotalAmount: 100, PaidAmount: 40}, StatusPartial},
		{"paid", Invoice{TotalAmount: 100, PaidAmount: 100}, StatusPaid},
		{"overdue", Invoice{TotalAmount: 100, PaidAmount: 40, DueDate: &past}, StatusOverdue},
		{"due later", Invoice{TotalAmount: 100, PaidAmount: 40, DueDate: &future}, StatusPartial},
		{"paid beats overdue", Invoice{TotalAmount: 100, PaidAmount: 100, DueDate: &past}, StatusPaid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sum := ComputeSummary([]Invoice{tt.inv}, asOf)
			if got := sum.Invoices[0].Status; got != tt.want {
				t.Errorf("status = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestComputeSummaryClampsCorruptPaidAmount(t *testing.T) {
	asOf := day(2024, 6, 1)
	tests := []struct {
		name     string
		inv      Invoice
		wantPaid float64
	}{
		{"overpaid", Invoice{TotalAmount: 100, PaidAmount: 150}, 100},
		{"negative", Invoice{TotalAmount: 100, PaidAmount: -20}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sum := ComputeSummary([]Invoice{tt.inv}, asOf)
			if sum.TotalPaid != tt.wantPaid {
				t.Errorf("totalPaid = %.0f, want %.0f", sum.TotalPaid, tt.wantPaid)
			}
			if sum.PendingFee < 0 {
				t.Errorf("pendingFee = %.0f, want >= 0", sum.PendingFee)
			}
			if got := sum.Invoices[0].Status; got != StatusDataInconsistent {
				t.Errorf("status = %s, want %s", got, StatusDataInconsistent)
			}
		})
	}
}

func TestComputeSummaryPendingNeverNegativeForValidInput(t *testing.T) {
	asOf := day(2024, 6, 1)
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		var invoices []Invoice
		for j := 0; j < rng.Intn(8); j++ {
			total := float64(rng.Intn(10000))
			paid := total * rng.Float64()
			invoices = append(invoices, Invoice{TotalAmount: total, PaidAmount: paid})
		}
		sum := ComputeSummary(invoices, asOf)
		if sum.PendingFee < 0 {
			t.Fatalf("pendingFee = %f for valid input", sum.PendingFee)
		}
		if diff := sum.PendingFee - (sum.TotalFee - sum.TotalPaid); diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("pendingFee %f != totalFee-totalPaid %f", sum.PendingFee, sum.TotalFee-sum.TotalPaid)
		}
	}
}

func TestComputeMonthlyBreakdown(t *testing.T) {
	installments := []Installment{
		{TransactionNo: "T3", Amount: 150, PaymentDate: day(2024, 2, 3)},
		{TransactionNo: "T1", Amount: 200, PaymentDate: day(2024, 1, 5)},
		{TransactionNo: "T2", Amount: 300, PaymentDate: day(2024, 1, 20)},
	}
	groups := ComputeMonthlyBreakdown(installments)
	if len(groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(groups))
	}
	if groups[0].Month != "2024-01" || groups[0].TotalAmount != 500 {
		t.Errorf("group[0] = %s/%.0f, want 2024-01/500", groups[0].Month, groups[0].TotalAmount)
	}
	if groups[1].Month != "2024-02" || groups[1].TotalAmount != 150 {
		t.Errorf("group[1] = %s/%.0f, want 2024-02/150", groups[1].Month, groups[1].TotalAmount)
	}
	if got := groups[0].Transactions[0].TransactionNo; got != "T1" {
		t.Errorf("first txn in 2024-01 = %s, want T1", got)
	}
}

func TestComputeMonthlyBreakdownConservesAmounts(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var installments []Installment
	var want float64
	for i := 0; i < 50; i++ {
		amount := float64(1 + rng.Intn(500))
		want += amount
		installments = append(installments, Installment{
			TransactionNo: string(rune('A' + i%26)),
			Amount:        amount,
			PaymentDate:   day(2024, time.Month(1+rng.Intn(12)), 1+rng.Intn(28)),
		})
	}
	groups := ComputeMonthlyBreakdown(installments)
	var got float64
	for _, g := range groups {
		var inGroup float64
		for _, txn := range g.Transactions {
			inGroup += txn.Amount
		}
		if inGroup != g.TotalAmount {
			t.Fatalf("group %s total %.0f != sum of transactions %.0f", g.Month, g.TotalAmount, inGroup)
		}
		got += g.TotalAmount
	}
	if got != want {
		t.Fatalf("sum over groups %.0f != sum over installments %.0f", got, want)
	}
}

func TestComputeMonthlyBreakdownFallsBackToCreatedAt(t *testing.T) {
	installments := []Installment{
		{TransactionNo: "T1", Amount: 100, CreatedAt: day(2024, 3, 10)},
	}
	groups := ComputeMonthlyBreakdown(installments)
	if len(groups) != 1 || groups[0].Month != "2024-03" {
		t.Fatalf("groups = %+v, want single 2024-03 group", groups)
	}
}

func TestComputeTimeline(t *testing.T) {
	installments := []Installment{
		{TransactionNo: "T2", Amount: 300, PaymentDate: day(2024, 1, 20)},
		{TransactionNo: "T3", Amount: 150, PaymentDate: day(2024, 2, 3)},
		{TransactionNo: "T1", Amount: 200, PaymentDate: day(2024, 1, 5)},
	}
	entries := ComputeTimeline(installments)
	wantTotals := []float64{200, 500, 650}
	wantOrder := []string{"T1", "T2", "T3"}
	if len(entries) != len(wantTotals) {
		t.Fatalf("entries = %d, want %d", len(entries), len(wantTotals))
	}
	for i, e := range entries {
		if e.Installment.TransactionNo != wantOrder[i] {
			t.Errorf("entry[%d] = %s, want %s", i, e.Installment.TransactionNo, wantOrder[i])
		}
		if e.RunningTotal != wantTotals[i] {
			t.Errorf("runningTotal[%d] = %.0f, want %.0f", i, e.RunningTotal, wantTotals[i])
		}
	}
}

func TestComputeTimelineOrderIndependent(t *testing.T) {
	base := []Installment{
		{TransactionNo: "T1", Amount: 200, PaymentDate: day(2024, 1, 5)},
		{TransactionNo: "T2", Amount: 300, PaymentDate: day(2024, 1, 5)},
		{TransactionNo: "T3", Amount: 150, PaymentDate: day(2024, 2, 3)},
		{TransactionNo: "T4", Amount: 50, CreatedAt: day(2024, 2, 10)},
	}
	want := ComputeTimeline(base)

	rng := rand.New(rand.NewSource(99))
	for i := 0; i < 20; i++ {
		shuffled := make([]Installment, len(base))
		copy(shuffled, base)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got := ComputeTimeline(shuffled)
		for j := range want {
			if got[j].Installment.TransactionNo != want[j].Installment.TransactionNo {
				t.Fatalf("shuffle %d: order differs at %d: %s vs %s", i, j, got[j].Installment.TransactionNo, want[j].Installment.TransactionNo)
			}
			if got[j].RunningTotal != want[j].RunningTotal {
				t.Fatalf("shuffle %d: running total differs at %d", i, j)
			}
		}
	}
}

func TestComputeTimelineDoesNotMutateInput(t *testing.T) {
	installments := []Installment{
		{TransactionNo: "T2", Amount: 1, PaymentDate: day(2024, 2, 1)},
		{TransactionNo: "T1", Amount: 1, PaymentDate: day(2024, 1, 1)},
	}
	_ = ComputeTimeline(installments)
	if installments[0].TransactionNo != "T2" {
		t.Fatal("input slice was reordered")
	}
}

func TestBuildHistoryKeepsOrphanedInstallments(t *testing.T) {
	invoices := []Invoice{{InvoiceNo: "INV-1", TotalAmount: 500, PaidAmount: 200}}
	installments := []Installment{
		{TransactionNo: "T1", InvoiceNo: "INV-1", Amount: 200, PaymentDate: day(2024, 1, 5)},
		{TransactionNo: "T2", InvoiceNo: "INV-GONE", Amount: 100, PaymentDate: day(2024, 1, 8), Orphaned: true},
	}
	h := BuildHistory(invoices, installments, day(2024, 6, 1))
	if len(h.Timeline) != 2 {
		t.Fatalf("timeline entries = %d, want 2 (orphans included)", len(h.Timeline))
	}
	if !h.Timeline[1].Installment.Orphaned {
		t.Error("orphaned installment lost its flag")
	}
	if h.Timeline[1].RunningTotal != 300 {
		t.Errorf("running total = %.0f, want 300 (orphans count toward paid)", h.Timeline[1].RunningTotal)
	}
	if len(h.Monthly) != 1 || len(h.Monthly[0].Transactions) != 2 {
		t.Error("orphaned installment missing from monthly view")
	}
}
