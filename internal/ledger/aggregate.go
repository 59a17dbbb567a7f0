package ledger

import (
	"sort"
	"time"
)

// ComputeSummary totals a student's invoices. Invoices with a paid amount
// outside [0, total] are clamped before summing and flagged
// data-inconsistent instead of propagating a negative or over-100% figure.
// For well-formed input the returned PendingFee is never negative.
func ComputeSummary(invoices []Invoice, asOf time.Time) Summary {
	out := Summary{Invoices: make([]Invoice, 0, len(invoices))}
	for _, inv := range invoices {
		inconsistent := false
		if inv.PaidAmount < 0 {
			inv.PaidAmount = 0
			inconsistent = true
		}
		if inv.PaidAmount > inv.TotalAmount {
			inv.PaidAmount = inv.TotalAmount
			inconsistent = true
		}
		if inconsistent {
			inv.Status = StatusDataInconsistent
		} else {
			inv.Status = deriveInvoiceStatus(inv, asOf)
		}
		out.TotalFee += inv.TotalAmount
		out.TotalPaid += inv.PaidAmount
		out.Invoices = append(out.Invoices, inv)
	}
	out.PendingFee = out.TotalFee - out.TotalPaid
	return out
}

func deriveInvoiceStatus(inv Invoice, asOf time.Time) InvoiceStatus {
	switch {
	case inv.PendingAmount() <= 0 && inv.TotalAmount > 0:
		return StatusPaid
	case inv.DueDate != nil && asOf.After(*inv.DueDate):
		return StatusOverdue
	case inv.PaidAmount > 0:
		return StatusPartial
	default:
		return StatusPending
	}
}

// ComputeMonthlyBreakdown groups installments by the calendar month of
// their effective date. Groups are returned oldest month first; within a
// group installments are ordered by payment date, ties broken by
// transaction number, so output is deterministic for any input order.
func ComputeMonthlyBreakdown(installments []Installment) []MonthGroup {
	byMonth := make(map[string][]Installment)
	for _, ins := range installments {
		key := ins.EffectiveDate().Format("2006-01")
		byMonth[key] = append(byMonth[key], ins)
	}

	months := make([]string, 0, len(byMonth))
	for m := range byMonth {
		months = append(months, m)
	}
	sort.Strings(months)

	groups := make([]MonthGroup, 0, len(months))
	for _, m := range months {
		txns := byMonth[m]
		sortInstallments(txns)
		g := MonthGroup{Month: m, Transactions: txns}
		for _, ins := range txns {
			g.TotalAmount += ins.Amount
		}
		groups = append(groups, g)
	}
	return groups
}

// ComputeTimeline orders all installments chronologically and folds a
// running total over them. The fold is strict: every installment appears
// exactly once, in sorted position, and runningTotal[i] includes amount[i].
func ComputeTimeline(installments []Installment) []TimelineEntry {
	sorted := make([]Installment, len(installments))
	copy(sorted, installments)
	sortInstallments(sorted)

	entries := make([]TimelineEntry, 0, len(sorted))
	var running float64
	for _, ins := range sorted {
		running += ins.Amount
		entries = append(entries, TimelineEntry{Installment: ins, RunningTotal: running})
	}
	return entries
}

// BuildHistory assembles the full ledger view for one student.
func BuildHistory(invoices []Invoice, installments []Installment, asOf time.Time) History {
	return History{
		Summary:  ComputeSummary(invoices, asOf),
		Monthly:  ComputeMonthlyBreakdown(installments),
		Timeline: ComputeTimeline(installments),
	}
}

// sortInstallments orders by effective date ascending, ties broken by
// transaction number ascending.
func sortInstallments(installments []Installment) {
	sort.SliceStable(installments, func(i, j int) bool {
		di, dj := installments[i].EffectiveDate(), installments[j].EffectiveDate()
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return installments[i].TransactionNo < installments[j].TransactionNo
	})
}
