package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrInvoiceClosed is returned when a payment targets an invoice that is
// already fully paid. Paid invoices are immutable.
var ErrInvoiceClosed = errors.New("invoice already paid")

// ErrInvoiceNotFound is returned when a payment targets an unknown invoice.
var ErrInvoiceNotFound = errors.New("invoice not found")

// Source supplies a single student's ledger inputs. The Postgres repository
// and the fee-service HTTP client both implement it.
type Source interface {
	Invoices(ctx context.Context, studentID string) ([]Invoice, error)
	Installments(ctx context.Context, studentID string) ([]Installment, error)
}

// Repository persists invoices and installments in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Invoices returns all invoices for a student, oldest first.
func (r *Repository) Invoices(ctx context.Context, studentID string) ([]Invoice, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT invoice_no, student_id, total_amount, paid_amount, status, invoice_date, due_date
		FROM invoices
		WHERE student_id = $1
		ORDER BY invoice_date, invoice_no
	`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Invoice
	for rows.Next() {
		var inv Invoice
		if err := rows.Scan(&inv.InvoiceNo, &inv.StudentID, &inv.TotalAmount, &inv.PaidAmount, &inv.Status, &inv.InvoiceDate, &inv.DueDate); err != nil {
			return nil, err
		}
		res = append(res, inv)
	}
	return res, rows.Err()
}

// Installments returns all installments recorded against a student's
// invoices. The orphaned flag is derived in the query so installments whose
// invoice row has gone missing still surface in ledger views.
func (r *Repository) Installments(ctx context.Context, studentID string) ([]Installment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.transaction_no, p.invoice_no, p.amount, p.payment_method,
		       p.payment_date, p.collected_by, p.created_at,
		       i.invoice_no IS NULL AS orphaned
		FROM installments p
		LEFT JOIN invoices i ON i.invoice_no = p.invoice_no
		WHERE p.student_id = $1
		ORDER BY p.payment_date, p.transaction_no
	`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Installment
	for rows.Next() {
		var ins Installment
		if err := rows.Scan(&ins.TransactionNo, &ins.InvoiceNo, &ins.Amount, &ins.PaymentMethod, &ins.PaymentDate, &ins.CollectedBy, &ins.CreatedAt, &ins.Orphaned); err != nil {
			return nil, err
		}
		res = append(res, ins)
	}
	return res, rows.Err()
}

// UpsertInvoice mirrors an invoice from the upstream fee service. Amounts
// and dates are refreshed on conflict; the pending balance is never stored.
func (r *Repository) UpsertInvoice(ctx context.Context, inv Invoice) error {
	if inv.InvoiceNo == "" {
		return errors.New("invoice number required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO invoices (invoice_no, student_id, total_amount, paid_amount, status, invoice_date, due_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (invoice_no) DO UPDATE SET
			total_amount = EXCLUDED.total_amount,
			paid_amount  = EXCLUDED.paid_amount,
			status       = EXCLUDED.status,
			invoice_date = EXCLUDED.invoice_date,
			due_date     = EXCLUDED.due_date
	`, inv.InvoiceNo, inv.StudentID, inv.TotalAmount, inv.PaidAmount, inv.Status, inv.InvoiceDate, inv.DueDate)
	return err
}

// AddInstallment appends a payment and rolls it into the owning invoice in
// one transaction. The invoice row is locked so the sum of installments
// stays equal to paid_amount, and paid invoices reject further payments.
func (r *Repository) AddInstallment(ctx context.Context, studentID string, ins Installment) (Invoice, error) {
	if ins.Amount <= 0 {
		return Invoice{}, errors.New("amount must be positive")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Invoice{}, err
	}
	defer tx.Rollback()

	var inv Invoice
	row := tx.QueryRowContext(ctx, `
		SELECT invoice_no, student_id, total_amount, paid_amount, status, invoice_date, due_date
		FROM invoices
		WHERE invoice_no = $1 AND student_id = $2
		FOR UPDATE
	`, ins.InvoiceNo, studentID)
	if err := row.Scan(&inv.InvoiceNo, &inv.StudentID, &inv.TotalAmount, &inv.PaidAmount, &inv.Status, &inv.InvoiceDate, &inv.DueDate); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Invoice{}, ErrInvoiceNotFound
		}
		return Invoice{}, err
	}
	if inv.Status == StatusPaid {
		return Invoice{}, ErrInvoiceClosed
	}

	if ins.PaymentDate.IsZero() {
		ins.PaymentDate = time.Now().UTC()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO installments (transaction_no, invoice_no, student_id, amount, payment_method, payment_date, collected_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, ins.TransactionNo, ins.InvoiceNo, studentID, ins.Amount, ins.PaymentMethod, ins.PaymentDate, ins.CollectedBy); err != nil {
		return Invoice{}, fmt.Errorf("insert installment: %w", err)
	}

	inv.PaidAmount += ins.Amount
	inv.Status = deriveInvoiceStatus(inv, time.Now().UTC())
	if _, err := tx.ExecContext(ctx, `
		UPDATE invoices SET paid_amount = $2, status = $3 WHERE invoice_no = $1
	`, inv.InvoiceNo, inv.PaidAmount, inv.Status); err != nil {
		return Invoice{}, fmt.Errorf("update invoice: %w", err)
	}

	return inv, tx.Commit()
}
