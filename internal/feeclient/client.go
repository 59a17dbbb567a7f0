package feeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"campusledger/internal/ledger"
)

// Client calls the external fee data service and normalizes its loose JSON
// into the strict ledger model. It implements ledger.Source.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	// Skip short-circuits with fixture data for local development without
	// the fee service running.
	Skip bool

	// OnMalformed is called with the count of documents that failed
	// validation during normalization; optional.
	OnMalformed func(n int)
}

// New creates a client.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Invoices fetches and normalizes a student's invoices.
func (c *Client) Invoices(ctx context.Context, studentID string) ([]ledger.Invoice, error) {
	if c.Skip {
		return fixtureInvoices(studentID), nil
	}
	var raws []ledger.RawInvoice
	if err := c.getJSON(ctx, fmt.Sprintf("/api/students/%s/invoices", studentID), &raws); err != nil {
		return nil, err
	}
	invoices, malformed := ledger.NormalizeInvoices(raws)
	c.reportMalformed(malformed)
	return invoices, nil
}

// Installments fetches and normalizes a student's payment installments.
// Orphan annotation needs the invoice set, so invoices are fetched first.
func (c *Client) Installments(ctx context.Context, studentID string) ([]ledger.Installment, error) {
	if c.Skip {
		return fixtureInstallments(), nil
	}
	invoices, err := c.Invoices(ctx, studentID)
	if err != nil {
		return nil, err
	}
	var raws []ledger.RawInstallment
	if err := c.getJSON(ctx, fmt.Sprintf("/api/students/%s/installments", studentID), &raws); err != nil {
		return nil, err
	}
	installments, malformed := ledger.NormalizeInstallments(raws, invoices)
	c.reportMalformed(malformed)
	return installments, nil
}

// Health checks the fee service.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("fee service unavailable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("fee service unhealthy: %s", resp.Status)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("fee service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("fee service error %s: %s", resp.Status, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) reportMalformed(n int) {
	if n > 0 && c.OnMalformed != nil {
		c.OnMalformed(n)
	}
}

func fixtureInvoices(studentID string) []ledger.Invoice {
	due := time.Now().AddDate(0, 1, 0)
	return []ledger.Invoice{
		{InvoiceNo: "INV-FIX-1", StudentID: studentID, TotalAmount: 1000, PaidAmount: 600, InvoiceDate: time.Now().AddDate(0, -2, 0), DueDate: &due},
		{InvoiceNo: "INV-FIX-2", StudentID: studentID, TotalAmount: 500, PaidAmount: 500, InvoiceDate: time.Now().AddDate(0, -1, 0)},
	}
}

func fixtureInstallments() []ledger.Installment {
	return []ledger.Installment{
		{TransactionNo: "TXN-FIX-1", InvoiceNo: "INV-FIX-1", Amount: 600, PaymentMethod: ledger.MethodCash, PaymentDate: time.Now().AddDate(0, -2, 5)},
		{TransactionNo: "TXN-FIX-2", InvoiceNo: "INV-FIX-2", Amount: 500, PaymentMethod: ledger.MethodOnline, PaymentDate: time.Now().AddDate(0, -1, 3)},
	}
}
