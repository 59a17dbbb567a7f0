package feeclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestInstallmentsNormalizesAndFlagsOrphans(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/students/S1/invoices":
			w.Write([]byte(`[
				{"invoiceNo":"INV-1","studentId":"S1","totalAmount":1000,"paidAmount":400,"pendingAmount":123}
			]`))
		case "/api/students/S1/installments":
			w.Write([]byte(`[
				{"transactionNo":"T1","invoiceId":"INV-1","amount":400,"paymentMethod":"cash"},
				{"transactionNo":"T2","invoiceId":"INV-GONE","amount":100}
			]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	var malformed int
	c := New(srv.URL, false)
	c.OnMalformed = func(n int) { malformed += n }

	installments, err := c.Installments(context.Background(), "S1")
	if err != nil {
		t.Fatal(err)
	}
	if len(installments) != 2 {
		t.Fatalf("installments = %d, want 2", len(installments))
	}
	if installments[0].Orphaned {
		t.Error("T1 flagged orphaned")
	}
	if !installments[1].Orphaned {
		t.Error("T2 not flagged orphaned")
	}
	if malformed != 0 {
		t.Errorf("malformed = %d, want 0", malformed)
	}
}

func TestInvoicesReportsMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"totalAmount":100}]`)) // missing invoiceNo
	}))
	defer srv.Close()

	var malformed int
	c := New(srv.URL, false)
	c.OnMalformed = func(n int) { malformed += n }

	invoices, err := c.Invoices(context.Background(), "S1")
	if err != nil {
		t.Fatal(err)
	}
	if len(invoices) != 1 {
		t.Fatalf("invoices = %d, want 1 (kept with defaults)", len(invoices))
	}
	if malformed != 1 {
		t.Errorf("malformed = %d, want 1", malformed)
	}
}

func TestClientErrorsOnBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, false)
	if _, err := c.Invoices(context.Background(), "S1"); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestSkipModeServesFixtures(t *testing.T) {
	c := New("", true)
	invoices, err := c.Invoices(context.Background(), "S1")
	if err != nil || len(invoices) == 0 {
		t.Fatalf("fixtures: %v, %d invoices", err, len(invoices))
	}
	if err := c.Health(context.Background()); err != nil {
		t.Fatal(err)
	}
}
