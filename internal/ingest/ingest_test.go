package ingest

import (
	"context"
	"strings"
	"testing"
	"time"

	"openbudget.org/internal/budget"
	"openbudget.org/internal/store"
	"openbudget.org/internal/store/memstore"
)

func TestImportSkipsDuplicates(t *testing.T) {
	mem := memstore.New()
	mem.Seed(&budget.BankAccount{ID: 2, IBAN: "NL00TEST0123456789", Name: "Main"})

	booked := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	records := []Record{
		{TransactionID: "tx-1", Amount: -1500, BookingDate: booked, CounterpartyName: "Grocer BV"},
		{TransactionID: "tx-2", Amount: -900, BookingDate: booked},
	}

	imp := New(mem)
	res, err := imp.Import(context.Background(), 2, records)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if res.Imported != 2 || res.Skipped != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	// Re-running the same batch imports nothing.
	res, err = imp.Import(context.Background(), 2, records)
	if err != nil {
		t.Fatalf("second Import: %v", err)
	}
	if res.Imported != 0 || res.Skipped != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}

	rows, err := mem.Query(context.Background(), budget.ClassPayment, store.All{}, nil, 0, 0)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 payments, got %d", len(rows))
	}
	p := rows[0].(*budget.Payment)
	if p.Type != budget.PaymentTypeBank {
		t.Fatalf("expected bank payment, got %q", p.Type)
	}
	if p.BankAccountID == nil || *p.BankAccountID != 2 {
		t.Fatalf("expected account link, got %v", p.BankAccountID)
	}
}

func TestImportUnknownAccount(t *testing.T) {
	imp := New(memstore.New())
	if _, err := imp.Import(context.Background(), 99, nil); err == nil {
		t.Fatal("expected error for unknown bank account")
	}
}

func TestImportRejectsEmptyTransactionID(t *testing.T) {
	mem := memstore.New()
	mem.Seed(&budget.BankAccount{ID: 2})
	imp := New(mem)
	_, err := imp.Import(context.Background(), 2, []Record{{Amount: 1, BookingDate: time.Now()}})
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestParseCSV(t *testing.T) {
	input := strings.Join([]string{
		"transaction_id,amount,booking_date,counterparty_name,counterparty_account",
		"tx-1,-2599,2025-03-14,Grocer BV,NL00TEST0123456789",
		"tx-2,1200,2025-03-15,Refund Org,",
	}, "\n")

	records, err := ParseCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].TransactionID != "tx-1" || records[0].Amount != -2599 {
		t.Fatalf("unexpected first record: %+v", records[0])
	}
	if records[1].BookingDate.Format("2006-01-02") != "2025-03-15" {
		t.Fatalf("unexpected booking date: %v", records[1].BookingDate)
	}
}

func TestParseCSVRejectsBadHeader(t *testing.T) {
	if _, err := ParseCSV(strings.NewReader("id,amount,date,name,account\n")); err == nil {
		t.Fatal("expected header error")
	}
}
