// Package ingest imports bank transactions onto linked accounts. Records
// arrive pre-parsed from the banking API or a CSV export; duplicates are
// detected through the unique transaction id and skipped.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"openbudget.org/internal/audit"
	"openbudget.org/internal/budget"
	"openbudget.org/internal/store"
)

// Record is one bank transaction to import.
type Record struct {
	TransactionID       string
	Amount              int64
	BookingDate         time.Time
	CounterpartyName    string
	CounterpartyAccount string
}

// Result summarizes one import run.
type Result struct {
	Imported int
	Skipped  int
}

// Importer writes bank payments through the store boundary. It runs behind
// the API surface (scheduled sync, operator tooling), so it is not guarded;
// visibility of the resulting rows is still decided by the policy on read.
type Importer struct {
	store store.DataStore
}

func New(ds store.DataStore) *Importer {
	return &Importer{store: ds}
}

// Import records the batch on the bank account. Each record is applied on
// its own so one duplicate does not abort the run; rows whose transaction id
// already exists count as skipped.
func (imp *Importer) Import(ctx context.Context, bankAccountID int64, records []Record) (Result, error) {
	if _, err := imp.store.Get(ctx, budget.ClassBankAccount, bankAccountID); err != nil {
		return Result{}, err
	}

	var res Result
	for i, rec := range records {
		if err := validate(rec); err != nil {
			return res, fmt.Errorf("record %d: %w", i, err)
		}
		err := imp.store.Apply(ctx, []store.Mutation{store.Insert{
			Class: budget.ClassPayment,
			Fields: map[string]any{
				"transaction_id":         rec.TransactionID,
				"type":                   budget.PaymentTypeBank,
				"amount":                 rec.Amount,
				"booking_date":           rec.BookingDate,
				"counterparty_name":      rec.CounterpartyName,
				"counterparty_account":   rec.CounterpartyAccount,
				"hidden":                 false,
				"short_user_description": "",
				"long_user_description":  "",
				"bank_account_id":        bankAccountID,
			},
		}})
		switch {
		case errors.Is(err, store.ErrAlreadyExists):
			res.Skipped++
		case err != nil:
			return res, err
		default:
			res.Imported++
		}
	}
	_ = audit.LogEvent(ctx, "payments.import", map[string]any{
		"bank_account_id": bankAccountID,
		"imported":        res.Imported,
		"skipped":         res.Skipped,
	})
	return res, nil
}

// ParseCSV reads records from a bank CSV export with the header
// transaction_id,amount,booking_date,counterparty_name,counterparty_account.
// Amounts are minor units; booking dates are YYYY-MM-DD.
func ParseCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 5

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if strings.TrimSpace(header[0]) != "transaction_id" {
		return nil, errors.New("unexpected header row")
	}

	var records []Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		amount, err := strconv.ParseInt(strings.TrimSpace(row[1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad amount %q", line, row[1])
		}
		booked, err := time.Parse("2006-01-02", strings.TrimSpace(row[2]))
		if err != nil {
			return nil, fmt.Errorf("line %d: bad booking date %q", line, row[2])
		}
		records = append(records, Record{
			TransactionID:       strings.TrimSpace(row[0]),
			Amount:              amount,
			BookingDate:         booked,
			CounterpartyName:    strings.TrimSpace(row[3]),
			CounterpartyAccount: strings.TrimSpace(row[4]),
		})
	}
	return records, nil
}

func validate(rec Record) error {
	if strings.TrimSpace(rec.TransactionID) == "" {
		return errors.New("transaction id is required")
	}
	if rec.BookingDate.IsZero() {
		return errors.New("booking date is required")
	}
	return nil
}
