package storage

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"fraudwatch/internal/fraud"
)

// TransactionBucket is one row of customer_transaction_buckets.
type TransactionBucket struct {
	CustomerID       string
	CustomerName     sql.NullString
	IntervalStart    time.Time
	TransactionCount int64
	TotalAmount      string
	LastTransaction  sql.NullTime
	DrCr             string
}

// ToTransaction converts a row into the engine's record. Rows that cannot
// be converted reject the whole snapshot, as with the HTTP source.
func (b TransactionBucket) ToTransaction(index int) (fraud.Transaction, error) {
	amount, err := decimal.NewFromString(b.TotalAmount)
	if err != nil {
		return fraud.Transaction{}, fraud.NewRecordError(index, "totalAmount", err)
	}
	drcr, err := fraud.ParseDrCr(b.DrCr)
	if err != nil {
		return fraud.Transaction{}, fraud.NewRecordError(index, "drcr", err)
	}

	tx := fraud.Transaction{
		CustomerID:       b.CustomerID,
		CustomerName:     b.CustomerName.String,
		IntervalKey:      b.IntervalStart.UTC().Format(fraud.IntervalLayout),
		TransactionCount: int(b.TransactionCount),
		TotalAmount:      amount,
		DrCr:             drcr,
	}
	if b.LastTransaction.Valid {
		ts := b.LastTransaction.Time.UTC()
		tx.LastTransaction = &ts
	}
	return tx, nil
}
