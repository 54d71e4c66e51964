package fraud

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// timestampLayouts are tried in order when parsing lastTransaction.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	IntervalLayout,
}

type rawTransaction struct {
	CustomerID       *string         `json:"customerId"`
	CustomerName     *string         `json:"customerName"`
	IntervalKey      *string         `json:"intervalKey"`
	TransactionCount *json.Number    `json:"transactionCount"`
	TotalAmount      json.RawMessage `json:"totalAmount"`
	LastTransaction  *string         `json:"lastTransaction"`
	DrCr             *string         `json:"drcr"`
}

type envelope struct {
	Data []json.RawMessage `json:"data"`
}

// DecodeSnapshot reads a JSON snapshot, either a bare array of records or an
// object with a "data" array. Any malformed record rejects the whole batch.
func DecodeSnapshot(r io.Reader) ([]Transaction, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return DecodeSnapshotBytes(body)
}

// DecodeSnapshotBytes is DecodeSnapshot over an in-memory payload.
func DecodeSnapshotBytes(body []byte) ([]Transaction, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("decode snapshot: %w", io.ErrUnexpectedEOF)
	}

	var records []json.RawMessage
	if body[0] == '{' {
		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("decode snapshot envelope: %w", err)
		}
		records = env.Data
	} else if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	txs := make([]Transaction, 0, len(records))
	for i, rec := range records {
		tx, err := decodeRecord(i, rec)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func decodeRecord(index int, payload json.RawMessage) (Transaction, error) {
	var raw rawTransaction
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return Transaction{}, malformed(index, "record", err)
	}

	if raw.CustomerID == nil {
		return Transaction{}, malformed(index, "customerId", errors.New("missing"))
	}
	if raw.IntervalKey == nil {
		return Transaction{}, malformed(index, "intervalKey", errors.New("missing"))
	}
	if raw.TransactionCount == nil {
		return Transaction{}, malformed(index, "transactionCount", errors.New("missing"))
	}
	if len(raw.TotalAmount) == 0 || string(raw.TotalAmount) == "null" {
		return Transaction{}, malformed(index, "totalAmount", errors.New("missing"))
	}
	if raw.DrCr == nil {
		return Transaction{}, malformed(index, "drcr", errors.New("missing"))
	}

	count, err := raw.TransactionCount.Int64()
	if err != nil {
		return Transaction{}, malformed(index, "transactionCount", err)
	}

	amount, err := parseAmount(raw.TotalAmount)
	if err != nil {
		return Transaction{}, malformed(index, "totalAmount", err)
	}

	drcr, err := ParseDrCr(*raw.DrCr)
	if err != nil {
		return Transaction{}, malformed(index, "drcr", err)
	}

	tx := Transaction{
		CustomerID:       *raw.CustomerID,
		IntervalKey:      *raw.IntervalKey,
		TransactionCount: int(count),
		TotalAmount:      amount,
		DrCr:             drcr,
	}
	if raw.CustomerName != nil {
		tx.CustomerName = *raw.CustomerName
	}
	if raw.LastTransaction != nil && strings.TrimSpace(*raw.LastTransaction) != "" {
		ts, err := parseTimestamp(*raw.LastTransaction)
		if err != nil {
			return Transaction{}, malformed(index, "lastTransaction", err)
		}
		tx.LastTransaction = &ts
	}

	if err := validateRecord(index, tx); err != nil {
		return Transaction{}, err
	}
	return tx, nil
}

// parseAmount accepts a JSON number or a numeric string.
func parseAmount(raw json.RawMessage) (decimal.Decimal, error) {
	text := string(raw)
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Decimal{}, err
		}
		text = strings.TrimSpace(s)
	}
	return decimal.NewFromString(text)
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

// Validate checks an in-memory snapshot with the same policy DecodeSnapshot
// applies: the first bad record rejects the batch.
func Validate(txs []Transaction) error {
	for i, tx := range txs {
		if err := validateRecord(i, tx); err != nil {
			return err
		}
	}
	return nil
}

func validateRecord(index int, tx Transaction) error {
	if strings.TrimSpace(tx.CustomerID) == "" {
		return malformed(index, "customerId", errors.New("empty"))
	}
	if err := ValidateIntervalKey(tx.IntervalKey); err != nil {
		return malformed(index, "intervalKey", err)
	}
	if tx.DrCr != Debit && tx.DrCr != Credit {
		return malformed(index, "drcr", fmt.Errorf("unknown drcr indicator %q", tx.DrCr))
	}
	if tx.TransactionCount < 0 {
		return violation(index, "transactionCount", fmt.Errorf("negative count %d", tx.TransactionCount))
	}
	if tx.TotalAmount.IsNegative() {
		return violation(index, "totalAmount", fmt.Errorf("negative amount %s", tx.TotalAmount))
	}
	return nil
}

// ValidateIntervalKey enforces the "YYYY-MM-DD HH:MM" form on a 30-minute boundary.
func ValidateIntervalKey(key string) error {
	ts, err := time.Parse(IntervalLayout, key)
	if err != nil {
		return fmt.Errorf("interval key %q: %w", key, err)
	}
	if ts.Format(IntervalLayout) != key {
		return fmt.Errorf("interval key %q is not in canonical %q form", key, IntervalLayout)
	}
	if ts.Minute()%30 != 0 {
		return fmt.Errorf("interval key %q is not on a 30-minute boundary", key)
	}
	return nil
}
