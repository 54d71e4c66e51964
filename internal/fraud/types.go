package fraud

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Currency values leave the engine as raw JSON numbers. The flag is a
	// package global of shopspring/decimal, so this applies to every decimal
	// in the process once fraud is imported; cmd/fraudwatch sets it as well.
	decimal.MarshalJSONWithoutQuotes = true
}

// IntervalLayout is the canonical interval key format.
const IntervalLayout = "2006-01-02 15:04"

// UnknownActivity is reported when no record of a customer carries a timestamp.
const UnknownActivity = "Unknown"

// DrCr marks a record as a debit or a credit entry.
type DrCr string

const (
	Debit  DrCr = "DEBIT"
	Credit DrCr = "CREDIT"
)

// ParseDrCr accepts the long and the single-letter forms in any case.
func ParseDrCr(s string) (DrCr, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBIT", "DR", "D":
		return Debit, nil
	case "CREDIT", "CR", "C":
		return Credit, nil
	default:
		return "", fmt.Errorf("unknown drcr indicator %q", s)
	}
}

// Transaction is one customer/interval bucket of the snapshot.
type Transaction struct {
	CustomerID       string          `json:"customerId"`
	CustomerName     string          `json:"customerName"`
	IntervalKey      string          `json:"intervalKey"`
	TransactionCount int             `json:"transactionCount"`
	TotalAmount      decimal.Decimal `json:"totalAmount"`
	LastTransaction  *time.Time      `json:"lastTransaction"`
	DrCr             DrCr            `json:"drcr"`
}

// Severity grades a flag.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// FlagType identifies the rule that raised a flag.
type FlagType string

const (
	FlagDrCrSameInterval   FlagType = "DR_CR_SAME_INTERVAL"
	FlagHighFrequency      FlagType = "HIGH_FREQUENCY"
	FlagThresholdAvoidance FlagType = "THRESHOLD_AVOIDANCE"
	FlagUnusualDrCrRatio   FlagType = "UNUSUAL_DRCR_RATIO"
	FlagVolumeSpike        FlagType = "VOLUME_SPIKE"
	FlagRepeatedAmounts    FlagType = "REPEATED_AMOUNTS"
)

// FlagTypes lists the rules in evaluation order.
var FlagTypes = []FlagType{
	FlagDrCrSameInterval,
	FlagHighFrequency,
	FlagThresholdAvoidance,
	FlagUnusualDrCrRatio,
	FlagVolumeSpike,
	FlagRepeatedAmounts,
}

// MultipleCustomers names the pseudo-customer global flags are attributed to.
const MultipleCustomers = "Multiple Customers"

// FraudFlag is one detected suspicious-pattern occurrence.
type FraudFlag struct {
	CustomerID   string   `json:"customerId"`
	CustomerName string   `json:"customerName"`
	IntervalKey  string   `json:"intervalKey"`
	FlagType     FlagType `json:"flagType"`
	Severity     Severity `json:"severity"`
	Details      string   `json:"details"`

	// RiskIncrement is what the flag adds to its customer's score.
	RiskIncrement int `json:"-"`
}

// IntervalBucket totals one interval across all customers.
type IntervalBucket struct {
	Interval         string          `json:"interval"`
	DebitCount       int             `json:"debitCount"`
	CreditCount      int             `json:"creditCount"`
	TotalAmount      decimal.Decimal `json:"totalAmount"`
	TransactionCount int             `json:"transactionCount"`
}

// DrCrSlice is one entry of the debit/credit distribution.
type DrCrSlice struct {
	Type   DrCr            `json:"type"`
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

// CustomerActivity summarises one customer over the snapshot.
type CustomerActivity struct {
	CustomerID        string          `json:"customerId"`
	CustomerName      string          `json:"customerName"`
	TotalTransactions int             `json:"totalTransactions"`
	TotalAmount       decimal.Decimal `json:"totalAmount"`
	AverageAmount     decimal.Decimal `json:"averageAmount"`
	LastActivity      string          `json:"lastActivity"`
	DrCrRatio         decimal.Decimal `json:"drCrRatio"`
	RiskScore         int             `json:"riskScore"`
}

// AmountTrend is the amount/volume of one interval.
type AmountTrend struct {
	Interval         string          `json:"interval"`
	TotalAmount      decimal.Decimal `json:"totalAmount"`
	TransactionCount int             `json:"transactionCount"`
	AverageAmount    decimal.Decimal `json:"averageAmount"`
}

// TopCustomer is one row of the top-by-volume ranking.
type TopCustomer struct {
	CustomerID        string          `json:"customerId"`
	CustomerName      string          `json:"customerName"`
	TotalAmount       decimal.Decimal `json:"totalAmount"`
	TotalTransactions int             `json:"totalTransactions"`
	RiskScore         int             `json:"riskScore"`
}

// HeatmapRow holds a customer's transaction counts per interval. Absent
// intervals mean zero.
type HeatmapRow struct {
	CustomerID   string         `json:"customerId"`
	CustomerName string         `json:"customerName"`
	Intervals    map[string]int `json:"intervals"`
}

// FraudAnalyticsData is the immutable bundle handed to display collaborators.
type FraudAnalyticsData struct {
	RunID                  string             `json:"runId,omitempty"`
	GeneratedAt            *time.Time         `json:"generatedAt,omitempty"`
	Transactions           []Transaction      `json:"transactions"`
	SuspiciousFlags        []FraudFlag        `json:"suspiciousFlags"`
	IntervalDistribution   []IntervalBucket   `json:"intervalDistribution"`
	DrCrDistribution       []DrCrSlice        `json:"drCrDistribution"`
	CustomerActivity       []CustomerActivity `json:"customerActivity"`
	AmountTrends           []AmountTrend      `json:"amountTrends"`
	Top10CustomersByVolume []TopCustomer      `json:"top10CustomersByVolume"`
	HeatmapData            []HeatmapRow       `json:"heatmapData"`
}

// FlagCounts tallies flags per type.
func (d *FraudAnalyticsData) FlagCounts() map[FlagType]int {
	counts := make(map[FlagType]int, len(FlagTypes))
	for _, f := range d.SuspiciousFlags {
		counts[f.FlagType]++
	}
	return counts
}

// UnmarshalJSON decodes drcr indicators leniently.
func (d *DrCr) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := ParseDrCr(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
