package fraud

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

const (
	DefaultHighFrequencyThreshold = 5
	DefaultThresholdAmount        = 95000
)

var (
	reportingLimit      = decimal.NewFromInt(100000)
	spikeMultiplier     = decimal.NewFromInt(3)
	spikeFloor          = decimal.NewFromInt(50000)
	repeatedAmountFloor = decimal.NewFromInt(5000)
	ratioFlagHigh       = decimal.NewFromInt(10)
	ratioFlagLow        = decimal.NewFromInt(-10)
	ratioNoCredit       = decimal.NewFromInt(999)
)

const repeatedAmountMinOccurrences = 3

// Risk increments per rule occurrence.
const (
	reversalIncrement       = 1
	highFrequencyIncrement  = 2
	thresholdIncrement      = 1
	ratioIncrement          = 1
	repeatedAmountIncrement = 1
)

// Options are the caller-adjustable detection thresholds.
type Options struct {
	HighFrequencyThreshold int
	ThresholdAmount        decimal.Decimal
}

// DefaultOptions returns the stock thresholds: 5 transactions per interval and 95,000.
func DefaultOptions() Options {
	return Options{
		HighFrequencyThreshold: DefaultHighFrequencyThreshold,
		ThresholdAmount:        decimal.NewFromInt(DefaultThresholdAmount),
	}
}

// DrCrRatio divides debit by credit amount. A zero credit yields 999 when
// there is any debit and 0 otherwise.
func DrCrRatio(debit, credit decimal.Decimal) decimal.Decimal {
	if credit.IsZero() {
		if debit.IsPositive() {
			return ratioNoCredit
		}
		return decimal.Zero
	}
	return debit.Div(credit)
}

// customerFlags are the per-customer rule outputs: rule 4 and rule 6.
type customerFlags struct {
	ratio    []FraudFlag
	repeated []FraudFlag
}

func flagsForCustomer(c CustomerTotals, txs []Transaction) customerFlags {
	var cf customerFlags
	if f, ok := ratioFlag(c); ok {
		cf.ratio = []FraudFlag{f}
	}
	cf.repeated = repeatedAmountFlags(c, txs)
	return cf
}

// Detect runs the six rules sequentially and returns flags in canonical
// order: by rule, then by first encounter of the group, record or customer.
func Detect(agg *Aggregates, txs []Transaction, opts Options) []FraudFlag {
	perCustomer := make([]customerFlags, len(agg.Customers))
	for i, c := range agg.Customers {
		perCustomer[i] = flagsForCustomer(c, txs)
	}
	return orderedFlags(agg, txs, opts, perCustomer)
}

// orderedFlags merges the global rules with precomputed per-customer
// results. perCustomer must be aligned with agg.Customers.
func orderedFlags(agg *Aggregates, txs []Transaction, opts Options, perCustomer []customerFlags) []FraudFlag {
	var flags []FraudFlag
	flags = append(flags, detectReversals(agg, txs)...)
	flags = append(flags, detectHighFrequency(agg, txs, opts.HighFrequencyThreshold)...)
	flags = append(flags, detectThresholdAvoidance(txs, opts.ThresholdAmount)...)
	for _, cf := range perCustomer {
		flags = append(flags, cf.ratio...)
	}
	flags = append(flags, detectVolumeSpikes(agg)...)
	for _, cf := range perCustomer {
		flags = append(flags, cf.repeated...)
	}
	return flags
}

// detectReversals flags groups mixing debit and credit records.
func detectReversals(agg *Aggregates, txs []Transaction) []FraudFlag {
	var flags []FraudFlag
	for _, g := range agg.Groups {
		if len(g.Records) < 2 {
			continue
		}
		var hasDebit, hasCredit bool
		for _, r := range g.Records {
			if txs[r].DrCr == Debit {
				hasDebit = true
			} else {
				hasCredit = true
			}
		}
		if !hasDebit || !hasCredit {
			continue
		}
		first := txs[g.Records[0]]
		flags = append(flags, FraudFlag{
			CustomerID:    g.Key.CustomerID,
			CustomerName:  first.CustomerName,
			IntervalKey:   g.Key.IntervalKey,
			FlagType:      FlagDrCrSameInterval,
			Severity:      SeverityMedium,
			Details:       "both debit and credit transactions in the same 30-minute interval",
			RiskIncrement: reversalIncrement,
		})
	}
	return flags
}

func detectHighFrequency(agg *Aggregates, txs []Transaction, threshold int) []FraudFlag {
	var flags []FraudFlag
	for _, g := range agg.Groups {
		count := 0
		for _, r := range g.Records {
			count += txs[r].TransactionCount
		}
		if count <= threshold {
			continue
		}
		first := txs[g.Records[0]]
		flags = append(flags, FraudFlag{
			CustomerID:    g.Key.CustomerID,
			CustomerName:  first.CustomerName,
			IntervalKey:   g.Key.IntervalKey,
			FlagType:      FlagHighFrequency,
			Severity:      SeverityHigh,
			Details:       fmt.Sprintf("%d transactions in a 30-minute interval (threshold %d)", count, threshold),
			RiskIncrement: highFrequencyIncrement,
		})
	}
	return flags
}

// detectThresholdAvoidance checks each record on its own, not each group.
func detectThresholdAvoidance(txs []Transaction, threshold decimal.Decimal) []FraudFlag {
	var flags []FraudFlag
	for _, tx := range txs {
		if !tx.TotalAmount.GreaterThan(threshold) || !tx.TotalAmount.LessThan(reportingLimit) {
			continue
		}
		flags = append(flags, FraudFlag{
			CustomerID:    tx.CustomerID,
			CustomerName:  tx.CustomerName,
			IntervalKey:   tx.IntervalKey,
			FlagType:      FlagThresholdAvoidance,
			Severity:      SeverityMedium,
			Details:       fmt.Sprintf("amount %s just below the %s reporting threshold", tx.TotalAmount, reportingLimit),
			RiskIncrement: thresholdIncrement,
		})
	}
	return flags
}

// ratioFlag applies the ±10 bounds. The ratio is never negative, so the
// lower bound cannot fire; it stays so the rule reads as published.
func ratioFlag(c CustomerTotals) (FraudFlag, bool) {
	ratio := DrCrRatio(c.DebitAmount, c.CreditAmount)
	if !ratio.GreaterThan(ratioFlagHigh) && !ratio.LessThan(ratioFlagLow) {
		return FraudFlag{}, false
	}
	return FraudFlag{
		CustomerID:    c.CustomerID,
		CustomerName:  c.CustomerName,
		FlagType:      FlagUnusualDrCrRatio,
		Severity:      SeverityLow,
		Details:       fmt.Sprintf("debit/credit ratio %s", ratio.StringFixed(2)),
		RiskIncrement: ratioIncrement,
	}, true
}

// detectVolumeSpikes compares consecutive intervals in key order. It is a
// single sequential pass and carries no risk increment.
func detectVolumeSpikes(agg *Aggregates) []FraudFlag {
	keys := make([]string, len(agg.Intervals))
	for i, b := range agg.Intervals {
		keys[i] = b.Interval
	}
	sort.Strings(keys)

	var flags []FraudFlag
	for i := 1; i < len(keys); i++ {
		prev, _ := agg.Interval(keys[i-1])
		cur, _ := agg.Interval(keys[i])
		if !cur.TotalAmount.GreaterThan(prev.TotalAmount.Mul(spikeMultiplier)) {
			continue
		}
		if !cur.TotalAmount.GreaterThan(spikeFloor) {
			continue
		}
		flags = append(flags, FraudFlag{
			CustomerName: MultipleCustomers,
			IntervalKey:  cur.Interval,
			FlagType:     FlagVolumeSpike,
			Severity:     SeverityHigh,
			Details: fmt.Sprintf("interval amount rose from %s (%s) to %s (%s)",
				prev.TotalAmount, prev.Interval, cur.TotalAmount, cur.Interval),
		})
	}
	return flags
}

// repeatedAmountFlags counts record-level occurrences of each distinct
// amount of one customer.
func repeatedAmountFlags(c CustomerTotals, txs []Transaction) []FraudFlag {
	type occurrence struct {
		amount decimal.Decimal
		count  int
	}
	var order []string
	seen := make(map[string]*occurrence)
	for _, r := range c.Records {
		amount := txs[r].TotalAmount
		key := amount.String()
		if o, ok := seen[key]; ok {
			o.count++
			continue
		}
		seen[key] = &occurrence{amount: amount, count: 1}
		order = append(order, key)
	}

	first := txs[c.FirstRecord]
	var flags []FraudFlag
	for _, key := range order {
		o := seen[key]
		if o.count < repeatedAmountMinOccurrences || !o.amount.GreaterThan(repeatedAmountFloor) {
			continue
		}
		flags = append(flags, FraudFlag{
			CustomerID:    first.CustomerID,
			CustomerName:  first.CustomerName,
			IntervalKey:   first.IntervalKey,
			FlagType:      FlagRepeatedAmounts,
			Severity:      SeverityMedium,
			Details:       fmt.Sprintf("amount %s repeated %d times", o.amount, o.count),
			RiskIncrement: repeatedAmountIncrement,
		})
	}
	return flags
}
