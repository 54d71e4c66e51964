package fraud

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// TopCustomerLimit caps the top-by-volume ranking.
const TopCustomerLimit = 10

// Assemble packages the pipeline outputs into one bundle. activity must be
// aligned with agg.Customers. Inputs are copied, never retained.
func Assemble(txs []Transaction, agg *Aggregates, flags []FraudFlag, activity []CustomerActivity) *FraudAnalyticsData {
	data := &FraudAnalyticsData{
		Transactions:         append(make([]Transaction, 0, len(txs)), txs...),
		SuspiciousFlags:      append(make([]FraudFlag, 0, len(flags)), flags...),
		IntervalDistribution: append(make([]IntervalBucket, 0, len(agg.Intervals)), agg.Intervals...),
		DrCrDistribution: []DrCrSlice{
			{Type: Debit, Count: agg.DebitCount, Amount: agg.DebitAmount},
			{Type: Credit, Count: agg.CreditCount, Amount: agg.CreditAmount},
		},
		CustomerActivity: append(make([]CustomerActivity, 0, len(activity)), activity...),
	}

	data.AmountTrends = amountTrends(agg.Intervals)
	data.Top10CustomersByVolume = topCustomers(activity, TopCustomerLimit)
	data.HeatmapData = heatmap(agg.Customers)
	return data
}

func amountTrends(buckets []IntervalBucket) []AmountTrend {
	trends := make([]AmountTrend, 0, len(buckets))
	for _, b := range buckets {
		average := decimal.Zero
		if b.TransactionCount > 0 {
			average = b.TotalAmount.Div(decimal.NewFromInt(int64(b.TransactionCount)))
		}
		trends = append(trends, AmountTrend{
			Interval:         b.Interval,
			TotalAmount:      b.TotalAmount,
			TransactionCount: b.TransactionCount,
			AverageAmount:    average,
		})
	}
	return trends
}

// topCustomers ranks by total amount descending; ties keep encounter order.
func topCustomers(activity []CustomerActivity, limit int) []TopCustomer {
	ranked := append(make([]CustomerActivity, 0, len(activity)), activity...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].TotalAmount.GreaterThan(ranked[j].TotalAmount)
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	top := make([]TopCustomer, 0, len(ranked))
	for _, a := range ranked {
		top = append(top, TopCustomer{
			CustomerID:        a.CustomerID,
			CustomerName:      a.CustomerName,
			TotalAmount:       a.TotalAmount,
			TotalTransactions: a.TotalTransactions,
			RiskScore:         a.RiskScore,
		})
	}
	return top
}

func heatmap(customers []CustomerTotals) []HeatmapRow {
	rows := make([]HeatmapRow, 0, len(customers))
	for _, c := range customers {
		cells := make(map[string]int, len(c.Intervals))
		for interval, count := range c.Intervals {
			if count != 0 {
				cells[interval] = count
			}
		}
		rows = append(rows, HeatmapRow{
			CustomerID:   c.CustomerID,
			CustomerName: c.CustomerName,
			Intervals:    cells,
		})
	}
	return rows
}

// WithRun returns a copy of d stamped with a run id and generation time.
func (d *FraudAnalyticsData) WithRun(runID string, at time.Time) *FraudAnalyticsData {
	stamped := *d
	stamped.RunID = runID
	ts := at.UTC()
	stamped.GeneratedAt = &ts
	return &stamped
}
