package fraud

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	maxVolumeRisk = 30
	maxAmountRisk = 20
	ratioRisk     = 15
	maxRiskScore  = 100
)

var (
	volumeRiskDivisor = decimal.NewFromInt(10)
	amountRiskDivisor = decimal.NewFromInt(5000)
	ratioRiskHigh     = decimal.NewFromInt(5)
	ratioRiskLow      = decimal.RequireFromString("0.2")
)

// Score computes the bounded risk score of one customer from its activity
// and the flags raised for it. Flags of other customers are ignored.
func Score(activity CustomerActivity, flags []FraudFlag) int {
	volume := int(decimal.NewFromInt(int64(activity.TotalTransactions)).Div(volumeRiskDivisor).Floor().IntPart())
	volume = min(maxVolumeRisk, volume)

	amount := int(activity.AverageAmount.Div(amountRiskDivisor).Floor().IntPart())
	amount = min(maxAmountRisk, amount)

	ratio := 0
	if activity.DrCrRatio.GreaterThan(ratioRiskHigh) || activity.DrCrRatio.LessThan(ratioRiskLow) {
		ratio = ratioRisk
	}

	score := volume + amount + ratio
	for _, f := range flags {
		if f.CustomerID == activity.CustomerID {
			score += f.RiskIncrement
		}
	}
	return max(0, min(maxRiskScore, score))
}

// activityFor seeds CustomerActivity from aggregated totals. RiskScore is
// left for Score.
func activityFor(c CustomerTotals) CustomerActivity {
	average := decimal.Zero
	if c.TotalTransactions > 0 {
		average = c.TotalAmount.Div(decimal.NewFromInt(int64(c.TotalTransactions)))
	}

	last := UnknownActivity
	if c.LastActivity != nil {
		last = c.LastActivity.UTC().Format(time.RFC3339)
	}

	return CustomerActivity{
		CustomerID:        c.CustomerID,
		CustomerName:      c.CustomerName,
		TotalTransactions: c.TotalTransactions,
		TotalAmount:       c.TotalAmount,
		AverageAmount:     average,
		LastActivity:      last,
		DrCrRatio:         DrCrRatio(c.DebitAmount, c.CreditAmount),
	}
}
