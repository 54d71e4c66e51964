package fraud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(customer, interval string, count int, amount int64, drcr DrCr) Transaction {
	return Transaction{
		CustomerID:       customer,
		CustomerName:     "Name " + customer,
		IntervalKey:      interval,
		TransactionCount: count,
		TotalAmount:      decimal.NewFromInt(amount),
		DrCr:             drcr,
	}
}

func analyze(t *testing.T, txs []Transaction) *FraudAnalyticsData {
	t.Helper()
	data, err := NewEngine(4, zerolog.Nop()).Analyze(context.Background(), txs, DefaultOptions())
	require.NoError(t, err)
	return data
}

func flagsOf(data *FraudAnalyticsData, kind FlagType) []FraudFlag {
	var out []FraudFlag
	for _, f := range data.SuspiciousFlags {
		if f.FlagType == kind {
			out = append(out, f)
		}
	}
	return out
}

func activityOf(t *testing.T, data *FraudAnalyticsData, customer string) CustomerActivity {
	t.Helper()
	for _, a := range data.CustomerActivity {
		if a.CustomerID == customer {
			return a
		}
	}
	t.Fatalf("no activity for customer %s", customer)
	return CustomerActivity{}
}

func TestSameIntervalReversal(t *testing.T) {
	data := analyze(t, []Transaction{
		record("C1", "2025-01-01 09:00", 1, 1000, Debit),
		record("C1", "2025-01-01 09:00", 1, 2000, Credit),
	})

	require.Len(t, data.SuspiciousFlags, 1)
	flag := data.SuspiciousFlags[0]
	assert.Equal(t, FlagDrCrSameInterval, flag.FlagType)
	assert.Equal(t, SeverityMedium, flag.Severity)
	assert.Equal(t, "C1", flag.CustomerID)
	assert.Equal(t, "2025-01-01 09:00", flag.IntervalKey)
	assert.Contains(t, flag.Details, "both debit and credit transactions in the same 30-minute interval")

	assert.Equal(t, 1, activityOf(t, data, "C1").RiskScore)
}

func TestReversalNeedsBothSides(t *testing.T) {
	data := analyze(t, []Transaction{
		record("C1", "2025-01-01 09:00", 1, 1000, Credit),
		record("C1", "2025-01-01 09:00", 1, 2000, Credit),
		record("C2", "2025-01-01 09:00", 1, 1000, Debit),
		record("C2", "2025-01-01 09:30", 1, 1000, Credit),
	})
	assert.Empty(t, flagsOf(data, FlagDrCrSameInterval))
}

func TestHighFrequency(t *testing.T) {
	data := analyze(t, []Transaction{
		record("C2", "2025-01-01 09:00", 5, 100, Debit),
		record("C2", "2025-01-01 09:00", 3, 200, Debit),
		record("C9", "2025-01-01 09:00", 5, 100, Credit),
	})

	flags := flagsOf(data, FlagHighFrequency)
	require.Len(t, flags, 1)
	assert.Equal(t, "C2", flags[0].CustomerID)
	assert.Equal(t, SeverityHigh, flags[0].Severity)
	assert.Contains(t, flags[0].Details, "8 transactions")
	assert.Contains(t, flags[0].Details, "threshold 5")
}

func TestHighFrequencyHonoursCallerThreshold(t *testing.T) {
	txs := []Transaction{record("C2", "2025-01-01 09:00", 8, 100, Credit)}
	opts := DefaultOptions()
	opts.HighFrequencyThreshold = 8

	data, err := NewEngine(1, zerolog.Nop()).Analyze(context.Background(), txs, opts)
	require.NoError(t, err)
	assert.Empty(t, flagsOf(data, FlagHighFrequency))
}

func TestThresholdAvoidanceBounds(t *testing.T) {
	data := analyze(t, []Transaction{
		record("C4", "2025-01-01 09:00", 1, 96000, Debit),
		record("C5", "2025-01-01 09:00", 1, 100000, Debit),
		record("C6", "2025-01-01 09:00", 1, 95000, Debit),
	})

	flags := flagsOf(data, FlagThresholdAvoidance)
	require.Len(t, flags, 1)
	assert.Equal(t, "C4", flags[0].CustomerID)
	assert.Equal(t, SeverityMedium, flags[0].Severity)
	assert.Equal(t, "2025-01-01 09:00", flags[0].IntervalKey)
}

func TestUnusualRatio(t *testing.T) {
	data := analyze(t, []Transaction{
		record("C7", "2025-01-01 09:00", 1, 1100, Debit),
		record("C7", "2025-01-01 10:00", 1, 100, Credit),
		record("C8", "2025-01-01 09:00", 1, 1000, Debit),
		record("C8", "2025-01-01 10:00", 1, 100, Credit),
	})

	flags := flagsOf(data, FlagUnusualDrCrRatio)
	require.Len(t, flags, 1)
	assert.Equal(t, "C7", flags[0].CustomerID)
	assert.Equal(t, SeverityLow, flags[0].Severity)
	assert.Empty(t, flags[0].IntervalKey)

	assert.True(t, activityOf(t, data, "C8").DrCrRatio.Equal(decimal.NewFromInt(10)))
}

func TestVolumeSpike(t *testing.T) {
	data := analyze(t, []Transaction{
		record("C1", "2025-01-01 09:30", 1, 40000, Credit),
		record("C2", "2025-01-01 09:00", 1, 15000, Credit),
		record("C3", "2025-01-01 09:30", 1, 20000, Credit),
	})

	flags := flagsOf(data, FlagVolumeSpike)
	require.Len(t, flags, 1)
	assert.Equal(t, MultipleCustomers, flags[0].CustomerName)
	assert.Empty(t, flags[0].CustomerID)
	assert.Equal(t, "2025-01-01 09:30", flags[0].IntervalKey)
	assert.Equal(t, SeverityHigh, flags[0].Severity)
	assert.Contains(t, flags[0].Details, "15000")
	assert.Contains(t, flags[0].Details, "60000")

	for _, a := range data.CustomerActivity {
		assert.Equal(t, Score(a, nil), a.RiskScore, "spike must not feed %s", a.CustomerID)
	}
}

func TestVolumeSpikeNeedsFloor(t *testing.T) {
	data := analyze(t, []Transaction{
		record("C1", "2025-01-01 09:00", 1, 1000, Credit),
		record("C1", "2025-01-01 09:30", 1, 40000, Credit),
	})
	assert.Empty(t, flagsOf(data, FlagVolumeSpike))
}

func TestRepeatedAmounts(t *testing.T) {
	data := analyze(t, []Transaction{
		record("C3", "2025-01-01 09:00", 1, 6000, Credit),
		record("C3", "2025-01-01 10:00", 1, 6000, Credit),
		record("C3", "2025-01-01 11:00", 1, 6000, Credit),
		record("C4", "2025-01-01 09:00", 1, 5000, Credit),
		record("C4", "2025-01-01 10:00", 1, 5000, Credit),
		record("C4", "2025-01-01 11:00", 1, 5000, Credit),
	})

	flags := flagsOf(data, FlagRepeatedAmounts)
	require.Len(t, flags, 1)
	assert.Equal(t, "C3", flags[0].CustomerID)
	assert.Equal(t, "2025-01-01 09:00", flags[0].IntervalKey)
	assert.Contains(t, flags[0].Details, "repeated 3 times")
}

func TestRepeatedAmountsCompareNumerically(t *testing.T) {
	txs := []Transaction{
		record("C3", "2025-01-01 09:00", 1, 0, Credit),
		record("C3", "2025-01-01 10:00", 1, 0, Credit),
		record("C3", "2025-01-01 11:00", 1, 0, Credit),
	}
	txs[0].TotalAmount = decimal.RequireFromString("6000.00")
	txs[1].TotalAmount = decimal.RequireFromString("6000")
	txs[2].TotalAmount = decimal.RequireFromString("6000.0")

	data := analyze(t, txs)
	assert.Len(t, flagsOf(data, FlagRepeatedAmounts), 1)
}

func TestFlagsFollowRuleOrder(t *testing.T) {
	data := analyze(t, []Transaction{
		record("C1", "2025-01-01 09:00", 9, 97000, Debit),
		record("C1", "2025-01-01 09:00", 1, 6000, Credit),
		record("C1", "2025-01-01 10:00", 1, 6000, Debit),
		record("C1", "2025-01-01 10:30", 1, 6000, Debit),
		record("C2", "2025-01-01 10:30", 1, 97000, Debit),
	})

	rank := make(map[FlagType]int, len(FlagTypes))
	for i, kind := range FlagTypes {
		rank[kind] = i
	}
	seen := make(map[FlagType]bool)
	for i, f := range data.SuspiciousFlags {
		seen[f.FlagType] = true
		if i > 0 {
			assert.LessOrEqual(t, rank[data.SuspiciousFlags[i-1].FlagType], rank[f.FlagType])
		}
	}
	for _, kind := range FlagTypes {
		assert.True(t, seen[kind], "expected a %s flag", kind)
	}
}

func TestRiskScoreComponents(t *testing.T) {
	data := analyze(t, []Transaction{
		record("C1", "2025-01-01 09:00", 4, 40000, Debit),
		record("C1", "2025-01-01 10:00", 4, 40000, Debit),
		record("C1", "2025-01-01 11:00", 4, 10000, Credit),
	})

	a := activityOf(t, data, "C1")
	assert.Equal(t, 12, a.TotalTransactions)
	assert.True(t, a.TotalAmount.Equal(decimal.NewFromInt(90000)))
	assert.True(t, a.AverageAmount.Equal(decimal.NewFromInt(7500)))
	assert.True(t, a.DrCrRatio.Equal(decimal.NewFromInt(8)))
	// volume 1 + amount 1 + ratio 15, no customer flags
	assert.Equal(t, 17, a.RiskScore)
}

func TestRiskScoreIsBounded(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var txs []Transaction
	for i := 0; i < 20; i++ {
		interval := base.Add(time.Duration(i) * 30 * time.Minute).Format(IntervalLayout)
		txs = append(txs, record("C1", interval, 50, 99000, Debit))
	}

	data := analyze(t, txs)
	for _, a := range data.CustomerActivity {
		assert.GreaterOrEqual(t, a.RiskScore, 0)
		assert.LessOrEqual(t, a.RiskScore, 100)
	}
	assert.Equal(t, 100, activityOf(t, data, "C1").RiskScore)
}

func TestScoreIgnoresOtherCustomers(t *testing.T) {
	activity := CustomerActivity{CustomerID: "C1", DrCrRatio: decimal.NewFromInt(1)}
	flags := []FraudFlag{
		{CustomerID: "C1", FlagType: FlagHighFrequency, RiskIncrement: 2},
		{CustomerID: "C2", FlagType: FlagHighFrequency, RiskIncrement: 2},
		{CustomerName: MultipleCustomers, FlagType: FlagVolumeSpike},
	}
	assert.Equal(t, 2, Score(activity, flags))
}

func TestDrCrRatio(t *testing.T) {
	assert.True(t, DrCrRatio(decimal.Zero, decimal.Zero).IsZero())
	assert.True(t, DrCrRatio(decimal.NewFromInt(5), decimal.Zero).Equal(decimal.NewFromInt(999)))
	assert.True(t, DrCrRatio(decimal.Zero, decimal.NewFromInt(5)).IsZero())
	assert.True(t, DrCrRatio(decimal.NewFromInt(10), decimal.NewFromInt(2)).Equal(decimal.NewFromInt(5)))
}

func TestTopCustomersCapAndOrder(t *testing.T) {
	var txs []Transaction
	for i := 0; i < 15; i++ {
		txs = append(txs, record(fmt.Sprintf("C%02d", i), "2025-01-01 09:00", 1, int64(1000*(i%7)+500), Credit))
	}

	data := analyze(t, txs)
	top := data.Top10CustomersByVolume
	require.Len(t, top, TopCustomerLimit)
	for i := 1; i < len(top); i++ {
		assert.False(t, top[i].TotalAmount.GreaterThan(top[i-1].TotalAmount))
	}
	// C06 and C13 tie on 6500; encounter order wins.
	assert.Equal(t, "C06", top[0].CustomerID)
	assert.Equal(t, "C13", top[1].CustomerID)
}

func TestDistributionConservation(t *testing.T) {
	txs := []Transaction{
		record("C1", "2025-01-01 09:00", 3, 100, Debit),
		record("C2", "2025-01-01 09:30", 4, 200, Credit),
		record("C1", "2025-01-01 10:00", 0, 0, Credit),
		record("C3", "2025-01-01 09:00", 2, 50, Debit),
	}
	data := analyze(t, txs)

	require.Len(t, data.DrCrDistribution, 2)
	assert.Equal(t, Debit, data.DrCrDistribution[0].Type)
	assert.Equal(t, Credit, data.DrCrDistribution[1].Type)

	total := 0
	for _, tx := range txs {
		total += tx.TransactionCount
	}
	assert.Equal(t, total, data.DrCrDistribution[0].Count+data.DrCrDistribution[1].Count)
	assert.True(t, data.DrCrDistribution[0].Amount.Equal(decimal.NewFromInt(150)))
}

func TestIntervalViewsKeepEncounterOrder(t *testing.T) {
	data := analyze(t, []Transaction{
		record("C1", "2025-01-01 10:00", 2, 100, Debit),
		record("C1", "2025-01-01 09:00", 1, 100, Credit),
		record("C2", "2025-01-01 10:00", 1, 300, Credit),
	})

	require.Len(t, data.IntervalDistribution, 2)
	assert.Equal(t, "2025-01-01 10:00", data.IntervalDistribution[0].Interval)
	assert.Equal(t, 2, data.IntervalDistribution[0].DebitCount)
	assert.Equal(t, 1, data.IntervalDistribution[0].CreditCount)
	assert.True(t, data.IntervalDistribution[0].TotalAmount.Equal(decimal.NewFromInt(400)))

	require.Len(t, data.AmountTrends, 2)
	assert.Equal(t, "2025-01-01 10:00", data.AmountTrends[0].Interval)
	assert.True(t, data.AmountTrends[0].AverageAmount.Equal(decimal.RequireFromString("133.3333333333333333")))
}

func TestHeatmapIsSparse(t *testing.T) {
	data := analyze(t, []Transaction{
		record("C1", "2025-01-01 09:00", 2, 100, Debit),
		record("C1", "2025-01-01 09:00", 1, 100, Debit),
		record("C1", "2025-01-01 09:30", 0, 0, Debit),
		record("C2", "2025-01-01 10:00", 4, 100, Credit),
	})

	require.Len(t, data.HeatmapData, 2)
	assert.Equal(t, map[string]int{"2025-01-01 09:00": 3}, data.HeatmapData[0].Intervals)
	assert.Equal(t, map[string]int{"2025-01-01 10:00": 4}, data.HeatmapData[1].Intervals)
}

func TestLastActivity(t *testing.T) {
	early := time.Date(2025, 1, 1, 9, 5, 0, 0, time.UTC)
	late := time.Date(2025, 1, 1, 9, 45, 0, 0, time.UTC)
	txs := []Transaction{
		record("C1", "2025-01-01 09:30", 1, 100, Debit),
		record("C1", "2025-01-01 09:00", 1, 100, Debit),
		record("C1", "2025-01-01 10:00", 1, 100, Debit),
		record("C2", "2025-01-01 10:00", 1, 100, Debit),
	}
	txs[0].LastTransaction = &late
	txs[1].LastTransaction = &early

	data := analyze(t, txs)
	assert.Equal(t, "2025-01-01T09:45:00Z", activityOf(t, data, "C1").LastActivity)
	assert.Equal(t, UnknownActivity, activityOf(t, data, "C2").LastActivity)
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	base := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	var txs []Transaction
	for i := 0; i < 60; i++ {
		interval := base.Add(time.Duration(i%9) * 30 * time.Minute).Format(IntervalLayout)
		drcr := Debit
		if i%3 == 0 {
			drcr = Credit
		}
		txs = append(txs, record(fmt.Sprintf("C%d", i%11), interval, 1+i%8, int64(5500+(i%4)*30000), drcr))
	}

	ctx := context.Background()
	serial, err := NewEngine(1, zerolog.Nop()).Analyze(ctx, txs, DefaultOptions())
	require.NoError(t, err)
	parallel, err := NewEngine(8, zerolog.Nop()).Analyze(ctx, txs, DefaultOptions())
	require.NoError(t, err)
	again, err := NewEngine(8, zerolog.Nop()).Analyze(ctx, txs, DefaultOptions())
	require.NoError(t, err)

	a, err := json.Marshal(serial)
	require.NoError(t, err)
	b, err := json.Marshal(parallel)
	require.NoError(t, err)
	c, err := json.Marshal(again)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, string(b), string(c))

	agg := Aggregate(txs)
	assert.Equal(t, Detect(&agg, txs, DefaultOptions()), serial.SuspiciousFlags)
	assert.Equal(t, Detect(&agg, txs, DefaultOptions()), parallel.SuspiciousFlags)
}

func TestParallelFlagsMatchSequentialDetect(t *testing.T) {
	txs := []Transaction{
		record("C1", "2025-01-01 09:00", 6, 6000, Debit),
		record("C2", "2025-01-01 09:00", 1, 6000, Credit),
		record("C1", "2025-01-01 09:30", 1, 6000, Debit),
		record("C1", "2025-01-01 10:00", 1, 6000, Debit),
		record("C2", "2025-01-01 10:30", 1, 96000, Debit),
		record("C2", "2025-01-01 10:30", 1, 100, Credit),
		record("C3", "2025-01-01 11:00", 1, 50, Debit),
	}
	opts := DefaultOptions()
	agg := Aggregate(txs)
	want := Detect(&agg, txs, opts)
	require.NotEmpty(t, want)

	for _, workers := range []int{1, 2, 16} {
		data, err := NewEngine(workers, zerolog.Nop()).Analyze(context.Background(), txs, opts)
		require.NoError(t, err)
		assert.Equal(t, want, data.SuspiciousFlags, "workers=%d", workers)
	}
}

func TestAnalyzeDoesNotMutateInput(t *testing.T) {
	txs := []Transaction{
		record("C1", "2025-01-01 09:00", 1, 1000, Debit),
		record("C1", "2025-01-01 09:00", 1, 2000, Credit),
	}
	before := append([]Transaction(nil), txs...)

	data := analyze(t, txs)
	data.Transactions[0].CustomerID = "changed"
	assert.Equal(t, before, txs)
}

func TestAnalyzeRejectsBadBatch(t *testing.T) {
	engine := NewEngine(2, zerolog.Nop())

	txs := []Transaction{
		record("C1", "2025-01-01 09:00", 1, 1000, Debit),
		record("C1", "2025-01-01 09:00", 1, -5, Credit),
	}
	_, err := engine.Analyze(context.Background(), txs, DefaultOptions())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvariantViolation))
	var recErr *RecordError
	require.True(t, errors.As(err, &recErr))
	assert.Equal(t, 1, recErr.Index)
	assert.Equal(t, "totalAmount", recErr.Field)

	txs[1] = record("C1", "2025-01-01 09:15", 1, 5, Credit)
	_, err = engine.Analyze(context.Background(), txs, DefaultOptions())
	assert.True(t, errors.Is(err, ErrMalformedRecord))

	txs[1] = record("", "2025-01-01 09:00", 1, 5, Credit)
	_, err = engine.Analyze(context.Background(), txs, DefaultOptions())
	assert.True(t, errors.Is(err, ErrMalformedRecord))

	opts := DefaultOptions()
	opts.HighFrequencyThreshold = -1
	_, err = engine.Analyze(context.Background(), nil, opts)
	assert.Error(t, err)
}

func TestAnalyzeEmptySnapshot(t *testing.T) {
	data := analyze(t, nil)
	assert.Empty(t, data.SuspiciousFlags)
	assert.Empty(t, data.CustomerActivity)
	assert.Len(t, data.DrCrDistribution, 2)

	raw, err := json.Marshal(data)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"suspiciousFlags":[]`)
}

func TestAnalyzeHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEngine(2, zerolog.Nop()).Analyze(ctx, []Transaction{
		record("C1", "2025-01-01 09:00", 1, 1000, Debit),
	}, DefaultOptions())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBundleEncodesAmountsAsNumbers(t *testing.T) {
	data := analyze(t, []Transaction{record("C1", "2025-01-01 09:00", 1, 1250, Debit)})
	raw, err := json.Marshal(data.DrCrDistribution[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"DEBIT","count":1,"amount":1250}`, string(raw))
}

func TestDecimalEncodingIsProcessWide(t *testing.T) {
	raw, err := json.Marshal(struct {
		Amount decimal.Decimal `json:"amount"`
	}{Amount: decimal.RequireFromString("1.50")})
	require.NoError(t, err)
	assert.Equal(t, `{"amount":1.5}`, string(raw))
}
