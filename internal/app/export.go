package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"fraudwatch/internal/fraud"
)

// Export runs one analysis and writes it as CSV tables and/or a PNG chart.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVDir == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv-dir or --png must be provided")
	}

	window, detection := a.resolve(opts.SnapshotOptions)
	data, err := a.analyzeOnce(ctx, opts.File, window, detection)
	if err != nil {
		return err
	}
	if len(data.Transactions) == 0 {
		a.Logger.Info().Msg("no transactions found for export window")
		return nil
	}

	a.Logger.Info().
		Int("records", len(data.Transactions)).
		Int("flags", len(data.SuspiciousFlags)).
		Msg("exporting analysis")

	if opts.CSVDir != "" {
		if err := writeCSVTables(opts.CSVDir, data); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeTrendPNG(opts.PNGPath, data, a.Config.Export.ChartWidth, a.Config.Export.ChartHeight); err != nil {
			return err
		}
	}

	return nil
}

func writeCSVTables(dir string, data *fraud.FraudAnalyticsData) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	flags := [][]string{{"customer_id", "customer_name", "interval_key", "flag_type", "severity", "details"}}
	for _, f := range data.SuspiciousFlags {
		flags = append(flags, []string{f.CustomerID, f.CustomerName, f.IntervalKey, string(f.FlagType), string(f.Severity), f.Details})
	}

	customers := [][]string{{"customer_id", "customer_name", "total_transactions", "total_amount", "average_amount", "last_activity", "drcr_ratio", "risk_score"}}
	for _, c := range data.CustomerActivity {
		customers = append(customers, []string{
			c.CustomerID,
			c.CustomerName,
			strconv.Itoa(c.TotalTransactions),
			c.TotalAmount.String(),
			c.AverageAmount.String(),
			c.LastActivity,
			c.DrCrRatio.String(),
			strconv.Itoa(c.RiskScore),
		})
	}

	intervals := [][]string{{"interval", "debit_count", "credit_count", "transaction_count", "total_amount"}}
	for _, b := range data.IntervalDistribution {
		intervals = append(intervals, []string{
			b.Interval,
			strconv.Itoa(b.DebitCount),
			strconv.Itoa(b.CreditCount),
			strconv.Itoa(b.TransactionCount),
			b.TotalAmount.String(),
		})
	}

	tables := []struct {
		name string
		rows [][]string
	}{
		{"flags.csv", flags},
		{"customers.csv", customers},
		{"intervals.csv", intervals},
	}
	for _, t := range tables {
		if err := writeCSV(filepath.Join(dir, t.name), t.rows); err != nil {
			return fmt.Errorf("write %s: %w", t.name, err)
		}
	}
	return nil
}

func writeCSV(path string, rows [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.WriteAll(rows); err != nil {
		return err
	}
	return writer.Error()
}

func writeTrendPNG(path string, data *fraud.FraudAnalyticsData, width, height int) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	if width <= 0 {
		width = 1280
	}
	if height <= 0 {
		height = 720
	}

	trends := chronological(data.AmountTrends)
	if len(trends) < 2 {
		return errors.New("at least two intervals are needed to chart a trend")
	}

	x := make([]time.Time, len(trends))
	amount := make([]float64, len(trends))
	count := make([]float64, len(trends))
	for i, t := range trends {
		at, err := time.Parse(fraud.IntervalLayout, t.Interval)
		if err != nil {
			return fmt.Errorf("parse interval %q: %w", t.Interval, err)
		}
		x[i] = at
		amount[i] = t.TotalAmount.InexactFloat64()
		count[i] = float64(t.TransactionCount)
	}

	amountFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  width,
		Height: height,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeMinuteValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Amount",
			ValueFormatter: amountFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Transactions",
			ValueFormatter: amountFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Amount per 30m",
				XValues: x,
				YValues: amount,
			},
			chart.TimeSeries{
				Name:    "Transactions per 30m",
				XValues: x,
				YValues: count,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

// chronological sorts trends by interval key; keys sort lexicographically in time order.
func chronological(trends []fraud.AmountTrend) []fraud.AmountTrend {
	sorted := slices.Clone(trends)
	slices.SortStableFunc(sorted, func(x, y fraud.AmountTrend) int {
		return strings.Compare(x.Interval, y.Interval)
	})
	return sorted
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
