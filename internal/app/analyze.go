package app

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"

	"fraudwatch/internal/fraud"
)

// Analyze runs one analysis and prints the flags and riskiest customers.
func (a *App) Analyze(ctx context.Context, opts AnalyzeOptions) error {
	window, detection := a.resolve(opts.SnapshotOptions)
	data, err := a.analyzeOnce(ctx, opts.File, window, detection)
	if err != nil {
		return err
	}

	if opts.JSON {
		enc := json.NewEncoder(a.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
	return printReport(a.Out, data, opts.Limit)
}

func printReport(out io.Writer, data *fraud.FraudAnalyticsData, limit int) error {
	if limit <= 0 {
		limit = 20
	}

	fmt.Fprintf(out, "records: %d  customers: %d  intervals: %d  flags: %d\n\n",
		len(data.Transactions), len(data.CustomerActivity), len(data.IntervalDistribution), len(data.SuspiciousFlags))

	if len(data.SuspiciousFlags) == 0 {
		fmt.Fprintln(out, "no suspicious flags")
	} else {
		writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Severity\tType\tCustomer\tInterval\tDetails")
		for i, flag := range data.SuspiciousFlags {
			if i == limit {
				fmt.Fprintf(writer, "...\t%d more\t\t\t\n", len(data.SuspiciousFlags)-limit)
				break
			}
			customer := flag.CustomerName
			if flag.CustomerID != "" {
				customer = fmt.Sprintf("%s (%s)", flag.CustomerName, flag.CustomerID)
			}
			fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
				flag.Severity, flag.FlagType, sanitizeInline(customer), flag.IntervalKey, sanitizeInline(flag.Details))
		}
		if err := writer.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(out)
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(writer, "Customer\tTxns\tAmount\tAverage\tDr/Cr\tRisk\t")
	for i, c := range riskiest(data.CustomerActivity) {
		if i == limit {
			break
		}
		fmt.Fprintf(writer, "%s\t%d\t%s\t%s\t%s\t%d\t\n",
			sanitizeInline(c.CustomerName+" ("+c.CustomerID+")"),
			c.TotalTransactions,
			formatDecimal(c.TotalAmount, 2),
			formatDecimal(c.AverageAmount, 2),
			formatDecimal(c.DrCrRatio, 2),
			c.RiskScore,
		)
	}
	return writer.Flush()
}

// riskiest orders customers by descending risk score, keeping encounter order on ties.
func riskiest(activity []fraud.CustomerActivity) []fraud.CustomerActivity {
	sorted := slices.Clone(activity)
	slices.SortStableFunc(sorted, func(x, y fraud.CustomerActivity) int {
		return cmp.Compare(y.RiskScore, x.RiskScore)
	})
	return sorted
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	cleaned = strings.ReplaceAll(cleaned, "\t", " ")
	return cleaned
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
