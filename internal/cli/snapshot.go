package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"fraudwatch/internal/app"
)

// snapshotFlags are shared by the one-shot commands.
type snapshotFlags struct {
	file            string
	from            string
	to              string
	highFrequency   int
	thresholdAmount string
}

func (f *snapshotFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.file, "file", "", "Read the snapshot from a JSON file instead of the configured source")
	fs.StringVar(&f.from, "from", "", "Window start (RFC3339, inclusive)")
	fs.StringVar(&f.to, "to", "", "Window end (RFC3339, exclusive)")
	fs.IntVar(&f.highFrequency, "high-frequency-threshold", 0, "Override detection.high_frequency_threshold")
	fs.StringVar(&f.thresholdAmount, "threshold-amount", "", "Override detection.threshold_amount (decimal)")
}

func (f *snapshotFlags) options(cmd *cobra.Command) (app.SnapshotOptions, error) {
	opts := app.SnapshotOptions{File: f.file}

	if f.from != "" {
		from, err := time.Parse(time.RFC3339, f.from)
		if err != nil {
			return opts, fmt.Errorf("invalid --from value: %w", err)
		}
		opts.From = &from
	}
	if f.to != "" {
		to, err := time.Parse(time.RFC3339, f.to)
		if err != nil {
			return opts, fmt.Errorf("invalid --to value: %w", err)
		}
		opts.To = &to
	}
	if opts.From != nil && opts.To != nil && !opts.From.Before(*opts.To) {
		return opts, fmt.Errorf("--from must be before --to")
	}

	if cmd.Flags().Changed("high-frequency-threshold") {
		if f.highFrequency < 0 {
			return opts, fmt.Errorf("--high-frequency-threshold cannot be negative")
		}
		hf := f.highFrequency
		opts.HighFrequencyThreshold = &hf
	}
	if cmd.Flags().Changed("threshold-amount") {
		amount, err := decimal.NewFromString(strings.TrimSpace(f.thresholdAmount))
		if err != nil {
			return opts, fmt.Errorf("invalid --threshold-amount value: %w", err)
		}
		if amount.IsNegative() {
			return opts, fmt.Errorf("--threshold-amount cannot be negative")
		}
		opts.ThresholdAmount = &amount
	}
	return opts, nil
}
