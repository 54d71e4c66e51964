package fraud

import (
	"context"
	"fmt"
	"runtime"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Engine runs the detection pipeline over one snapshot. It keeps no state
// between calls and is safe for concurrent use.
type Engine struct {
	workers int
	logger  zerolog.Logger
}

// NewEngine builds an engine fanning per-customer work over at most workers
// goroutines. Non-positive values use GOMAXPROCS.
func NewEngine(workers int, logger zerolog.Logger) *Engine {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Engine{workers: workers, logger: logger.With().Str("component", "fraud_engine").Logger()}
}

// Validate rejects thresholds no rule can work with.
func (o Options) Validate() error {
	if o.HighFrequencyThreshold < 0 {
		return fmt.Errorf("high frequency threshold cannot be negative")
	}
	if o.ThresholdAmount.IsNegative() {
		return fmt.Errorf("threshold amount cannot be negative")
	}
	return nil
}

type customerResult struct {
	flags    customerFlags
	activity CustomerActivity
}

// Analyze validates the snapshot and computes the analytics bundle. The
// result is a pure function of txs and opts.
func (e *Engine) Analyze(ctx context.Context, txs []Transaction, opts Options) (*FraudAnalyticsData, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := Validate(txs); err != nil {
		return nil, err
	}

	snapshot := append(make([]Transaction, 0, len(txs)), txs...)
	agg := Aggregate(snapshot)

	results := make([]customerResult, len(agg.Customers))
	err := e.forEachCustomer(ctx, len(agg.Customers), func(i int) {
		c := agg.Customers[i]
		results[i] = customerResult{
			flags:    flagsForCustomer(c, snapshot),
			activity: activityFor(c),
		}
	})
	if err != nil {
		return nil, err
	}

	perCustomer := make([]customerFlags, len(results))
	for i, r := range results {
		perCustomer[i] = r.flags
	}
	flags := orderedFlags(&agg, snapshot, opts, perCustomer)

	byCustomer := make(map[string][]FraudFlag, len(agg.Customers))
	for _, f := range flags {
		if f.CustomerID != "" {
			byCustomer[f.CustomerID] = append(byCustomer[f.CustomerID], f)
		}
	}

	activity := make([]CustomerActivity, len(results))
	err = e.forEachCustomer(ctx, len(results), func(i int) {
		a := results[i].activity
		a.RiskScore = Score(a, byCustomer[a.CustomerID])
		activity[i] = a
	})
	if err != nil {
		return nil, err
	}

	data := Assemble(snapshot, &agg, flags, activity)
	e.logger.Debug().
		Int("transactions", len(snapshot)).
		Int("customers", len(activity)).
		Int("intervals", len(agg.Intervals)).
		Int("flags", len(flags)).
		Msg("snapshot analysed")
	return data, nil
}

// forEachCustomer runs fn for every index on the worker pool. Each index is
// written by exactly one goroutine.
func (e *Engine) forEachCustomer(ctx context.Context, n int, fn func(i int)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fn(i)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("analyse customers: %w", err)
	}
	return ctx.Err()
}
