package alerting

import (
	"strings"
	"sync"
	"time"

	"fraudwatch/internal/fraud"
)

// FilterOptions configures which flags reach a notifier.
type FilterOptions struct {
	MinSeverity fraud.Severity
	Cooldown    time.Duration
	MaxFlags    int
}

// Filter selects flags at or above a severity and suppresses repeats
// within the cooldown. Safe for concurrent use.
type Filter struct {
	opts FilterOptions
	now  func() time.Time

	mu   sync.Mutex
	sent map[flagKey]time.Time
}

type flagKey struct {
	flagType    fraud.FlagType
	customerID  string
	intervalKey string
	details     string
}

// NewFilter builds a Filter.
func NewFilter(opts FilterOptions) *Filter {
	if opts.MinSeverity == "" {
		opts.MinSeverity = fraud.SeverityHigh
	}
	opts.MinSeverity = fraud.Severity(strings.ToUpper(string(opts.MinSeverity)))
	return &Filter{
		opts: opts,
		now:  time.Now,
		sent: make(map[flagKey]time.Time),
	}
}

// Select returns the flags to notify and how many eligible flags were cut by MaxFlags.
// Selected flags are recorded as sent.
func (f *Filter) Select(flags []fraud.FraudFlag) ([]fraud.FraudFlag, int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	f.expire(now)

	floor := severityRank(f.opts.MinSeverity)
	selected := make([]fraud.FraudFlag, 0)
	omitted := 0
	for _, flag := range flags {
		if severityRank(flag.Severity) < floor {
			continue
		}
		key := flagKey{flagType: flag.FlagType, customerID: flag.CustomerID, intervalKey: flag.IntervalKey, details: flag.Details}
		if _, seen := f.sent[key]; seen {
			continue
		}
		if f.opts.MaxFlags > 0 && len(selected) >= f.opts.MaxFlags {
			omitted++
			continue
		}
		f.sent[key] = now
		selected = append(selected, flag)
	}
	return selected, omitted
}

func (f *Filter) expire(now time.Time) {
	if f.opts.Cooldown <= 0 {
		clear(f.sent)
		return
	}
	for key, at := range f.sent {
		if now.Sub(at) >= f.opts.Cooldown {
			delete(f.sent, key)
		}
	}
}

func severityRank(s fraud.Severity) int {
	switch s {
	case fraud.SeverityLow:
		return 1
	case fraud.SeverityMedium:
		return 2
	case fraud.SeverityHigh:
		return 3
	default:
		return 0
	}
}
