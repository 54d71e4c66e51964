package fraud

import (
	"time"

	"github.com/shopspring/decimal"
)

// GroupKey identifies the records of one customer within one interval.
type GroupKey struct {
	CustomerID  string
	IntervalKey string
}

// CustomerGroup holds the indices of the snapshot records sharing a GroupKey.
type CustomerGroup struct {
	Key     GroupKey
	Records []int
}

// CustomerTotals are the running totals seeding CustomerActivity.
type CustomerTotals struct {
	CustomerID        string
	CustomerName      string
	FirstRecord       int
	TotalTransactions int
	TotalAmount       decimal.Decimal
	DebitAmount       decimal.Decimal
	CreditAmount      decimal.Decimal
	LastActivity      *time.Time
	Records           []int
	Intervals         map[string]int
}

// Aggregates is the output of Aggregate. Slices are in first-encounter
// order; the index maps point into them.
type Aggregates struct {
	Intervals     []IntervalBucket
	intervalIndex map[string]int

	Groups     []CustomerGroup
	groupIndex map[GroupKey]int

	Customers     []CustomerTotals
	customerIndex map[string]int

	DebitCount   int
	DebitAmount  decimal.Decimal
	CreditCount  int
	CreditAmount decimal.Decimal
}

// Interval returns the bucket for key.
func (a *Aggregates) Interval(key string) (IntervalBucket, bool) {
	i, ok := a.intervalIndex[key]
	if !ok {
		return IntervalBucket{}, false
	}
	return a.Intervals[i], true
}

// Group returns the group for key.
func (a *Aggregates) Group(key GroupKey) (CustomerGroup, bool) {
	i, ok := a.groupIndex[key]
	if !ok {
		return CustomerGroup{}, false
	}
	return a.Groups[i], true
}

// Customer returns the totals of one customer.
func (a *Aggregates) Customer(id string) (CustomerTotals, bool) {
	i, ok := a.customerIndex[id]
	if !ok {
		return CustomerTotals{}, false
	}
	return a.Customers[i], true
}

// Aggregate folds the snapshot into interval, group, customer and channel
// totals. It never fails and does not modify txs.
func Aggregate(txs []Transaction) Aggregates {
	agg := Aggregates{
		intervalIndex: make(map[string]int),
		groupIndex:    make(map[GroupKey]int),
		customerIndex: make(map[string]int),
	}

	for i, tx := range txs {
		agg.addInterval(tx)
		agg.addGroup(i, tx)
		agg.addCustomer(i, tx)

		if tx.DrCr == Debit {
			agg.DebitCount += tx.TransactionCount
			agg.DebitAmount = agg.DebitAmount.Add(tx.TotalAmount)
		} else {
			agg.CreditCount += tx.TransactionCount
			agg.CreditAmount = agg.CreditAmount.Add(tx.TotalAmount)
		}
	}
	return agg
}

func (a *Aggregates) addInterval(tx Transaction) {
	idx, ok := a.intervalIndex[tx.IntervalKey]
	if !ok {
		idx = len(a.Intervals)
		a.intervalIndex[tx.IntervalKey] = idx
		a.Intervals = append(a.Intervals, IntervalBucket{Interval: tx.IntervalKey})
	}

	bucket := &a.Intervals[idx]
	if tx.DrCr == Debit {
		bucket.DebitCount += tx.TransactionCount
	} else {
		bucket.CreditCount += tx.TransactionCount
	}
	bucket.TransactionCount += tx.TransactionCount
	bucket.TotalAmount = bucket.TotalAmount.Add(tx.TotalAmount)
}

func (a *Aggregates) addGroup(record int, tx Transaction) {
	key := GroupKey{CustomerID: tx.CustomerID, IntervalKey: tx.IntervalKey}
	idx, ok := a.groupIndex[key]
	if !ok {
		idx = len(a.Groups)
		a.groupIndex[key] = idx
		a.Groups = append(a.Groups, CustomerGroup{Key: key})
	}
	a.Groups[idx].Records = append(a.Groups[idx].Records, record)
}

func (a *Aggregates) addCustomer(record int, tx Transaction) {
	idx, ok := a.customerIndex[tx.CustomerID]
	if !ok {
		idx = len(a.Customers)
		a.customerIndex[tx.CustomerID] = idx
		a.Customers = append(a.Customers, CustomerTotals{
			CustomerID:   tx.CustomerID,
			CustomerName: tx.CustomerName,
			FirstRecord:  record,
			Intervals:    make(map[string]int),
		})
	}

	c := &a.Customers[idx]
	c.TotalTransactions += tx.TransactionCount
	c.TotalAmount = c.TotalAmount.Add(tx.TotalAmount)
	if tx.DrCr == Debit {
		c.DebitAmount = c.DebitAmount.Add(tx.TotalAmount)
	} else {
		c.CreditAmount = c.CreditAmount.Add(tx.TotalAmount)
	}
	if tx.LastTransaction != nil && (c.LastActivity == nil || tx.LastTransaction.After(*c.LastActivity)) {
		ts := *tx.LastTransaction
		c.LastActivity = &ts
	}
	c.Records = append(c.Records, record)
	c.Intervals[tx.IntervalKey] += tx.TransactionCount
}
