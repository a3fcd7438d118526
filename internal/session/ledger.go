package session

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrInsufficientBudget is returned by Reserve when the remaining budget
// cannot cover the requested cost. Recoverable: the open is declined and the
// cycle continues.
var ErrInsufficientBudget = errors.New("insufficient budget")

// Ledger serializes every mutation of the session. Each method is one atomic
// unit: either all of its fields change or none do, and partial application
// is never observable.
type Ledger struct {
	mu sync.Mutex
	s  *Session
}

func NewLedger(s *Session) *Ledger {
	return &Ledger{s: s}
}

// Snapshot returns a copy of the current session state.
func (l *Ledger) Snapshot() Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.s
}

// Reserve debits cost from the remaining budget and counts the open.
func (l *Ledger) Reserve(cost float64, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cost <= 0 {
		return fmt.Errorf("reserve cost must be > 0, got %.2f", cost)
	}
	if l.s.Budget.Remaining < cost {
		return fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientBudget, cost, l.s.Budget.Remaining)
	}

	l.s.Budget.Remaining -= cost
	l.s.Stats.TradesOpened++
	l.touch(now)
	return nil
}

// Release undoes a reservation after a failed open. No position was created,
// so the open counter is rolled back with the budget.
func (l *Ledger) Release(cost float64, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.s.Budget.Remaining = l.capped(l.s.Budget.Remaining + cost)
	if l.s.Stats.TradesOpened > 0 {
		l.s.Stats.TradesOpened--
	}
	l.touch(now)
}

// Reconcile moves a reservation from the quoted cost to the confirmed fill
// cost. The fill price can differ from the quote the reservation was sized
// on; after reconciliation the budget reflects what the entry actually cost,
// so a later Settle nets the budget by exactly the trade's net PnL.
func (l *Ledger) Reconcile(reserved, actual float64, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if reserved == actual {
		return
	}
	l.s.Budget.Remaining = l.capped(l.s.Budget.Remaining + reserved - actual)
	l.touch(now)
}

// Settle commits a confirmed close: proceeds return to the budget and the
// realized statistics update in the same atomic step.
func (l *Ledger) Settle(exitProceeds, totalFees, netPnL float64, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.s.Budget.Remaining = l.capped(l.s.Budget.Remaining + exitProceeds - totalFees)
	l.s.Stats.TradesClosed++
	if netPnL > 0 {
		l.s.Stats.Wins++
	} else {
		l.s.Stats.Losses++
	}
	l.s.Stats.TotalFeesPaid += totalFees
	l.s.Stats.RealizedPnL += netPnL
	if l.s.Budget.Initial > 0 {
		l.s.Stats.RealizedPnLPercent = l.s.Stats.RealizedPnL / l.s.Budget.Initial * 100
	}
	l.touch(now)
}

// ApplyCompound reinvests a fraction of a winning trade's net profit.
// Skipped silently when disabled, when the trade lost, or when the amount
// would push the budget past its ceiling.
func (l *Ledger) ApplyCompound(netPnL float64, now time.Time) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.s.Compound.Enabled || netPnL <= 0 {
		return 0
	}
	amount := netPnL * l.s.Compound.Rate
	if amount <= 0 || l.s.Budget.Remaining+amount > l.s.Compound.MaxBudget {
		return 0
	}

	l.s.Budget.Remaining += amount
	l.s.Compound.TotalCompounded += amount
	l.touch(now)
	return amount
}

// RecordRebalance consumes one unit of the daily rebalancing quota.
func (l *Ledger) RecordRebalance(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.s.Rebalancing.RebalancesToday++
	l.touch(now)
}

// ResetRebalanceDay zeroes the daily counter when now crosses a UTC
// calendar-day boundary relative to the last reset. Returns true on reset.
func (l *Ledger) ResetRebalanceDay(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	last, err := time.Parse(time.RFC3339, l.s.Rebalancing.LastReset)
	if err != nil {
		last = time.Time{}
	}
	nowUTC := now.UTC()
	if sameUTCDay(last, nowUTC) {
		return false
	}

	l.s.Rebalancing.RebalancesToday = 0
	l.s.Rebalancing.LastReset = nowUTC.Format(time.RFC3339)
	l.touch(now)
	return true
}

// RebalanceAllowed reports whether a forced close fits today's quota.
func (l *Ledger) RebalanceAllowed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.s.Rebalancing.Enabled && l.s.Rebalancing.RebalancesToday < l.s.Rebalancing.MaxPerDay
}

// capped keeps the remaining budget inside [0, maxBudget]. Profit beyond the
// ceiling stays in RealizedPnL accounting but is not tradable.
func (l *Ledger) capped(remaining float64) float64 {
	if ceiling := l.s.Compound.MaxBudget; ceiling > 0 && remaining > ceiling {
		return ceiling
	}
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (l *Ledger) touch(now time.Time) {
	l.s.UpdatedAt = now.UTC().Format(time.RFC3339)
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
