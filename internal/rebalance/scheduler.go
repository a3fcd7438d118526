// Package rebalance frees capital locked in stagnant positions. A position
// that has been held past the configured horizon without ever becoming
// meaningfully profitable is force-closed, subject to a daily quota.
package rebalance

import (
	"context"
	"errors"
	"log"

	"github.com/ocastell/atlas-trader/internal/lifecycle"
	"github.com/ocastell/atlas-trader/internal/market"
	"github.com/ocastell/atlas-trader/internal/position"
	"github.com/ocastell/atlas-trader/internal/risk"
	"github.com/ocastell/atlas-trader/internal/session"
)

// peakPnLThreshold is the "never meaningfully profitable" bar: a position
// whose peak unrealized PnL stayed under +1% counts as stagnant once the
// holding horizon has passed.
const peakPnLThreshold = 1.0

type Scheduler struct {
	controller      *lifecycle.Controller
	ledger          *session.Ledger
	clock           market.Clock
	stagnationHours float64
}

func New(controller *lifecycle.Controller, clock market.Clock, stagnationHours float64) *Scheduler {
	return &Scheduler{
		controller:      controller,
		ledger:          controller.Ledger(),
		clock:           clock,
		stagnationHours: stagnationHours,
	}
}

// Stagnant reports whether the position qualifies for a forced close.
func (s *Scheduler) Stagnant(p *position.Position) bool {
	return p.Performance.HoldingTimeHours >= s.stagnationHours &&
		p.Performance.PeakPnLPercent < peakPnLThreshold
}

// Sweep runs one rebalancing pass over the open positions. The day counter
// resets first, so the quota always reflects the current UTC day. Closes go
// through the controller, which consumes the quota on a confirmed fill only.
func (s *Scheduler) Sweep(ctx context.Context) {
	now := s.clock.Now()
	if s.ledger.ResetRebalanceDay(now) {
		log.Printf("Rebalance | Daily counter reset at %s", now.UTC().Format("2006-01-02"))
	}

	for _, p := range s.controller.OpenPositions() {
		p := p
		if !s.Stagnant(&p) {
			continue
		}
		if !s.ledger.RebalanceAllowed() {
			log.Printf("Rebalance | [%s] Stagnant but daily quota exhausted", p.Asset.ID)
			return
		}

		log.Printf("Rebalance | [%s] Stagnant: held %.1fh, peak PnL %.2f%%, forcing close",
			p.Asset.ID, p.Performance.HoldingTimeHours, p.Performance.PeakPnLPercent)
		if err := s.controller.RequestClose(ctx, p.ID, risk.TriggerRebalance); err != nil {
			if errors.Is(err, lifecycle.ErrPositionNotFound) {
				continue
			}
			// Execution failure: position stays open and is retried next
			// cycle without consuming quota.
			log.Printf("Rebalance | [%s] Forced close failed: %v", p.Asset.ID, err)
		}
	}
}
