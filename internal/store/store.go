// Package store persists the session document: session state, open
// positions, and the closed-trade history. The document is the single source
// of truth; writes replace it atomically.
package store

import (
	"context"
	"fmt"

	"github.com/ocastell/atlas-trader/internal/position"
	"github.com/ocastell/atlas-trader/internal/session"
)

// Document is the full persisted state.
type Document struct {
	Session       session.Session         `json:"session"`
	OpenPositions []position.Position     `json:"openPositions"`
	TradeHistory  []position.HistoryEntry `json:"tradeHistory"`
}

// Repository loads and atomically saves the session document. Storage
// mechanics are swappable without touching the state machine.
type Repository interface {
	Load(ctx context.Context) (*Document, error)
	Save(ctx context.Context, doc *Document) error
}

// ValidationError marks a malformed persisted document. Fatal at load time:
// the process refuses to operate on an invalid document rather than silently
// repairing it.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid session document: %s: %s", e.Field, e.Detail)
}

// Validate checks the structural invariants of a loaded document.
func Validate(doc *Document) error {
	s := doc.Session
	if s.ID == "" {
		return &ValidationError{Field: "session.id", Detail: "missing"}
	}
	if s.Budget.Initial <= 0 {
		return &ValidationError{Field: "session.budget.initial", Detail: fmt.Sprintf("must be > 0, got %v", s.Budget.Initial)}
	}
	if s.Budget.Remaining < 0 {
		return &ValidationError{Field: "session.budget.remaining", Detail: fmt.Sprintf("negative: %v", s.Budget.Remaining)}
	}
	if s.Compound.MaxBudget > 0 && s.Budget.Remaining > s.Compound.MaxBudget {
		return &ValidationError{Field: "session.budget.remaining", Detail: fmt.Sprintf("%v exceeds max budget %v", s.Budget.Remaining, s.Compound.MaxBudget)}
	}
	if s.Compound.Rate < 0 || s.Compound.Rate > 1 {
		return &ValidationError{Field: "session.compound.rate", Detail: fmt.Sprintf("must be in [0,1], got %v", s.Compound.Rate)}
	}
	if s.Stats.TradesClosed != s.Stats.Wins+s.Stats.Losses {
		return &ValidationError{Field: "session.stats", Detail: fmt.Sprintf("tradesClosed %d != wins %d + losses %d", s.Stats.TradesClosed, s.Stats.Wins, s.Stats.Losses)}
	}
	if s.Rebalancing.RebalancesToday < 0 || (s.Rebalancing.MaxPerDay > 0 && s.Rebalancing.RebalancesToday > s.Rebalancing.MaxPerDay) {
		return &ValidationError{Field: "session.rebalancing.rebalancesToday", Detail: fmt.Sprintf("out of range: %d", s.Rebalancing.RebalancesToday)}
	}

	for i := range doc.OpenPositions {
		if err := validatePosition(&doc.OpenPositions[i], i); err != nil {
			return err
		}
	}
	return nil
}

func validatePosition(p *position.Position, i int) error {
	field := func(name string) string { return fmt.Sprintf("openPositions[%d].%s", i, name) }

	if p.State != position.StateOpen {
		return &ValidationError{Field: field("state"), Detail: fmt.Sprintf("persisted position must be open, got %q", p.State)}
	}
	if p.Side != "long" {
		return &ValidationError{Field: field("side"), Detail: fmt.Sprintf("only long supported, got %q", p.Side)}
	}
	if p.Size <= 0 {
		return &ValidationError{Field: field("size"), Detail: fmt.Sprintf("must be > 0, got %v", p.Size)}
	}
	if !(p.Risk.DynamicSL < p.Entry.Price && p.Entry.Price < p.Risk.DynamicTP) {
		return &ValidationError{Field: field("risk"), Detail: fmt.Sprintf("requires SL %v < entry %v < TP %v", p.Risk.DynamicSL, p.Entry.Price, p.Risk.DynamicTP)}
	}
	ts := p.Risk.TrailingStop
	if !ts.Active && ts.CurrentStopPrice != 0 {
		return &ValidationError{Field: field("risk.trailingStop"), Detail: "stop price set while inactive"}
	}
	if ts.Active && ts.CurrentStopPrice <= 0 {
		return &ValidationError{Field: field("risk.trailingStop"), Detail: "active without a stop price"}
	}
	return nil
}
