// Package lifecycle orchestrates the open → monitor → close state machine.
// The Controller is the single writer: every mutation of the session, the
// open-position set, and the trade history goes through its mutex, one
// in-flight mutation at a time.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ocastell/atlas-trader/internal/journal"
	"github.com/ocastell/atlas-trader/internal/market"
	"github.com/ocastell/atlas-trader/internal/metrics"
	"github.com/ocastell/atlas-trader/internal/notifier"
	"github.com/ocastell/atlas-trader/internal/position"
	"github.com/ocastell/atlas-trader/internal/risk"
	"github.com/ocastell/atlas-trader/internal/session"
	"github.com/ocastell/atlas-trader/internal/sizing"
	"github.com/ocastell/atlas-trader/internal/store"
)

// ErrPositionNotFound is returned when a close request names a position that
// is no longer open.
var ErrPositionNotFound = errors.New("position not found")

// Options are the controller's trading parameters, taken from config.
type Options struct {
	Strategy          string
	OrderType         string // "market" unless configured otherwise
	MinTradeSize      float64
	FeeRate           float64
	DefaultKelly      float64
	MaxKelly          float64
	ExecutionAttempts int
	ExecutionDelay    time.Duration
}

// Controller owns the open positions and the session ledger. All public
// methods serialize on one mutex; the PENDING_* states exist only inside a
// locked section, so no other mutation can target a pending position.
type Controller struct {
	mu sync.Mutex

	opts     Options
	ledger   *session.Ledger
	repo     store.Repository
	executor market.OrderExecutor
	jrnl     journal.Journaler
	notif    notifier.Notifier
	clock    market.Clock

	open    []*position.Position
	history []position.HistoryEntry
}

// New restores a controller from a loaded session document.
func New(doc *store.Document, repo store.Repository, executor market.OrderExecutor, jrnl journal.Journaler, notif notifier.Notifier, clock market.Clock, opts Options) *Controller {
	if opts.OrderType == "" {
		opts.OrderType = "market"
	}
	sess := doc.Session
	c := &Controller{
		opts:     opts,
		ledger:   session.NewLedger(&sess),
		repo:     repo,
		executor: executor,
		jrnl:     jrnl,
		notif:    notif,
		clock:    clock,
		history:  append([]position.HistoryEntry(nil), doc.TradeHistory...),
	}
	for i := range doc.OpenPositions {
		p := doc.OpenPositions[i]
		c.open = append(c.open, &p)
	}
	return c
}

// Session returns a copy of the current session state.
func (c *Controller) Session() session.Session {
	return c.ledger.Snapshot()
}

// Ledger exposes the session ledger for quota checks (rebalancing).
func (c *Controller) Ledger() *session.Ledger {
	return c.ledger
}

// OpenPositions returns copies of the open positions in insertion order.
func (c *Controller) OpenPositions() []position.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]position.Position, 0, len(c.open))
	for _, p := range c.open {
		out = append(out, *p)
	}
	return out
}

// Equity is budget.remaining plus the mark-to-market of all open positions.
func (c *Controller) Equity() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.equityLocked()
}

func (c *Controller) equityLocked() float64 {
	equity := c.ledger.Snapshot().Budget.Remaining
	for _, p := range c.open {
		equity += p.Notional()
	}
	return equity
}

// TryOpen sizes and opens a position for the signal. A declined trade is a
// normal terminal outcome for the cycle and comes back as (false, reason,
// nil); only executor or persistence failures return an error.
func (c *Controller) TryOpen(ctx context.Context, asset market.Asset, sig market.Signal, quote market.Quote) (bool, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range c.open {
		if p.Asset.ID == asset.ID && p.State != position.StateOpen {
			return false, "", fmt.Errorf("position %s is %s", p.ID, p.State)
		}
	}

	levels, err := risk.ComputeEntryRisk(c.opts.Strategy, quote.ATR, quote.Price)
	if err != nil {
		return false, "", fmt.Errorf("entry risk for %s: %w", asset.ID, err)
	}

	sess := c.ledger.Snapshot()
	kelly := c.kellyLocked(sess.Stats)
	decision := sizing.ComputeSize(sizing.Input{
		Score:         sig.Score,
		KellyFraction: kelly,
		Equity:        c.equityLocked(),
		AssetPrice:    quote.Price,
		AssetExposure: c.assetExposureLocked(asset.ID),
		OpenPositions: len(c.open),
		FeeRate:       c.opts.FeeRate,
		TargetPrice:   levels.DynamicTP,
		MinNotional:   c.opts.MinTradeSize,
	})
	if decision.Rejected {
		metrics.IncRejection(reasonClass(decision.Reason))
		c.logEvent(ctx, "state", "open_rejected", map[string]any{
			"asset": asset.ID, "reason": decision.Reason, "score": sig.Score,
		})
		log.Printf("Lifecycle | [%s] No trade: %s", asset.ID, decision.Reason)
		return false, decision.Reason, nil
	}

	now := c.clock.Now()
	cost := decision.Notional
	if err := c.ledger.Reserve(cost, now); err != nil {
		if errors.Is(err, session.ErrInsufficientBudget) {
			metrics.IncRejection("insufficient_budget")
			c.logEvent(ctx, "state", "open_rejected", map[string]any{"asset": asset.ID, "reason": err.Error()})
			log.Printf("Lifecycle | [%s] No trade: %v", asset.ID, err)
			return false, err.Error(), nil
		}
		return false, "", err
	}

	// PENDING_OPEN covers exactly the external execution call. State is
	// committed only after a confirmed fill.
	fill, err := market.ExecuteWithRetry(ctx, c.executor, market.Order{
		AssetID:   asset.ID,
		Side:      "buy",
		Size:      decision.Size,
		OrderType: c.opts.OrderType,
	}, c.opts.ExecutionAttempts, c.opts.ExecutionDelay)
	if err != nil {
		c.ledger.Release(cost, c.clock.Now())
		metrics.IncExecutionRetry("open")
		c.logEvent(ctx, "error", "open_execution_failed", map[string]any{"asset": asset.ID, "error": err.Error()})
		log.Printf("Lifecycle | [%s] Entry execution failed, reservation released: %v", asset.ID, err)
		return false, "", fmt.Errorf("open %s: %w", asset.ID, err)
	}

	// The fill may execute away from the quote; move the reservation to the
	// confirmed entry cost so the budget tracks what was actually spent.
	c.ledger.Reconcile(cost, fill.Price*decision.Size, c.clock.Now())

	entryLevels, err := risk.ComputeEntryRisk(c.opts.Strategy, quote.ATR, fill.Price)
	if err != nil {
		// Fill price degenerate; keep the quote-based levels.
		entryLevels = levels
	}
	pos := position.New(asset, decision.Size, fill, c.opts.OrderType, sig, quote.ATR, entryLevels)
	c.open = append(c.open, pos)

	if err := c.persistLocked(ctx); err != nil {
		return true, "", err
	}

	metrics.IncOpen()
	c.logEvent(ctx, "open", "position_opened", map[string]any{
		"position": pos.ID, "asset": asset.ID, "size": pos.Size,
		"entry": fill.Price, "sl": pos.Risk.DynamicSL, "tp": pos.Risk.DynamicTP,
	})
	c.notify(fmt.Sprintf("[OPENED]\nAsset: %s\nSize: %.0f\nEntry: %.2f\nSL: %.2f\nTP: %.2f\nReason: %s",
		asset.ID, pos.Size, fill.Price, pos.Risk.DynamicSL, pos.Risk.DynamicTP, sig.Reason))
	log.Printf("Lifecycle | [%s] Opened %s: size=%.0f entry=%.2f SL=%.2f TP=%.2f",
		asset.ID, pos.ID, pos.Size, fill.Price, pos.Risk.DynamicSL, pos.Risk.DynamicTP)
	return true, "", nil
}

// EvaluateTick refreshes one position from a quote: performance, trailing
// stop, then exit triggers in priority order. A triggered exit closes the
// position in the same locked section.
func (c *Controller) EvaluateTick(ctx context.Context, positionID string, quote market.Quote) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos := c.findLocked(positionID)
	if pos == nil {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}
	if pos.State != position.StateOpen {
		return nil
	}

	pos.UpdatePerformance(quote.Price, c.clock.Now())
	pos.Risk.TrailingStop = risk.UpdateTrailingStop(
		pos.Risk.TrailingStop, pos.Entry.Price, pos.Risk.EntryATR,
		quote.Price, pos.Performance.UnrealizedPnLPercent)

	trigger := risk.EvaluateExit(pos.Risk.DynamicSL, pos.Risk.DynamicTP, pos.Risk.TrailingStop, quote.Price)
	if trigger == risk.TriggerNone {
		return c.persistLocked(ctx)
	}

	log.Printf("Lifecycle | [%s] %s triggered at %.2f", pos.Asset.ID, trigger, quote.Price)
	return c.closeLocked(ctx, pos, trigger)
}

// RequestClose force-closes an open position with the given trigger. Used by
// the rebalancing scheduler so its writes share the controller's mutex.
func (c *Controller) RequestClose(ctx context.Context, positionID string, trigger risk.ExitTrigger) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos := c.findLocked(positionID)
	if pos == nil {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}
	if pos.State != position.StateOpen {
		return nil
	}
	return c.closeLocked(ctx, pos, trigger)
}

// closeLocked runs the close leg: execute the exit, and only after a
// confirmed fill settle the ledger, convert to history, and persist as one
// commit. On executor failure the position stays OPEN and the trigger is
// re-evaluated next cycle.
func (c *Controller) closeLocked(ctx context.Context, pos *position.Position, trigger risk.ExitTrigger) error {
	pos.State = position.StatePendingClose

	fill, err := market.ExecuteWithRetry(ctx, c.executor, market.Order{
		AssetID:   pos.Asset.ID,
		Side:      "sell",
		Size:      pos.Size,
		OrderType: c.opts.OrderType,
	}, c.opts.ExecutionAttempts, c.opts.ExecutionDelay)
	if err != nil {
		pos.State = position.StateOpen
		metrics.IncExecutionRetry("close")
		c.logEvent(ctx, "error", "close_execution_failed", map[string]any{
			"position": pos.ID, "asset": pos.Asset.ID, "trigger": string(trigger), "error": err.Error(),
		})
		log.Printf("Lifecycle | [%s] Exit execution failed, position stays open: %v", pos.Asset.ID, err)
		return fmt.Errorf("close %s: %w", pos.Asset.ID, err)
	}

	exit := position.Exit{
		Price:   fill.Price,
		Time:    fill.Time.UTC(),
		Fee:     fill.Fee,
		Trigger: trigger,
		OrderID: fill.OrderID,
	}
	entry := pos.CloseOut(exit)

	now := c.clock.Now()
	proceeds := fill.Price * pos.Size
	totalFees := pos.Entry.Fee + fill.Fee
	c.ledger.Settle(proceeds, totalFees, entry.NetPnL, now)
	compounded := c.ledger.ApplyCompound(entry.NetPnL, now)
	if trigger == risk.TriggerRebalance {
		c.ledger.RecordRebalance(now)
	}

	c.removeLocked(pos.ID)
	c.history = append(c.history, entry)

	if err := c.persistLocked(ctx); err != nil {
		return err
	}

	metrics.IncClose(string(trigger))
	c.logEvent(ctx, "close", "position_closed", map[string]any{
		"position": pos.ID, "asset": pos.Asset.ID, "trigger": string(trigger),
		"exit": fill.Price, "netPnL": entry.NetPnL, "compounded": compounded,
	})
	c.notify(fmt.Sprintf("[CLOSED: %s]\nAsset: %s\nExit: %.2f\nNet PnL: %.2f (%.2f%%)",
		trigger, pos.Asset.ID, fill.Price, entry.NetPnL, entry.NetPnLPercent))
	log.Printf("Lifecycle | [%s] Closed %s (%s): exit=%.2f netPnL=%.2f compounded=%.2f",
		pos.Asset.ID, pos.ID, trigger, fill.Price, entry.NetPnL, compounded)
	return nil
}

// Persist commits the current state outside a mutation, e.g. the final save
// at shutdown.
func (c *Controller) Persist(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.persistLocked(ctx)
}

// persistLocked stages the full document and replaces the previous one. A
// failed save keeps the prior committed state on disk; the in-memory state
// is re-persisted by the next committed operation.
func (c *Controller) persistLocked(ctx context.Context) error {
	sess := c.ledger.Snapshot()
	doc := &store.Document{
		Session:       sess,
		OpenPositions: make([]position.Position, 0, len(c.open)),
		TradeHistory:  c.history,
	}
	for _, p := range c.open {
		doc.OpenPositions = append(doc.OpenPositions, *p)
	}

	if err := c.repo.Save(ctx, doc); err != nil {
		log.Printf("Lifecycle | Persist failed, prior document intact: %v", err)
		return fmt.Errorf("persist session document: %w", err)
	}

	metrics.SetBudgetRemaining(sess.Budget.Remaining)
	metrics.SetOpenPositions(len(c.open))
	metrics.SetEquity(c.equityLocked())
	return nil
}

func (c *Controller) kellyLocked(stats session.Stats) float64 {
	avgWin, avgLoss := 0.0, 0.0
	wins, losses := 0, 0
	for _, h := range c.history {
		if h.NetPnL > 0 {
			avgWin += h.NetPnL
			wins++
		} else {
			avgLoss += h.NetPnL
			losses++
		}
	}
	if wins > 0 {
		avgWin /= float64(wins)
	}
	if losses > 0 {
		avgLoss /= float64(losses)
	}
	return sizing.KellyFraction(stats.Wins, stats.Losses, avgWin, avgLoss, c.opts.DefaultKelly, c.opts.MaxKelly)
}

func (c *Controller) assetExposureLocked(assetID string) float64 {
	exposure := 0.0
	for _, p := range c.open {
		if p.Asset.ID == assetID {
			exposure += p.Notional()
		}
	}
	return exposure
}

func (c *Controller) findLocked(id string) *position.Position {
	for _, p := range c.open {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (c *Controller) removeLocked(id string) {
	for i, p := range c.open {
		if p.ID == id {
			c.open = append(c.open[:i], c.open[i+1:]...)
			return
		}
	}
}

func (c *Controller) logEvent(ctx context.Context, typ, desc string, data map[string]any) {
	if c.jrnl == nil {
		return
	}
	if err := c.jrnl.LogEvent(ctx, journal.Event{
		Time:        c.clock.Now(),
		Type:        typ,
		Description: desc,
		Data:        data,
	}); err != nil {
		log.Printf("Lifecycle | Error logging event %s: %v", desc, err)
	}
}

func (c *Controller) notify(msg string) {
	if c.notif == nil {
		return
	}
	if err := c.notif.SendWithRetry(msg); err != nil {
		log.Printf("Lifecycle | Error sending notification: %v", err)
	}
}

// reasonClass folds free-form rejection reasons into stable metric labels.
func reasonClass(reason string) string {
	switch {
	case strings.Contains(reason, "signal too weak"):
		return "weak_signal"
	case strings.Contains(reason, "max open positions"):
		return "max_positions"
	case strings.Contains(reason, "exposure"):
		return "exposure"
	case strings.Contains(reason, "below minimum"):
		return "min_notional"
	case strings.Contains(reason, "fee gate"):
		return "fee_gate"
	default:
		return "other"
	}
}
