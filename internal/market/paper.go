package market

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// PaperExecutor simulates fills at the last quoted price. Used in dry-run
// mode so the lifecycle runs end to end without touching a brokerage.
type PaperExecutor struct {
	mu      sync.Mutex
	feed    PriceFeed
	clock   Clock
	feeRate float64
}

func NewPaperExecutor(feed PriceFeed, clock Clock, feeRate float64) *PaperExecutor {
	return &PaperExecutor{feed: feed, clock: clock, feeRate: feeRate}
}

func (p *PaperExecutor) Execute(ctx context.Context, o Order) (Fill, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if o.Size <= 0 {
		return Fill{}, &ExecutionError{Op: o.Side, Err: fmt.Errorf("size must be > 0, got %v", o.Size)}
	}

	quote, err := p.feed.GetPrice(ctx, o.AssetID)
	if err != nil {
		return Fill{}, &ExecutionError{Op: o.Side, Err: err}
	}

	price := quote.Price
	if o.OrderType == "limit" && o.LimitPrice > 0 {
		price = o.LimitPrice
	}

	return Fill{
		OrderID: uuid.New().String(),
		Price:   price,
		Fee:     price * o.Size * p.feeRate,
		Time:    p.clock.Now(),
	}, nil
}
