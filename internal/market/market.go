// Package market
package market

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrStaleData is returned by a PriceFeed when it has no fresh price/ATR for
// an asset. The caller skips that asset for the current tick.
var ErrStaleData = errors.New("stale market data")

// ExecutionError wraps a brokerage/network failure of an order execution.
// Executions that fail with it are retried with bounded backoff and, if the
// cap is reached, abandoned for the cycle.
type ExecutionError struct {
	Op  string // "open" or "close"
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed (%s): %v", e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Asset identifies a tradable instrument.
type Asset struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Class string `json:"class" yaml:"class"` // e.g. "stock", "crypto", "etf"
}

// Quote is a price/volatility snapshot for one asset.
type Quote struct {
	Price float64
	ATR   float64
	Time  time.Time
}

// Signal is an externally-produced, already-scored trade signal.
type Signal struct {
	Score          float64 // composite score, -100..100
	TechnicalScore float64
	Sentiment      string
	Confidence     float64
	Reason         string
}

// Order is a request handed to an OrderExecutor.
type Order struct {
	AssetID    string
	Side       string // "buy" or "sell"
	Size       float64
	OrderType  string // "market" or "limit"
	LimitPrice float64
}

// Fill is a confirmed execution.
type Fill struct {
	OrderID string
	Price   float64
	Fee     float64
	Time    time.Time
}

// PriceFeed supplies the current price and ATR for an asset.
type PriceFeed interface {
	GetPrice(ctx context.Context, assetID string) (Quote, error)
}

// SignalProvider yields the resolved composite signal for an asset.
type SignalProvider interface {
	GetSignal(ctx context.Context, assetID string) (Signal, error)
}

// OrderExecutor routes an order to the brokerage and reports the fill.
type OrderExecutor interface {
	Execute(ctx context.Context, o Order) (Fill, error)
}

// Clock abstracts time.Now so monitoring and tests stay deterministic.
type Clock interface {
	Now() time.Time
}

// RealClock is the wall-clock Clock used outside tests.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC() }

// ExecuteWithRetry submits an order, retrying transient failures with
// exponential backoff capped at maxDelay. Callers never mutate state until a
// fill is confirmed, so a failed attempt is safely retryable.
func ExecuteWithRetry(ctx context.Context, ex OrderExecutor, o Order, maxAttempts int, delay time.Duration) (Fill, error) {
	const maxDelay = 2 * time.Minute

	var fill Fill
	var err error
	backoff := delay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		fill, err = ex.Execute(ctx, o)
		if err == nil {
			return fill, nil
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return Fill{}, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxDelay {
			backoff = maxDelay
		}
	}
	return Fill{}, err
}
