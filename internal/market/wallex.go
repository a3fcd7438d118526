package market

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	wallex "github.com/wallexchange/wallex-go"

	"github.com/ocastell/atlas-trader/internal/utils"
)

// WallexGateway adapts the Wallex exchange client to the PriceFeed and
// OrderExecutor collaborator interfaces. ATR is not computed here; the
// gateway reports the value supplied by the upstream indicator service
// through SetATR (indicator math stays outside this core).
type WallexGateway struct {
	client  *wallex.Client
	feeRate float64 // taker fee as a fraction, e.g. 0.001

	mu   sync.RWMutex
	atrs map[string]float64
}

func NewWallexGateway(apiKey string, feeRate float64) *WallexGateway {
	return &WallexGateway{
		client:  wallex.New(wallex.ClientOptions{APIKey: apiKey}),
		feeRate: feeRate,
		atrs:    make(map[string]float64),
	}
}

func (w *WallexGateway) Name() string { return "wallex" }

// SetATR records the externally computed ATR for an asset. A quote without a
// recorded ATR is treated as stale.
func (w *WallexGateway) SetATR(assetID string, atr float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.atrs[assetID] = atr
}

func (w *WallexGateway) GetPrice(ctx context.Context, assetID string) (Quote, error) {
	select {
	case <-ctx.Done():
		return Quote{}, ctx.Err()
	default:
	}

	var trades []*wallex.MarketTrade
	err := retry(3, 2*time.Second, func() error {
		var err error
		trades, err = w.client.MarketTrades(normalizeSymbol(assetID))
		if err != nil {
			return fmt.Errorf("fetching latest trade: %w", err)
		}
		return nil
	})
	if err != nil {
		return Quote{}, fmt.Errorf("GetPrice failed: %w", err)
	}
	if len(trades) == 0 {
		return Quote{}, fmt.Errorf("%w: no trades for %s", ErrStaleData, assetID)
	}

	w.mu.RLock()
	atr, ok := w.atrs[assetID]
	w.mu.RUnlock()
	if !ok || atr <= 0 {
		return Quote{}, fmt.Errorf("%w: no ATR for %s", ErrStaleData, assetID)
	}

	trade := trades[0]
	return Quote{
		Price: numberToFloat(&trade.Price),
		ATR:   atr,
		Time:  trade.Timestamp.UTC(),
	}, nil
}

func (w *WallexGateway) Execute(ctx context.Context, o Order) (Fill, error) {
	select {
	case <-ctx.Done():
		return Fill{}, ctx.Err()
	default:
	}

	params := &wallex.OrderParams{
		Symbol:   normalizeSymbol(o.AssetID),
		Type:     strings.ToUpper(o.OrderType),
		Side:     strings.ToUpper(o.Side),
		Quantity: wallex.Number(strconv.FormatFloat(o.Size, 'f', 8, 64)),
	}
	if o.OrderType == "limit" {
		params.Price = wallex.Number(strconv.FormatFloat(o.LimitPrice, 'f', 8, 64))
	}

	resp, err := w.client.PlaceOrder(params)
	if err != nil {
		return Fill{}, &ExecutionError{Op: strings.ToLower(o.Side), Err: err}
	}

	filled := numberToFloat(resp.ExecutedQty)
	if filled < o.Size {
		// A partial or unfilled order is not a confirmed fill; the caller
		// retries the whole operation next cycle.
		if cancelErr := w.client.CancelOrder(resp.ClientOrderID); cancelErr != nil {
			utils.GetLogger().Printf("Market | wallex cancel of unfilled order %s failed: %v", resp.ClientOrderID, cancelErr)
		}
		return Fill{}, &ExecutionError{Op: strings.ToLower(o.Side), Err: fmt.Errorf("order %s not fully filled (%.8f/%.8f)", resp.ClientOrderID, filled, o.Size)}
	}

	avgPrice := numberToFloat(resp.ExecutedPrice)
	return Fill{
		OrderID: resp.ClientOrderID,
		Price:   avgPrice,
		Fee:     avgPrice * filled * w.feeRate,
		Time:    resp.CreatedAt.UTC(),
	}, nil
}

// retry wraps a read-only call with exponential backoff, capped at 5 minutes.
func retry(attempts int, delay time.Duration, fn func() error) error {
	backoff := delay
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		utils.GetLogger().Printf("Market | wallex retry %d/%d failed: %v. Backing off for %v", i, attempts, err, backoff)
		time.Sleep(backoff)
		if backoff < 5*time.Minute {
			backoff *= 2
			if backoff > 5*time.Minute {
				backoff = 5 * time.Minute
			}
		}
	}
	return err
}

// normalizeSymbol strips the hyphen from pair ids like "BTC-USDT".
func normalizeSymbol(assetID string) string {
	return strings.ReplaceAll(strings.ToUpper(assetID), "-", "")
}

func numberToFloat(n *wallex.Number) float64 {
	if n == nil {
		return 0
	}
	out, _ := strconv.ParseFloat(string(*n), 64)
	return out
}
