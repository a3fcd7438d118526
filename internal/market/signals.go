package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// HTTPSignalProvider pulls pre-scored signals from an external scoring
// service: GET {base}/signal?asset=<id> returning the Signal fields as JSON.
type HTTPSignalProvider struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPSignalProvider(baseURL string) *HTTPSignalProvider {
	return &HTTPSignalProvider{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *HTTPSignalProvider) GetSignal(ctx context.Context, assetID string) (Signal, error) {
	endpoint := fmt.Sprintf("%s/signal?asset=%s", p.BaseURL, url.QueryEscape(assetID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Signal{}, fmt.Errorf("failed to build signal request: %w", err)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return Signal{}, fmt.Errorf("failed to fetch signal for %s: %w", assetID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Signal{}, fmt.Errorf("signal service returned %s for %s", resp.Status, assetID)
	}

	var sig Signal
	if err := json.NewDecoder(resp.Body).Decode(&sig); err != nil {
		return Signal{}, fmt.Errorf("failed to decode signal for %s: %w", assetID, err)
	}
	return sig, nil
}

// GetATR fetches the externally computed ATR for an asset:
// GET {base}/atr?asset=<id> returning {"atr": <number>}.
func (p *HTTPSignalProvider) GetATR(ctx context.Context, assetID string) (float64, error) {
	endpoint := fmt.Sprintf("%s/atr?asset=%s", p.BaseURL, url.QueryEscape(assetID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build ATR request: %w", err)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch ATR for %s: %w", assetID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("signal service returned %s for %s ATR", resp.Status, assetID)
	}

	var out struct {
		ATR float64 `json:"atr"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode ATR for %s: %w", assetID, err)
	}
	return out.ATR, nil
}

// NoSignals never recommends an entry. Used when no scoring service is
// configured: open positions are still risk-managed, nothing new is opened.
type NoSignals struct{}

func (NoSignals) GetSignal(ctx context.Context, assetID string) (Signal, error) {
	return Signal{Score: 0, Reason: "no signal provider configured"}, nil
}
