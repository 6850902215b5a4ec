// Package rates converts USD prices into base-currency byte amounts.
// One gigabyte is 1e9 bytes; the GB/USD rate comes from an external
// ticker and is cached in memory and mirrored to Redis so a restart
// does not have to wait for the first fetch.
package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"attestation-core/pkg/logger"
)

const (
	bytesPerGB   = 1e9
	redisRateKey = "rates:gbyte_usd"
)

var ErrNoRate = errors.New("no exchange rate available yet")

// Provider holds the last known GB/USD rate.
type Provider struct {
	rateURL string
	rdb     *redis.Client
	http    *http.Client

	mu   sync.RWMutex
	rate decimal.Decimal // USD per GB, zero until the first fetch
}

func NewProvider(rateURL string, rdb *redis.Client) *Provider {
	p := &Provider{
		rateURL: rateURL,
		rdb:     rdb,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	p.loadCached()
	return p
}

// loadCached seeds the in-memory rate from the Redis mirror.
func (p *Provider) loadCached() {
	if p.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	val, err := p.rdb.Get(ctx, redisRateKey).Result()
	if err != nil {
		return
	}
	rate, err := decimal.NewFromString(val)
	if err != nil || !rate.IsPositive() {
		return
	}
	p.mu.Lock()
	p.rate = rate
	p.mu.Unlock()
	logger.Info("loaded cached exchange rate", zap.String("gbyte_usd", rate.String()))
}

// Refresh fetches the current rate from the ticker. Called on startup
// and from the cron schedule; a failed fetch keeps the previous rate.
func (p *Provider) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.rateURL, nil)
	if err != nil {
		return err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetch exchange rate: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch exchange rate: status %d", resp.StatusCode)
	}

	var body struct {
		Quotes struct {
			USD struct {
				Price float64 `json:"price"`
			} `json:"USD"`
		} `json:"quotes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode exchange rate: %w", err)
	}
	if body.Quotes.USD.Price <= 0 {
		return fmt.Errorf("exchange rate out of range: %v", body.Quotes.USD.Price)
	}

	rate := decimal.NewFromFloat(body.Quotes.USD.Price)
	p.Set(rate)

	if p.rdb != nil {
		if err := p.rdb.Set(ctx, redisRateKey, rate.String(), 0).Err(); err != nil {
			logger.Warn("failed to mirror exchange rate to redis", zap.Error(err))
		}
	}
	return nil
}

// Set overrides the in-memory rate.
func (p *Provider) Set(rate decimal.Decimal) {
	p.mu.Lock()
	p.rate = rate
	p.mu.Unlock()
}

// Rate returns the current USD-per-GB rate.
func (p *Provider) Rate() (decimal.Decimal, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.rate.IsPositive() {
		return decimal.Zero, ErrNoRate
	}
	return p.rate, nil
}

// PriceInBytes converts a USD amount to whole bytes at the current rate.
func (p *Provider) PriceInBytes(usd float64) (int64, error) {
	rate, err := p.Rate()
	if err != nil {
		return 0, err
	}
	bytes := decimal.NewFromFloat(usd).
		Div(rate).
		Mul(decimal.NewFromInt(bytesPerGB)).
		Round(0)
	if !bytes.IsPositive() {
		return 0, fmt.Errorf("computed price is not positive: %s", bytes.String())
	}
	return bytes.IntPart(), nil
}
