package simulations

import (
	"context"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/nexxore/safeyield/internal/venue"
)

// PriceDecimals is the scale used by SetPrice, matching common USD oracle answers.
const PriceDecimals = 8

// PriceFeed is an in-memory oracle.
type PriceFeed struct {
	mu     sync.Mutex
	prices map[string]venue.Price
	err    error
}

var _ venue.PriceFeed = (*PriceFeed)(nil)

func NewPriceFeed() *PriceFeed {
	return &PriceFeed{prices: make(map[string]venue.Price)}
}

// SetPrice records price for asset, scaled to PriceDecimals, as of updatedAt.
func (f *PriceFeed) SetPrice(asset string, price sdkmath.LegacyDec, updatedAt time.Time) {
	scaled := price.MulInt64(100_000_000).TruncateInt()
	f.SetRaw(asset, venue.Price{Value: scaled, Decimals: PriceDecimals, UpdatedAt: updatedAt})
}

// SetRaw records an oracle answer as-is.
func (f *PriceFeed) SetRaw(asset string, p venue.Price) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[asset] = p
}

// Fail makes every LatestPrice call return err. Passing nil restores normal behaviour.
func (f *PriceFeed) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *PriceFeed) LatestPrice(_ context.Context, asset string) (venue.Price, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return venue.Price{}, f.err
	}
	p, ok := f.prices[asset]
	if !ok {
		return venue.Price{}, fmt.Errorf("%w: no price for %s", ErrUnknownAsset, asset)
	}
	return p, nil
}
