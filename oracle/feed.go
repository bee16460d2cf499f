// Package oracle provides the price feed consumed by the lending engine.
// Prices are posted by an external attester and served with a staleness
// bound; the engine never stores them.
package oracle

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"lendvault/native/lending"
)

var (
	ErrMissingPrice = errors.New("oracle: no price posted for asset")
	ErrStalePrice   = errors.New("oracle: price older than allowed age")
)

// Feed is an in-process PriceOracle fed by posted quotes. Each quote carries
// the time it was observed; GetPrice rejects quotes older than the caller's
// staleness bound against the shared clock.
type Feed struct {
	mu     sync.RWMutex
	clock  lending.Clock
	quotes map[lending.AssetID]lending.Price
}

func NewFeed(clock lending.Clock) *Feed {
	return &Feed{
		clock:  clock,
		quotes: make(map[lending.AssetID]lending.Price),
	}
}

// Post records a fresh quote for an asset. A zero value is rejected since the
// engine treats it as a missing price.
func (f *Feed) Post(asset lending.AssetID, value uint64, asOf int64) error {
	if value == 0 {
		return fmt.Errorf("oracle: zero price for %s", asset)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes[asset] = lending.Price{Value: value, AsOf: asOf}
	return nil
}

// GetPrice returns the latest quote for an asset if it is no older than
// maxAge.
func (f *Feed) GetPrice(asset lending.AssetID, maxAge time.Duration) (lending.Price, error) {
	f.mu.RLock()
	price, ok := f.quotes[asset]
	f.mu.RUnlock()
	if !ok {
		return lending.Price{}, fmt.Errorf("%w: %s", ErrMissingPrice, asset)
	}
	age := f.clock.Now() - price.AsOf
	if age < 0 {
		age = 0
	}
	if time.Duration(age)*time.Second > maxAge {
		return lending.Price{}, fmt.Errorf("%w: %s is %ds old", ErrStalePrice, asset, age)
	}
	return price, nil
}
