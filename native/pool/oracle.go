package pool

import (
	"math/big"
	"sync"

	"opensky/crypto"
)

// StaticOracle is a PriceOracle backed by operator-maintained TWAP prices.
type StaticOracle struct {
	mu     sync.RWMutex
	prices map[string]*big.Int
}

// NewStaticOracle returns an empty oracle.
func NewStaticOracle() *StaticOracle {
	return &StaticOracle{prices: make(map[string]*big.Int)}
}

// SetPrice records the TWAP price for a collection. A nil price removes the
// entry.
func (o *StaticOracle) SetPrice(collection crypto.Address, price *big.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := collection.String()
	if price == nil {
		delete(o.prices, key)
		return
	}
	o.prices[key] = new(big.Int).Set(price)
}

// TwapPrice implements the PriceOracle interface. Unknown collections price
// at zero.
func (o *StaticOracle) TwapPrice(collection crypto.Address) (*big.Int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if price, ok := o.prices[collection.String()]; ok {
		return new(big.Int).Set(price), nil
	}
	return big.NewInt(0), nil
}
