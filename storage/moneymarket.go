package storage

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// KVMoneyMarket is a ledger-resident money market. Balances live in the same
// State overlay as the rest of the ledger, so deposits and withdrawals share
// the transactional boundary of the operation that triggered them. Yield is
// injected explicitly with AccrueYield rather than accruing on a clock.
type KVMoneyMarket struct {
	state *State
}

// NewKVMoneyMarket binds a money market to the given overlay.
func NewKVMoneyMarket(state *State) *KVMoneyMarket {
	return &KVMoneyMarket{state: state}
}

func moneyMarketKey(asset string) string {
	return keyMoneyMarket + strings.ToUpper(strings.TrimSpace(asset))
}

func (m *KVMoneyMarket) balance(asset string) (*big.Int, error) {
	raw, ok, err := m.state.get(moneyMarketKey(asset))
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	value, valid := new(big.Int).SetString(string(raw), 10)
	if !valid {
		return nil, fmt.Errorf("storage: malformed money market balance for %s", asset)
	}
	return value, nil
}

func (m *KVMoneyMarket) setBalance(asset string, value *big.Int) {
	m.state.put(moneyMarketKey(asset), []byte(value.String()))
}

// Deposit adds amount to the market position for asset.
func (m *KVMoneyMarket) Deposit(asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errors.New("storage: money market deposit amount invalid")
	}
	value, err := m.balance(asset)
	if err != nil {
		return err
	}
	m.setBalance(asset, value.Add(value, amount))
	return nil
}

// Withdraw removes amount from the market position for asset.
func (m *KVMoneyMarket) Withdraw(asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errors.New("storage: money market withdraw amount invalid")
	}
	value, err := m.balance(asset)
	if err != nil {
		return err
	}
	if value.Cmp(amount) < 0 {
		return errors.New("storage: money market balance too low")
	}
	m.setBalance(asset, value.Sub(value, amount))
	return nil
}

// Balance reports the current market position for asset.
func (m *KVMoneyMarket) Balance(asset string) (*big.Int, error) {
	return m.balance(asset)
}

// AccrueYield grows the market position for asset by amount. The next reserve
// state update picks the growth up as supplier income.
func (m *KVMoneyMarket) AccrueYield(asset string, amount *big.Int) error {
	return m.Deposit(asset, amount)
}
