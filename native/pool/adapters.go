package pool

import (
	"math/big"

	"opensky/crypto"
)

// MoneyMarket is the external yield integration a reserve can forward its idle
// liquidity to. Adapter failures abort the whole ledger operation; the
// transactional boundary guarantees no partial application.
type MoneyMarket interface {
	Deposit(asset string, amount *big.Int) error
	Withdraw(asset string, amount *big.Int) error
	Balance(asset string) (*big.Int, error)
}

// PriceOracle supplies TWAP collateral prices consumed by the borrow limit
// check. A nil oracle disables the check.
type PriceOracle interface {
	TwapPrice(collection crypto.Address) (*big.Int, error)
}

// FlashClaimReceiver is invoked with escrowed collateral included in the call
// context. The receiver must leave every token in escrow by the time it
// returns or the whole operation fails.
type FlashClaimReceiver interface {
	ExecuteOperation(collections []crypto.Address, tokenIDs []uint64, initiator crypto.Address, params []byte) error
}
