package core

import (
	"math/big"
	"time"

	"opensky/core/events"
	"opensky/core/types"
	"opensky/crypto"
	"opensky/native/auction"
	"opensky/native/bespoke"
	nativecommon "opensky/native/common"
	"opensky/native/pool"
	"opensky/storage"
)

// NodeConfig carries everything the node needs to assemble the engines.
type NodeConfig struct {
	PoolParams    pool.PoolParams
	BespokeParams bespoke.Params
	// AuctionEscrow is the custody account for collateral under live auctions.
	AuctionEscrow crypto.Address
	// UseMoneyMarket wires the ledger-resident money market into the pool.
	UseMoneyMarket bool
}

// Node is the central controller. It owns the ledger, wires the engines to a
// per-operation state overlay, and fans emitted events out after commit.
type Node struct {
	ledger   *storage.Ledger
	config   NodeConfig
	roles    *nativecommon.StaticRoles
	pauses   nativecommon.StaticPauses
	oracle   *pool.StaticOracle
	emitter  events.Emitter
	strategy pool.InterestRateStrategy
	nowFn    func() int64
}

// NewNode builds a node over db.
func NewNode(db storage.Database, config NodeConfig) *Node {
	return &Node{
		ledger:  storage.NewLedger(db),
		config:  config,
		roles:   nativecommon.NewStaticRoles(nil),
		pauses:  nativecommon.StaticPauses{},
		oracle:  pool.NewStaticOracle(),
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter configures the sink receiving events from committed operations.
func (n *Node) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		n.emitter = events.NoopEmitter{}
		return
	}
	n.emitter = emitter
}

// SetNowFunc overrides the time source, primarily used in tests.
func (n *Node) SetNowFunc(now func() int64) {
	if now == nil {
		n.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	n.nowFn = now
}

// SetDefaultStrategy replaces the rate curve applied to new engines.
func (n *Node) SetDefaultStrategy(s pool.InterestRateStrategy) { n.strategy = s }

// Roles exposes the access control registry for bootstrap grants.
func (n *Node) Roles() *nativecommon.StaticRoles { return n.roles }

// Oracle exposes the TWAP oracle for operator price updates.
func (n *Node) Oracle() *pool.StaticOracle { return n.oracle }

// SetPaused toggles the emergency switch for a module.
func (n *Node) SetPaused(module string, paused bool) { n.pauses[module] = paused }

// IsPaused reports the emergency switch for a module.
func (n *Node) IsPaused(module string) bool { return n.pauses.IsPaused(module) }

// Close releases the underlying store.
func (n *Node) Close() { n.ledger.Close() }

// bufferedEmitter queues events during an operation so nothing escapes if the
// overlay is discarded.
type bufferedEmitter struct {
	queued []events.Event
}

func (b *bufferedEmitter) Emit(evt events.Event) {
	if evt != nil {
		b.queued = append(b.queued, evt)
	}
}

func (n *Node) poolEngine(state *storage.State, emitter events.Emitter) *pool.Engine {
	eng := pool.NewEngine(n.config.PoolParams)
	eng.SetState(state)
	eng.SetRoles(n.roles)
	eng.SetPauses(n.pauses)
	eng.SetOracle(n.oracle)
	eng.SetEmitter(emitter)
	eng.SetNowFunc(n.nowFn)
	if n.strategy != nil {
		eng.SetDefaultStrategy(n.strategy)
	}
	if n.config.UseMoneyMarket {
		eng.SetMoneyMarket(storage.NewKVMoneyMarket(state))
	}
	return eng
}

func (n *Node) auctionEngine(state *storage.State, emitter events.Emitter) *auction.Engine {
	eng := auction.NewEngine(n.config.AuctionEscrow)
	eng.SetState(state)
	eng.SetPauses(n.pauses)
	eng.SetEmitter(emitter)
	eng.SetNowFunc(n.nowFn)
	return eng
}

func (n *Node) bespokeEngine(state *storage.State, emitter events.Emitter, fund *pool.Engine) *bespoke.Engine {
	eng := bespoke.NewEngine(n.config.BespokeParams)
	eng.SetState(state)
	eng.SetPauses(n.pauses)
	eng.SetEmitter(emitter)
	eng.SetNowFunc(n.nowFn)
	if fund != nil {
		eng.SetLiquidityFund(fund)
	}
	return eng
}

// WithPool runs fn against a pool engine inside one atomic ledger operation.
func (n *Node) WithPool(fn func(*pool.Engine) error) error {
	buffer := &bufferedEmitter{}
	err := n.ledger.Execute(func(state *storage.State) error {
		return fn(n.poolEngine(state, buffer))
	})
	if err != nil {
		return err
	}
	n.flush(buffer)
	return nil
}

// ViewPool runs fn against a read-only pool engine.
func (n *Node) ViewPool(fn func(*pool.Engine) error) error {
	return n.ledger.View(func(state *storage.State) error {
		return fn(n.poolEngine(state, events.NoopEmitter{}))
	})
}

// WithAuction runs fn against an auction engine inside one atomic ledger
// operation.
func (n *Node) WithAuction(fn func(*auction.Engine) error) error {
	buffer := &bufferedEmitter{}
	err := n.ledger.Execute(func(state *storage.State) error {
		return fn(n.auctionEngine(state, buffer))
	})
	if err != nil {
		return err
	}
	n.flush(buffer)
	return nil
}

// ViewAuction runs fn against a read-only auction engine.
func (n *Node) ViewAuction(fn func(*auction.Engine) error) error {
	return n.ledger.View(func(state *storage.State) error {
		return fn(n.auctionEngine(state, events.NoopEmitter{}))
	})
}

// WithBespoke runs fn against a bespoke market engine whose funding path is
// the pool engine bound to the same overlay.
func (n *Node) WithBespoke(fn func(*bespoke.Engine) error) error {
	buffer := &bufferedEmitter{}
	err := n.ledger.Execute(func(state *storage.State) error {
		fund := n.poolEngine(state, buffer)
		return fn(n.bespokeEngine(state, buffer, fund))
	})
	if err != nil {
		return err
	}
	n.flush(buffer)
	return nil
}

// ViewBespoke runs fn against a read-only bespoke engine.
func (n *Node) ViewBespoke(fn func(*bespoke.Engine) error) error {
	return n.ledger.View(func(state *storage.State) error {
		fund := n.poolEngine(state, events.NoopEmitter{})
		return fn(n.bespokeEngine(state, events.NoopEmitter{}, fund))
	})
}

// ViewState runs fn against a read-only raw state overlay, for list queries
// that bypass the engines.
func (n *Node) ViewState(fn func(*storage.State) error) error {
	return n.ledger.View(fn)
}

func (n *Node) flush(buffer *bufferedEmitter) {
	for _, evt := range buffer.queued {
		n.emitter.Emit(evt)
	}
}

// --- Account helpers ---

// Credit mints amount of asset onto an account. Faucet-style bootstrap for
// deployments without an external settlement bridge.
func (n *Node) Credit(addr crypto.Address, asset string, amount *big.Int) error {
	return n.ledger.Execute(func(state *storage.State) error {
		account, err := state.GetAccount(addr)
		if err != nil {
			return err
		}
		if account == nil {
			account = types.NewAccount()
		}
		account.SetBalance(asset, new(big.Int).Add(account.Balance(asset), amount))
		return state.PutAccount(addr, account)
	})
}

// AccountBalance reads the balance of asset held by addr.
func (n *Node) AccountBalance(addr crypto.Address, asset string) (*big.Int, error) {
	var balance *big.Int
	err := n.ledger.View(func(state *storage.State) error {
		account, err := state.GetAccount(addr)
		if err != nil {
			return err
		}
		balance = account.Balance(asset)
		return nil
	})
	return balance, err
}

// AccrueMoneyMarketYield injects simulated yield into the ledger-resident
// money market for asset.
func (n *Node) AccrueMoneyMarketYield(asset string, amount *big.Int) error {
	return n.ledger.Execute(func(state *storage.State) error {
		return storage.NewKVMoneyMarket(state).AccrueYield(asset, amount)
	})
}
