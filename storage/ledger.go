package storage

import "sync"

// Ledger serializes state transitions over a Database. Each Execute call gets
// a private State overlay; the overlay is committed only when fn returns nil,
// so a failed operation leaves the store untouched.
type Ledger struct {
	mu sync.Mutex
	db Database
}

// NewLedger wraps db in a ledger.
func NewLedger(db Database) *Ledger {
	return &Ledger{db: db}
}

// Execute runs fn against a fresh overlay and commits it on success.
func (l *Ledger) Execute(fn func(*State) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	state := NewState(l.db)
	if err := fn(state); err != nil {
		return err
	}
	return state.Commit()
}

// View runs fn against a fresh overlay and always discards it. Reads see
// committed data; any writes fn makes are thrown away.
func (l *Ledger) View(fn func(*State) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fn(NewState(l.db))
}

// Close releases the backing store.
func (l *Ledger) Close() {
	l.db.Close()
}
