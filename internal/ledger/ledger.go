// Package ledger holds the in-memory record of open positions. It is advisory:
// the on-chain balance is the source of truth, and callers reconcile against a
// live balance read before acting on any entry.
package ledger

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Kali123411/fomosniperLFG/internal/domain"
)

// Ledger is a map of open positions keyed by lower-cased token address.
// Mutations happen from the orchestrator's serialized callback stream; the
// RWMutex exists so snapshot readers stay safe against that single writer.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]domain.Position
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{positions: make(map[string]domain.Position)}
}

// Upsert stores or replaces the position for its token.
func (l *Ledger) Upsert(p domain.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.positions[domain.PositionKey(p.Token)] = p.Clone()
}

// Get returns the position for token, if any.
func (l *Ledger) Get(token common.Address) (domain.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.positions[domain.PositionKey(token)]
	if !ok {
		return domain.Position{}, false
	}
	return p.Clone(), true
}

// Snapshot returns an independent copy of all open positions, safe to iterate
// while the ledger mutates.
func (l *Ledger) Snapshot() []domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p.Clone())
	}
	return out
}

// Remove deletes the position for token. Removing an absent token is a no-op.
func (l *Ledger) Remove(token common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.positions, domain.PositionKey(token))
}

// Len returns the number of open positions.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.positions)
}

// RecordEntry applies a confirmed entry fill. Repeated entries into the same
// token accumulate cost, keep the earliest block, and overwrite the curve so a
// venue migration is picked up.
func (l *Ledger) RecordEntry(token, curve common.Address, costDelta *big.Int, block uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := domain.PositionKey(token)
	existing, ok := l.positions[key]
	if !ok {
		l.positions[key] = domain.Position{
			Token:          token,
			Curve:          curve,
			CostBasis:      new(big.Int).Set(costDelta),
			FirstSeenBlock: block,
		}
		return
	}

	existing.Curve = curve
	existing.CostBasis = new(big.Int).Add(existing.CostBasis, costDelta)
	if block < existing.FirstSeenBlock {
		existing.FirstSeenBlock = block
	}
	l.positions[key] = existing
}
