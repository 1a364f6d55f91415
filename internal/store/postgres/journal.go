package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Kali123411/fomosniperLFG/internal/domain"
)

// TradeJournalStore persists trade events to the trade_events table.
type TradeJournalStore struct {
	pool *pgxpool.Pool
}

var _ domain.TradeJournal = (*TradeJournalStore)(nil)

// NewTradeJournalStore creates a journal backed by the given client.
func NewTradeJournalStore(client *Client) *TradeJournalStore {
	return &TradeJournalStore{pool: client.Pool()}
}

// Append inserts one trade event. Missing IDs and timestamps are filled in.
func (s *TradeJournalStore) Append(ctx context.Context, ev domain.TradeEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	amount := ev.AmountWei
	if amount == "" {
		amount = "0"
	}

	const q = `
		INSERT INTO trade_events
			(id, intent_id, token, curve, action, event, amount_wei, tx_hash, block, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, q,
		ev.ID, ev.IntentID, ev.Token, ev.Curve, string(ev.Action),
		ev.Event, amount, ev.TxHash, int64(ev.Block), ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append trade event: %w", err)
	}
	return nil
}
