package domain

import (
	"context"
	"time"
)

// TradeEvent is one journaled lifecycle transition: entry filled, exit sent,
// exit confirmed, graduation claimed, or a replacement give-up.
type TradeEvent struct {
	ID        string
	IntentID  string
	Token     string
	Curve     string
	Action    TradeAction
	Event     string // "entry_filled", "exit_confirmed", "gave_up", ...
	AmountWei string // decimal string, avoids driver-side precision loss
	TxHash    string
	Block     uint64
	CreatedAt time.Time
}

// TradeJournal is an append-only record of what the engine did. Journaling is
// best-effort: failures are logged and never block trading.
type TradeJournal interface {
	Append(ctx context.Context, ev TradeEvent) error
}

// SeenCache suppresses redelivered discovery notifications. MarkSeen returns
// true when the asset was not previously marked.
type SeenCache interface {
	MarkSeen(ctx context.Context, assetKey string) (bool, error)
}
