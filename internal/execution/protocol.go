// Package execution implements the simulate, send, confirm, replace-on-stall
// transaction protocol shared by entry, exit, approval, and graduation actions.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Kali123411/fomosniperLFG/internal/domain"
)

// Config bounds one protocol run.
type Config struct {
	// FeeBumpRatioBps is added to both fee components once up front and again on
	// every replacement.
	FeeBumpRatioBps int64
	// MaxReplacements caps same-nonce re-sends after the initial send.
	MaxReplacements int
	// ConfirmTimeout is the per-attempt confirmation wait.
	ConfirmTimeout time.Duration
}

// Result reports a landed transaction together with every fee bid that was
// broadcast for it. All bids share one nonce.
type Result struct {
	Receipt *domain.Receipt
	Bids    []domain.FeeBid
	Nonce   uint64
}

// Protocol submits a transaction and keeps it alive under congestion by
// fee-bumped same-nonce replacement, bounded by the replacement budget.
type Protocol struct {
	reader domain.ChainReader
	writer domain.ChainWriter
	cfg    Config
	logger *slog.Logger
}

// New creates a Protocol around the given chain collaborators.
func New(reader domain.ChainReader, writer domain.ChainWriter, cfg Config, logger *slog.Logger) *Protocol {
	return &Protocol{
		reader: reader,
		writer: writer,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "execution")),
	}
}

// Execute runs the full protocol for one intent.
//
// A simulation failure aborts before anything is sent. A confirmation timeout
// triggers a fee-bumped replacement re-using the simulated call's nonce, up to
// MaxReplacements. Exhausting the budget returns ErrReplacementExhausted: the
// outcome is unknown and the earlier attempt may still confirm, so callers must
// not assume the position changed. Any rejection that is not a timeout is
// surfaced immediately and never retried here.
func (p *Protocol) Execute(ctx context.Context, intent domain.ExecutionIntent) (*Result, error) {
	log := p.logger.With(
		slog.String("intent_id", intent.ID),
		slog.String("action", string(intent.Action)),
		slog.String("venue", intent.Venue.Hex()),
	)

	quote, err := p.reader.SuggestFees(ctx)
	if err != nil {
		return nil, fmt.Errorf("execution: fee quote: %w", err)
	}
	bid := quote.Bid().Bump(p.cfg.FeeBumpRatioBps)

	call, err := p.writer.Simulate(ctx, intent)
	if err != nil {
		return nil, fmt.Errorf("execution: simulate: %w", err)
	}

	result := &Result{Nonce: call.Nonce}

	handle, err := p.writer.Send(ctx, call, bid)
	if err != nil {
		return nil, fmt.Errorf("execution: send: %w", err)
	}
	result.Bids = append(result.Bids, bid.Clone())
	log.Info("transaction sent",
		slog.String("tx", handle.Hash.Hex()),
		slog.Uint64("nonce", call.Nonce),
		slog.String("max_fee", bid.MaxFee.String()),
	)

	for replacement := 0; ; replacement++ {
		receipt, err := p.writer.WaitMined(ctx, handle, p.cfg.ConfirmTimeout)
		if err == nil {
			result.Receipt = receipt
			log.Info("transaction confirmed",
				slog.String("tx", receipt.TxHash.Hex()),
				slog.Uint64("block", receipt.BlockNumber),
				slog.Bool("success", receipt.Success),
				slog.Int("replacements", replacement),
			)
			return result, nil
		}
		if !errors.Is(err, domain.ErrConfirmationTimeout) {
			return nil, fmt.Errorf("execution: await confirmation: %w", err)
		}
		if replacement >= p.cfg.MaxReplacements {
			log.Warn("replacement budget exhausted, outcome unknown",
				slog.Uint64("nonce", call.Nonce),
				slog.Int("attempts", len(result.Bids)),
			)
			return result, fmt.Errorf("execution: intent %s: %w", intent.ID, domain.ErrReplacementExhausted)
		}

		bid = bid.Bump(p.cfg.FeeBumpRatioBps)
		handle, err = p.writer.Send(ctx, call, bid)
		if err != nil {
			return nil, fmt.Errorf("execution: replacement send: %w", err)
		}
		result.Bids = append(result.Bids, bid.Clone())
		log.Warn("confirmation timed out, replaced with higher fee",
			slog.String("tx", handle.Hash.Hex()),
			slog.Uint64("nonce", call.Nonce),
			slog.String("max_fee", bid.MaxFee.String()),
			slog.Int("replacement", replacement+1),
		)
	}
}

// ExecuteWhenSimulatable retries the whole protocol while simulation keeps
// rejecting, as a bounded busy-wait for actions gated by an on-chain flag that
// flips true once a precondition is met (a graduation claim, typically). Every
// attempt re-simulates; nothing is ever sent against a stale simulation.
func (p *Protocol) ExecuteWhenSimulatable(ctx context.Context, intent domain.ExecutionIntent, attempts int, interval time.Duration) (*Result, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		res, err := p.Execute(ctx, intent)
		if err == nil || !errors.Is(err, domain.ErrSimulationRejected) {
			return res, err
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
	return nil, fmt.Errorf("execution: still not simulatable after %d attempts: %w", attempts, lastErr)
}
