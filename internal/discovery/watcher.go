// Package discovery feeds the engine with new-curve creation events and block
// ticks. It backfills a trailing window of factory logs on startup so the
// ledger can grow from empty, then follows the chain head by polling. Delivery
// is at-least-once; the engine de-duplicates.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Sink receives discoveries and ticks; implemented by the engine.
type Sink interface {
	OnAssetDiscovered(token, curve common.Address, block uint64)
	OnBlock(height uint64)
}

// Config holds the watcher parameters.
type Config struct {
	// Factory is the curve factory whose creation events are watched.
	Factory common.Address
	// CreatedTopic is topic0 of the factory's creation event.
	CreatedTopic common.Hash
	// BackfillBlocks is the trailing window scanned on startup.
	BackfillBlocks uint64
	// PollInterval is how often the head is re-read. Heights may be skipped
	// under load; consumers must tolerate non-contiguous ticks.
	PollInterval time.Duration
}

// Watcher follows the factory and the chain head.
type Watcher struct {
	eth    *ethclient.Client
	cfg    Config
	sink   Sink
	logger *slog.Logger
}

// New creates a Watcher delivering into sink.
func New(eth *ethclient.Client, cfg Config, sink Sink, logger *slog.Logger) *Watcher {
	return &Watcher{
		eth:    eth,
		cfg:    cfg,
		sink:   sink,
		logger: logger.With(slog.String("component", "discovery")),
	}
}

// Run backfills, then polls until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	head, err := w.eth.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("discovery: head: %w", err)
	}

	from := uint64(0)
	if head > w.cfg.BackfillBlocks {
		from = head - w.cfg.BackfillBlocks
	}
	if err := w.scan(ctx, from, head); err != nil {
		// Backfill failure is recoverable: live polling re-covers the gap on
		// the next successful scan.
		w.logger.Warn("backfill scan failed", slog.String("error", err.Error()))
	}

	w.logger.Info("watching factory",
		slog.String("factory", w.cfg.Factory.Hex()),
		slog.Uint64("from_block", head),
	)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	last := head
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		head, err := w.eth.BlockNumber(ctx)
		if err != nil {
			w.logger.Warn("head poll failed", slog.String("error", err.Error()))
			continue
		}
		if head <= last {
			continue
		}

		if err := w.scan(ctx, last+1, head); err != nil {
			w.logger.Warn("log scan failed, will retry range",
				slog.Uint64("from", last+1),
				slog.Uint64("to", head),
				slog.String("error", err.Error()),
			)
			continue
		}

		w.sink.OnBlock(head)
		last = head
	}
}

// scan filters creation events in [from, to] and forwards them to the sink.
func (w *Watcher) scan(ctx context.Context, from, to uint64) error {
	logs, err := w.eth.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{w.cfg.Factory},
		Topics:    [][]common.Hash{{w.cfg.CreatedTopic}},
	})
	if err != nil {
		return fmt.Errorf("discovery: filter logs: %w", err)
	}

	for _, lg := range logs {
		if len(lg.Topics) < 3 {
			w.logger.Warn("malformed creation event, skipping",
				slog.String("tx", lg.TxHash.Hex()),
			)
			continue
		}
		token := common.BytesToAddress(lg.Topics[1].Bytes())
		curve := common.BytesToAddress(lg.Topics[2].Bytes())
		w.sink.OnAssetDiscovered(token, curve, lg.BlockNumber)
	}
	return nil
}
