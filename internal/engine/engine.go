// Package engine is the event-driven orchestrator: it reacts to new-asset
// discovery notifications and per-block ticks, driving entries, the exit
// policy, and the graduation watch.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"math/rand"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Kali123411/fomosniperLFG/internal/domain"
	"github.com/Kali123411/fomosniperLFG/internal/execution"
	"github.com/Kali123411/fomosniperLFG/internal/guard"
	"github.com/Kali123411/fomosniperLFG/internal/ledger"
	"github.com/Kali123411/fomosniperLFG/internal/policy"
)

// Discovery is one new-asset creation notification from the discovery feed.
// The feed is at-least-once and may redeliver.
type Discovery struct {
	Token common.Address
	Curve common.Address
	Block uint64
}

// Config holds the orchestrator tunables.
type Config struct {
	// EntrySpendWei is spent on every entry buy.
	EntrySpendWei *big.Int
	SlippageBps   int64
	// GraduationJitterMax is the upper bound of the randomized delay before a
	// graduation claim, desynchronizing concurrent actors racing the same claim.
	GraduationJitterMax time.Duration
	// GraduationSimAttempts/Interval bound the busy-wait while the on-chain
	// eligibility gate has signalled but the claim still simulates as rejected.
	GraduationSimAttempts int
	GraduationSimInterval time.Duration
	// DryRun disables all sends.
	DryRun bool
}

// Executor runs intents through the execution protocol.
type Executor interface {
	Execute(ctx context.Context, intent domain.ExecutionIntent) (*execution.Result, error)
	ExecuteWhenSimulatable(ctx context.Context, intent domain.ExecutionIntent, attempts int, interval time.Duration) (*execution.Result, error)
}

// Notifier delivers operator-facing events. May be nil.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

type trackedCurve struct {
	token     common.Address
	curve     common.Address
	graduated bool
}

// Engine consumes discovery and block-tick messages from its channels in a
// single loop, so ledger mutations are serialized. A second goroutine runs the
// graduation watch; the per-asset guard is what keeps it from overlapping a
// sell on the same asset.
type Engine struct {
	cfg    Config
	ledger *ledger.Ledger
	guard  *guard.Guard
	reader domain.ChainReader
	exec   Executor
	policy *policy.Policy

	seenCache domain.SeenCache    // optional cross-restart dedup
	journal   domain.TradeJournal // optional
	notify    Notifier            // optional
	logger    *slog.Logger

	discoveryCh chan Discovery
	blockCh     chan uint64
	gradTickCh  chan uint64

	mu      sync.Mutex
	seen    map[string]struct{}
	tracked map[string]*trackedCurve

	jitter func(max time.Duration) time.Duration
}

// New creates an Engine. seenCache, journal, and notify may be nil.
func New(
	cfg Config,
	led *ledger.Ledger,
	grd *guard.Guard,
	reader domain.ChainReader,
	exec Executor,
	pol *policy.Policy,
	seenCache domain.SeenCache,
	journal domain.TradeJournal,
	notify Notifier,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		cfg:         cfg,
		ledger:      led,
		guard:       grd,
		reader:      reader,
		exec:        exec,
		policy:      pol,
		seenCache:   seenCache,
		journal:     journal,
		notify:      notify,
		logger:      logger.With(slog.String("component", "engine")),
		discoveryCh: make(chan Discovery, 64),
		blockCh:     make(chan uint64, 16),
		gradTickCh:  make(chan uint64, 1),
		seen:        make(map[string]struct{}),
		tracked:     make(map[string]*trackedCurve),
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(max)))
		},
	}
}

// OnAssetDiscovered queues a discovery notification. It never blocks; when the
// buffer is full the notification is dropped and backfill picks it up later.
func (e *Engine) OnAssetDiscovered(token, curve common.Address, block uint64) {
	select {
	case e.discoveryCh <- Discovery{Token: token, Curve: curve, Block: block}:
	default:
		e.logger.Warn("discovery buffer full, dropping notification",
			slog.String("token", token.Hex()),
		)
	}
}

// OnBlock queues a block tick. Heights may skip under load.
func (e *Engine) OnBlock(height uint64) {
	select {
	case e.blockCh <- height:
	default:
		// A pending tick is already queued; this one is superseded anyway.
	}
}

// OpenPositions returns a snapshot of the ledger.
func (e *Engine) OpenPositions() []domain.Position {
	return e.ledger.Snapshot()
}

// Run consumes events until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine started", slog.Bool("dry_run", e.cfg.DryRun))
	defer e.logger.Info("engine stopped")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.mainLoop(ctx) })
	g.Go(func() error { return e.graduationLoop(ctx) })
	return g.Wait()
}

func (e *Engine) mainLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-e.discoveryCh:
			e.handleDiscovery(ctx, d)
		case height := <-e.blockCh:
			e.handleBlock(ctx, height)
		}
	}
}

// handleDiscovery de-duplicates, sizes the entry, buys, and records the fill.
func (e *Engine) handleDiscovery(ctx context.Context, d Discovery) {
	key := domain.PositionKey(d.Token)
	log := e.logger.With(
		slog.String("token", d.Token.Hex()),
		slog.String("curve", d.Curve.Hex()),
	)

	e.mu.Lock()
	_, dup := e.seen[key]
	e.seen[key] = struct{}{}
	e.mu.Unlock()
	if dup {
		log.Debug("asset already seen, skipping")
		return
	}
	if e.seenCache != nil {
		fresh, err := e.seenCache.MarkSeen(ctx, key)
		if err != nil {
			log.Warn("seen cache unavailable, continuing with in-memory dedup", slog.String("error", err.Error()))
		} else if !fresh {
			log.Debug("asset seen in a previous run, skipping")
			return
		}
	}

	log.Info("new asset discovered", slog.Uint64("block", d.Block))
	if e.cfg.DryRun {
		log.Info("dry run, entry not executed")
		e.track(d)
		return
	}

	expected, err := e.reader.QuoteBuyOutput(ctx, d.Curve, e.cfg.EntrySpendWei)
	if err != nil || expected.Sign() == 0 {
		log.Warn("buy quote unavailable, skipping entry")
		return
	}
	minOut := new(big.Int).Mul(expected, big.NewInt(10_000-e.cfg.SlippageBps))
	minOut.Div(minOut, big.NewInt(10_000))

	intent := domain.ExecutionIntent{
		ID:     uuid.New().String(),
		Action: domain.ActionBuy,
		Venue:  d.Curve,
		Token:  d.Token,
		Amount: new(big.Int).Set(e.cfg.EntrySpendWei),
		MinOut: minOut,
	}

	res, err := e.exec.Execute(ctx, intent)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrSimulationRejected):
		log.Warn("entry simulation rejected, skipping asset")
		return
	case errors.Is(err, domain.ErrReplacementExhausted):
		// Outcome unknown. Recording nothing is the safe side: a landed buy
		// shows up on the next balance reconcile via backfill.
		log.Warn("entry replacement budget exhausted, outcome unknown", slog.String("intent_id", intent.ID))
		e.record(ctx, intent, "gave_up", "", 0)
		return
	default:
		log.Error("entry failed", slog.String("error", err.Error()))
		return
	}
	if !res.Receipt.Success {
		log.Warn("entry reverted on-chain", slog.String("tx", res.Receipt.TxHash.Hex()))
		return
	}

	// Cost basis includes the entry gas actually paid.
	cost := new(big.Int).Add(e.cfg.EntrySpendWei, res.Receipt.GasCost())
	e.ledger.RecordEntry(d.Token, d.Curve, cost, res.Receipt.BlockNumber)
	e.track(d)

	log.Info("entry filled",
		slog.String("tx", res.Receipt.TxHash.Hex()),
		slog.Uint64("block", res.Receipt.BlockNumber),
		slog.String("cost_wei", cost.String()),
	)
	e.record(ctx, intent, "entry_filled", res.Receipt.TxHash.Hex(), res.Receipt.BlockNumber)
	if e.notify != nil {
		_ = e.notify.Notify(ctx, "entry_filled", "Position opened",
			fmt.Sprintf("token=%s cost=%s wei tx=%s", d.Token.Hex(), cost.String(), res.Receipt.TxHash.Hex()))
	}
}

// handleBlock evaluates every open position sequentially, skipping assets that
// are mid-action. One asset's failure never stops the others.
func (e *Engine) handleBlock(ctx context.Context, height uint64) {
	for _, pos := range e.ledger.Snapshot() {
		if e.guard.Held(domain.PositionKey(pos.Token)) {
			continue
		}
		if err := e.policy.Process(ctx, pos, height); err != nil {
			e.logger.Error("position evaluation failed",
				slog.String("token", pos.Token.Hex()),
				slog.Uint64("height", height),
				slog.String("error", err.Error()),
			)
		}
	}

	select {
	case e.gradTickCh <- height:
	default:
	}
}

func (e *Engine) track(d Discovery) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := domain.PositionKey(d.Token)
	if _, ok := e.tracked[key]; !ok {
		e.tracked[key] = &trackedCurve{token: d.Token, curve: d.Curve}
	}
}

// trackedSnapshot returns the curves still awaiting graduation.
func (e *Engine) trackedSnapshot() []trackedCurve {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]trackedCurve, 0, len(e.tracked))
	for _, tc := range e.tracked {
		if !tc.graduated {
			out = append(out, *tc)
		}
	}
	return out
}

func (e *Engine) markGraduated(token common.Address) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if tc, ok := e.tracked[domain.PositionKey(token)]; ok {
		tc.graduated = true
	}
}

// graduationLoop watches tracked curves and claims graduation when eligible.
func (e *Engine) graduationLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.gradTickCh:
			for _, tc := range e.trackedSnapshot() {
				e.maybeGraduate(ctx, tc)
			}
		}
	}
}

// maybeGraduate checks eligibility and runs the claim under the same per-asset
// guard as the sell path.
func (e *Engine) maybeGraduate(ctx context.Context, tc trackedCurve) {
	log := e.logger.With(
		slog.String("token", tc.token.Hex()),
		slog.String("curve", tc.curve.Hex()),
	)

	eligible, err := e.reader.GraduationEligible(ctx, tc.curve)
	if err != nil {
		// The curve only exposes progress; 100 percent means eligible.
		progress, perr := e.reader.GraduationProgress(ctx, tc.curve)
		if perr != nil {
			log.Debug("graduation signal unreadable, retrying next tick")
			return
		}
		eligible = progress.Cmp(big.NewInt(100)) >= 0
	}
	if !eligible {
		return
	}

	if e.cfg.DryRun {
		log.Info("dry run, graduation claim not executed")
		e.markGraduated(tc.token)
		return
	}

	key := domain.PositionKey(tc.token)
	if !e.guard.TryAcquire(key) {
		return
	}
	defer e.guard.Release(key)

	// Small randomized delay so concurrent actors racing the same claim
	// spread out.
	if d := e.jitter(e.cfg.GraduationJitterMax); d > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(d):
		}
	}

	intent := domain.ExecutionIntent{
		ID:     uuid.New().String(),
		Action: domain.ActionGraduate,
		Venue:  tc.curve,
		Token:  tc.token,
	}

	res, err := e.exec.ExecuteWhenSimulatable(ctx, intent, e.cfg.GraduationSimAttempts, e.cfg.GraduationSimInterval)
	if err != nil {
		log.Warn("graduation claim failed, retrying next tick", slog.String("error", err.Error()))
		return
	}
	if !res.Receipt.Success {
		log.Warn("graduation claim reverted", slog.String("tx", res.Receipt.TxHash.Hex()))
		return
	}

	e.markGraduated(tc.token)
	log.Info("graduation claimed",
		slog.String("tx", res.Receipt.TxHash.Hex()),
		slog.Uint64("block", res.Receipt.BlockNumber),
	)
	e.record(ctx, intent, "graduated", res.Receipt.TxHash.Hex(), res.Receipt.BlockNumber)
	if e.notify != nil {
		_ = e.notify.Notify(ctx, "graduated", "Curve graduated",
			fmt.Sprintf("token=%s tx=%s", tc.token.Hex(), res.Receipt.TxHash.Hex()))
	}
}

func (e *Engine) record(ctx context.Context, intent domain.ExecutionIntent, event, txHash string, block uint64) {
	if e.journal == nil {
		return
	}
	ev := domain.TradeEvent{
		ID:        uuid.New().String(),
		IntentID:  intent.ID,
		Token:     intent.Token.Hex(),
		Curve:     intent.Venue.Hex(),
		Action:    intent.Action,
		Event:     event,
		TxHash:    txHash,
		Block:     block,
		CreatedAt: time.Now().UTC(),
	}
	if intent.Amount != nil {
		ev.AmountWei = intent.Amount.String()
	}
	if err := e.journal.Append(ctx, ev); err != nil {
		e.logger.Warn("trade journal append failed", slog.String("error", err.Error()))
	}
}
