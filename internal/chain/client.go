// Package chain implements the domain chain interfaces on top of go-ethereum.
// It is a thin adapter: all retry, replacement, and decision logic lives in the
// core packages; this package only encodes calls, signs, and classifies errors
// into the domain's typed sentinels.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/Kali123411/fomosniperLFG/internal/domain"
)

// receiptPollInterval is how often WaitMined polls for a receipt.
const receiptPollInterval = 2 * time.Second

// gasLimitHeadroomBps is added to the simulated gas estimate before sending.
const gasLimitHeadroomBps = 2000

// Client implements domain.ChainReader and domain.ChainWriter against a single
// RPC endpoint with one signing key.
type Client struct {
	eth     *ethclient.Client
	key     *ecdsa.PrivateKey
	sender  common.Address
	chainID *big.Int
	signer  types.Signer
	logger  *slog.Logger
}

// Dial connects to rpcURL, verifies the chain ID, and returns a Client signing
// as the given key.
func Dial(ctx context.Context, rpcURL string, key *ecdsa.PrivateKey, logger *slog.Logger) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", rpcURL, err)
	}
	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("chain: chain id: %w", err)
	}

	c := &Client{
		eth:     eth,
		key:     key,
		sender:  ethcrypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
		signer:  types.LatestSignerForChainID(chainID),
		logger:  logger.With(slog.String("component", "chain")),
	}
	c.logger.Info("connected",
		slog.String("rpc", rpcURL),
		slog.String("chain_id", chainID.String()),
		slog.String("sender", c.sender.Hex()),
	)
	return c, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// Sender returns the signing identity.
func (c *Client) Sender() common.Address {
	return c.sender
}

// Eth exposes the raw client for the discovery watcher.
func (c *Client) Eth() *ethclient.Client {
	return c.eth
}

// ---------------------------------------------------------------------------
// ChainReader
// ---------------------------------------------------------------------------

func (c *Client) BalanceOf(ctx context.Context, owner, token common.Address) (*big.Int, error) {
	out, err := c.view(ctx, erc20ABI, token, "balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("chain: balanceOf: %w", err)
	}
	return toBig(out)
}

func (c *Client) Allowance(ctx context.Context, owner, spender, token common.Address) (*big.Int, error) {
	out, err := c.view(ctx, erc20ABI, token, "allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("chain: allowance: %w", err)
	}
	return toBig(out)
}

func (c *Client) QuoteSellProceeds(ctx context.Context, curve common.Address, amount *big.Int) (*big.Int, error) {
	out, err := c.view(ctx, curveABI, curve, "getSellQuote", amount)
	if err != nil {
		// A curve that cannot quote yet (or anymore) is a transient condition
		// for the policy, not a hard failure.
		return nil, fmt.Errorf("chain: sell quote: %w: %w", domain.ErrQuoteUnavailable, err)
	}
	return toBig(out)
}

func (c *Client) QuoteBuyOutput(ctx context.Context, curve common.Address, spend *big.Int) (*big.Int, error) {
	out, err := c.view(ctx, curveABI, curve, "getBuyQuote", spend)
	if err != nil {
		return nil, fmt.Errorf("chain: buy quote: %w: %w", domain.ErrQuoteUnavailable, err)
	}
	return toBig(out)
}

func (c *Client) GraduationEligible(ctx context.Context, curve common.Address) (bool, error) {
	out, err := c.view(ctx, curveABI, curve, "graduationEligible")
	if err != nil {
		return false, fmt.Errorf("chain: graduation eligible: %w", err)
	}
	b, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("chain: graduation eligible: unexpected output %T", out[0])
	}
	return b, nil
}

func (c *Client) GraduationProgress(ctx context.Context, curve common.Address) (*big.Int, error) {
	out, err := c.view(ctx, curveABI, curve, "graduationProgress")
	if err != nil {
		return nil, fmt.Errorf("chain: graduation progress: %w", err)
	}
	return toBig(out)
}

// SuggestFees returns a tip from the node and a max fee of twice the current
// base fee plus the tip, which survives moderate base-fee growth while the
// transaction is pending.
func (c *Client) SuggestFees(ctx context.Context) (domain.FeeQuote, error) {
	tip, err := c.eth.SuggestGasTipCap(ctx)
	if err != nil {
		return domain.FeeQuote{}, fmt.Errorf("chain: tip cap: %w", err)
	}
	head, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return domain.FeeQuote{}, fmt.Errorf("chain: head: %w", err)
	}
	maxFee := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		maxFee.Add(maxFee, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	return domain.FeeQuote{PriorityFee: tip, MaxFee: maxFee}, nil
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain: block number: %w", err)
	}
	return n, nil
}

func (c *Client) EstimateSellGas(ctx context.Context, curve common.Address, amount *big.Int) (uint64, error) {
	data, err := curveABI.Pack("sell", amount, new(big.Int))
	if err != nil {
		return 0, fmt.Errorf("chain: pack sell: %w", err)
	}
	gas, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{From: c.sender, To: &curve, Data: data})
	if err != nil {
		return 0, fmt.Errorf("chain: estimate sell gas: %w", err)
	}
	return gas, nil
}

// ---------------------------------------------------------------------------
// ChainWriter
// ---------------------------------------------------------------------------

// Simulate encodes the intent, runs it as an eth_call from the sender, and
// pins the nonce and gas limit for the send that follows. Any revert maps to
// ErrSimulationRejected.
func (c *Client) Simulate(ctx context.Context, intent domain.ExecutionIntent) (*domain.SimulatedCall, error) {
	data, value, err := encodeIntent(intent)
	if err != nil {
		return nil, fmt.Errorf("chain: encode intent: %w", err)
	}

	to := intent.Venue
	msg := ethereum.CallMsg{From: c.sender, To: &to, Value: value, Data: data}
	if _, err := c.eth.CallContract(ctx, msg, nil); err != nil {
		return nil, fmt.Errorf("chain: %w: %w", domain.ErrSimulationRejected, err)
	}

	gas, err := c.eth.EstimateGas(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("chain: %w: estimate: %w", domain.ErrSimulationRejected, err)
	}
	gas += gas * gasLimitHeadroomBps / 10_000

	nonce, err := c.eth.PendingNonceAt(ctx, c.sender)
	if err != nil {
		return nil, fmt.Errorf("chain: pending nonce: %w", err)
	}

	return &domain.SimulatedCall{
		IntentID: intent.ID,
		To:       to,
		Data:     data,
		Value:    value,
		Nonce:    nonce,
		GasLimit: gas,
	}, nil
}

// Send signs the simulated call with the given fee bid and broadcasts it. The
// call's pinned nonce makes a re-send with a higher bid a replacement.
func (c *Client) Send(ctx context.Context, call *domain.SimulatedCall, bid domain.FeeBid) (domain.TxHandle, error) {
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     call.Nonce,
		GasTipCap: bid.PriorityFee,
		GasFeeCap: bid.MaxFee,
		Gas:       call.GasLimit,
		To:        &call.To,
		Value:     call.Value,
		Data:      call.Data,
	})
	signed, err := types.SignTx(tx, c.signer, c.key)
	if err != nil {
		return domain.TxHandle{}, fmt.Errorf("chain: sign: %w", err)
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return domain.TxHandle{}, fmt.Errorf("chain: send: %w", err)
	}
	return domain.TxHandle{Hash: signed.Hash(), Nonce: call.Nonce}, nil
}

// WaitMined polls for the receipt until timeout, returning
// ErrConfirmationTimeout when the transaction is still pending.
func (c *Client) WaitMined(ctx context.Context, h domain.TxHandle, timeout time.Duration) (*domain.Receipt, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, h.Hash)
		if err == nil {
			return &domain.Receipt{
				TxHash:            receipt.TxHash,
				BlockNumber:       receipt.BlockNumber.Uint64(),
				Success:           receipt.Status == types.ReceiptStatusSuccessful,
				GasUsed:           receipt.GasUsed,
				EffectiveGasPrice: receipt.EffectiveGasPrice,
			}, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("chain: receipt: %w", err)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("chain: tx %s: %w", h.Hash.Hex(), domain.ErrConfirmationTimeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// encodeIntent packs the calldata and value for an intent.
func encodeIntent(intent domain.ExecutionIntent) ([]byte, *big.Int, error) {
	switch intent.Action {
	case domain.ActionBuy:
		data, err := curveABI.Pack("buy", orZero(intent.MinOut))
		return data, orZero(intent.Amount), err
	case domain.ActionSell:
		data, err := curveABI.Pack("sell", orZero(intent.Amount), orZero(intent.MinOut))
		return data, new(big.Int), err
	case domain.ActionGraduate:
		data, err := curveABI.Pack("graduate")
		return data, new(big.Int), err
	case domain.ActionApprove:
		data, err := erc20ABI.Pack("approve", intent.Spender, orZero(intent.Amount))
		return data, new(big.Int), err
	default:
		return nil, nil, fmt.Errorf("unknown action %q", intent.Action)
	}
}

// view performs a read-only contract call and unpacks the outputs.
func (c *Client) view(ctx context.Context, contract abi.ABI, addr common.Address, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty output", method)
	}
	return out, nil
}

func toBig(out []any) (*big.Int, error) {
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: unexpected output type %T", out[0])
	}
	return v, nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// Compile-time interface checks.
var (
	_ domain.ChainReader = (*Client)(nil)
	_ domain.ChainWriter = (*Client)(nil)
)
