package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sigweihq/purchasegate/pkg/chains"
	"github.com/sigweihq/purchasegate/pkg/constants"
	"github.com/sigweihq/purchasegate/pkg/types"
	"github.com/sigweihq/purchasegate/pkg/utils"
)

// Resolver fetches a receipt and transaction body, retrying while the
// transaction is not yet indexed
type Resolver struct {
	client      chains.RPCClient
	attempts    int
	retryDelay  time.Duration
	callTimeout time.Duration
	logger      *slog.Logger
}

type ResolverOption func(*Resolver)

// WithAttempts sets the total number of receipt lookups
func WithAttempts(n int) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.attempts = n
		}
	}
}

// WithRetryDelay sets the fixed wait between attempts
func WithRetryDelay(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d >= 0 {
			r.retryDelay = d
		}
	}
}

// WithCallTimeout bounds each individual chain call
func WithCallTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.callTimeout = d
		}
	}
}

func NewResolver(client chains.RPCClient, logger *slog.Logger, opts ...ResolverOption) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		client:      client,
		attempts:    constants.ResolveAttempts,
		retryDelay:  constants.ResolveRetryDelay,
		callTimeout: constants.RPCClientTimeout,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the receipt and body of txHash.
// A malformed hash fails with ErrTransactionNotFound without touching the chain.
// A reverted receipt fails with ErrTransactionReverted on the first sighting.
// Waits between attempts end early when ctx is done. A ctx deadline that expires
// mid-resolution is reported as ErrTransactionNotFound; a cancelled ctx is not.
func (r *Resolver) Resolve(ctx context.Context, txHash string) (*types.ReceiptView, *types.TransactionView, error) {
	hash, err := utils.NormalizeTxHash(txHash)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrTransactionNotFound, err)
	}

	var (
		receipt *types.ReceiptView
		tx      *types.TransactionView
		attempt int
	)
	operation := func() error {
		attempt++
		var err error
		receipt, tx, err = r.fetch(ctx, hash)
		if errors.Is(err, ErrTransactionReverted) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		r.logger.Debug("transaction not available yet",
			"tx_hash", hash,
			"attempt", attempt,
			"max_attempts", r.attempts,
			"retry_in", next,
			"error", err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(r.retryDelay), uint64(r.attempts-1)),
		ctx,
	)

	err = backoff.RetryNotify(operation, policy, notify)
	switch {
	case err == nil:
		if attempt > 1 {
			r.logger.Info("transaction resolved after retry", "tx_hash", hash, "attempt", attempt)
		}
		return receipt, tx, nil
	case errors.Is(err, ErrTransactionReverted):
		return nil, nil, err
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return nil, nil, fmt.Errorf("%w: deadline reached after %d attempts: %w", ErrTransactionNotFound, attempt, ctx.Err())
	case ctx.Err() != nil:
		return nil, nil, fmt.Errorf("resolve %s: %w", hash, ctx.Err())
	default:
		return nil, nil, fmt.Errorf("%w after %d attempts: %w", ErrTransactionNotFound, attempt, err)
	}
}

func (r *Resolver) fetch(ctx context.Context, hash string) (*types.ReceiptView, *types.TransactionView, error) {
	receiptCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	receipt, err := r.client.GetTransactionReceipt(receiptCtx, hash)
	cancel()
	if err != nil {
		return nil, nil, fmt.Errorf("get receipt: %w", err)
	}
	if receipt == nil {
		return nil, nil, fmt.Errorf("get receipt: %w", chains.ErrNotFound)
	}
	if !receipt.IsSuccessful() {
		r.logger.Warn("transaction reverted", "tx_hash", hash, "block", receipt.BlockNumber)
		return nil, nil, fmt.Errorf("%w: %s", ErrTransactionReverted, hash)
	}

	txCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	tx, err := r.client.GetTransaction(txCtx, hash)
	cancel()
	if err != nil {
		return nil, nil, fmt.Errorf("get transaction: %w", err)
	}
	if tx == nil {
		return nil, nil, fmt.Errorf("get transaction: %w", chains.ErrNotFound)
	}

	return receipt, tx, nil
}
