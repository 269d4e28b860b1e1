package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/sigweihq/purchasegate/pkg/chains"
	"github.com/sigweihq/purchasegate/pkg/chains/evm"
	"github.com/sigweihq/purchasegate/pkg/ledger"
	"github.com/sigweihq/purchasegate/pkg/metrics"
	"github.com/sigweihq/purchasegate/pkg/types"
)

// PriceLookup supplies catalog prices
type PriceLookup interface {
	RequiredPrice(skuID string) (price *big.Int, mintable bool, found bool)
}

// TransactionResolver obtains a finalized receipt and transaction body
type TransactionResolver interface {
	Resolve(ctx context.Context, txHash string) (*types.ReceiptView, *types.TransactionView, error)
}

// PaymentEvaluator classifies a transaction and checks it against a price
type PaymentEvaluator interface {
	Evaluate(receipt *types.ReceiptView, tx *types.TransactionView, required *big.Int) (evm.Decision, error)
}

// PurchaseLedger is the idempotent write path
type PurchaseLedger interface {
	Exists(ctx context.Context, paymentID string) (bool, error)
	Record(ctx context.Context, payerID string, payment types.PaymentIdentifier, skuID string, classification types.Classification) (types.PurchaseRecord, error)
}

// Config holds the processor's policy switches
type Config struct {
	// UnknownSKUFree restores the legacy behavior of pricing unknown SKUs at zero
	UnknownSKUFree bool
}

// Dependencies are the collaborators of a PurchaseProcessor
type Dependencies struct {
	Catalog   PriceLookup
	Resolver  TransactionResolver
	Validator PaymentEvaluator
	Ledger    PurchaseLedger
	Metrics   metrics.Recorder
}

// Outcome describes an accepted verification
type Outcome struct {
	Record   types.PurchaseRecord
	Decision evm.Decision
}

// PurchaseProcessor runs the verification state machine for one request at a
// time; it holds no per-request state and is safe for concurrent use
type PurchaseProcessor struct {
	catalog   PriceLookup
	resolver  TransactionResolver
	validator PaymentEvaluator
	ledger    PurchaseLedger
	metrics   metrics.Recorder
	config    Config
	logger    *slog.Logger
}

// NewPurchaseProcessor creates a processor with the given collaborators
func NewPurchaseProcessor(deps Dependencies, config Config, logger *slog.Logger) *PurchaseProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	recorder := deps.Metrics
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &PurchaseProcessor{
		catalog:   deps.Catalog,
		resolver:  deps.Resolver,
		validator: deps.Validator,
		ledger:    deps.Ledger,
		metrics:   recorder,
		config:    config,
		logger:    logger,
	}
}

// Verify checks that the payment in req happened and credits it exactly once.
// Every rejection is logged with its classification trace and counted.
func (p *PurchaseProcessor) Verify(ctx context.Context, req types.VerifyRequest) (Outcome, error) {
	outcome, err := p.verify(ctx, req)

	classification := string(outcome.Decision.Classification)
	if err == nil {
		classification = outcome.Record.Classification
	}
	p.metrics.RecordVerification(OutcomeLabel(err), classification)

	if err != nil {
		attrs := []any{
			"fid", req.PayerID,
			"sku_id", req.SKUID,
			"tx_hash", req.TxHash,
			"call_id", req.CallID,
			"outcome", OutcomeLabel(err),
			"classification", classification,
			"selector", outcome.Decision.Selector,
			"destination", outcome.Decision.Destination,
			"error", err,
		}
		var insufficient *InsufficientPaymentError
		if errors.As(err, &insufficient) {
			attrs = append(attrs, "actual", insufficient.Actual.String(), "required", insufficient.Required.String())
		}
		if StatusCode(err) >= 500 {
			p.logger.Error("verification failed", attrs...)
		} else {
			p.logger.Warn("verification rejected", attrs...)
		}
		return outcome, err
	}

	p.logger.Info("verification accepted",
		"fid", outcome.Record.PayerID,
		"sku_id", outcome.Record.SKUID,
		"payment_id", outcome.Record.PaymentID,
		"payment_kind", outcome.Record.PaymentKind,
		"classification", classification)
	return outcome, nil
}

func (p *PurchaseProcessor) verify(ctx context.Context, raw types.VerifyRequest) (Outcome, error) {
	req, err := normalizeRequest(raw)
	if err != nil {
		return Outcome{}, err
	}

	required, err := p.requiredPrice(req.SKUID)
	if err != nil {
		return Outcome{}, err
	}

	payment := req.PaymentIdentifier()

	// Read-only duplicate check before any chain state is trusted.
	// The ledger's insert re-checks atomically.
	exists, err := p.ledger.Exists(ctx, payment.Key())
	if err != nil {
		return Outcome{}, &StorageError{Op: "duplicate check", Err: err}
	}
	if exists {
		return Outcome{}, fmt.Errorf("%w: %s", ErrAlreadyProcessed, payment.Key())
	}

	if !payment.HasTxHash() {
		return p.acceptCallBatch(ctx, req, payment)
	}

	receipt, tx, err := p.resolve(ctx, payment.TxHash)
	if err != nil {
		return Outcome{}, err
	}

	decision, err := p.validator.Evaluate(receipt, tx, required)
	if err != nil {
		if errors.Is(err, evm.ErrTransactionFailed) {
			return Outcome{Decision: decision}, fmt.Errorf("%w: %s", ErrTransactionReverted, payment.TxHash)
		}
		var insufficient *InsufficientPaymentError
		if errors.As(err, &insufficient) {
			return Outcome{Decision: decision}, err
		}
		return Outcome{Decision: decision}, fmt.Errorf("evaluate payment: %w", err)
	}

	record, err := p.record(ctx, req, payment, decision.Classification)
	if err != nil {
		return Outcome{Decision: decision}, err
	}

	return Outcome{Record: record, Decision: decision}, nil
}

// requiredPrice applies the SKU policy: unknown SKUs are rejected unless the
// legacy free default is enabled
func (p *PurchaseProcessor) requiredPrice(skuID string) (*big.Int, error) {
	price, _, found := p.catalog.RequiredPrice(skuID)
	if !found {
		if !p.config.UnknownSKUFree {
			return nil, fmt.Errorf("%w: %w: %s", ErrInvalidInput, ErrUnknownSKU, skuID)
		}
		p.logger.Warn("unknown sku priced at zero", "sku_id", skuID)
		return new(big.Int), nil
	}
	return price, nil
}

// acceptCallBatch handles wallets that surfaced only a call-batch ID.
// The wallet's confirmed status substitutes for chain resolution.
func (p *PurchaseProcessor) acceptCallBatch(ctx context.Context, req types.VerifyRequest, payment types.PaymentIdentifier) (Outcome, error) {
	if !req.CallConfirmed {
		return Outcome{}, invalidInput("callId has not been confirmed by the wallet")
	}

	decision := evm.Decision{
		Classification: types.ClassificationCallBatchConfirmed,
		Trusted:        true,
	}
	p.logger.Info("accepting confirmed call batch without chain resolution",
		"call_id", payment.CallID,
		"fid", req.PayerID,
		"sku_id", req.SKUID)

	record, err := p.record(ctx, req, payment, decision.Classification)
	if err != nil {
		return Outcome{Decision: decision}, err
	}
	return Outcome{Record: record, Decision: decision}, nil
}

func (p *PurchaseProcessor) resolve(ctx context.Context, txHash string) (*types.ReceiptView, *types.TransactionView, error) {
	start := time.Now()
	receipt, tx, err := p.resolver.Resolve(ctx, txHash)

	result := metrics.ResolveFound
	switch {
	case err == nil:
	case errors.Is(err, ErrTransactionReverted):
		result = metrics.ResolveReverted
	case errors.Is(err, ErrTransactionNotFound), errors.Is(err, chains.ErrNotFound):
		result = metrics.ResolveNotFound
	default:
		result = metrics.ResolveError
	}
	p.metrics.ObserveResolve(result, time.Since(start))

	return receipt, tx, err
}

func (p *PurchaseProcessor) record(ctx context.Context, req types.VerifyRequest, payment types.PaymentIdentifier, classification types.Classification) (types.PurchaseRecord, error) {
	record, err := p.ledger.Record(ctx, req.PayerID, payment, req.SKUID, classification)
	if err != nil {
		if errors.Is(err, ledger.ErrConflict) {
			return types.PurchaseRecord{}, fmt.Errorf("%w: %s", ErrAlreadyProcessed, payment.Key())
		}
		return types.PurchaseRecord{}, &StorageError{Op: "record purchase", Err: err}
	}
	return record, nil
}
