package evm

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sigweihq/purchasegate/pkg/constants"
	"github.com/sigweihq/purchasegate/pkg/types"
)

// ErrTransactionFailed is returned when the receipt reports a reverted transaction
var ErrTransactionFailed = errors.New("transaction failed on blockchain")

// ValidatorConfig is the explicit chain configuration the validator runs against
type ValidatorConfig struct {
	Payee       string
	EntryPoints []string // defaults to constants.EntryPointAddresses when empty
}

// Decision is the audit record of one payment evaluation
type Decision struct {
	Classification types.Classification
	ActualValue    *big.Int // nil when no value was recovered
	RequiredValue  *big.Int
	Selector       string
	Destination    string
	Trusted        bool
}

// matcher inspects a transaction and claims it, classified, when its wallet
// pattern applies
type matcher func(v *PaymentValidator, to common.Address, tx *types.TransactionView) (Decision, bool)

// Evaluated in order; the first matcher that claims the transaction decides.
var matchers = []matcher{
	matchEntryPointBundle,
	matchProxy,
	matchDirectTransfer,
}

// decodeCalldata is swapped in tests to observe decoding
var decodeCalldata = DecodeTransferToPayee

// PaymentValidator classifies the wallet pattern of a confirmed transaction and
// decides whether it paid enough
type PaymentValidator struct {
	payee       common.Address
	entryPoints map[common.Address]struct{}
	logger      *slog.Logger
}

func NewPaymentValidator(cfg ValidatorConfig, logger *slog.Logger) (*PaymentValidator, error) {
	if !common.IsHexAddress(cfg.Payee) {
		return nil, fmt.Errorf("invalid payee address: %q", cfg.Payee)
	}
	payee := common.HexToAddress(cfg.Payee)
	if payee == (common.Address{}) {
		return nil, fmt.Errorf("payee address cannot be the zero address")
	}

	entryPoints := cfg.EntryPoints
	if len(entryPoints) == 0 {
		entryPoints = constants.EntryPointAddresses
	}
	set := make(map[common.Address]struct{}, len(entryPoints))
	for _, ep := range entryPoints {
		if !common.IsHexAddress(ep) {
			return nil, fmt.Errorf("invalid entry point address: %q", ep)
		}
		set[common.HexToAddress(ep)] = struct{}{}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PaymentValidator{
		payee:       payee,
		entryPoints: set,
		logger:      logger,
	}, nil
}

// Payee returns the configured payee address
func (v *PaymentValidator) Payee() common.Address {
	return v.payee
}

// Evaluate runs the matcher chain over a successful transaction and applies the
// price check. Trusted classifications skip the price check.
// A shortfall is reported as *InsufficientPaymentError alongside the decision.
func (v *PaymentValidator) Evaluate(receipt *types.ReceiptView, tx *types.TransactionView, required *big.Int) (Decision, error) {
	if receipt == nil || tx == nil {
		return Decision{}, fmt.Errorf("receipt and transaction are required")
	}
	if required == nil {
		required = new(big.Int)
	}

	if !receipt.IsSuccessful() {
		v.logger.Warn("payment rejected",
			"tx_hash", receipt.TxHash,
			"reason", "reverted",
			"status", receipt.Status)
		return Decision{RequiredValue: required}, ErrTransactionFailed
	}

	toHex := tx.To
	if toHex == "" {
		toHex = receipt.To
	}
	to := common.HexToAddress(toHex)

	var decision Decision
	for _, match := range matchers {
		if d, ok := match(v, to, tx); ok {
			decision = d
			break
		}
	}
	decision.RequiredValue = required
	decision.Trusted = decision.Classification.IsTrusted()

	attrs := []any{
		"tx_hash", receipt.TxHash,
		"to", to.Hex(),
		"classification", decision.Classification,
		"selector", decision.Selector,
		"destination", decision.Destination,
		"actual", valueString(decision.ActualValue),
		"required", required.String(),
		"trusted", decision.Trusted,
	}

	if decision.Trusted {
		v.logger.Info("payment accepted without value check", attrs...)
		return decision, nil
	}

	actual := decision.ActualValue
	if actual == nil {
		actual = new(big.Int)
	}
	if actual.Cmp(required) < 0 {
		v.logger.Warn("payment rejected", append(attrs, "reason", "insufficient_payment")...)
		return decision, &InsufficientPaymentError{
			Actual:   new(big.Int).Set(actual),
			Required: new(big.Int).Set(required),
		}
	}

	v.logger.Info("payment accepted", attrs...)
	return decision, nil
}

func matchEntryPointBundle(v *PaymentValidator, to common.Address, tx *types.TransactionView) (Decision, bool) {
	if _, ok := v.entryPoints[to]; !ok {
		return Decision{}, false
	}
	// handleOps bundles third-party operations; the outer calldata is not decoded.
	return Decision{
		Classification: types.ClassificationEntryPointBundle,
		Selector:       selectorOf(tx.Input),
	}, true
}

// matchProxy claims zero-value calls into a smart wallet. Calldata that moves
// value to the payee is a ProxyCall; anything else is an OpaqueBatch.
func matchProxy(v *PaymentValidator, to common.Address, tx *types.TransactionView) (Decision, bool) {
	if !isZero(tx.Value) || len(tx.Input) <= 4 || to == v.payee {
		return Decision{}, false
	}
	res := decodeCalldata(tx.Input, v.payee)
	if !res.Matched {
		return Decision{
			Classification: types.ClassificationOpaqueBatch,
			Selector:       res.Selector,
			Destination:    res.Destination,
		}, true
	}
	return Decision{
		Classification: types.ClassificationProxyCall,
		ActualValue:    res.Value,
		Selector:       res.Selector,
		Destination:    res.Destination,
	}, true
}

func matchDirectTransfer(v *PaymentValidator, to common.Address, tx *types.TransactionView) (Decision, bool) {
	value := tx.Value
	if value == nil {
		value = new(big.Int)
	}
	return Decision{
		Classification: types.ClassificationDirectTransfer,
		ActualValue:    new(big.Int).Set(value),
		Selector:       selectorOf(tx.Input),
		Destination:    to.Hex(),
	}, true
}

func selectorOf(input []byte) string {
	if len(input) < 4 {
		return ""
	}
	return fmt.Sprintf("0x%x", input[:4])
}

func isZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}

func valueString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
