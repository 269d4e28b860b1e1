package processor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sigweihq/purchasegate/pkg/catalog"
	"github.com/sigweihq/purchasegate/pkg/chains/evm"
	"github.com/sigweihq/purchasegate/pkg/constants"
	"github.com/sigweihq/purchasegate/pkg/ledger"
	"github.com/sigweihq/purchasegate/pkg/metrics"
	"github.com/sigweihq/purchasegate/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	processor *PurchaseProcessor
	chain     *fakeChain
	store     *ledger.MemoryStore
	recorder  *fakeRecorder
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cat, err := catalog.New([]catalog.Item{
		{SKUID: "skin_neon", Name: "Neon", PriceEth: "0.01"},
		{SKUID: "skin_free", Name: "Free", IsMintable: true},
	})
	require.NoError(t, err)

	validator, err := evm.NewPaymentValidator(evm.ValidatorConfig{Payee: payee}, logger)
	require.NoError(t, err)

	chain := newFakeChain()
	store := ledger.NewMemoryStore()
	recorder := &fakeRecorder{}

	p := NewPurchaseProcessor(Dependencies{
		Catalog:   cat,
		Resolver:  fastResolver(chain),
		Validator: validator,
		Ledger:    ledger.NewGateway(store, logger),
		Metrics:   recorder,
	}, cfg, logger)

	return &harness{processor: p, chain: chain, store: store, recorder: recorder}
}

func wei(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad wei literal " + s)
	}
	return v
}

func executeCalldata(t *testing.T, dest string, value *big.Int) []byte {
	t.Helper()
	address, err := abi.NewType("address", "", nil)
	require.NoError(t, err)
	uint256, err := abi.NewType("uint256", "", nil)
	require.NoError(t, err)
	bytesT, err := abi.NewType("bytes", "", nil)
	require.NoError(t, err)

	args := abi.Arguments{{Type: address}, {Type: uint256}, {Type: bytesT}}
	packed, err := args.Pack(common.HexToAddress(dest), value, []byte{})
	require.NoError(t, err)

	method := abi.NewMethod("execute", "execute", abi.Function, "payable", false, true, args, nil)
	return append(method.ID, packed...)
}

func verifyTx(hash, sku string) types.VerifyRequest {
	return types.VerifyRequest{PayerID: "42", TxHash: hash, SKUID: sku}
}

func TestVerify_DirectTransfer(t *testing.T) {
	t.Run("exact price accepted", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.chain.addTransfer(hashA, payee, wei(oneCent), nil, types.ReceiptStatusSuccess)

		out, err := h.processor.Verify(context.Background(), verifyTx(hashA, "skin_neon"))
		require.NoError(t, err)
		assert.Equal(t, types.ClassificationDirectTransfer, out.Decision.Classification)
		assert.Equal(t, hashA, out.Record.PaymentID)
		assert.Equal(t, "skin_neon", out.Record.SKUID)
		assert.Equal(t, 1, h.store.Len())
		assert.Equal(t, []verification{{metrics.OutcomeAccepted, "DirectTransfer"}}, h.recorder.verifications)
		assert.Equal(t, []string{metrics.ResolveFound}, h.recorder.resolves)
	})

	t.Run("shortfall rejected with amounts", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.chain.addTransfer(hashA, payee, wei("9000000000000000"), nil, types.ReceiptStatusSuccess)

		_, err := h.processor.Verify(context.Background(), verifyTx(hashA, "skin_neon"))
		var insufficient *InsufficientPaymentError
		require.True(t, errors.As(err, &insufficient))
		assert.Equal(t, "9000000000000000", insufficient.Actual.String())
		assert.Equal(t, "10000000000000000", insufficient.Required.String())
		assert.Equal(t, http.StatusBadRequest, StatusCode(err))
		assert.Equal(t, 0, h.store.Len())
		assert.Equal(t, []verification{{metrics.OutcomeInsufficientPayment, "DirectTransfer"}}, h.recorder.verifications)
	})
}

func TestVerify_MintableAcceptsZero(t *testing.T) {
	h := newHarness(t, Config{})
	h.chain.addTransfer(hashA, payee, big.NewInt(0), nil, types.ReceiptStatusSuccess)

	_, err := h.processor.Verify(context.Background(), verifyTx(hashA, "skin_free"))
	require.NoError(t, err)
	assert.Equal(t, 1, h.store.Len())
}

func TestVerify_EntryPointAcceptedRegardlessOfValue(t *testing.T) {
	for i, ep := range constants.EntryPointAddresses {
		t.Run(ep, func(t *testing.T) {
			h := newHarness(t, Config{})
			hash := []string{hashA, hashB}[i]
			h.chain.addTransfer(hash, ep, big.NewInt(0), []byte{0x76, 0x5e, 0x82, 0x7f, 0x01}, types.ReceiptStatusSuccess)

			out, err := h.processor.Verify(context.Background(), verifyTx(hash, "skin_neon"))
			require.NoError(t, err)
			assert.Equal(t, types.ClassificationEntryPointBundle, out.Decision.Classification)
			assert.Equal(t, "EntryPointBundle", out.Record.Classification)
		})
	}
}

func TestVerify_ProxyCall(t *testing.T) {
	t.Run("decoded value accepted", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.chain.addTransfer(hashA, wallet, big.NewInt(0), executeCalldata(t, payee, wei(oneCent)), types.ReceiptStatusSuccess)

		out, err := h.processor.Verify(context.Background(), verifyTx(hashA, "skin_neon"))
		require.NoError(t, err)
		assert.Equal(t, types.ClassificationProxyCall, out.Decision.Classification)
		assert.Equal(t, oneCent, out.Decision.ActualValue.String())
	})

	t.Run("decoded shortfall rejected", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.chain.addTransfer(hashA, wallet, big.NewInt(0), executeCalldata(t, payee, big.NewInt(5)), types.ReceiptStatusSuccess)

		out, err := h.processor.Verify(context.Background(), verifyTx(hashA, "skin_neon"))
		var insufficient *InsufficientPaymentError
		require.True(t, errors.As(err, &insufficient))
		assert.Equal(t, int64(5), insufficient.Actual.Int64())
		assert.Equal(t, types.ClassificationProxyCall, out.Decision.Classification)
	})

	t.Run("undecodable proxy call trusted as opaque batch", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.chain.addTransfer(hashA, wallet, big.NewInt(0), executeCalldata(t, wallet, big.NewInt(5)), types.ReceiptStatusSuccess)

		out, err := h.processor.Verify(context.Background(), verifyTx(hashA, "skin_neon"))
		require.NoError(t, err)
		assert.Equal(t, types.ClassificationOpaqueBatch, out.Decision.Classification)
		assert.Equal(t, []verification{{metrics.OutcomeAccepted, "OpaqueBatch"}}, h.recorder.verifications)
	})
}

func TestVerify_ChainRejections(t *testing.T) {
	t.Run("reverted", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.chain.addTransfer(hashA, constants.EntryPointV07, wei(oneCent), nil, types.ReceiptStatusReverted)

		_, err := h.processor.Verify(context.Background(), verifyTx(hashA, "skin_neon"))
		assert.ErrorIs(t, err, ErrTransactionReverted)
		assert.Equal(t, http.StatusBadRequest, StatusCode(err))

		receipts, _ := h.chain.calls()
		assert.Equal(t, 1, receipts)
		assert.Equal(t, []string{metrics.ResolveReverted}, h.recorder.resolves)
	})

	t.Run("not found after retries", func(t *testing.T) {
		h := newHarness(t, Config{})

		_, err := h.processor.Verify(context.Background(), verifyTx(hashA, "skin_neon"))
		assert.ErrorIs(t, err, ErrTransactionNotFound)
		assert.Equal(t, http.StatusNotFound, StatusCode(err))

		receipts, _ := h.chain.calls()
		assert.Equal(t, constants.ResolveAttempts, receipts)
		assert.Equal(t, []string{metrics.ResolveNotFound}, h.recorder.resolves)
	})

	t.Run("found on fifth attempt", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.chain.notFoundFor = 4
		h.chain.addTransfer(hashA, payee, wei(oneCent), nil, types.ReceiptStatusSuccess)

		_, err := h.processor.Verify(context.Background(), verifyTx(hashA, "skin_neon"))
		assert.NoError(t, err)
	})
}

func TestVerify_Duplicates(t *testing.T) {
	t.Run("second submission rejected before chain access", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.chain.addTransfer(hashA, payee, wei(oneCent), nil, types.ReceiptStatusSuccess)

		_, err := h.processor.Verify(context.Background(), verifyTx(hashA, "skin_neon"))
		require.NoError(t, err)
		receiptsBefore, _ := h.chain.calls()

		_, err = h.processor.Verify(context.Background(), verifyTx(hashA, "skin_neon"))
		assert.ErrorIs(t, err, ErrAlreadyProcessed)
		assert.Equal(t, http.StatusBadRequest, StatusCode(err))

		receiptsAfter, _ := h.chain.calls()
		assert.Equal(t, receiptsBefore, receiptsAfter)
	})

	t.Run("hash case variations collide", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.chain.addTransfer(hashA, payee, wei(oneCent), nil, types.ReceiptStatusSuccess)

		_, err := h.processor.Verify(context.Background(), verifyTx(hashA, "skin_neon"))
		require.NoError(t, err)

		upper := "0x" + "1234567890ABCDEF1234567890ABCDEF1234567890ABCDEF1234567890ABCDEF"
		_, err = h.processor.Verify(context.Background(), verifyTx(upper, "skin_neon"))
		assert.ErrorIs(t, err, ErrAlreadyProcessed)
	})

	t.Run("concurrent submissions credit once", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.chain.addTransfer(hashA, payee, wei(oneCent), nil, types.ReceiptStatusSuccess)

		const n = 20
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = h.processor.Verify(context.Background(), verifyTx(hashA, "skin_neon"))
			}(i)
		}
		wg.Wait()

		successes := 0
		for _, err := range errs {
			if err == nil {
				successes++
				continue
			}
			assert.ErrorIs(t, err, ErrAlreadyProcessed)
		}
		assert.Equal(t, 1, successes)
		assert.Equal(t, 1, h.store.Len())
	})
}

func TestVerify_CallBatchFallback(t *testing.T) {
	t.Run("confirmed call id accepted without chain access", func(t *testing.T) {
		h := newHarness(t, Config{})
		req := types.VerifyRequest{PayerID: "42", CallID: "0xbatch-1", SKUID: "skin_neon", CallConfirmed: true}

		out, err := h.processor.Verify(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, types.ClassificationCallBatchConfirmed, out.Decision.Classification)
		assert.Equal(t, types.PaymentKindCallID, out.Record.PaymentKind)
		assert.Equal(t, "0xbatch-1", out.Record.PaymentID)

		receipts, _ := h.chain.calls()
		assert.Equal(t, 0, receipts)

		_, err = h.processor.Verify(context.Background(), req)
		assert.ErrorIs(t, err, ErrAlreadyProcessed)
	})

	t.Run("unconfirmed call id rejected", func(t *testing.T) {
		h := newHarness(t, Config{})
		req := types.VerifyRequest{PayerID: "42", CallID: "0xbatch-1", SKUID: "skin_neon"}

		_, err := h.processor.Verify(context.Background(), req)
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.Equal(t, 0, h.store.Len())
	})
}

func TestVerify_InputErrors(t *testing.T) {
	tests := []struct {
		name string
		req  types.VerifyRequest
	}{
		{name: "missing fid", req: types.VerifyRequest{TxHash: hashA, SKUID: "skin_neon"}},
		{name: "missing sku", req: types.VerifyRequest{PayerID: "42", TxHash: hashA}},
		{name: "missing identifiers", req: types.VerifyRequest{PayerID: "42", SKUID: "skin_neon"}},
		{name: "both identifiers", req: types.VerifyRequest{PayerID: "42", TxHash: hashA, CallID: "x", SKUID: "skin_neon"}},
		{name: "unknown sku", req: verifyTx(hashA, "skin_missing")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{})
			h.chain.addTransfer(hashA, payee, wei(oneCent), nil, types.ReceiptStatusSuccess)

			_, err := h.processor.Verify(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.Equal(t, http.StatusBadRequest, StatusCode(err))

			receipts, _ := h.chain.calls()
			assert.Equal(t, 0, receipts)
			assert.Equal(t, []verification{{metrics.OutcomeInvalidInput, ""}}, h.recorder.verifications)
		})
	}
}

func TestVerify_UnknownSKUFreeDefault(t *testing.T) {
	h := newHarness(t, Config{UnknownSKUFree: true})
	h.chain.addTransfer(hashA, payee, big.NewInt(0), nil, types.ReceiptStatusSuccess)

	out, err := h.processor.Verify(context.Background(), verifyTx(hashA, "skin_missing"))
	require.NoError(t, err)
	assert.Equal(t, "skin_missing", out.Record.SKUID)
}

type brokenLedger struct {
	existsErr error
	recordErr error
}

func (b brokenLedger) Exists(context.Context, string) (bool, error) {
	return false, b.existsErr
}

func (b brokenLedger) Record(context.Context, string, types.PaymentIdentifier, string, types.Classification) (types.PurchaseRecord, error) {
	return types.PurchaseRecord{}, b.recordErr
}

func TestVerify_StorageFailures(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cat, err := catalog.New([]catalog.Item{{SKUID: "skin_neon", PriceEth: "0.01"}})
	require.NoError(t, err)
	validator, err := evm.NewPaymentValidator(evm.ValidatorConfig{Payee: payee}, logger)
	require.NoError(t, err)

	tests := []struct {
		name   string
		ledger brokenLedger
	}{
		{name: "duplicate check fails", ledger: brokenLedger{existsErr: errors.New("db down")}},
		{name: "insert fails", ledger: brokenLedger{recordErr: errors.New("db down")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := newFakeChain()
			chain.addTransfer(hashA, payee, wei(oneCent), nil, types.ReceiptStatusSuccess)

			p := NewPurchaseProcessor(Dependencies{
				Catalog:   cat,
				Resolver:  fastResolver(chain),
				Validator: validator,
				Ledger:    tt.ledger,
			}, Config{}, logger)

			_, err := p.Verify(context.Background(), verifyTx(hashA, "skin_neon"))
			var storage *StorageError
			require.True(t, errors.As(err, &storage))
			assert.Equal(t, http.StatusInternalServerError, StatusCode(err))
		})
	}

	t.Run("ledger conflict maps to already processed", func(t *testing.T) {
		chain := newFakeChain()
		chain.addTransfer(hashA, payee, wei(oneCent), nil, types.ReceiptStatusSuccess)

		p := NewPurchaseProcessor(Dependencies{
			Catalog:   cat,
			Resolver:  fastResolver(chain),
			Validator: validator,
			Ledger:    brokenLedger{recordErr: ledger.ErrConflict},
		}, Config{}, logger)

		_, err := p.Verify(context.Background(), verifyTx(hashA, "skin_neon"))
		assert.ErrorIs(t, err, ErrAlreadyProcessed)
	})
}

func TestVerify_HungNode(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cat, err := catalog.New([]catalog.Item{{SKUID: "skin_neon", PriceEth: "0.01"}})
	require.NoError(t, err)
	validator, err := evm.NewPaymentValidator(evm.ValidatorConfig{Payee: payee}, logger)
	require.NoError(t, err)

	newProcessor := func(chain *fakeChain, recorder *fakeRecorder) *PurchaseProcessor {
		resolver := NewResolver(chain, logger,
			WithAttempts(5),
			WithRetryDelay(20*time.Millisecond),
			WithCallTimeout(50*time.Millisecond),
		)
		return NewPurchaseProcessor(Dependencies{
			Catalog:   cat,
			Resolver:  resolver,
			Validator: validator,
			Ledger:    ledger.NewGateway(ledger.NewMemoryStore(), logger),
			Metrics:   recorder,
		}, Config{}, logger)
	}

	t.Run("request deadline reports not found", func(t *testing.T) {
		chain := newFakeChain()
		chain.hang = true
		recorder := &fakeRecorder{}

		ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		defer cancel()

		_, err := newProcessor(chain, recorder).Verify(ctx, verifyTx(hashA, "skin_neon"))
		assert.ErrorIs(t, err, ErrTransactionNotFound)
		assert.Equal(t, http.StatusNotFound, StatusCode(err))
		assert.Equal(t, "Transaction not found on chain yet, please try again shortly", PublicMessage(err))
		assert.Equal(t, []string{metrics.ResolveNotFound}, recorder.resolves)
	})

	t.Run("client disconnect stays internal", func(t *testing.T) {
		chain := newFakeChain()
		chain.hang = true
		recorder := &fakeRecorder{}

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(80*time.Millisecond, cancel)
		defer cancel()

		_, err := newProcessor(chain, recorder).Verify(ctx, verifyTx(hashA, "skin_neon"))
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, ErrTransactionNotFound)
		assert.Equal(t, http.StatusInternalServerError, StatusCode(err))
	})
}
