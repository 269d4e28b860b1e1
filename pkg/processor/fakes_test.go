package processor

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/sigweihq/purchasegate/pkg/chains"
	"github.com/sigweihq/purchasegate/pkg/types"
)

// fakeChain is a scripted chains.RPCClient keyed by lower-case hash
type fakeChain struct {
	mu           sync.Mutex
	receipts     map[string]*types.ReceiptView
	txs          map[string]*types.TransactionView
	notFoundFor  int // receipt lookups answered with not found before the real answer
	receiptErr   error
	hang         bool // receipt lookups block until the call context ends
	receiptCalls int
	txCalls      int
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		receipts: make(map[string]*types.ReceiptView),
		txs:      make(map[string]*types.TransactionView),
	}
}

var _ chains.RPCClient = (*fakeChain)(nil)

func (f *fakeChain) addTransfer(hash, to string, value *big.Int, input []byte, status uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hash = strings.ToLower(hash)
	f.receipts[hash] = &types.ReceiptView{TxHash: hash, Status: status, To: to, From: "0x3333333333333333333333333333333333333333", BlockNumber: 100}
	f.txs[hash] = &types.TransactionView{Hash: hash, To: to, Value: value, Input: input}
}

func (f *fakeChain) GetTransactionReceipt(ctx context.Context, txHash string) (*types.ReceiptView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receiptCalls++
	if f.hang {
		f.mu.Unlock()
		<-ctx.Done()
		f.mu.Lock()
		return nil, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	if f.receiptCalls <= f.notFoundFor {
		return nil, chains.ErrNotFound
	}
	receipt, ok := f.receipts[txHash]
	if !ok {
		return nil, chains.ErrNotFound
	}
	copied := *receipt
	return &copied, nil
}

func (f *fakeChain) GetTransaction(ctx context.Context, txHash string) (*types.TransactionView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txCalls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx, ok := f.txs[txHash]
	if !ok {
		return nil, chains.ErrNotFound
	}
	copied := *tx
	return &copied, nil
}

func (f *fakeChain) IsHealthy(context.Context, string) bool { return true }

func (f *fakeChain) calls() (receipts, txs int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.receiptCalls, f.txCalls
}

type verification struct {
	outcome        string
	classification string
}

// fakeRecorder captures metrics calls
type fakeRecorder struct {
	mu            sync.Mutex
	verifications []verification
	resolves      []string
}

func (r *fakeRecorder) RecordVerification(outcome, classification string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verifications = append(r.verifications, verification{outcome, classification})
}

func (r *fakeRecorder) ObserveResolve(result string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolves = append(r.resolves, result)
}
