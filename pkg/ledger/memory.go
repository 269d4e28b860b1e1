package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/sigweihq/purchasegate/pkg/types"
)

// MemoryStore is a process-local Store for development and tests
type MemoryStore struct {
	mu        sync.RWMutex
	byPayment map[string]types.PurchaseRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byPayment: make(map[string]types.PurchaseRecord),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Insert(ctx context.Context, record types.PurchaseRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byPayment[record.PaymentID]; exists {
		return ErrDuplicate
	}
	s.byPayment[record.PaymentID] = record
	return nil
}

func (s *MemoryStore) FindByPaymentID(ctx context.Context, paymentID string) (types.PurchaseRecord, error) {
	if err := ctx.Err(); err != nil {
		return types.PurchaseRecord{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.byPayment[paymentID]
	if !ok {
		return types.PurchaseRecord{}, ErrNotFound
	}
	return record, nil
}

func (s *MemoryStore) ListByPayer(ctx context.Context, payerID string) ([]types.PurchaseRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var out []types.PurchaseRecord
	for _, record := range s.byPayment {
		if record.PayerID == payerID {
			out = append(out, record)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].RecordedAt.Equal(out[j].RecordedAt) {
			return out[i].PaymentID < out[j].PaymentID
		}
		return out[i].RecordedAt.Before(out[j].RecordedAt)
	})
	return out, nil
}

// Len returns the number of recorded purchases
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byPayment)
}
