package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sigweihq/purchasegate/pkg/types"
)

const (
	cacheKeyPrefix  = "purchasegate:purchase:"
	DefaultCacheTTL = 24 * time.Hour
)

// CachedStore serves FindByPaymentID from Redis in front of another Store.
// Records are immutable so a cached hit is always current; misses are never
// cached. Insert always goes to the wrapped store.
type CachedStore struct {
	inner  Store
	client *goredis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedStore(inner Store, client *goredis.Client, ttl time.Duration, logger *slog.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedStore{
		inner:  inner,
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

var _ Store = (*CachedStore)(nil)

func (s *CachedStore) Insert(ctx context.Context, record types.PurchaseRecord) error {
	if err := s.inner.Insert(ctx, record); err != nil {
		return err
	}
	s.store(ctx, record)
	return nil
}

func (s *CachedStore) FindByPaymentID(ctx context.Context, paymentID string) (types.PurchaseRecord, error) {
	if record, ok := s.load(ctx, paymentID); ok {
		return record, nil
	}

	record, err := s.inner.FindByPaymentID(ctx, paymentID)
	if err != nil {
		return types.PurchaseRecord{}, err
	}
	s.store(ctx, record)
	return record, nil
}

func (s *CachedStore) ListByPayer(ctx context.Context, payerID string) ([]types.PurchaseRecord, error) {
	return s.inner.ListByPayer(ctx, payerID)
}

// load returns a cached record. Redis failures degrade to a miss.
func (s *CachedStore) load(ctx context.Context, paymentID string) (types.PurchaseRecord, bool) {
	if s.client == nil {
		return types.PurchaseRecord{}, false
	}

	raw, err := s.client.Get(ctx, cacheKey(paymentID)).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			s.logger.Warn("purchase cache read failed", "payment_id", paymentID, "error", err)
		}
		return types.PurchaseRecord{}, false
	}

	var record types.PurchaseRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		s.logger.Warn("purchase cache entry corrupt", "payment_id", paymentID, "error", err)
		return types.PurchaseRecord{}, false
	}
	return record, true
}

func (s *CachedStore) store(ctx context.Context, record types.PurchaseRecord) {
	if s.client == nil {
		return
	}

	raw, err := json.Marshal(record)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, cacheKey(record.PaymentID), raw, s.ttl).Err(); err != nil {
		s.logger.Warn("purchase cache write failed", "payment_id", record.PaymentID, "error", fmt.Errorf("set: %w", err))
	}
}

func cacheKey(paymentID string) string {
	return cacheKeyPrefix + paymentID
}
