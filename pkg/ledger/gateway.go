package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sigweihq/purchasegate/pkg/types"
)

// ErrConflict is returned by Record when the payment was already credited
var ErrConflict = errors.New("purchase conflict: payment already processed")

// Gateway is the idempotent write path for accepted verifications
type Gateway struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewGateway(store Store, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Record inserts one purchase for payment. The store's uniqueness constraint
// decides races: exactly one caller succeeds and the rest get ErrConflict.
func (g *Gateway) Record(
	ctx context.Context,
	payerID string,
	payment types.PaymentIdentifier,
	skuID string,
	classification types.Classification,
) (types.PurchaseRecord, error) {
	record := types.PurchaseRecord{
		ID:             uuid.NewString(),
		PayerID:        payerID,
		PaymentID:      payment.Key(),
		PaymentKind:    payment.Kind(),
		SKUID:          skuID,
		Classification: string(classification),
		RecordedAt:     g.now().UTC(),
	}

	if err := g.store.Insert(ctx, record); err != nil {
		if errors.Is(err, ErrDuplicate) {
			g.logger.Warn("purchase conflict",
				"payment_id", record.PaymentID,
				"payer_id", payerID,
				"sku_id", skuID)
			return types.PurchaseRecord{}, ErrConflict
		}
		return types.PurchaseRecord{}, fmt.Errorf("record purchase: %w", err)
	}

	g.logger.Info("purchase recorded",
		"id", record.ID,
		"payment_id", record.PaymentID,
		"payment_kind", record.PaymentKind,
		"payer_id", payerID,
		"sku_id", skuID,
		"classification", record.Classification)
	return record, nil
}

// Exists reports whether paymentID was already credited
func (g *Gateway) Exists(ctx context.Context, paymentID string) (bool, error) {
	_, err := g.store.FindByPaymentID(ctx, paymentID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, fmt.Errorf("lookup purchase: %w", err)
}

// Find returns the purchase recorded under paymentID
func (g *Gateway) Find(ctx context.Context, paymentID string) (types.PurchaseRecord, error) {
	return g.store.FindByPaymentID(ctx, paymentID)
}

// Purchases lists a payer's purchases, oldest first
func (g *Gateway) Purchases(ctx context.Context, payerID string) ([]types.PurchaseRecord, error) {
	records, err := g.store.ListByPayer(ctx, payerID)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	return records, nil
}

// OwnedSKUs returns the distinct SKUs a payer has been credited with, sorted
func (g *Gateway) OwnedSKUs(ctx context.Context, payerID string) ([]string, error) {
	records, err := g.Purchases(ctx, payerID)
	if err != nil {
		return nil, err
	}
	return DistinctSKUs(records), nil
}

// DistinctSKUs returns the sorted distinct SKU IDs of records
func DistinctSKUs(records []types.PurchaseRecord) []string {
	seen := make(map[string]struct{}, len(records))
	owned := make([]string, 0, len(records))
	for _, record := range records {
		if _, ok := seen[record.SKUID]; ok {
			continue
		}
		seen[record.SKUID] = struct{}{}
		owned = append(owned, record.SKUID)
	}
	sort.Strings(owned)
	return owned
}
