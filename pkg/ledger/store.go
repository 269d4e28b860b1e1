package ledger

import (
	"context"
	"errors"

	"github.com/sigweihq/purchasegate/pkg/types"
)

var (
	// ErrDuplicate is returned by Store.Insert when the payment ID is already recorded
	ErrDuplicate = errors.New("payment already recorded")
	// ErrNotFound is returned when no purchase exists for a payment ID
	ErrNotFound = errors.New("purchase not found")
)

// Store persists purchase records. Insert must enforce uniqueness of
// PaymentID itself; concurrent inserts of the same ID yield exactly one success.
type Store interface {
	Insert(ctx context.Context, record types.PurchaseRecord) error
	FindByPaymentID(ctx context.Context, paymentID string) (types.PurchaseRecord, error)
	ListByPayer(ctx context.Context, payerID string) ([]types.PurchaseRecord, error)
}
