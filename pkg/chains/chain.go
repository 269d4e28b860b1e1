package chains

import (
	"context"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/sigweihq/purchasegate/pkg/types"
)

// ErrNotFound is returned when the node has no receipt or transaction for a hash.
// It is go-ethereum's sentinel so errors from ethclient compare equal.
var ErrNotFound = ethereum.NotFound

// RPCClient handles the read-only blockchain operations the verifier needs
type RPCClient interface {
	// GetTransactionReceipt retrieves a receipt with endpoint failover.
	// Returns ErrNotFound while the transaction is not yet indexed.
	GetTransactionReceipt(ctx context.Context, txHash string) (*types.ReceiptView, error)

	// GetTransaction retrieves the transaction body (value, input, recipient)
	GetTransaction(ctx context.Context, txHash string) (*types.TransactionView, error)

	// IsHealthy performs a health check on a single RPC endpoint
	IsHealthy(ctx context.Context, endpoint string) bool
}
