package evm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"math/rand"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sigweihq/purchasegate/pkg/chains"
	"github.com/sigweihq/purchasegate/pkg/constants"
	"github.com/sigweihq/purchasegate/pkg/types"
	"github.com/sigweihq/purchasegate/pkg/utils"
)

// RPCClient implements chains.RPCClient for EVM chains
type RPCClient struct {
	network    string
	chainID    int64
	endpoints  EndpointSource
	httpClient *http.Client
	logger     *slog.Logger
}

// NewRPCClient creates a new EVM RPC client.
// Network must be registered in constants.NetworkToChainID.
func NewRPCClient(network string, endpoints EndpointSource, logger *slog.Logger) (*RPCClient, error) {
	chainID, ok := constants.NetworkToChainID[network]
	if !ok {
		return nil, &UnsupportedNetworkError{Network: network}
	}
	if endpoints == nil {
		return nil, fmt.Errorf("endpoint source is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RPCClient{
		network:    network,
		chainID:    chainID,
		endpoints:  endpoints,
		httpClient: utils.CreateHTTPClientWithTimeouts(),
		logger:     logger,
	}, nil
}

// Verify RPCClient implements the interface
var _ chains.RPCClient = (*RPCClient)(nil)

// Network returns the network name (e.g., "base")
func (r *RPCClient) Network() string {
	return r.network
}

// ChainID returns the numeric chain ID of the network
func (r *RPCClient) ChainID() int64 {
	return r.chainID
}

// Endpoints returns the current endpoints in failover order
func (r *RPCClient) Endpoints() []string {
	return append([]string(nil), r.endpoints.GetEndpoints(r.network)...)
}

// rpcReceipt holds only the receipt fields the verifier reads.
// Base nodes add fields (e.g. blockTimestamp on logs) that the full
// go-ethereum Receipt type refuses, so logs are never decoded.
type rpcReceipt struct {
	TransactionHash common.Hash     `json:"transactionHash"`
	Status          hexutil.Uint64  `json:"status"`
	From            common.Address  `json:"from"`
	To              *common.Address `json:"to"`
	BlockNumber     hexutil.Uint64  `json:"blockNumber"`
}

type rpcTransaction struct {
	Hash  common.Hash     `json:"hash"`
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"`
	Value *hexutil.Big    `json:"value"`
	Input hexutil.Bytes   `json:"input"`
}

// GetTransactionReceipt implements chains.RPCClient
// Uses random start position for load balancing across RPC endpoints
func (r *RPCClient) GetTransactionReceipt(ctx context.Context, txHash string) (*types.ReceiptView, error) {
	var raw rpcReceipt
	err := r.call(ctx, constants.TransactionReceiptTimeout, &raw, "eth_getTransactionReceipt", common.HexToHash(txHash))
	if err != nil {
		return nil, err
	}

	receipt := &types.ReceiptView{
		TxHash:      raw.TransactionHash.Hex(),
		Status:      uint64(raw.Status),
		From:        raw.From.Hex(),
		BlockNumber: uint64(raw.BlockNumber),
	}
	if raw.To != nil {
		receipt.To = raw.To.Hex()
	}
	return receipt, nil
}

// GetTransaction implements chains.RPCClient
func (r *RPCClient) GetTransaction(ctx context.Context, txHash string) (*types.TransactionView, error) {
	var raw rpcTransaction
	err := r.call(ctx, constants.TransactionBodyTimeout, &raw, "eth_getTransactionByHash", common.HexToHash(txHash))
	if err != nil {
		return nil, err
	}

	tx := &types.TransactionView{
		Hash:  raw.Hash.Hex(),
		From:  raw.From.Hex(),
		Value: new(big.Int),
		Input: []byte(raw.Input),
	}
	if raw.Value != nil {
		tx.Value = raw.Value.ToInt()
	}
	if raw.To != nil {
		tx.To = raw.To.Hex()
	}
	return tx, nil
}

// IsHealthy implements chains.RPCClient
func (r *RPCClient) IsHealthy(ctx context.Context, endpoint string) bool {
	ctx, cancel := context.WithTimeout(ctx, constants.HealthCheckTimeout)
	defer cancel()

	client, err := rpc.DialOptions(ctx, endpoint, rpc.WithHTTPClient(r.httpClient))
	if err != nil {
		return false
	}
	defer client.Close()

	var blockNumber hexutil.Uint64
	return client.CallContext(ctx, &blockNumber, "eth_blockNumber") == nil
}

// call performs a JSON-RPC call with endpoint failover.
// A null result from every reachable endpoint is reported as chains.ErrNotFound;
// one endpoint answering null does not stop the others from being asked, since
// nodes index at different speeds.
func (r *RPCClient) call(ctx context.Context, timeout time.Duration, result any, method string, args ...any) error {
	endpoints := r.endpoints.GetEndpoints(r.network)
	if len(endpoints) == 0 {
		return fmt.Errorf("no RPC endpoints available for network %s", r.network)
	}

	// Start at a random position for load balancing
	startIdx := rand.Intn(len(endpoints))

	var (
		lastErr  error
		notFound bool
	)
	for i := 0; i < len(endpoints); i++ {
		if i > 0 {
			delay := time.Duration(i*constants.DelayBetweenRPCCalls) * time.Millisecond
			if err := utils.SleepContext(ctx, delay); err != nil {
				return err
			}
		}

		// Wrap around using modulo for round-robin
		endpoint := endpoints[(startIdx+i)%len(endpoints)]

		err := r.callEndpoint(ctx, endpoint, timeout, result, method, args...)
		if err == nil {
			return nil
		}
		if errors.Is(err, chains.ErrNotFound) {
			notFound = true
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		r.logger.Warn("RPC call failed", "endpoint", endpoint, "method", method, "error", err)
		lastErr = &RPCError{Endpoint: endpoint, Err: err}
	}

	if notFound {
		return chains.ErrNotFound
	}
	return fmt.Errorf("all RPC endpoints failed for network %s: %w", r.network, lastErr)
}

func (r *RPCClient) callEndpoint(ctx context.Context, endpoint string, timeout time.Duration, result any, method string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := rpc.DialOptions(ctx, endpoint, rpc.WithHTTPClient(r.httpClient))
	if err != nil {
		return err
	}
	defer client.Close()

	var raw json.RawMessage
	if err := client.CallContext(ctx, &raw, method, args...); err != nil {
		return err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return chains.ErrNotFound
	}

	return json.Unmarshal(raw, result)
}
