package constants

import "time"

const (
	DelayBetweenRPCCalls      = 200              // delay in milliseconds between RPC endpoint failovers
	TransactionReceiptTimeout = 2 * time.Second  // timeout for a single receipt fetch
	TransactionBodyTimeout    = 2 * time.Second  // timeout for a single transaction fetch
	HealthCheckTimeout        = 3 * time.Second  // timeout for endpoint health checks
	RPCClientTimeout          = 5 * time.Second  // overall timeout of the RPC http.Client
	TLSHandshakeTimeout       = 5 * time.Second  // timeout for TLS handshake
	ResponseHeaderTimeout     = 4 * time.Second  // timeout for response header
	ExpectContinueTimeout     = 1 * time.Second  // timeout for expect continue
	MaxResponseBodySize       = 10 * 1024 * 1024 // maximum response body size in bytes (10MB)
	MaxRequestBodySize        = 64 * 1024        // maximum verification request body size
	MaxPayerIDLength          = 128              // longest fid accepted, also the rate-limit key
)

// Resolver budget. Smart-wallet bundles can reach the indexer a few seconds
// after the wallet reports them, so a single-shot lookup is not enough.
const (
	ResolveAttempts   = 5
	ResolveRetryDelay = 2 * time.Second
)

const (
	WeiDecimals = 18
)

// Network Types
const (
	NetworkBase        = "base"
	NetworkBaseSepolia = "base-sepolia"
)

// mapping from network name to numeric chain ID
var NetworkToChainID = map[string]int64{
	NetworkBase:        8453,
	NetworkBaseSepolia: 84532,
}

var OfficialRPCEndpoints = map[string][]string{
	NetworkBase:        {"https://mainnet.base.org"},
	NetworkBaseSepolia: {"https://sepolia.base.org"},
}

// ERC-4337 EntryPoint deployments, one per supported protocol revision.
const (
	EntryPointV06 = "0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789"
	EntryPointV07 = "0x0000000071727De22E5E9d8BAf0edAc6f37da032"
)

var EntryPointAddresses = []string{
	EntryPointV06,
	EntryPointV07,
}

// NativeAsset is the asset marker quoted in payment requirements for native ETH.
const NativeAsset = "0x0000000000000000000000000000000000000000"

// MintPriceWei is what the client sends for a mintable (free) SKU.
const MintPriceWei = 1
