package utils

import (
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sigweihq/purchasegate/pkg/constants"
)

// CreateHTTPClientWithTimeouts returns the client used for outbound RPC calls.
// A hung node must never hold a verification request past its deadline.
func CreateHTTPClientWithTimeouts() *http.Client {
	return &http.Client{
		Timeout: constants.RPCClientTimeout,
		Transport: &http.Transport{
			TLSHandshakeTimeout:   constants.TLSHandshakeTimeout,
			ResponseHeaderTimeout: constants.ResponseHeaderTimeout,
			ExpectContinueTimeout: constants.ExpectContinueTimeout,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse // Disable redirects to prevent redirect-based SSRF
		},
	}
}

// ValidateRPCURL validates that an RPC endpoint URL is secure.
// Plain HTTP is accepted only when the host is exactly a loopback name.
func ValidateRPCURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("RPC URL must be a valid HTTPS URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		if u.Hostname() == "" {
			return fmt.Errorf("RPC URL must use HTTPS with a host: %q", rawURL)
		}
		return nil
	case "http":
		switch u.Hostname() {
		case "localhost", "127.0.0.1", "::1":
			return nil
		}
	}
	return fmt.Errorf("RPC URL must use HTTPS: %s://%s", u.Scheme, u.Host)
}

// IsValidTxHash reports whether s is 0x followed by 64 hex characters
func IsValidTxHash(s string) bool {
	if len(s) != 66 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, c := range s[2:] {
		if !isHexRune(c) {
			return false
		}
	}
	return true
}

// NormalizeTxHash adds a missing 0x prefix and lower-cases the hash
func NormalizeTxHash(txHash string) (string, error) {
	txHash = strings.TrimSpace(txHash)
	if txHash == "" {
		return "", fmt.Errorf("empty transaction hash")
	}
	if !strings.HasPrefix(txHash, "0x") && !strings.HasPrefix(txHash, "0X") {
		txHash = "0x" + txHash
	}
	txHash = "0x" + strings.ToLower(txHash[2:])
	if !IsValidTxHash(txHash) {
		return "", fmt.Errorf("invalid transaction hash format: %s", txHash)
	}
	return txHash, nil
}

// AddressesEqual compares two EVM addresses.
// EVM addresses are case-insensitive due to EIP-55 checksumming.
func AddressesEqual(addr1, addr2 string) bool {
	return strings.EqualFold(strings.TrimSpace(addr1), strings.TrimSpace(addr2))
}

// IsValidAddress reports whether s is a 20-byte hex address
func IsValidAddress(s string) bool {
	return common.IsHexAddress(strings.TrimSpace(s))
}

// EtherToWei converts a decimal ETH amount such as "0.01" to wei.
// Amounts with more than 18 fractional digits or negative amounts are rejected.
func EtherToWei(amount string) (*big.Int, error) {
	if strings.TrimSpace(amount) == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}

	dec, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}
	if dec.IsNegative() {
		return nil, fmt.Errorf("amount cannot be negative")
	}

	wei := dec.Shift(constants.WeiDecimals)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, fmt.Errorf("amount %s has more than %d decimal places", amount, constants.WeiDecimals)
	}
	return wei.BigInt(), nil
}

// WeiToEther formats a wei amount as a decimal ETH string
func WeiToEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -constants.WeiDecimals).String()
}

func isHexRune(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
