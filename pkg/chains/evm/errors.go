package evm

import (
	"fmt"
	"math/big"
)

// UnsupportedNetworkError is returned when a network is not supported
type UnsupportedNetworkError struct {
	Network string
}

func (e *UnsupportedNetworkError) Error() string {
	return fmt.Sprintf("unsupported network: %s", e.Network)
}

// RPCError represents an RPC-related error
type RPCError struct {
	Endpoint string
	Err      error
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error on %s: %v", e.Endpoint, e.Err)
}

func (e *RPCError) Unwrap() error {
	return e.Err
}

// InsufficientPaymentError is returned when the transferred value is below the price
type InsufficientPaymentError struct {
	Actual   *big.Int
	Required *big.Int
}

func (e *InsufficientPaymentError) Error() string {
	return fmt.Sprintf("insufficient payment: got %s wei, required %s wei", e.Actual.String(), e.Required.String())
}
