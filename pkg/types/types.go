package types

import (
	"math/big"
	"strings"
	"time"
)

// Payment identifier kinds
const (
	PaymentKindTxHash = "tx_hash"
	PaymentKindCallID = "call_id"
)

// PaymentIdentifier is the idempotency key of one verification attempt.
// Exactly one of TxHash or CallID is set.
type PaymentIdentifier struct {
	TxHash string
	CallID string
}

// HasTxHash reports whether the wallet surfaced a transaction hash
func (p PaymentIdentifier) HasTxHash() bool {
	return strings.TrimSpace(p.TxHash) != ""
}

// HasCallID reports whether the wallet surfaced a call-batch identifier
func (p PaymentIdentifier) HasCallID() bool {
	return strings.TrimSpace(p.CallID) != ""
}

// Kind returns PaymentKindTxHash or PaymentKindCallID
func (p PaymentIdentifier) Kind() string {
	if p.HasTxHash() {
		return PaymentKindTxHash
	}
	return PaymentKindCallID
}

// Key returns the value stored under the ledger's uniqueness constraint.
// Hashes are lower-cased so checksum variations of the same hash collide.
func (p PaymentIdentifier) Key() string {
	if p.HasTxHash() {
		return strings.ToLower(strings.TrimSpace(p.TxHash))
	}
	return strings.TrimSpace(p.CallID)
}

// Classification names the wallet pattern a payment was accepted under
type Classification string

const (
	ClassificationDirectTransfer     Classification = "DirectTransfer"
	ClassificationEntryPointBundle   Classification = "EntryPointBundle"
	ClassificationProxyCall          Classification = "ProxyCall"
	ClassificationOpaqueBatch        Classification = "OpaqueBatch"
	ClassificationCallBatchConfirmed Classification = "CallBatchConfirmed"
)

// IsTrusted reports whether the classification substitutes chain confirmation
// for a value proof
func (c Classification) IsTrusted() bool {
	switch c {
	case ClassificationEntryPointBundle, ClassificationOpaqueBatch, ClassificationCallBatchConfirmed:
		return true
	}
	return false
}

// Receipt statuses
const (
	ReceiptStatusReverted uint64 = 0
	ReceiptStatusSuccess  uint64 = 1
)

// ReceiptView is the read-only part of a transaction receipt the verifier relies on
type ReceiptView struct {
	TxHash      string
	Status      uint64
	From        string
	To          string // empty for contract creation
	BlockNumber uint64
}

func (r *ReceiptView) IsSuccessful() bool {
	return r.Status == ReceiptStatusSuccess
}

// TransactionView is the read-only part of a transaction body
type TransactionView struct {
	Hash  string
	From  string
	To    string
	Value *big.Int
	Input []byte
}

// CatalogEntry is one purchasable SKU
type CatalogEntry struct {
	SKUID            string
	Name             string
	RequiredPriceWei *big.Int
	IsMintable       bool
}

// PurchaseRecord is one ledger row; created once, never updated
type PurchaseRecord struct {
	ID             string    `json:"id"`
	PayerID        string    `json:"payerId"`
	PaymentID      string    `json:"paymentId"`
	PaymentKind    string    `json:"paymentKind"`
	SKUID          string    `json:"skuId"`
	Classification string    `json:"classification"`
	RecordedAt     time.Time `json:"recordedAt"`
}

// VerifyRequest is the body of POST /api/verify-transaction.
// PayerID is the Farcaster ID sent by the mini-app as "fid".
type VerifyRequest struct {
	PayerID       string `json:"fid" validate:"required,max=128"`
	TxHash        string `json:"txHash,omitempty" validate:"omitempty,txhash"`
	CallID        string `json:"callId,omitempty" validate:"omitempty,max=512"`
	SKUID         string `json:"skuId" validate:"required,max=128"`
	CallConfirmed bool   `json:"confirmed,omitempty"`
}

// PaymentIdentifier extracts the identifier carried by the request
func (r *VerifyRequest) PaymentIdentifier() PaymentIdentifier {
	return PaymentIdentifier{TxHash: r.TxHash, CallID: r.CallID}
}

// VerifyResponse is returned on acceptance
type VerifyResponse struct {
	Success bool `json:"success"`
}

// ErrorResponse is returned on every rejection.
// Actual and Required are wei amounts, set only for insufficient payments.
type ErrorResponse struct {
	Error    string `json:"error"`
	Actual   string `json:"actual,omitempty"`
	Required string `json:"required,omitempty"`
}

// CatalogItem is the public view of a CatalogEntry
type CatalogItem struct {
	SKUID      string `json:"skuId"`
	Name       string `json:"name"`
	PriceWei   string `json:"priceWei"`
	PriceEth   string `json:"priceEth"`
	IsMintable bool   `json:"isMintable"`
}

// OwnedResponse lists the SKUs a payer has been credited with
type OwnedResponse struct {
	PayerID   string           `json:"fid"`
	OwnedSKUs []string         `json:"ownedSkus"`
	Purchases []PurchaseRecord `json:"purchases"`
}
