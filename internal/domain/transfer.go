package domain

import (
	"math/big"
	"time"
)

// TransferRequest one attempt to send tokens. Built per submission, never persisted.
type TransferRequest struct {
	// ID identifies the request for single-flight checks; empty means
	// recipient, amount and symbol are used instead.
	ID                       string
	RecipientAddress         string
	HumanAmount              string
	TokenSymbol              string
	TokenDecimals            int
	CurrentBalanceMinorUnits *big.Int
}

// TransactionReference acknowledgment returned by the transfer endpoint.
type TransactionReference struct {
	SubmittedAt time.Time `json:"submitted_at"`
	RequestID   string    `json:"request_id"`
	TxHash      string    `json:"tx_hash,omitempty"`
	Status      string    `json:"status,omitempty"`
	Message     string    `json:"message,omitempty"`
}

// TransferOrder body sent to the transfer endpoint. The amount stays in
// human units; the backend converts it with the token decimals.
type TransferOrder struct {
	RecipientAddress string `json:"recipientAddress"`
	HumanAmount      string `json:"humanAmount"`
	TokenSymbol      string `json:"tokenSymbol"`
	// RequestID travels as an idempotency header, not in the body.
	RequestID string `json:"-"`
}
