package domain

import (
	"math/big"
	"time"
)

// BalanceSnapshot one observed balance state of an account.
// Amount is kept as a base-10 string of minor units so the value stays exact
// when it reaches JSON consumers.
type BalanceSnapshot struct {
	CapturedAt  time.Time `json:"ts"`
	Account     string    `json:"account"`
	Amount      string    `json:"amount"`
	BlockHeight *uint64   `json:"block_height,omitempty"`
}

// NewBalanceSnapshot creates a new BalanceSnapshot. A nil amount is stored as zero.
func NewBalanceSnapshot(account string, amount *big.Int, blockHeight *uint64, capturedAt time.Time) BalanceSnapshot {
	value := "0"
	if amount != nil {
		value = amount.String()
	}

	var height *uint64
	if blockHeight != nil {
		h := *blockHeight
		height = &h
	}

	return BalanceSnapshot{
		CapturedAt:  capturedAt,
		Account:     account,
		Amount:      value,
		BlockHeight: height,
	}
}

// AmountInt returns the amount as a fresh big.Int.
func (s BalanceSnapshot) AmountInt() *big.Int {
	v, ok := new(big.Int).SetString(s.Amount, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}

// Height returns the block height and whether it is known.
func (s BalanceSnapshot) Height() (uint64, bool) {
	if s.BlockHeight == nil {
		return 0, false
	}
	return *s.BlockHeight, true
}

// BalanceSnapshotRecord bundles a snapshot with the log index it originated from.
type BalanceSnapshotRecord struct {
	Index    uint64          `json:"index"`
	Snapshot BalanceSnapshot `json:"snapshot"`
}
