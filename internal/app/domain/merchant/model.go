// Package merchant defines the merchant aggregate record.
package merchant

import (
	"math/big"
	"time"
)

// Account holds per-merchant aggregates. TotalEarnings is kept in the
// smallest token unit as an arbitrary-precision integer; it is mutated only
// by the reconciliation loop, exactly once per completed intent.
type Account struct {
	Address          string // normalized chain address, unique key
	Name             string
	TotalEarnings    *big.Int
	TransactionCount int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
