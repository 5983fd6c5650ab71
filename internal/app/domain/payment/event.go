// Package payment defines the decoded payment event emitted by the on-chain
// payment processor contract.
package payment

import "math/big"

// Event is the typed form of one processor PaymentReceived emission. It is
// transient: derived from a transaction receipt and used only to settle a
// payment intent, never persisted directly.
type Event struct {
	MerchantAddress string
	PayerAddress    string
	TokenAddress    string
	GrossAmount     *big.Int
	NetAmount       *big.Int
	FeeAmount       *big.Int
	BlockNumber     uint64
}

// Consistent reports whether the amounts satisfy net + fee == gross.
func (e Event) Consistent() bool {
	if e.GrossAmount == nil || e.NetAmount == nil || e.FeeAmount == nil {
		return false
	}
	sum := new(big.Int).Add(e.NetAmount, e.FeeAmount)
	return sum.Cmp(e.GrossAmount) == 0
}
