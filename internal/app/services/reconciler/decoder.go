package reconciler

import (
	"errors"
	"fmt"

	"github.com/starkpay/gateway/internal/app/domain/payment"
	"github.com/starkpay/gateway/internal/chain"
)

// Decode outcomes the reconciliation loop branches on.
var (
	// ErrExecutionReverted means the transaction reverted on chain: the
	// intent failed permanently.
	ErrExecutionReverted = errors.New("transaction execution reverted")
	// ErrNoPaymentEvent means the receipt carries no processor payment
	// event. Not necessarily an error: the transaction may be unrelated or
	// event indexing may lag receipt availability.
	ErrNoPaymentEvent = errors.New("no payment event in receipt")
	// ErrMalformedEvent means a matching event was found but its contents
	// violate the payment event contract.
	ErrMalformedEvent = errors.New("malformed payment event")
)

// A payment event carries selector + merchant + payer in its keys and
// token + three u256 amount pairs in its data.
const (
	minEventKeys = 3
	minEventData = 7
)

// DecoderConfig configures event matching.
type DecoderConfig struct {
	// ProcessorAddress is the payment processor contract whose emissions
	// settle intents.
	ProcessorAddress string
	// EventSelector, when set, additionally requires keys[0] to match. The
	// deployed processor emits a single event shape so emitter + key count
	// is sufficient in practice; the check is opt-in hardening.
	EventSelector string
}

// Decoder turns transaction receipts into typed payment events.
type Decoder struct {
	processor string
	selector  string
}

// NewDecoder builds a decoder for one processor contract.
func NewDecoder(cfg DecoderConfig) (*Decoder, error) {
	if cfg.ProcessorAddress == "" {
		return nil, fmt.Errorf("processor address required")
	}
	d := &Decoder{
		processor: chain.NormalizeAddress(cfg.ProcessorAddress),
	}
	if cfg.EventSelector != "" {
		d.selector = chain.NormalizeAddress(cfg.EventSelector)
	}
	return d, nil
}

// Decode extracts the payment event from a receipt. It returns
// ErrExecutionReverted for reverted transactions, ErrNoPaymentEvent when no
// event from the processor matches, and ErrMalformedEvent when a matching
// event cannot be decoded.
func (d *Decoder) Decode(receipt *chain.Receipt) (payment.Event, error) {
	if !receipt.Succeeded() {
		return payment.Event{}, fmt.Errorf("%w: %s", ErrExecutionReverted, receipt.ExecutionStatus)
	}

	for _, evt := range receipt.Events {
		if chain.NormalizeAddress(evt.FromAddress) != d.processor {
			continue
		}
		if len(evt.Keys) < minEventKeys {
			continue
		}
		if d.selector != "" && chain.NormalizeAddress(evt.Keys[0]) != d.selector {
			continue
		}
		return d.decodeEvent(evt, receipt.BlockNumber)
	}

	return payment.Event{}, ErrNoPaymentEvent
}

func (d *Decoder) decodeEvent(evt chain.Event, blockNumber uint64) (payment.Event, error) {
	if len(evt.Data) < minEventData {
		return payment.Event{}, fmt.Errorf("%w: %d data felts, need %d", ErrMalformedEvent, len(evt.Data), minEventData)
	}

	gross, err := chain.ParseUint128Pair(evt.Data[1], evt.Data[2])
	if err != nil {
		return payment.Event{}, fmt.Errorf("%w: gross amount: %v", ErrMalformedEvent, err)
	}
	net, err := chain.ParseUint128Pair(evt.Data[3], evt.Data[4])
	if err != nil {
		return payment.Event{}, fmt.Errorf("%w: net amount: %v", ErrMalformedEvent, err)
	}
	fee, err := chain.ParseUint128Pair(evt.Data[5], evt.Data[6])
	if err != nil {
		return payment.Event{}, fmt.Errorf("%w: fee amount: %v", ErrMalformedEvent, err)
	}

	out := payment.Event{
		MerchantAddress: chain.NormalizeAddress(evt.Keys[1]),
		PayerAddress:    chain.NormalizeAddress(evt.Keys[2]),
		TokenAddress:    chain.NormalizeAddress(evt.Data[0]),
		GrossAmount:     gross,
		NetAmount:       net,
		FeeAmount:       fee,
		BlockNumber:     blockNumber,
	}

	// Completed intents must satisfy net + fee == gross; a contract that
	// emits anything else cannot be settled against.
	if !out.Consistent() {
		return payment.Event{}, fmt.Errorf("%w: net %s + fee %s != gross %s",
			ErrMalformedEvent, net.String(), fee.String(), gross.String())
	}

	return out, nil
}
