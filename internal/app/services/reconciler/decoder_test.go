package reconciler

import (
	"errors"
	"math/big"
	"testing"

	"github.com/starkpay/gateway/internal/chain"
)

const (
	testProcessor = "0x04a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6e7f8a9b0c1d2e3f4a5b6c7d8e9f0a1"
	testSelector  = "0x01dcde06aabdbca2f80aa51392b345d7549d7757aa855f7e37f5d335ac8243b1"
	testMerchant  = "0x0059a2b14c07f0d1aee7a22bdba2b2bd4c25f57a272940f88d4a4b5bbc25e3b4"
	testPayer     = "0x02f3e9d8c7b6a5f4e3d2c1b0a9f8e7d6c5b4a3f2e1d0c9b8a7f6e5d4c3b2a1f0"
	testToken     = "0x049d36570d4e46f48e99674bd3fcc84644ddd6b96f7c741b1562b82f9e004dc7"
)

func newTestDecoder(t *testing.T, selector string) *Decoder {
	t.Helper()
	d, err := NewDecoder(DecoderConfig{ProcessorAddress: testProcessor, EventSelector: selector})
	if err != nil {
		t.Fatalf("new decoder: %v", err)
	}
	return d
}

func paymentEvent(gross, net, fee string) chain.Event {
	return chain.Event{
		FromAddress: testProcessor,
		Keys:        []string{testSelector, testMerchant, testPayer},
		Data:        []string{testToken, gross, "0x0", net, "0x0", fee, "0x0"},
	}
}

func successReceipt(events ...chain.Event) *chain.Receipt {
	return &chain.Receipt{
		TransactionHash: "0x1",
		ExecutionStatus: chain.ExecutionSucceeded,
		FinalityStatus:  chain.FinalityAcceptedOnL2,
		BlockNumber:     500,
		Events:          events,
	}
}

func TestDecodePaymentEvent(t *testing.T) {
	d := newTestDecoder(t, "")

	evt, err := d.Decode(successReceipt(paymentEvent("0x3e8", "0x3cf", "0x19")))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if evt.MerchantAddress != chain.NormalizeAddress(testMerchant) {
		t.Fatalf("merchant = %s", evt.MerchantAddress)
	}
	if evt.PayerAddress != chain.NormalizeAddress(testPayer) {
		t.Fatalf("payer = %s", evt.PayerAddress)
	}
	if evt.TokenAddress != chain.NormalizeAddress(testToken) {
		t.Fatalf("token = %s", evt.TokenAddress)
	}
	if evt.GrossAmount.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("gross = %s, want 1000", evt.GrossAmount)
	}
	if evt.NetAmount.Cmp(big.NewInt(975)) != 0 {
		t.Fatalf("net = %s, want 975", evt.NetAmount)
	}
	if evt.FeeAmount.Cmp(big.NewInt(25)) != 0 {
		t.Fatalf("fee = %s, want 25", evt.FeeAmount)
	}
	if evt.BlockNumber != 500 {
		t.Fatalf("block = %d, want 500", evt.BlockNumber)
	}
}

func TestDecodeHighWordAmounts(t *testing.T) {
	d := newTestDecoder(t, "")

	// gross = 2^128, net = 2^128 - 1, fee = 1
	evt := chain.Event{
		FromAddress: testProcessor,
		Keys:        []string{testSelector, testMerchant, testPayer},
		Data: []string{
			testToken,
			"0x0", "0x1",
			"0xffffffffffffffffffffffffffffffff", "0x0",
			"0x1", "0x0",
		},
	}

	out, err := d.Decode(successReceipt(evt))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := new(big.Int).Lsh(big.NewInt(1), 128)
	if out.GrossAmount.Cmp(want) != 0 {
		t.Fatalf("gross = %s, want 2^128", out.GrossAmount)
	}
}

func TestDecodeReverted(t *testing.T) {
	d := newTestDecoder(t, "")

	receipt := successReceipt(paymentEvent("0x3e8", "0x3cf", "0x19"))
	receipt.ExecutionStatus = chain.ExecutionReverted
	receipt.RevertReason = "assertion failed"

	_, err := d.Decode(receipt)
	if !errors.Is(err, ErrExecutionReverted) {
		t.Fatalf("expected ErrExecutionReverted, got %v", err)
	}
}

func TestDecodeIgnoresOtherEmitters(t *testing.T) {
	d := newTestDecoder(t, "")

	foreign := paymentEvent("0x3e8", "0x3cf", "0x19")
	foreign.FromAddress = "0x0999"

	_, err := d.Decode(successReceipt(foreign))
	if !errors.Is(err, ErrNoPaymentEvent) {
		t.Fatalf("expected ErrNoPaymentEvent, got %v", err)
	}
}

func TestDecodeSkipsShortKeyEvents(t *testing.T) {
	d := newTestDecoder(t, "")

	// A transfer-style event from the processor with too few keys must not
	// be mistaken for a payment.
	short := chain.Event{
		FromAddress: testProcessor,
		Keys:        []string{testSelector},
		Data:        []string{"0x5"},
	}
	full := paymentEvent("0x3e8", "0x3cf", "0x19")

	evt, err := d.Decode(successReceipt(short, full))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.GrossAmount.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("decoded wrong event, gross = %s", evt.GrossAmount)
	}
}

func TestDecodeSelectorFilter(t *testing.T) {
	d := newTestDecoder(t, testSelector)

	other := paymentEvent("0x3e8", "0x3cf", "0x19")
	other.Keys[0] = "0x0bad"

	if _, err := d.Decode(successReceipt(other)); !errors.Is(err, ErrNoPaymentEvent) {
		t.Fatalf("expected ErrNoPaymentEvent for selector mismatch, got %v", err)
	}

	if _, err := d.Decode(successReceipt(paymentEvent("0x3e8", "0x3cf", "0x19"))); err != nil {
		t.Fatalf("decode with matching selector: %v", err)
	}
}

func TestDecodeMalformed(t *testing.T) {
	d := newTestDecoder(t, "")

	shortData := paymentEvent("0x3e8", "0x3cf", "0x19")
	shortData.Data = shortData.Data[:4]
	if _, err := d.Decode(successReceipt(shortData)); !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("expected ErrMalformedEvent for short data, got %v", err)
	}

	badFelt := paymentEvent("0xzz", "0x3cf", "0x19")
	if _, err := d.Decode(successReceipt(badFelt)); !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("expected ErrMalformedEvent for bad felt, got %v", err)
	}

	// net + fee != gross
	inconsistent := paymentEvent("0x3e8", "0x3cf", "0x20")
	if _, err := d.Decode(successReceipt(inconsistent)); !errors.Is(err, ErrMalformedEvent) {
		t.Fatalf("expected ErrMalformedEvent for inconsistent amounts, got %v", err)
	}
}

func TestNewDecoderRequiresProcessor(t *testing.T) {
	if _, err := NewDecoder(DecoderConfig{}); err == nil {
		t.Fatal("expected error for missing processor address")
	}
}
