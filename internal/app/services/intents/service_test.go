package intents

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/starkpay/gateway/internal/app/domain/intent"
	"github.com/starkpay/gateway/internal/app/storage"
	"github.com/starkpay/gateway/internal/app/storage/memory"
)

func TestCreate(t *testing.T) {
	svc := New(memory.New(), nil, 10*time.Minute)

	before := time.Now().UTC()
	it, err := svc.Create(context.Background(), "", "0x0059A2", "0x0049D3", "12.50")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if it.ID == "" {
		t.Fatal("expected generated id")
	}
	if it.Status != intent.StatusPending {
		t.Fatalf("status = %s, want pending", it.Status)
	}
	if it.MerchantAddress != "0x59a2" {
		t.Fatalf("merchant = %s, want normalized 0x59a2", it.MerchantAddress)
	}
	if it.TokenAddress != "0x49d3" {
		t.Fatalf("token = %s, want normalized 0x49d3", it.TokenAddress)
	}
	if it.RequestedAmount != "12.50" {
		t.Fatalf("amount = %s", it.RequestedAmount)
	}

	wantExpiry := before.Add(10 * time.Minute)
	if it.ExpiresAt.Before(wantExpiry) || it.ExpiresAt.After(wantExpiry.Add(time.Minute)) {
		t.Fatalf("expires_at = %v, want about %v", it.ExpiresAt, wantExpiry)
	}
}

func TestCreateKeepsCallerID(t *testing.T) {
	svc := New(memory.New(), nil, 0)

	it, err := svc.Create(context.Background(), "order-42", "0x1", "0x2", "1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if it.ID != "order-42" {
		t.Fatalf("id = %s, want order-42", it.ID)
	}

	_, err = svc.Create(context.Background(), "order-42", "0x1", "0x2", "1")
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	svc := New(memory.New(), nil, 0)
	ctx := context.Background()

	cases := []struct {
		name     string
		merchant string
		token    string
		amount   string
	}{
		{"missing merchant", "", "0x2", "1"},
		{"missing token", "0x1", "", "1"},
		{"missing amount", "0x1", "0x2", ""},
		{"non-numeric amount", "0x1", "0x2", "ten"},
		{"zero amount", "0x1", "0x2", "0"},
		{"negative amount", "0x1", "0x2", "-3"},
	}
	for _, tc := range cases {
		if _, err := svc.Create(ctx, "", tc.merchant, tc.token, tc.amount); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestListFiltersByMerchant(t *testing.T) {
	svc := New(memory.New(), nil, 0)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "a", "0x0011", "0x2", "1"); err != nil {
		t.Fatalf("create a: %v", err)
	}
	if _, err := svc.Create(ctx, "b", "0x22", "0x2", "1"); err != nil {
		t.Fatalf("create b: %v", err)
	}

	// Filter addresses normalize the same way stored ones did.
	list, err := svc.List(ctx, "0x000011")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != "a" {
		t.Fatalf("list = %+v, want [a]", list)
	}

	all, err := svc.List(ctx, "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("list all = %d intents, want 2", len(all))
	}
}

func TestAttachTransaction(t *testing.T) {
	svc := New(memory.New(), nil, 0)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "a", "0x1", "0x2", "1"); err != nil {
		t.Fatalf("create: %v", err)
	}

	it, err := svc.AttachTransaction(ctx, "a", "0x00AB")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if it.TransactionHash != "0xab" {
		t.Fatalf("tx hash = %s, want normalized 0xab", it.TransactionHash)
	}
	if it.Status != intent.StatusProcessing {
		t.Fatalf("status = %s, want processing", it.Status)
	}

	if _, err := svc.AttachTransaction(ctx, "a", ""); err == nil {
		t.Fatal("expected error for empty hash")
	}
	if _, err := svc.AttachTransaction(ctx, "missing", "0xab"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
