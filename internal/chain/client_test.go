package chain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{RPCURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client, srv
}

func rpcResult(t *testing.T, w http.ResponseWriter, result interface{}) {
	t.Helper()
	raw, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: "2.0", Result: raw, ID: 1})
}

func TestGetTransactionReceipt(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req RPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Method != "starknet_getTransactionReceipt" {
			t.Fatalf("unexpected method %s", req.Method)
		}
		rpcResult(t, w, Receipt{
			TransactionHash: "0xabc",
			ExecutionStatus: ExecutionSucceeded,
			FinalityStatus:  FinalityAcceptedOnL2,
			BlockNumber:     1042,
		})
	})

	receipt, err := client.GetTransactionReceipt(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("get receipt: %v", err)
	}
	if !receipt.Succeeded() {
		t.Fatalf("receipt should report success, got %s", receipt.ExecutionStatus)
	}
	if receipt.BlockNumber != 1042 {
		t.Fatalf("unexpected block number %d", receipt.BlockNumber)
	}
}

func TestGetTransactionReceiptNotFound(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(RPCResponse{
			JSONRPC: "2.0",
			Error:   &RPCError{Code: 29, Message: "Transaction hash not found"},
			ID:      1,
		})
	})

	_, err := client.GetTransactionReceipt(context.Background(), "0xmissing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetTransactionReceiptPending(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		rpcResult(t, w, Receipt{
			TransactionHash: "0xabc",
			ExecutionStatus: ExecutionSucceeded,
			FinalityStatus:  FinalityReceived,
		})
	})

	_, err := client.GetTransactionReceipt(context.Background(), "0xabc")
	if !errors.Is(err, ErrReceiptPending) {
		t.Fatalf("expected ErrReceiptPending, got %v", err)
	}
}

func TestGetTransactionReceiptServerError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.GetTransactionReceipt(context.Background(), "0xabc")
	if !IsNetworkError(err) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
}

func TestGetTransactionReceiptUnreachable(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()

	_, err := client.GetTransactionReceipt(context.Background(), "0xabc")
	if !IsNetworkError(err) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
}

func TestGetBlockNumber(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		rpcResult(t, w, 271828)
	})

	n, err := client.GetBlockNumber(context.Background())
	if err != nil {
		t.Fatalf("get block number: %v", err)
	}
	if n != 271828 {
		t.Fatalf("unexpected block number %d", n)
	}
}
