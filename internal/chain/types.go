package chain

import (
	"encoding/json"
	"fmt"
)

// RPCRequest is a JSON-RPC 2.0 request envelope.
type RPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

// RPCResponse is a JSON-RPC 2.0 response envelope.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      int             `json:"id"`
}

// RPCError is a JSON-RPC error object returned by the node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Starknet JSON-RPC error code for an unknown transaction hash.
const codeTxnHashNotFound = 29

// Execution status values reported in transaction receipts.
const (
	ExecutionSucceeded = "SUCCEEDED"
	ExecutionReverted  = "REVERTED"
)

// Finality status values reported in transaction receipts.
const (
	FinalityReceived     = "RECEIVED"
	FinalityAcceptedOnL2 = "ACCEPTED_ON_L2"
	FinalityAcceptedOnL1 = "ACCEPTED_ON_L1"
)

// Event is a single contract event emitted during execution. Keys and data
// are felts encoded as 0x-prefixed hex strings.
type Event struct {
	FromAddress string   `json:"from_address"`
	Keys        []string `json:"keys"`
	Data        []string `json:"data"`
}

// Receipt is the subset of the Starknet transaction receipt the gateway
// depends on. Field names mirror the JSON-RPC wire shape exactly.
type Receipt struct {
	TransactionHash string  `json:"transaction_hash"`
	ExecutionStatus string  `json:"execution_status"`
	FinalityStatus  string  `json:"finality_status"`
	BlockNumber     uint64  `json:"block_number"`
	Events          []Event `json:"events"`
	RevertReason    string  `json:"revert_reason,omitempty"`
}

// Succeeded reports whether the transaction executed without reverting.
func (r *Receipt) Succeeded() bool {
	return r.ExecutionStatus == ExecutionSucceeded
}
