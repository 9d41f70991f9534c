package rpc

import (
	"encoding/json"

	"github.com/fortiblox/X1-Ballot/pkg/svm/programs/voting"
)

// JSON-RPC 2.0 constants.
const (
	JSONRPCVersion = "2.0"
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Context provides slot context for RPC responses.
type Context struct {
	Slot       uint64 `json:"slot"`
	APIVersion string `json:"apiVersion,omitempty"`
}

// ResponseWithContext wraps a value with context.
type ResponseWithContext struct {
	Context Context     `json:"context"`
	Value   interface{} `json:"value"`
}

// Encoding types for binary payloads.
type Encoding string

const (
	EncodingBase58     Encoding = "base58"
	EncodingBase64     Encoding = "base64"
	EncodingBase64Zstd Encoding = "base64+zstd"
	EncodingJSONParsed Encoding = "jsonParsed"
)

// DataSlice specifies a portion of account data to return.
type DataSlice struct {
	Offset uint64 `json:"offset"`
	Length uint64 `json:"length"`
}

// AccountInfoConfig configures getAccountInfo requests.
type AccountInfoConfig struct {
	Encoding       Encoding   `json:"encoding,omitempty"`
	DataSlice      *DataSlice `json:"dataSlice,omitempty"`
	MinContextSlot *uint64    `json:"minContextSlot,omitempty"`
}

// BalanceConfig configures getBalance requests.
type BalanceConfig struct {
	MinContextSlot *uint64 `json:"minContextSlot,omitempty"`
}

// SendTransactionConfig configures sendTransaction requests.
type SendTransactionConfig struct {
	Encoding      Encoding `json:"encoding,omitempty"`
	SkipPreflight bool     `json:"skipPreflight,omitempty"`
}

// SimulateTransactionConfig configures simulateTransaction requests.
type SimulateTransactionConfig struct {
	Encoding Encoding `json:"encoding,omitempty"`
}

// TransactionConfig configures getTransaction requests.
type TransactionConfig struct {
	Encoding Encoding `json:"encoding,omitempty"`
}

// SignaturesForAddressConfig configures getSignaturesForAddress requests.
type SignaturesForAddressConfig struct {
	Limit  int    `json:"limit,omitempty"`
	Before string `json:"before,omitempty"`
	Until  string `json:"until,omitempty"`
}

// AccountInfo is the account representation returned to clients.
type AccountInfo struct {
	Lamports   uint64      `json:"lamports"`
	Owner      string      `json:"owner"`
	Data       interface{} `json:"data"`
	Executable bool        `json:"executable"`
	Space      uint64      `json:"space"`
}

// TransactionMeta is the execution outcome of a recorded transaction.
type TransactionMeta struct {
	Err                  interface{} `json:"err"`
	LogMessages          []string    `json:"logMessages"`
	ComputeUnitsConsumed uint64      `json:"computeUnitsConsumed"`
	DeltaHash            string      `json:"deltaHash"`
}

// TransactionResponse is the result of getTransaction.
type TransactionResponse struct {
	Slot        uint64           `json:"slot"`
	BlockTime   int64            `json:"blockTime"`
	Sequence    uint64           `json:"sequence"`
	Hash        string           `json:"hash"`
	Transaction interface{}      `json:"transaction"`
	Meta        *TransactionMeta `json:"meta"`
}

// SimulateResult is the value of a simulateTransaction response.
type SimulateResult struct {
	Err           interface{} `json:"err"`
	Logs          []string    `json:"logs"`
	UnitsConsumed uint64      `json:"unitsConsumed"`
}

// SignatureInfo is one entry of a getSignaturesForAddress response.
type SignatureInfo struct {
	Signature string      `json:"signature"`
	Slot      uint64      `json:"slot"`
	BlockTime int64       `json:"blockTime"`
	Err       interface{} `json:"err"`
}

// VersionInfo is the result of getVersion.
type VersionInfo struct {
	BallotCore string `json:"ballot-core"`
	FeatureSet uint32 `json:"feature-set"`
}

// LatestBlockhash is the value of a getLatestBlockhash response.
type LatestBlockhash struct {
	Blockhash            string `json:"blockhash"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// PollAddress is the result of getPollAddress.
type PollAddress struct {
	Address string `json:"address"`
	Bump    uint8  `json:"bump"`
}

// PollView is a poll record as returned to clients.
type PollView struct {
	Address    string       `json:"address"`
	Lamports   uint64       `json:"lamports"`
	Active     bool         `json:"active"`
	TotalVotes uint64       `json:"totalVotes"`
	Poll       *voting.Poll `json:"poll"`
}
