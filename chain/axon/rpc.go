package axon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Block is an Axon consensus block as served by axon_getBlockById. Only
// the header matters for proofs; transactions come through eth_* calls.
type Block struct {
	Header   BlockHeader   `json:"header"`
	TxHashes []common.Hash `json:"tx_hashes"`
}

type BlockHeader struct {
	PrevHash         common.Hash    `json:"prev_hash"`
	Proposer         common.Address `json:"proposer"`
	StateRoot        common.Hash    `json:"state_root"`
	TransactionsRoot common.Hash    `json:"transactions_root"`
	SignedTxsHash    common.Hash    `json:"signed_txs_hash"`
	ReceiptsRoot     common.Hash    `json:"receipts_root"`
	Number           hexutil.Uint64 `json:"number"`
	GasUsed          hexutil.Uint64 `json:"gas_used"`
	GasLimit         hexutil.Uint64 `json:"gas_limit"`
	Timestamp        hexutil.Uint64 `json:"timestamp"`
	ChainID          hexutil.Uint64 `json:"chain_id"`
}

// BlockProof is the overlord consensus proof of one block, fetched from
// the next block since votes commit to the previous one.
type BlockProof struct {
	Number    hexutil.Uint64 `json:"number"`
	Round     hexutil.Uint64 `json:"round"`
	BlockHash common.Hash    `json:"block_hash"`
	Signature hexutil.Bytes  `json:"signature"`
	Bitmap    hexutil.Bytes  `json:"bitmap"`
}

type Validator struct {
	BlsPubKey     hexutil.Bytes  `json:"bls_pub_key"`
	Address       common.Address `json:"address"`
	ProposeWeight uint32         `json:"propose_weight"`
	VoteWeight    uint32         `json:"vote_weight"`
}

// Metadata is the current consensus epoch metadata.
type Metadata struct {
	VerifierList []Validator `json:"verifier_list"`
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// RPCClient talks to the axon_* namespace of an Axon node, which serves
// the consensus data the eth_* namespace does not expose.
type RPCClient struct {
	url        string
	httpClient *http.Client
}

func NewRPCClient(url string) *RPCClient {
	return &RPCClient{
		url:        url,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *RPCClient) call(ctx context.Context, method string, result any, params ...any) error {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", method, err)
	}

	var response rpcResponse
	if err := json.Unmarshal(data, &response); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if response.Error != nil {
		return fmt.Errorf("%s: rpc error %d: %s", method, response.Error.Code, response.Error.Message)
	}
	if result != nil {
		if err := json.Unmarshal(response.Result, result); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
	}
	return nil
}

// BlockByNumber fetches the consensus block at a height.
func (c *RPCClient) BlockByNumber(ctx context.Context, number uint64) (*Block, error) {
	var block Block
	if err := c.call(ctx, "axon_getBlockById", &block, hexutil.Uint64(number)); err != nil {
		return nil, err
	}
	return &block, nil
}

// ProofByNumber fetches the consensus proof of the block at a height.
// The proof of block n lives in block n+1, so callers asking for the
// proof of the tip may get an error until the next block is mined.
func (c *RPCClient) ProofByNumber(ctx context.Context, number uint64) (*BlockProof, error) {
	var proof BlockProof
	if err := c.call(ctx, "axon_getProofById", &proof, hexutil.Uint64(number)); err != nil {
		return nil, err
	}
	return &proof, nil
}

// CurrentMetadata fetches the active validator set.
func (c *RPCClient) CurrentMetadata(ctx context.Context) (*Metadata, error) {
	var md Metadata
	if err := c.call(ctx, "axon_getCurrentMetadata", &md); err != nil {
		return nil, err
	}
	return &md, nil
}
