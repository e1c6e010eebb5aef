package axon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func rpcServer(t *testing.T, results map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		result, ok := results[req.Method]
		if !ok {
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"method not found"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":` + result + `}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRPCBlockByNumber(t *testing.T) {
	t.Parallel()

	srv := rpcServer(t, map[string]string{
		"axon_getBlockById": `{
			"header": {
				"prev_hash": "0x1111111111111111111111111111111111111111111111111111111111111111",
				"proposer": "0xcD62E77cFE0386343c15C13528675aae9925D7Ae",
				"state_root": "0x2222222222222222222222222222222222222222222222222222222222222222",
				"transactions_root": "0x3333333333333333333333333333333333333333333333333333333333333333",
				"signed_txs_hash": "0x4444444444444444444444444444444444444444444444444444444444444444",
				"receipts_root": "0x5555555555555555555555555555555555555555555555555555555555555555",
				"number": "0x2a",
				"gas_used": "0x5208",
				"gas_limit": "0x1c9c380",
				"timestamp": "0x64",
				"chain_id": "0x7e6"
			},
			"tx_hashes": ["0x6666666666666666666666666666666666666666666666666666666666666666"]
		}`,
	})

	client := NewRPCClient(srv.URL)
	block, err := client.BlockByNumber(context.Background(), 42)
	require.NoError(t, err)
	require.EqualValues(t, 42, block.Header.Number)
	require.Equal(t, common.HexToAddress("0xcD62E77cFE0386343c15C13528675aae9925D7Ae"), block.Header.Proposer)
	require.Equal(t, common.HexToHash("0x2222222222222222222222222222222222222222222222222222222222222222"), block.Header.StateRoot)
	require.Len(t, block.TxHashes, 1)
}

func TestRPCProofByNumber(t *testing.T) {
	t.Parallel()

	srv := rpcServer(t, map[string]string{
		"axon_getProofById": `{
			"number": "0x2b",
			"round": "0x0",
			"block_hash": "0x7777777777777777777777777777777777777777777777777777777777777777",
			"signature": "0xabcd",
			"bitmap": "0xff"
		}`,
	})

	client := NewRPCClient(srv.URL)
	proof, err := client.ProofByNumber(context.Background(), 43)
	require.NoError(t, err)
	require.EqualValues(t, 43, proof.Number)
	require.Equal(t, common.HexToHash("0x7777777777777777777777777777777777777777777777777777777777777777"), proof.BlockHash)
	require.Equal(t, []byte{0xab, 0xcd}, []byte(proof.Signature))
}

func TestRPCCurrentMetadata(t *testing.T) {
	t.Parallel()

	srv := rpcServer(t, map[string]string{
		"axon_getCurrentMetadata": `{
			"verifier_list": [
				{
					"bls_pub_key": "0x01",
					"address": "0x8326e1d621Cd32752920ed2A44691ED4B2d55429",
					"propose_weight": 1,
					"vote_weight": 1
				}
			]
		}`,
	})

	client := NewRPCClient(srv.URL)
	md, err := client.CurrentMetadata(context.Background())
	require.NoError(t, err)
	require.Len(t, md.VerifierList, 1)
	require.Equal(t, common.HexToAddress("0x8326e1d621Cd32752920ed2A44691ED4B2d55429"), md.VerifierList[0].Address)
}

func TestRPCErrorResponse(t *testing.T) {
	t.Parallel()

	srv := rpcServer(t, nil)
	client := NewRPCClient(srv.URL)

	_, err := client.BlockByNumber(context.Background(), 1)
	require.Error(t, err)
	require.Contains(t, err.Error(), "method not found")
}
