package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `[global]
log_level = "debug"
store_dir = "/tmp/forcerelay-test"

[[chains]]
type = "axon"
id = "axon-dev"
websocket_addr = "ws://127.0.0.1:8000"
contract_address = "0xcD62E77cFE0386343c15C13528675aae9925D7Ae"
ckb_light_client_contract_address = "0x8326e1d621Cd32752920ed2A44691ED4B2d55429"
image_cell_contract_address = "0x4986f4BfF02c3C4D39Cf0c4AAFf9ca0D466d12A3"
key_name = "axon-relayer"
store_prefix = "forcerelay"

[[chains]]
type = "ckb4ibc"
id = "ckb4ibc-dev"
rpc_addr = "http://127.0.0.1:8114"
indexer_addr = "http://127.0.0.1:8116"
key_name = "ckb-relayer"
network = "testnet"
restore_block_count = 120
connection_type_args = "0x8f71ff3a06f40b3a0a3d0b2731635d99b24d0d025b5819a9dfba9a01af9e6b33"
channel_type_args = "0x1fa1071d4b7b1a71ea66c1d0d1c869faa2b22d4eea4d4d5b2317bddb2c1f2c8e"
packet_type_args = "0x0aa4c0fe5d28b64b50e20b0e0cbff489f07f7977fb5b5a3e10cf3c1a7ea4cf12"
`

func TestDecode(t *testing.T) {
	t.Parallel()

	cfg, err := Decode(sampleConfig)
	require.NoError(t, err)

	require.Equal(t, "debug", cfg.Global.LogLevel)
	require.Equal(t, "/tmp/forcerelay-test", cfg.Global.StoreDir)

	require.Len(t, cfg.Axon, 1)
	axon := cfg.Axon[0]
	require.Equal(t, "axon-dev", axon.ID)
	require.Equal(t, common.HexToAddress("0xcD62E77cFE0386343c15C13528675aae9925D7Ae"), axon.ContractAddress)

	require.Len(t, cfg.Ckb, 1)
	ckb := cfg.Ckb[0]
	require.Equal(t, "ckb4ibc-dev", ckb.ID)
	require.Equal(t, uint8(3), ckb.Confirms, "confirms should default to 3")
	require.EqualValues(t, 120, ckb.RestoreBlockCount)
	require.Equal(t,
		common.HexToHash("0x8f71ff3a06f40b3a0a3d0b2731635d99b24d0d025b5819a9dfba9a01af9e6b33"),
		ckb.ConnectionTypeArgs,
	)

	require.Empty(t, cfg.Cosmos)
}

func TestDecodeRejectsUnknownChainType(t *testing.T) {
	t.Parallel()

	_, err := Decode("[[chains]]\ntype = \"polkadot\"\n")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown type")

	_, err = Decode("[[chains]]\nid = \"x\"\n")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing the type field")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	_, err := Decode(`[[chains]]
type = "axon"
id = "axon-dev"
websocket_addr = "ws://127.0.0.1:8000"
`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "contract_address")

	_, err = Decode(`[[chains]]
type = "ckb4ibc"
id = "ckb"
rpc_addr = "http://127.0.0.1:8114"
network = "devnet"
`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported network")
}

func TestWriteDefaultAndLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, WriteDefault(path))

	// The generated template must itself decode.
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Axon, 1)
	require.Len(t, cfg.Ckb, 1)

	// Refuses to clobber.
	require.Error(t, WriteDefault(path))

	_, err = os.Stat(path)
	require.NoError(t, err)
}
