// Package config loads and validates the relayer's TOML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// Chain type discriminator values used in the `type` field of a chain block.
const (
	TypeAxon   = "axon"
	TypeCkb    = "ckb4ibc"
	TypeCosmos = "cosmos"
)

// Config is the root of the relayer configuration file.
type Config struct {
	Global Global  `toml:"global"`
	Axon   []Axon  `toml:"-"`
	Ckb    []Ckb   `toml:"-"`
	Cosmos []Cosmos `toml:"-"`
}

type Global struct {
	// Log level: debug, info, warn, error.
	LogLevel string `toml:"log_level"`
	// Directory holding the keyring and the sqlite relay store.
	StoreDir string `toml:"store_dir"`
}

// Axon configures an Axon (EVM) chain endpoint.
type Axon struct {
	ID            string         `toml:"id"`
	RPCAddr       string         `toml:"rpc_addr"`
	WebsocketAddr string         `toml:"websocket_addr"`
	// Address of the OwnableIBCHandler contract.
	ContractAddress common.Address `toml:"contract_address"`
	// Address of the CKB light client contract; update-client headers go here.
	CkbLightClientContractAddress common.Address `toml:"ckb_light_client_contract_address"`
	// Address of the image cell contract; cell updates go here.
	ImageCellContractAddress common.Address `toml:"image_cell_contract_address"`
	KeyName                  string         `toml:"key_name"`
	StorePrefix              string         `toml:"store_prefix"`
	// Blocks replayed at startup to re-seed unrelayed packet events.
	RestoreBlockCount uint64 `toml:"restore_block_count"`
}

// Ckb configures a CKB chain endpoint running the ibc-ckb contracts.
type Ckb struct {
	ID          string `toml:"id"`
	RPCAddr     string `toml:"rpc_addr"`
	IndexerAddr string `toml:"indexer_addr"`
	KeyName     string `toml:"key_name"`
	StorePrefix string `toml:"store_prefix"`
	// Type-script args identifying the deployed IBC cells.
	ConnectionTypeArgs common.Hash `toml:"connection_type_args"`
	ChannelTypeArgs    common.Hash `toml:"channel_type_args"`
	PacketTypeArgs     common.Hash `toml:"packet_type_args"`
	// mainnet or testnet; selects well-known script code hashes.
	Network string `toml:"network"`
	// Blocks on top of the committing block before a tx counts as final.
	Confirms uint8 `toml:"confirms"`
	// Finalized blocks replayed at startup to re-seed unrelayed packet events.
	RestoreBlockCount uint64 `toml:"restore_block_count"`
}

// Cosmos configures a CometBFT counterparty endpoint.
type Cosmos struct {
	ID          string `toml:"id"`
	RPCAddr     string `toml:"rpc_addr"`
	KeyName     string `toml:"key_name"`
	StorePrefix string `toml:"store_prefix"`
}

// raw mirrors the file layout: chain blocks are kept as primitives so each
// can be decoded a second time once its type discriminator is known.
type raw struct {
	Global Global           `toml:"global"`
	Chains []toml.Primitive `toml:"chains"`
}

type chainType struct {
	Type string `toml:"type"`
}

// Load reads and decodes the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Decode(string(data))
}

// Decode parses TOML config content.
func Decode(data string) (*Config, error) {
	var r raw
	md, err := toml.Decode(data, &r)
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg := &Config{Global: r.Global}
	if cfg.Global.LogLevel == "" {
		cfg.Global.LogLevel = "info"
	}
	if cfg.Global.StoreDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		cfg.Global.StoreDir = filepath.Join(home, ".forcerelay")
	}

	for i, prim := range r.Chains {
		var ct chainType
		if err := md.PrimitiveDecode(prim, &ct); err != nil {
			return nil, fmt.Errorf("decode chain %d type: %w", i, err)
		}
		switch ct.Type {
		case TypeAxon:
			var c Axon
			if err := md.PrimitiveDecode(prim, &c); err != nil {
				return nil, fmt.Errorf("decode axon chain %d: %w", i, err)
			}
			cfg.Axon = append(cfg.Axon, c)
		case TypeCkb:
			var c Ckb
			if err := md.PrimitiveDecode(prim, &c); err != nil {
				return nil, fmt.Errorf("decode ckb chain %d: %w", i, err)
			}
			if c.Confirms == 0 {
				c.Confirms = 3
			}
			cfg.Ckb = append(cfg.Ckb, c)
		case TypeCosmos:
			var c Cosmos
			if err := md.PrimitiveDecode(prim, &c); err != nil {
				return nil, fmt.Errorf("decode cosmos chain %d: %w", i, err)
			}
			cfg.Cosmos = append(cfg.Cosmos, c)
		case "":
			return nil, fmt.Errorf("chain %d is missing the type field", i)
		default:
			return nil, fmt.Errorf("chain %d has unknown type %q", i, ct.Type)
		}
	}

	return cfg, cfg.Validate()
}

// Validate checks cross-field requirements not expressible in the schema.
func (c *Config) Validate() error {
	seen := make(map[string]bool)
	check := func(id string) error {
		if id == "" {
			return fmt.Errorf("chain id cannot be empty")
		}
		if seen[id] {
			return fmt.Errorf("duplicate chain id %q", id)
		}
		seen[id] = true
		return nil
	}
	for _, a := range c.Axon {
		if err := check(a.ID); err != nil {
			return err
		}
		if a.WebsocketAddr == "" && a.RPCAddr == "" {
			return fmt.Errorf("axon chain %s needs rpc_addr or websocket_addr", a.ID)
		}
		if a.ContractAddress == (common.Address{}) {
			return fmt.Errorf("axon chain %s needs contract_address", a.ID)
		}
	}
	for _, k := range c.Ckb {
		if err := check(k.ID); err != nil {
			return err
		}
		if k.RPCAddr == "" {
			return fmt.Errorf("ckb chain %s needs rpc_addr", k.ID)
		}
		switch k.Network {
		case "mainnet", "testnet":
		default:
			return fmt.Errorf("ckb chain %s has unsupported network %q", k.ID, k.Network)
		}
	}
	for _, m := range c.Cosmos {
		if err := check(m.ID); err != nil {
			return err
		}
		if m.RPCAddr == "" {
			return fmt.Errorf("cosmos chain %s needs rpc_addr", m.ID)
		}
	}
	return nil
}

// DefaultConfig is the template written by `forcerelay config init`.
const DefaultConfig = `[global]
log_level = "info"

[[chains]]
type = "axon"
id = "axon-dev"
rpc_addr = "http://127.0.0.1:8000"
websocket_addr = "ws://127.0.0.1:8000"
contract_address = "0x0000000000000000000000000000000000000000"
ckb_light_client_contract_address = "0x0000000000000000000000000000000000000000"
image_cell_contract_address = "0x0000000000000000000000000000000000000000"
key_name = "axon-relayer"
store_prefix = "forcerelay"
restore_block_count = 300

[[chains]]
type = "ckb4ibc"
id = "ckb4ibc-dev"
rpc_addr = "http://127.0.0.1:8114"
indexer_addr = "http://127.0.0.1:8116"
key_name = "ckb-relayer"
store_prefix = "forcerelay"
network = "testnet"
confirms = 3
restore_block_count = 300
connection_type_args = "0x0000000000000000000000000000000000000000000000000000000000000000"
channel_type_args = "0x0000000000000000000000000000000000000000000000000000000000000000"
packet_type_args = "0x0000000000000000000000000000000000000000000000000000000000000000"
`

// WriteDefault writes the default config template, refusing to clobber an
// existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(DefaultConfig), 0o600)
}
