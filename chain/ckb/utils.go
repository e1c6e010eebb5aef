package ckb

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/nervosnetwork/ckb-sdk-go/v2/indexer"
	"github.com/nervosnetwork/ckb-sdk-go/v2/types"
)

// TypeIDCodeHash is the well-known "TYPE_ID" system script code hash; the
// IBC type scripts are deployed behind type-id so their args pin identity.
var TypeIDCodeHash = types.HexToHash("0x00000000000000000000000000000000000000000000000000545950455f4944")

// Simple UDT code hashes per network, used to locate token cells.
var (
	SudtCodeHashMainnet = types.HexToHash("0x5e7a36a77e68eecc013dfa2fe6a23f3b6c344b04005808694ae6dd45eea4cfd5")
	SudtCodeHashTestnet = types.HexToHash("0xc5e5dcf215925f7ef4dfaf5f4b4f105bc321c02776d6e7d52a1db3fcd9d011a4")
)

// SudtCodeHash returns the sUDT code hash for a configured network.
func SudtCodeHash(network string) (types.Hash, error) {
	switch network {
	case "mainnet":
		return SudtCodeHashMainnet, nil
	case "testnet":
		return SudtCodeHashTestnet, nil
	}
	return types.Hash{}, fmt.Errorf("unsupported network %q", network)
}

// EncodedObject is the two on-chain representations of one IBC object:
// the cell data carries only the keccak256 of the RLP encoding, while the
// full preimage travels in the witness of the transaction that wrote it.
type EncodedObject struct {
	Data    []byte // 32-byte keccak256 of the preimage
	Witness []byte // RLP preimage
}

// EncodeObject RLP-encodes an IBC object and hashes it for cell data.
func EncodeObject(obj any) (EncodedObject, error) {
	preimage, err := rlp.EncodeToBytes(obj)
	if err != nil {
		return EncodedObject{}, fmt.Errorf("encode object: %w", err)
	}
	return EncodedObject{
		Data:    crypto.Keccak256(preimage),
		Witness: preimage,
	}, nil
}

// VerifyEncodedObject checks a witness preimage against the cell data
// commitment.
func VerifyEncodedObject(cellData, witness []byte) error {
	hash := crypto.Keccak256(witness)
	if len(cellData) != 32 || !strings.EqualFold(hex.EncodeToString(hash), hex.EncodeToString(cellData)) {
		return fmt.Errorf("cell data does not commit to witness preimage")
	}
	return nil
}

// TypeIDScript builds the type-id script identified by args.
func TypeIDScript(typeArgs common.Hash) *types.Script {
	return &types.Script{
		CodeHash: TypeIDCodeHash,
		HashType: types.HashTypeType,
		Args:     typeArgs.Bytes(),
	}
}

// ScriptHash is the script hash of a type-id script, used as the code
// hash of the IBC lock scripts.
func ScriptHash(typeArgs common.Hash) types.Hash {
	return TypeIDScript(typeArgs).Hash()
}

// ParsePortID decodes a ckb4ibc port identifier, which is a 32-byte hex
// string rather than a free-form name.
func ParsePortID(portID string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(portID, "0x"))
	if err != nil || len(raw) != 32 {
		return out, fmt.Errorf("invalid ckb port id %q", portID)
	}
	copy(out[:], raw)
	return out, nil
}

// PacketArgs are the lock args of a packet cell.
type PacketArgs struct {
	ChannelID uint64
	PortID    [32]byte
	Sequence  uint64
}

// SearchArgs serializes the args; searchAll drops the sequence so a
// prefix search matches every packet of the channel.
func (a PacketArgs) SearchArgs(searchAll bool) []byte {
	out := make([]byte, 0, 48)
	out = binary.LittleEndian.AppendUint64(out, a.ChannelID)
	out = append(out, a.PortID[:]...)
	if !searchAll {
		out = binary.LittleEndian.AppendUint64(out, a.Sequence)
	}
	return out
}

// ParsePacketArgs decodes full packet lock args.
func ParsePacketArgs(args []byte) (PacketArgs, error) {
	if len(args) != 48 {
		return PacketArgs{}, fmt.Errorf("packet args must be 48 bytes, got %d", len(args))
	}
	var a PacketArgs
	a.ChannelID = binary.LittleEndian.Uint64(args[:8])
	copy(a.PortID[:], args[8:40])
	a.Sequence = binary.LittleEndian.Uint64(args[40:])
	return a, nil
}

// ChannelArgs are the lock args of a channel cell. The open flag is part
// of the args so that open and closed channels are disjoint search
// spaces.
type ChannelArgs struct {
	Open      bool
	ChannelID uint64
	PortID    [32]byte
}

func (a ChannelArgs) ToArgs() []byte {
	out := make([]byte, 0, 41)
	if a.Open {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	out = binary.LittleEndian.AppendUint64(out, a.ChannelID)
	out = append(out, a.PortID[:]...)
	return out
}

// ParseChannelArgs decodes channel lock args.
func ParseChannelArgs(args []byte) (ChannelArgs, error) {
	if len(args) != 41 {
		return ChannelArgs{}, fmt.Errorf("channel args must be 41 bytes, got %d", len(args))
	}
	var a ChannelArgs
	a.Open = args[0] == 1
	a.ChannelID = binary.LittleEndian.Uint64(args[1:9])
	copy(a.PortID[:], args[9:])
	return a, nil
}

// prefixSearchKey is the standard live-cell query: prefix match on a lock
// script, cell data included.
func prefixSearchKey(script *types.Script) *indexer.SearchKey {
	return &indexer.SearchKey{
		Script:           script,
		ScriptType:       types.ScriptTypeLock,
		ScriptSearchMode: types.ScriptSearchModePrefix,
		WithData:         true,
	}
}

// PacketSearchKey queries packet cells of one channel; pass zero sequence
// to match every packet.
func PacketSearchKey(packetTypeArgs common.Hash, channelID uint64, portID [32]byte, sequence uint64) *indexer.SearchKey {
	args := PacketArgs{ChannelID: channelID, PortID: portID, Sequence: sequence}
	return prefixSearchKey(&types.Script{
		CodeHash: ScriptHash(packetTypeArgs),
		HashType: types.HashTypeType,
		Args:     args.SearchArgs(sequence == 0),
	})
}

// ChannelSearchKey queries the channel cell of one channel end.
func ChannelSearchKey(channelTypeArgs common.Hash, open bool, channelID uint64, portID [32]byte) *indexer.SearchKey {
	args := ChannelArgs{Open: open, ChannelID: channelID, PortID: portID}
	return prefixSearchKey(&types.Script{
		CodeHash: ScriptHash(channelTypeArgs),
		HashType: types.HashTypeType,
		Args:     args.ToArgs(),
	})
}

// ConnectionSearchKey queries the connections cell, which holds every
// connection end of the chain in a single cell.
func ConnectionSearchKey(connectionTypeArgs common.Hash) *indexer.SearchKey {
	return prefixSearchKey(&types.Script{
		CodeHash: ScriptHash(connectionTypeArgs),
		HashType: types.HashTypeType,
		Args:     []byte{},
	})
}
