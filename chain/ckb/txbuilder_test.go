package ckb

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/nervosnetwork/ckb-sdk-go/v2/indexer"
	"github.com/nervosnetwork/ckb-sdk-go/v2/types"
	"github.com/stretchr/testify/require"

	"github.com/wenyuanhust/forcerelay/config"
	"github.com/wenyuanhust/forcerelay/ibc"
	"github.com/wenyuanhust/forcerelay/keyring"
	"github.com/wenyuanhust/forcerelay/relayer"
)

func testCkbConfig() config.Ckb {
	return config.Ckb{
		ID:                 "ckb4ibc-dev",
		Network:            "testnet",
		Confirms:           3,
		ConnectionTypeArgs: common.HexToHash("0x10"),
		ChannelTypeArgs:    common.HexToHash("0x11"),
		PacketTypeArgs:     common.HexToHash("0x12"),
	}
}

func testKey(t *testing.T) *keyring.Key {
	t.Helper()
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &keyring.Key{Name: "relayer", PrivateKey: priv}
}

// builderReader serves fee cells, script deps and optionally one live
// packet cell with its creating transaction.
func builderReader(t *testing.T, key *keyring.Key, cfg config.Ckb, packetCell *PacketCell, packetArgs []byte) *fakeReader {
	t.Helper()

	lockArgs := key.CkbLockArgs()
	creatingHash := types.Hash{0xc1}

	reader := &fakeReader{
		tip: 500,
		txs: map[types.Hash]*types.TransactionWithStatus{},
	}
	var packetLive *indexer.LiveCell
	if packetCell != nil {
		encoded, err := EncodeObject(packetCell)
		require.NoError(t, err)
		preimage := types.WitnessArgs{OutputType: encoded.Witness}
		reader.txs[creatingHash] = &types.TransactionWithStatus{
			Transaction: &types.Transaction{Witnesses: [][]byte{preimage.Serialize()}},
			TxStatus:    &types.TxStatus{Status: types.TransactionStatusCommitted},
		}
		packetLive = &indexer.LiveCell{
			OutPoint: &types.OutPoint{TxHash: creatingHash, Index: 0},
			Output: &types.CellOutput{
				Capacity: 200 * shannonsPerByte,
				Lock:     &types.Script{CodeHash: ScriptHash(cfg.PacketTypeArgs), HashType: types.HashTypeType, Args: packetArgs},
			},
			OutputData: encoded.Data,
		}
	}

	reader.cells = func(searchKey *indexer.SearchKey) []*indexer.LiveCell {
		if searchKey.ScriptType == types.ScriptTypeType {
			return []*indexer.LiveCell{{
				OutPoint: &types.OutPoint{TxHash: types.Hash{0xdd}, Index: 0},
				Output:   &types.CellOutput{Capacity: 100 * shannonsPerByte, Lock: &types.Script{}},
			}}
		}
		switch searchKey.Script.CodeHash {
		case secpCodeHash:
			return []*indexer.LiveCell{{
				OutPoint: &types.OutPoint{TxHash: types.Hash{0xaa}, Index: 1},
				Output: &types.CellOutput{
					Capacity: 100_000 * shannonsPerByte,
					Lock:     &types.Script{CodeHash: secpCodeHash, HashType: types.HashTypeType, Args: lockArgs[:]},
				},
			}}
		case ScriptHash(cfg.PacketTypeArgs):
			if packetLive != nil {
				return []*indexer.LiveCell{packetLive}
			}
		}
		return nil
	}
	return reader
}

func recvPacketMessage() relayer.Message {
	return relayer.Message{
		TypeURL: relayer.TypeURLRecvPacket,
		RecvPacket: &relayer.MsgRecvPacket{
			Packet: ibc.Packet{
				Sequence:      9,
				SourcePort:    "transfer",
				SourceChannel: "channel-4",
				DestPort:      "0x" + common.Bytes2Hex(make([]byte, 32)),
				DestChannel:   "channel-0",
				Data:          []byte("coins"),
			},
			ProofCommitment: relayer.Proofs{Object: []byte("commitment-proof")},
		},
	}
}

func TestBuildRecvPacketTransaction(t *testing.T) {
	t.Parallel()

	cfg := testCkbConfig()
	key := testKey(t)
	reader := builderReader(t, key, cfg, nil, nil)
	builder := newTxBuilder(reader, key, cfg)

	tx, err := builder.BuildMessageTransaction(context.Background(), recvPacketMessage())
	require.NoError(t, err)

	// One fee input, the packet cell plus change.
	require.Len(t, tx.Inputs, 1)
	require.Len(t, tx.Outputs, 2)
	require.Equal(t, ScriptHash(cfg.PacketTypeArgs), tx.Outputs[0].Lock.CodeHash)
	require.Len(t, tx.Outputs[0].Lock.Args, 48)
	require.Equal(t, secpCodeHash, tx.Outputs[1].Lock.CodeHash)

	// The cell data commits to the witness preimage.
	preimage, err := types.DeserializeWitnessArgs(tx.Witnesses[0])
	require.NoError(t, err)
	require.NoError(t, VerifyEncodedObject(tx.OutputsData[0], preimage.OutputType))
	require.Len(t, preimage.Lock, 65, "fee witness carries the signature")

	// The envelope rides in the last witness.
	envelope, err := ParseEnvelope(tx)
	require.NoError(t, err)
	require.Equal(t, MsgRecvPacket, envelope.MsgType)
	require.Equal(t, []byte("commitment-proof"), envelope.Content)

	require.Equal(t, 4, len(tx.CellDeps), "secp group plus three ibc scripts")
}

func TestBuildAckPacketTransaction(t *testing.T) {
	t.Parallel()

	cfg := testCkbConfig()
	key := testKey(t)

	port := testPortID()
	sent := NewPacketCell(ibc.Packet{
		Sequence:      9,
		SourcePort:    "0x" + common.Bytes2Hex(port[:]),
		SourceChannel: "channel-0",
		DestPort:      "transfer",
		DestChannel:   "channel-4",
		Data:          []byte("coins"),
	}, PacketStatusSend, nil)
	args := PacketArgs{ChannelID: 0, PortID: port, Sequence: 9}

	reader := builderReader(t, key, cfg, &sent, args.SearchArgs(false))
	builder := newTxBuilder(reader, key, cfg)

	tx, err := builder.BuildMessageTransaction(context.Background(), relayer.Message{
		TypeURL: relayer.TypeURLAcknowledgement,
		Acknowledgement: &relayer.MsgAcknowledgement{
			Packet:          sent.IbcPacket(),
			Acknowledgement: []byte{1},
			ProofAcked:      relayer.Proofs{Object: []byte("ack-proof")},
		},
	})
	require.NoError(t, err)

	// The send cell is consumed, the successor carries the ack.
	require.Len(t, tx.Inputs, 2, "packet cell plus fee cell")
	preimage, err := types.DeserializeWitnessArgs(tx.Witnesses[0])
	require.NoError(t, err)

	var successor PacketCell
	require.NoError(t, decodeWitnessPreimage(tx, tx.OutputsData[0], &successor))
	require.Equal(t, PacketStatusAck, successor.Status)
	require.Equal(t, []byte{1}, successor.Ack)
	require.NotEmpty(t, preimage.OutputType)

	envelope, err := ParseEnvelope(tx)
	require.NoError(t, err)
	require.Equal(t, MsgAckPacket, envelope.MsgType)
}

func TestBuildTimeoutConsumesWithoutSuccessor(t *testing.T) {
	t.Parallel()

	cfg := testCkbConfig()
	key := testKey(t)

	port := testPortID()
	sent := NewPacketCell(ibc.Packet{
		Sequence:      3,
		SourcePort:    "0x" + common.Bytes2Hex(port[:]),
		SourceChannel: "channel-0",
		DestPort:      "transfer",
		DestChannel:   "channel-4",
		Data:          []byte("late"),
		TimeoutHeight: ibc.HeightFromBlockNumber(10),
	}, PacketStatusSend, nil)
	args := PacketArgs{ChannelID: 0, PortID: port, Sequence: 3}

	reader := builderReader(t, key, cfg, &sent, args.SearchArgs(false))
	builder := newTxBuilder(reader, key, cfg)

	tx, err := builder.BuildMessageTransaction(context.Background(), relayer.Message{
		TypeURL: relayer.TypeURLTimeout,
		Timeout: &relayer.MsgTimeout{
			Packet:          sent.IbcPacket(),
			ProofUnreceived: relayer.Proofs{Object: []byte("absence-proof")},
		},
	})
	require.NoError(t, err)

	// The consumed packet cell alone covers the change plus fee, but a
	// fee input still joins so its witness can carry the signature.
	require.Len(t, tx.Inputs, 2)
	require.Len(t, tx.Outputs, 1, "only the change output remains")
	require.Equal(t, secpCodeHash, tx.Outputs[0].Lock.CodeHash)

	feeWitness, err := types.DeserializeWitnessArgs(tx.Witnesses[1])
	require.NoError(t, err)
	require.Len(t, feeWitness.Lock, 65, "fee witness carries the signature")

	envelope, err := ParseEnvelope(tx)
	require.NoError(t, err)
	require.Equal(t, MsgTimeoutPacket, envelope.MsgType)
}

func TestBuildFailsWithoutFeeCells(t *testing.T) {
	t.Parallel()

	cfg := testCkbConfig()
	key := testKey(t)
	reader := builderReader(t, key, cfg, nil, nil)
	base := reader.cells
	reader.cells = func(searchKey *indexer.SearchKey) []*indexer.LiveCell {
		if searchKey.ScriptType != types.ScriptTypeType && searchKey.Script.CodeHash == secpCodeHash {
			return nil
		}
		return base(searchKey)
	}
	builder := newTxBuilder(reader, key, cfg)

	_, err := builder.BuildMessageTransaction(context.Background(), recvPacketMessage())
	require.ErrorIs(t, err, ErrNoFeeCells)
}
