package ckb

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/nervosnetwork/ckb-sdk-go/v2/types"
	"github.com/stretchr/testify/require"

	"github.com/wenyuanhust/forcerelay/ibc"
)

var testHashes = codeHashes{
	connection: ScriptHash(common.HexToHash("0x10")),
	channel:    ScriptHash(common.HexToHash("0x11")),
	packet:     ScriptHash(common.HexToHash("0x12")),
}

// ibcTransaction assembles a transaction that writes one IBC cell: the
// preimage travels in the witness at the output's index, the envelope in
// the last witness.
func ibcTransaction(t *testing.T, lockCodeHash types.Hash, cell any, msgType MsgType) *types.Transaction {
	t.Helper()

	encoded, err := EncodeObject(cell)
	require.NoError(t, err)

	preimageArgs := types.WitnessArgs{OutputType: encoded.Witness}
	envelope, err := SerializeEnvelope(&Envelope{MsgType: msgType})
	require.NoError(t, err)

	return &types.Transaction{
		Outputs: []*types.CellOutput{
			{Lock: &types.Script{CodeHash: lockCodeHash, HashType: types.HashTypeType}},
		},
		OutputsData: [][]byte{encoded.Data},
		Witnesses:   [][]byte{preimageArgs.Serialize(), envelope},
	}
}

func testPacketCell() PacketCell {
	return NewPacketCell(ibc.Packet{
		Sequence:         5,
		SourcePort:       "0x" + common.Bytes2Hex(make([]byte, 32)),
		SourceChannel:    "channel-0",
		DestPort:         "transfer",
		DestChannel:      "channel-1",
		Data:             []byte("coins"),
		TimeoutHeight:    ibc.HeightFromBlockNumber(900),
		TimeoutTimestamp: 0,
	}, PacketStatusSend, nil)
}

func TestParseEnvelope(t *testing.T) {
	t.Parallel()

	tx := ibcTransaction(t, testHashes.packet, testPacketCell(), MsgSendPacket)
	envelope, err := ParseEnvelope(tx)
	require.NoError(t, err)
	require.Equal(t, MsgSendPacket, envelope.MsgType)
}

func TestParseEnvelopeMissing(t *testing.T) {
	t.Parallel()

	_, err := ParseEnvelope(&types.Transaction{})
	require.ErrorIs(t, err, ErrNoEnvelope)

	noOutputType := types.WitnessArgs{Lock: []byte("sig")}
	_, err = ParseEnvelope(&types.Transaction{Witnesses: [][]byte{noOutputType.Serialize()}})
	require.ErrorIs(t, err, ErrNoEnvelope)
}

func TestSerializeEnvelopeRoundtrip(t *testing.T) {
	t.Parallel()

	content, err := rlp.EncodeToBytes([]byte("payload"))
	require.NoError(t, err)

	raw, err := SerializeEnvelope(&Envelope{MsgType: MsgRecvPacket, Content: content})
	require.NoError(t, err)

	parsed, err := ParseEnvelope(&types.Transaction{Witnesses: [][]byte{raw}})
	require.NoError(t, err)
	require.Equal(t, MsgRecvPacket, parsed.MsgType)
	require.Equal(t, content, parsed.Content)
}

func TestTransactionToEventSendPacket(t *testing.T) {
	t.Parallel()

	tx := ibcTransaction(t, testHashes.packet, testPacketCell(), MsgSendPacket)

	event, err := TransactionToEvent(tx, testHashes)
	require.NoError(t, err)

	send, ok := event.(ibc.SendPacket)
	require.True(t, ok)
	require.EqualValues(t, 5, send.Packet.Sequence)
	require.Equal(t, "channel-0", send.Packet.SourceChannel)
	require.Equal(t, []byte("coins"), send.Packet.Data)
	require.EqualValues(t, 900, send.Packet.TimeoutHeight.RevisionHeight)
}

func TestTransactionToEventWriteAck(t *testing.T) {
	t.Parallel()

	cell := testPacketCell()
	cell.Status = PacketStatusWriteAck
	cell.Ack = []byte{1}
	tx := ibcTransaction(t, testHashes.packet, cell, MsgWriteAckPacket)

	event, err := TransactionToEvent(tx, testHashes)
	require.NoError(t, err)

	ack, ok := event.(ibc.WriteAcknowledgement)
	require.True(t, ok)
	require.Equal(t, []byte{1}, ack.Ack)

	// A write-ack without the acknowledgement payload is malformed.
	cell.Ack = nil
	tx = ibcTransaction(t, testHashes.packet, cell, MsgWriteAckPacket)
	_, err = TransactionToEvent(tx, testHashes)
	require.Error(t, err)
}

func TestTransactionToEventChannelOpenAck(t *testing.T) {
	t.Parallel()

	cell := ChannelCell{
		State:                 3,
		Ordering:              1,
		PortID:                "0xabcd",
		ChannelID:             "channel-2",
		ConnectionHops:        []string{"connection-0"},
		Version:               "ics20-1",
		CounterpartyPortID:    "transfer",
		CounterpartyChannelID: "channel-9",
	}
	tx := ibcTransaction(t, testHashes.channel, cell, MsgChannelOpenAck)

	event, err := TransactionToEvent(tx, testHashes)
	require.NoError(t, err)

	ack, ok := event.(ibc.OpenAckChannel)
	require.True(t, ok)
	require.Equal(t, "channel-2", ack.ChannelID)
	require.Equal(t, "connection-0", ack.ConnectionID)
	require.Equal(t, "channel-9", ack.CounterpartyChannelID)
}

func TestTransactionToEventConnectionOpenInit(t *testing.T) {
	t.Parallel()

	cell := ConnectionsCell{
		NextChannelNumber: 0,
		Connections: []ConnectionEndCell{
			{State: 3, ClientID: "ckb4ibc-0", CounterpartyClientID: "axon-0", CounterpartyConnectionID: "connection-4"},
			{State: 1, ClientID: "ckb4ibc-0", CounterpartyClientID: "axon-0"},
		},
	}
	tx := ibcTransaction(t, testHashes.connection, cell, MsgConnectionOpenInit)

	event, err := TransactionToEvent(tx, testHashes)
	require.NoError(t, err)

	init, ok := event.(ibc.OpenInitConnection)
	require.True(t, ok)
	require.Equal(t, "connection-1", init.ConnectionID, "the touched connection is the newest")
	require.Equal(t, "ckb4ibc-0", init.ClientID)
}

func TestTransactionToEventClientMessage(t *testing.T) {
	t.Parallel()

	envelope, err := SerializeEnvelope(&Envelope{MsgType: MsgClientUpdate})
	require.NoError(t, err)
	tx := &types.Transaction{Witnesses: [][]byte{envelope}}

	_, err = TransactionToEvent(tx, testHashes)
	require.Error(t, err, "client messages produce no relayable event")
}

func TestChannelCellChannelEnd(t *testing.T) {
	t.Parallel()

	cell := ChannelCell{State: 3, Ordering: 2, ConnectionHops: []string{"connection-0"}, Version: "ics20-1",
		CounterpartyPortID: "transfer", CounterpartyChannelID: "channel-1"}
	end := cell.ChannelEnd()
	require.Equal(t, ibc.StateOpen, end.State)
	require.Equal(t, ibc.OrderOrdered, end.Ordering)
	require.Equal(t, "channel-1", end.Counterparty.ChannelID)
}
