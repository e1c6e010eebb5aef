package ckb

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/nervosnetwork/ckb-sdk-go/v2/types"

	"github.com/wenyuanhust/forcerelay/ibc"
)

// MsgType discriminates the IBC message carried by a ckb4ibc transaction.
// The numbering matches the on-chain contract's message enum.
type MsgType uint64

const (
	MsgClientCreate MsgType = iota
	MsgClientUpdate
	MsgClientMisbehaviour
	MsgConnectionOpenInit
	MsgConnectionOpenTry
	MsgConnectionOpenAck
	MsgConnectionOpenConfirm
	MsgChannelOpenInit
	MsgChannelOpenTry
	MsgChannelOpenAck
	MsgChannelOpenConfirm
	MsgChannelCloseInit
	MsgChannelCloseConfirm
	MsgSendPacket
	MsgRecvPacket
	MsgWriteAckPacket
	MsgAckPacket
	MsgTimeoutPacket
	MsgConsumeAckPacket
)

func (m MsgType) String() string {
	names := map[MsgType]string{
		MsgClientCreate:          "client_create",
		MsgClientUpdate:          "client_update",
		MsgClientMisbehaviour:    "client_misbehaviour",
		MsgConnectionOpenInit:    "connection_open_init",
		MsgConnectionOpenTry:     "connection_open_try",
		MsgConnectionOpenAck:     "connection_open_ack",
		MsgConnectionOpenConfirm: "connection_open_confirm",
		MsgChannelOpenInit:       "channel_open_init",
		MsgChannelOpenTry:        "channel_open_try",
		MsgChannelOpenAck:        "channel_open_ack",
		MsgChannelOpenConfirm:    "channel_open_confirm",
		MsgChannelCloseInit:      "channel_close_init",
		MsgChannelCloseConfirm:   "channel_close_confirm",
		MsgSendPacket:            "send_packet",
		MsgRecvPacket:            "recv_packet",
		MsgWriteAckPacket:        "write_ack_packet",
		MsgAckPacket:             "ack_packet",
		MsgTimeoutPacket:         "timeout_packet",
		MsgConsumeAckPacket:      "consume_ack_packet",
	}
	if name, ok := names[m]; ok {
		return name
	}
	return fmt.Sprintf("msg_type(%d)", uint64(m))
}

// Envelope rides in the output_type field of a transaction's last
// witness and names the IBC message the transaction performs.
type Envelope struct {
	MsgType MsgType
	Content []byte
}

// ErrNoEnvelope marks transactions that carry no IBC envelope.
var ErrNoEnvelope = errors.New("transaction has no ibc envelope")

// ParseEnvelope extracts the envelope from a transaction's last witness.
func ParseEnvelope(tx *types.Transaction) (*Envelope, error) {
	if len(tx.Witnesses) == 0 {
		return nil, ErrNoEnvelope
	}
	witness := tx.Witnesses[len(tx.Witnesses)-1]
	if len(witness) == 0 {
		return nil, ErrNoEnvelope
	}
	args, err := types.DeserializeWitnessArgs(witness)
	if err != nil {
		return nil, fmt.Errorf("decode envelope witness: %w", err)
	}
	if len(args.OutputType) == 0 {
		return nil, ErrNoEnvelope
	}
	var envelope Envelope
	if err := rlp.DecodeBytes(args.OutputType, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &envelope, nil
}

// SerializeEnvelope packs an envelope into witness bytes for a new
// transaction.
func SerializeEnvelope(envelope *Envelope) ([]byte, error) {
	content, err := rlp.EncodeToBytes(envelope)
	if err != nil {
		return nil, err
	}
	args := types.WitnessArgs{OutputType: content}
	return args.Serialize(), nil
}

// On-chain RLP preimages of the IBC cells. Cell data stores only the
// keccak256 of these; the encodings travel in witnesses.

// PacketStatus of a packet cell.
const (
	PacketStatusSend uint8 = iota + 1
	PacketStatusRecv
	PacketStatusWriteAck
	PacketStatusAck
)

type PacketCell struct {
	Packet packetPreimage
	Status uint8
	Ack    []byte
}

type packetPreimage struct {
	Sequence             uint64
	SourcePortID         string
	SourceChannelID      string
	DestinationPortID    string
	DestinationChannelID string
	Data                 []byte
	TimeoutHeight        uint64
	TimeoutTimestamp     uint64
}

func NewPacketCell(packet ibc.Packet, status uint8, ack []byte) PacketCell {
	return PacketCell{
		Packet: packetPreimage{
			Sequence:             packet.Sequence,
			SourcePortID:         packet.SourcePort,
			SourceChannelID:      packet.SourceChannel,
			DestinationPortID:    packet.DestPort,
			DestinationChannelID: packet.DestChannel,
			Data:                 packet.Data,
			TimeoutHeight:        packet.TimeoutHeight.RevisionHeight,
			TimeoutTimestamp:     packet.TimeoutTimestamp,
		},
		Status: status,
		Ack:    ack,
	}
}

func (c PacketCell) IbcPacket() ibc.Packet {
	var timeout ibc.Height
	if c.Packet.TimeoutHeight > 0 {
		timeout = ibc.HeightFromBlockNumber(c.Packet.TimeoutHeight)
	}
	return ibc.Packet{
		Sequence:         c.Packet.Sequence,
		SourcePort:       c.Packet.SourcePortID,
		SourceChannel:    c.Packet.SourceChannelID,
		DestPort:         c.Packet.DestinationPortID,
		DestChannel:      c.Packet.DestinationChannelID,
		Data:             c.Packet.Data,
		TimeoutHeight:    timeout,
		TimeoutTimestamp: c.Packet.TimeoutTimestamp,
	}
}

type ChannelCell struct {
	State                 uint8
	Ordering              uint8
	PortID                string
	ChannelID             string
	ConnectionHops        []string
	Version               string
	CounterpartyPortID    string
	CounterpartyChannelID string
}

func (c ChannelCell) ChannelEnd() ibc.ChannelEnd {
	order := ibc.OrderUnordered
	if c.Ordering == 2 {
		order = ibc.OrderOrdered
	}
	return ibc.ChannelEnd{
		State:    cellState(c.State),
		Ordering: order,
		Counterparty: ibc.ChannelCounterparty{
			PortID:    c.CounterpartyPortID,
			ChannelID: c.CounterpartyChannelID,
		},
		ConnectionHops: c.ConnectionHops,
		Version:        c.Version,
	}
}

// ConnectionsCell holds every connection end of the chain in one cell.
type ConnectionsCell struct {
	NextChannelNumber uint64
	Connections       []ConnectionEndCell
}

type ConnectionEndCell struct {
	State                    uint8
	ClientID                 string
	CounterpartyClientID     string
	CounterpartyConnectionID string
	DelayPeriod              uint64
}

func (c ConnectionEndCell) ConnectionEnd() ibc.ConnectionEnd {
	return ibc.ConnectionEnd{
		State:    cellState(c.State),
		ClientID: c.ClientID,
		Counterparty: ibc.ConnectionCounterparty{
			ClientID:     c.CounterpartyClientID,
			ConnectionID: c.CounterpartyConnectionID,
		},
		Versions:    []string{"1"},
		DelayPeriod: c.DelayPeriod,
	}
}

func cellState(s uint8) ibc.State {
	switch s {
	case 1:
		return ibc.StateInit
	case 2:
		return ibc.StateTryOpen
	case 3:
		return ibc.StateOpen
	case 4:
		return ibc.StateClosed
	}
	return ibc.StateUninitialized
}

// decodeWitnessPreimage finds a witness whose output_type preimage hashes
// to the given cell data commitment and decodes it into out.
func decodeWitnessPreimage(tx *types.Transaction, cellData []byte, out any) error {
	for _, witness := range tx.Witnesses {
		if len(witness) == 0 {
			continue
		}
		args, err := types.DeserializeWitnessArgs(witness)
		if err != nil || len(args.OutputType) == 0 {
			continue
		}
		if VerifyEncodedObject(cellData, args.OutputType) != nil {
			continue
		}
		return rlp.DecodeBytes(args.OutputType, out)
	}
	return fmt.Errorf("no witness preimage commits to the cell data")
}

// extractPacket pulls the packet cell written by an IBC transaction.
func extractPacket(tx *types.Transaction, packetCodeHash types.Hash) (PacketCell, error) {
	for i, output := range tx.Outputs {
		if output.Lock == nil || output.Lock.CodeHash != packetCodeHash {
			continue
		}
		if i >= len(tx.OutputsData) {
			break
		}
		var cell PacketCell
		if err := decodeWitnessPreimage(tx, tx.OutputsData[i], &cell); err != nil {
			return PacketCell{}, err
		}
		return cell, nil
	}
	return PacketCell{}, errors.New("transaction carries no packet cell")
}

// extractChannel pulls the channel cell written by an IBC transaction.
func extractChannel(tx *types.Transaction, channelCodeHash types.Hash) (ChannelCell, error) {
	for i, output := range tx.Outputs {
		if output.Lock == nil || output.Lock.CodeHash != channelCodeHash {
			continue
		}
		if i >= len(tx.OutputsData) {
			break
		}
		var cell ChannelCell
		if err := decodeWitnessPreimage(tx, tx.OutputsData[i], &cell); err != nil {
			return ChannelCell{}, err
		}
		return cell, nil
	}
	return ChannelCell{}, errors.New("transaction carries no channel cell")
}

// extractConnections pulls the connections cell written by an IBC
// transaction.
func extractConnections(tx *types.Transaction, connectionCodeHash types.Hash) (ConnectionsCell, error) {
	for i, output := range tx.Outputs {
		if output.Lock == nil || output.Lock.CodeHash != connectionCodeHash {
			continue
		}
		if i >= len(tx.OutputsData) {
			break
		}
		var cell ConnectionsCell
		if err := decodeWitnessPreimage(tx, tx.OutputsData[i], &cell); err != nil {
			return ConnectionsCell{}, err
		}
		return cell, nil
	}
	return ConnectionsCell{}, errors.New("transaction carries no connections cell")
}

// codeHashes carries the lock code hashes identifying IBC cells.
type codeHashes struct {
	connection types.Hash
	channel    types.Hash
	packet     types.Hash
}

// TransactionToEvent converts an IBC transaction into the event it
// represents, driven by the witness envelope's message type.
func TransactionToEvent(tx *types.Transaction, hashes codeHashes) (ibc.Event, error) {
	envelope, err := ParseEnvelope(tx)
	if err != nil {
		return nil, err
	}

	connectionAttrs := func() (ibc.ConnectionAttributes, error) {
		cell, err := extractConnections(tx, hashes.connection)
		if err != nil {
			return ibc.ConnectionAttributes{}, err
		}
		if len(cell.Connections) == 0 {
			return ibc.ConnectionAttributes{}, errors.New("on-chain connections cell is empty")
		}
		// The connection touched by the transaction is always the last.
		index := len(cell.Connections) - 1
		conn := cell.Connections[index]
		return ibc.ConnectionAttributes{
			ConnectionID:             ibc.ConnectionID(uint16(index)),
			ClientID:                 conn.ClientID,
			CounterpartyConnectionID: conn.CounterpartyConnectionID,
			CounterpartyClientID:     conn.CounterpartyClientID,
		}, nil
	}

	channelAttrs := func() (ibc.ChannelAttributes, error) {
		cell, err := extractChannel(tx, hashes.channel)
		if err != nil {
			return ibc.ChannelAttributes{}, err
		}
		connectionID := ""
		if len(cell.ConnectionHops) > 0 {
			connectionID = cell.ConnectionHops[0]
		}
		return ibc.ChannelAttributes{
			PortID:                cell.PortID,
			ChannelID:             cell.ChannelID,
			ConnectionID:          connectionID,
			CounterpartyPortID:    cell.CounterpartyPortID,
			CounterpartyChannelID: cell.CounterpartyChannelID,
		}, nil
	}

	switch envelope.MsgType {
	case MsgConnectionOpenInit, MsgConnectionOpenTry, MsgConnectionOpenAck, MsgConnectionOpenConfirm:
		attrs, err := connectionAttrs()
		if err != nil {
			return nil, err
		}
		switch envelope.MsgType {
		case MsgConnectionOpenInit:
			return ibc.OpenInitConnection{ConnectionAttributes: attrs}, nil
		case MsgConnectionOpenTry:
			return ibc.OpenTryConnection{ConnectionAttributes: attrs}, nil
		case MsgConnectionOpenAck:
			return ibc.OpenAckConnection{ConnectionAttributes: attrs}, nil
		default:
			return ibc.OpenConfirmConnection{ConnectionAttributes: attrs}, nil
		}

	case MsgChannelOpenInit, MsgChannelOpenTry, MsgChannelOpenAck, MsgChannelOpenConfirm, MsgChannelCloseInit, MsgChannelCloseConfirm:
		attrs, err := channelAttrs()
		if err != nil {
			return nil, err
		}
		switch envelope.MsgType {
		case MsgChannelOpenInit:
			return ibc.OpenInitChannel{ChannelAttributes: attrs}, nil
		case MsgChannelOpenTry:
			return ibc.OpenTryChannel{ChannelAttributes: attrs}, nil
		case MsgChannelOpenAck:
			return ibc.OpenAckChannel{ChannelAttributes: attrs}, nil
		case MsgChannelOpenConfirm:
			return ibc.OpenConfirmChannel{ChannelAttributes: attrs}, nil
		case MsgChannelCloseInit:
			return ibc.CloseInitChannel{ChannelAttributes: attrs}, nil
		default:
			return ibc.CloseConfirmChannel{ChannelAttributes: attrs}, nil
		}

	case MsgSendPacket:
		cell, err := extractPacket(tx, hashes.packet)
		if err != nil {
			return nil, err
		}
		return ibc.SendPacket{Packet: cell.IbcPacket()}, nil

	case MsgRecvPacket:
		cell, err := extractPacket(tx, hashes.packet)
		if err != nil {
			return nil, err
		}
		return ibc.ReceivePacket{Packet: cell.IbcPacket()}, nil

	case MsgWriteAckPacket:
		cell, err := extractPacket(tx, hashes.packet)
		if err != nil {
			return nil, err
		}
		if len(cell.Ack) == 0 {
			return nil, errors.New("write-ack transaction has no acknowledgement")
		}
		return ibc.WriteAcknowledgement{Packet: cell.IbcPacket(), Ack: cell.Ack}, nil

	case MsgAckPacket:
		cell, err := extractPacket(tx, hashes.packet)
		if err != nil {
			return nil, err
		}
		return ibc.AcknowledgePacket{Packet: cell.IbcPacket()}, nil
	}
	return nil, fmt.Errorf("no event for ibc message %s", envelope.MsgType)
}
