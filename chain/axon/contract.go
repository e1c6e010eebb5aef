package axon

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/wenyuanhust/forcerelay/ibc"
	"github.com/wenyuanhust/forcerelay/relayer"
)

// Handler contract methods, one per IBC datagram and query.
const (
	methodUpdateClient = "updateClient"

	methodConnectionOpenInit    = "connectionOpenInit"
	methodConnectionOpenTry     = "connectionOpenTry"
	methodConnectionOpenAck     = "connectionOpenAck"
	methodConnectionOpenConfirm = "connectionOpenConfirm"

	methodChannelOpenInit     = "channelOpenInit"
	methodChannelOpenTry      = "channelOpenTry"
	methodChannelOpenAck      = "channelOpenAck"
	methodChannelOpenConfirm  = "channelOpenConfirm"
	methodChannelCloseInit    = "channelCloseInit"
	methodChannelCloseConfirm = "channelCloseConfirm"

	methodRecvPacket        = "recvPacket"
	methodAcknowledgePacket = "acknowledgePacket"
	methodTimeoutPacket     = "timeoutPacket"

	methodGetClientState          = "getClientState"
	methodGetConsensusState       = "getConsensusState"
	methodGetConnection           = "getConnection"
	methodGetConnections          = "getConnections"
	methodGetChannel              = "getChannel"
	methodGetChannels             = "getChannels"
	methodGetPacketCommitment     = "getHashedPacketCommitment"
	methodGetPacketAckCommitment  = "getHashedPacketAcknowledgementCommitment"
	methodHasPacketReceipt        = "hasPacketReceipt"
	methodGetNextSequenceRecv     = "getNextSequenceRecv"
	methodGetCommitmentSequences  = "getCommitmentSequences"
)

//go:embed handler_abi.json
var handlerABIJSON string

var handlerABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(handlerABIJSON))
	if err != nil {
		panic(fmt.Sprintf("parse handler abi: %v", err))
	}
	return parsed
}()

// ErrUnknownEvent marks contract logs that are not IBC events.
var ErrUnknownEvent = errors.New("not an ibc handler event")

// ContractCaller is the read side of an EVM node. *ethclient.Client
// satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Contract wraps the on-chain IBC handler: typed queries over eth_call,
// calldata packing for datagrams and log decoding for events.
type Contract struct {
	address common.Address
	caller  ContractCaller
}

func NewContract(address common.Address, caller ContractCaller) *Contract {
	return &Contract{address: address, caller: caller}
}

func (c *Contract) Address() common.Address { return c.address }

func (c *Contract) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := handlerABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	ret, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &c.address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	out, err := handlerABI.Unpack(method, ret)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out, nil
}

// ABI tuple mirrors. Field names follow the snake_case component names of
// the contract, which the abi package maps by camel-casing.

type heightData struct {
	RevisionNumber uint64
	RevisionHeight uint64
}

type packetData struct {
	Sequence           uint64
	SourcePort         string
	SourceChannel      string
	DestinationPort    string
	DestinationChannel string
	Data               []byte
	TimeoutHeight      heightData
	TimeoutTimestamp   uint64
}

type versionData struct {
	Identifier string
	Features   []string
}

type prefixData struct {
	KeyPrefix []byte
}

type connectionCounterpartyData struct {
	ClientId     string
	ConnectionId string
	Prefix       prefixData
}

type connectionEndData struct {
	ClientId     string
	Versions     []versionData
	State        uint8
	Counterparty connectionCounterpartyData
	DelayPeriod  uint64
}

type identifiedConnectionData struct {
	Id            string
	ConnectionEnd connectionEndData
}

type channelCounterpartyData struct {
	PortId    string
	ChannelId string
}

type channelEndData struct {
	State          uint8
	Ordering       uint8
	Counterparty   channelCounterpartyData
	ConnectionHops []string
	Version        string
}

type identifiedChannelData struct {
	PortId     string
	ChannelId  string
	ChannelEnd channelEndData
}

func toHeightData(h ibc.Height) heightData {
	return heightData{RevisionNumber: h.RevisionNumber, RevisionHeight: h.RevisionHeight}
}

func toPacketData(p ibc.Packet) packetData {
	return packetData{
		Sequence:           p.Sequence,
		SourcePort:         p.SourcePort,
		SourceChannel:      p.SourceChannel,
		DestinationPort:    p.DestPort,
		DestinationChannel: p.DestChannel,
		Data:               p.Data,
		TimeoutHeight:      toHeightData(p.TimeoutHeight),
		TimeoutTimestamp:   p.TimeoutTimestamp,
	}
}

func fromPacketData(p packetData) ibc.Packet {
	return ibc.Packet{
		Sequence:         p.Sequence,
		SourcePort:       p.SourcePort,
		SourceChannel:    p.SourceChannel,
		DestPort:         p.DestinationPort,
		DestChannel:      p.DestinationChannel,
		Data:             p.Data,
		TimeoutHeight:    ibc.Height{RevisionNumber: p.TimeoutHeight.RevisionNumber, RevisionHeight: p.TimeoutHeight.RevisionHeight},
		TimeoutTimestamp: p.TimeoutTimestamp,
	}
}

// Contract state and ordering enums per the handler's Solidity definitions.
var contractStates = map[uint8]ibc.State{
	0: ibc.StateUninitialized,
	1: ibc.StateInit,
	2: ibc.StateTryOpen,
	3: ibc.StateOpen,
	4: ibc.StateClosed,
}

func fromContractState(s uint8) ibc.State {
	if state, ok := contractStates[s]; ok {
		return state
	}
	return ibc.StateUninitialized
}

func toContractState(s ibc.State) uint8 {
	for code, state := range contractStates {
		if state == s {
			return code
		}
	}
	return 0
}

func fromContractOrder(o uint8) ibc.Order {
	if o == 2 {
		return ibc.OrderOrdered
	}
	return ibc.OrderUnordered
}

func toContractOrder(o ibc.Order) uint8 {
	if o == ibc.OrderOrdered {
		return 2
	}
	return 1
}

func fromConnectionEndData(c connectionEndData) ibc.ConnectionEnd {
	versions := make([]string, 0, len(c.Versions))
	for _, v := range c.Versions {
		versions = append(versions, v.Identifier)
	}
	return ibc.ConnectionEnd{
		State:    fromContractState(c.State),
		ClientID: c.ClientId,
		Counterparty: ibc.ConnectionCounterparty{
			ClientID:     c.Counterparty.ClientId,
			ConnectionID: c.Counterparty.ConnectionId,
			Prefix:       string(c.Counterparty.Prefix.KeyPrefix),
		},
		Versions:    versions,
		DelayPeriod: c.DelayPeriod,
	}
}

func fromChannelEndData(c channelEndData) ibc.ChannelEnd {
	return ibc.ChannelEnd{
		State:    fromContractState(c.State),
		Ordering: fromContractOrder(c.Ordering),
		Counterparty: ibc.ChannelCounterparty{
			PortID:    c.Counterparty.PortId,
			ChannelID: c.Counterparty.ChannelId,
		},
		ConnectionHops: c.ConnectionHops,
		Version:        c.Version,
	}
}

// ClientState queries a light client's serialized state.
func (c *Contract) ClientState(ctx context.Context, clientID string) ([]byte, bool, error) {
	out, err := c.call(ctx, methodGetClientState, clientID)
	if err != nil {
		return nil, false, err
	}
	return out[0].([]byte), out[1].(bool), nil
}

// ConsensusState queries a light client's consensus state at a height.
func (c *Contract) ConsensusState(ctx context.Context, clientID string, height ibc.Height) ([]byte, bool, error) {
	out, err := c.call(ctx, methodGetConsensusState, clientID, toHeightData(height))
	if err != nil {
		return nil, false, err
	}
	return out[0].([]byte), out[1].(bool), nil
}

// Connection queries one connection end.
func (c *Contract) Connection(ctx context.Context, connectionID string) (ibc.ConnectionEnd, bool, error) {
	out, err := c.call(ctx, methodGetConnection, connectionID)
	if err != nil {
		return ibc.ConnectionEnd{}, false, err
	}
	end := *abi.ConvertType(out[0], new(connectionEndData)).(*connectionEndData)
	return fromConnectionEndData(end), out[1].(bool), nil
}

// Connections queries every connection end on the handler.
func (c *Contract) Connections(ctx context.Context) ([]ibc.IdentifiedConnectionEnd, error) {
	out, err := c.call(ctx, methodGetConnections)
	if err != nil {
		return nil, err
	}
	raw := *abi.ConvertType(out[0], new([]identifiedConnectionData)).(*[]identifiedConnectionData)
	ends := make([]ibc.IdentifiedConnectionEnd, 0, len(raw))
	for _, conn := range raw {
		ends = append(ends, ibc.IdentifiedConnectionEnd{
			ConnectionID:  conn.Id,
			ConnectionEnd: fromConnectionEndData(conn.ConnectionEnd),
		})
	}
	return ends, nil
}

// Channel queries one channel end.
func (c *Contract) Channel(ctx context.Context, portID, channelID string) (ibc.ChannelEnd, bool, error) {
	out, err := c.call(ctx, methodGetChannel, portID, channelID)
	if err != nil {
		return ibc.ChannelEnd{}, false, err
	}
	end := *abi.ConvertType(out[0], new(channelEndData)).(*channelEndData)
	return fromChannelEndData(end), out[1].(bool), nil
}

// Channels queries every channel end on the handler.
func (c *Contract) Channels(ctx context.Context) ([]ibc.IdentifiedChannelEnd, error) {
	out, err := c.call(ctx, methodGetChannels)
	if err != nil {
		return nil, err
	}
	raw := *abi.ConvertType(out[0], new([]identifiedChannelData)).(*[]identifiedChannelData)
	ends := make([]ibc.IdentifiedChannelEnd, 0, len(raw))
	for _, ch := range raw {
		ends = append(ends, ibc.IdentifiedChannelEnd{
			PortID:     ch.PortId,
			ChannelID:  ch.ChannelId,
			ChannelEnd: fromChannelEndData(ch.ChannelEnd),
		})
	}
	return ends, nil
}

// PacketCommitment queries the hashed commitment of a sent packet.
func (c *Contract) PacketCommitment(ctx context.Context, portID, channelID string, sequence uint64) ([]byte, bool, error) {
	out, err := c.call(ctx, methodGetPacketCommitment, portID, channelID, sequence)
	if err != nil {
		return nil, false, err
	}
	commitment := out[0].([32]byte)
	return commitment[:], out[1].(bool), nil
}

// PacketAcknowledgement queries the hashed acknowledgement commitment.
func (c *Contract) PacketAcknowledgement(ctx context.Context, portID, channelID string, sequence uint64) ([]byte, bool, error) {
	out, err := c.call(ctx, methodGetPacketAckCommitment, portID, channelID, sequence)
	if err != nil {
		return nil, false, err
	}
	commitment := out[0].([32]byte)
	return commitment[:], out[1].(bool), nil
}

// HasPacketReceipt reports whether a packet was received.
func (c *Contract) HasPacketReceipt(ctx context.Context, portID, channelID string, sequence uint64) (bool, error) {
	out, err := c.call(ctx, methodHasPacketReceipt, portID, channelID, sequence)
	if err != nil {
		return false, err
	}
	return out[0].(bool), nil
}

// NextSequenceRecv queries the next receive sequence of a channel.
func (c *Contract) NextSequenceRecv(ctx context.Context, portID, channelID string) (uint64, error) {
	out, err := c.call(ctx, methodGetNextSequenceRecv, portID, channelID)
	if err != nil {
		return 0, err
	}
	return out[0].(uint64), nil
}

// CommitmentSequences lists the sequences with a standing packet
// commitment on a channel.
func (c *Contract) CommitmentSequences(ctx context.Context, portID, channelID string) ([]uint64, error) {
	out, err := c.call(ctx, methodGetCommitmentSequences, portID, channelID)
	if err != nil {
		return nil, err
	}
	return out[0].([]uint64), nil
}

// PackMessage turns a relayer datagram into handler calldata.
func PackMessage(msg relayer.Message) ([]byte, error) {
	switch msg.TypeURL {
	case relayer.TypeURLUpdateClient:
		m := msg.UpdateClient
		header, err := m.Header.Encode()
		if err != nil {
			return nil, fmt.Errorf("encode header: %w", err)
		}
		return handlerABI.Pack(methodUpdateClient, struct {
			ClientId      string
			ClientMessage []byte
		}{m.ClientID, header})

	case relayer.TypeURLConnectionOpenInit:
		m := msg.ConnectionOpenInit
		return handlerABI.Pack(methodConnectionOpenInit, struct {
			ClientId     string
			Counterparty connectionCounterpartyData
			DelayPeriod  uint64
		}{m.ClientID, toConnCounterparty(m.Counterparty), m.DelayPeriod})

	case relayer.TypeURLConnectionOpenTry:
		m := msg.ConnectionOpenTry
		versions := make([]versionData, 0, len(m.CounterpartyVersions))
		for _, v := range m.CounterpartyVersions {
			versions = append(versions, versionData{Identifier: v})
		}
		return handlerABI.Pack(methodConnectionOpenTry, struct {
			Counterparty         connectionCounterpartyData
			DelayPeriod          uint64
			ClientId             string
			ClientStateBytes     []byte
			CounterpartyVersions []versionData
			ProofInit            []byte
			ProofHeight          heightData
		}{toConnCounterparty(m.Counterparty), m.DelayPeriod, m.ClientID, m.ClientState, versions, m.ProofInit.Object, toHeightData(m.ProofInit.Height)})

	case relayer.TypeURLConnectionOpenAck:
		m := msg.ConnectionOpenAck
		return handlerABI.Pack(methodConnectionOpenAck, struct {
			ConnectionId             string
			ClientStateBytes         []byte
			Version                  versionData
			CounterpartyConnectionId string
			ProofTry                 []byte
			ProofHeight              heightData
		}{m.ConnectionID, m.ClientState, versionData{Identifier: m.Version}, m.CounterpartyConnectionID, m.ProofTry.Object, toHeightData(m.ProofTry.Height)})

	case relayer.TypeURLConnectionOpenConfirm:
		m := msg.ConnectionOpenConfirm
		return handlerABI.Pack(methodConnectionOpenConfirm, struct {
			ConnectionId string
			ProofAck     []byte
			ProofHeight  heightData
		}{m.ConnectionID, m.ProofAck.Object, toHeightData(m.ProofAck.Height)})

	case relayer.TypeURLChannelOpenInit:
		m := msg.ChannelOpenInit
		return handlerABI.Pack(methodChannelOpenInit, struct {
			PortId  string
			Channel channelEndData
		}{m.PortID, toChannelEndData(m.Channel)})

	case relayer.TypeURLChannelOpenTry:
		m := msg.ChannelOpenTry
		return handlerABI.Pack(methodChannelOpenTry, struct {
			PortId              string
			Channel             channelEndData
			CounterpartyVersion string
			ProofInit           []byte
			ProofHeight         heightData
		}{m.PortID, toChannelEndData(m.Channel), m.CounterpartyVersion, m.ProofInit.Object, toHeightData(m.ProofInit.Height)})

	case relayer.TypeURLChannelOpenAck:
		m := msg.ChannelOpenAck
		return handlerABI.Pack(methodChannelOpenAck, struct {
			PortId                string
			ChannelId             string
			CounterpartyVersion   string
			CounterpartyChannelId string
			ProofTry              []byte
			ProofHeight           heightData
		}{m.PortID, m.ChannelID, m.CounterpartyVersion, m.CounterpartyChannelID, m.ProofTry.Object, toHeightData(m.ProofTry.Height)})

	case relayer.TypeURLChannelOpenConfirm:
		m := msg.ChannelOpenConfirm
		return handlerABI.Pack(methodChannelOpenConfirm, struct {
			PortId      string
			ChannelId   string
			ProofAck    []byte
			ProofHeight heightData
		}{m.PortID, m.ChannelID, m.ProofAck.Object, toHeightData(m.ProofAck.Height)})

	case relayer.TypeURLChannelCloseInit:
		m := msg.ChannelCloseInit
		return handlerABI.Pack(methodChannelCloseInit, struct {
			PortId    string
			ChannelId string
		}{m.PortID, m.ChannelID})

	case relayer.TypeURLChannelCloseConfirm:
		m := msg.ChannelCloseConfirm
		return handlerABI.Pack(methodChannelCloseConfirm, struct {
			PortId      string
			ChannelId   string
			ProofInit   []byte
			ProofHeight heightData
		}{m.PortID, m.ChannelID, m.ProofInit.Object, toHeightData(m.ProofInit.Height)})

	case relayer.TypeURLRecvPacket:
		m := msg.RecvPacket
		return handlerABI.Pack(methodRecvPacket, struct {
			Packet      packetData
			Proof       []byte
			ProofHeight heightData
		}{toPacketData(m.Packet), m.ProofCommitment.Object, toHeightData(m.ProofCommitment.Height)})

	case relayer.TypeURLAcknowledgement:
		m := msg.Acknowledgement
		return handlerABI.Pack(methodAcknowledgePacket, struct {
			Packet          packetData
			Acknowledgement []byte
			Proof           []byte
			ProofHeight     heightData
		}{toPacketData(m.Packet), m.Acknowledgement, m.ProofAcked.Object, toHeightData(m.ProofAcked.Height)})

	case relayer.TypeURLTimeout:
		m := msg.Timeout
		return handlerABI.Pack(methodTimeoutPacket, struct {
			Packet           packetData
			Proof            []byte
			ProofHeight      heightData
			NextSequenceRecv uint64
		}{toPacketData(m.Packet), m.ProofUnreceived.Object, toHeightData(m.ProofUnreceived.Height), m.NextSequenceRecv})
	}
	return nil, fmt.Errorf("cannot pack message %s for the handler contract", msg.TypeURL)
}

func toConnCounterparty(c ibc.ConnectionCounterparty) connectionCounterpartyData {
	return connectionCounterpartyData{
		ClientId:     c.ClientID,
		ConnectionId: c.ConnectionID,
		Prefix:       prefixData{KeyPrefix: []byte(c.Prefix)},
	}
}

func toChannelEndData(c ibc.ChannelEnd) channelEndData {
	return channelEndData{
		State:    toContractState(c.State),
		Ordering: toContractOrder(c.Ordering),
		Counterparty: channelCounterpartyData{
			PortId:    c.Counterparty.PortID,
			ChannelId: c.Counterparty.ChannelID,
		},
		ConnectionHops: c.ConnectionHops,
		Version:        c.Version,
	}
}

type connectionEventData struct {
	ConnectionId             string
	ClientId                 string
	CounterpartyConnectionId string
	CounterpartyClientId     string
}

type channelEventData struct {
	PortId                string
	ChannelId             string
	ConnectionId          string
	CounterpartyPortId    string
	CounterpartyChannelId string
}

// ParseLog decodes a handler contract log into an IBC event.
// Logs whose topic is not a known IBC event return ErrUnknownEvent.
func ParseLog(log types.Log) (ibc.Event, error) {
	if len(log.Topics) == 0 {
		return nil, ErrUnknownEvent
	}
	ev, err := handlerABI.EventByID(log.Topics[0])
	if err != nil {
		return nil, ErrUnknownEvent
	}

	switch ev.Name {
	case "CreateClient":
		var out struct {
			ClientId   string
			ClientType string
		}
		if err := handlerABI.UnpackIntoInterface(&out, ev.Name, log.Data); err != nil {
			return nil, fmt.Errorf("unpack %s: %w", ev.Name, err)
		}
		return ibc.CreateClient{ClientID: out.ClientId, ClientType: out.ClientType}, nil

	case "UpdateClient":
		var out struct {
			ClientId string
		}
		if err := handlerABI.UnpackIntoInterface(&out, ev.Name, log.Data); err != nil {
			return nil, fmt.Errorf("unpack %s: %w", ev.Name, err)
		}
		return ibc.UpdateClient{ClientID: out.ClientId}, nil

	case "ConnectionOpenInit", "ConnectionOpenTry", "ConnectionOpenAck", "ConnectionOpenConfirm":
		var out connectionEventData
		if err := handlerABI.UnpackIntoInterface(&out, ev.Name, log.Data); err != nil {
			return nil, fmt.Errorf("unpack %s: %w", ev.Name, err)
		}
		attrs := ibc.ConnectionAttributes{
			ConnectionID:             out.ConnectionId,
			ClientID:                 out.ClientId,
			CounterpartyConnectionID: out.CounterpartyConnectionId,
			CounterpartyClientID:     out.CounterpartyClientId,
		}
		switch ev.Name {
		case "ConnectionOpenInit":
			return ibc.OpenInitConnection{ConnectionAttributes: attrs}, nil
		case "ConnectionOpenTry":
			return ibc.OpenTryConnection{ConnectionAttributes: attrs}, nil
		case "ConnectionOpenAck":
			return ibc.OpenAckConnection{ConnectionAttributes: attrs}, nil
		default:
			return ibc.OpenConfirmConnection{ConnectionAttributes: attrs}, nil
		}

	case "ChannelOpenInit", "ChannelOpenTry", "ChannelOpenAck", "ChannelOpenConfirm", "ChannelCloseInit", "ChannelCloseConfirm":
		var out channelEventData
		if err := handlerABI.UnpackIntoInterface(&out, ev.Name, log.Data); err != nil {
			return nil, fmt.Errorf("unpack %s: %w", ev.Name, err)
		}
		attrs := ibc.ChannelAttributes{
			PortID:                out.PortId,
			ChannelID:             out.ChannelId,
			ConnectionID:          out.ConnectionId,
			CounterpartyPortID:    out.CounterpartyPortId,
			CounterpartyChannelID: out.CounterpartyChannelId,
		}
		switch ev.Name {
		case "ChannelOpenInit":
			return ibc.OpenInitChannel{ChannelAttributes: attrs}, nil
		case "ChannelOpenTry":
			return ibc.OpenTryChannel{ChannelAttributes: attrs}, nil
		case "ChannelOpenAck":
			return ibc.OpenAckChannel{ChannelAttributes: attrs}, nil
		case "ChannelOpenConfirm":
			return ibc.OpenConfirmChannel{ChannelAttributes: attrs}, nil
		case "ChannelCloseInit":
			return ibc.CloseInitChannel{ChannelAttributes: attrs}, nil
		default:
			return ibc.CloseConfirmChannel{ChannelAttributes: attrs}, nil
		}

	case "SendPacket":
		var out struct {
			Packet packetData
		}
		if err := handlerABI.UnpackIntoInterface(&out, ev.Name, log.Data); err != nil {
			return nil, fmt.Errorf("unpack %s: %w", ev.Name, err)
		}
		return ibc.SendPacket{Packet: fromPacketData(out.Packet)}, nil

	case "RecvPacket":
		var out struct {
			Packet packetData
		}
		if err := handlerABI.UnpackIntoInterface(&out, ev.Name, log.Data); err != nil {
			return nil, fmt.Errorf("unpack %s: %w", ev.Name, err)
		}
		return ibc.ReceivePacket{Packet: fromPacketData(out.Packet)}, nil

	case "WriteAcknowledgement":
		var out struct {
			Packet          packetData
			Acknowledgement []byte
		}
		if err := handlerABI.UnpackIntoInterface(&out, ev.Name, log.Data); err != nil {
			return nil, fmt.Errorf("unpack %s: %w", ev.Name, err)
		}
		return ibc.WriteAcknowledgement{Packet: fromPacketData(out.Packet), Ack: out.Acknowledgement}, nil

	case "AcknowledgePacket":
		var out struct {
			Packet packetData
		}
		if err := handlerABI.UnpackIntoInterface(&out, ev.Name, log.Data); err != nil {
			return nil, fmt.Errorf("unpack %s: %w", ev.Name, err)
		}
		return ibc.AcknowledgePacket{Packet: fromPacketData(out.Packet)}, nil
	}
	return nil, ErrUnknownEvent
}
