// Package relayer defines the chain endpoint abstraction and the engine
// that shuttles IBC datagrams between two endpoints.
package relayer

import (
	"github.com/wenyuanhust/forcerelay/ibc"
)

// Protobuf type URLs of the IBC datagrams an endpoint can be asked to
// deliver. Endpoints dispatch on these to pick the on-chain method.
const (
	TypeURLCreateClient = "/ibc.core.client.v1.MsgCreateClient"
	TypeURLUpdateClient = "/ibc.core.client.v1.MsgUpdateClient"

	TypeURLConnectionOpenInit    = "/ibc.core.connection.v1.MsgConnectionOpenInit"
	TypeURLConnectionOpenTry     = "/ibc.core.connection.v1.MsgConnectionOpenTry"
	TypeURLConnectionOpenAck     = "/ibc.core.connection.v1.MsgConnectionOpenAck"
	TypeURLConnectionOpenConfirm = "/ibc.core.connection.v1.MsgConnectionOpenConfirm"

	TypeURLChannelOpenInit     = "/ibc.core.channel.v1.MsgChannelOpenInit"
	TypeURLChannelOpenTry      = "/ibc.core.channel.v1.MsgChannelOpenTry"
	TypeURLChannelOpenAck      = "/ibc.core.channel.v1.MsgChannelOpenAck"
	TypeURLChannelOpenConfirm  = "/ibc.core.channel.v1.MsgChannelOpenConfirm"
	TypeURLChannelCloseInit    = "/ibc.core.channel.v1.MsgChannelCloseInit"
	TypeURLChannelCloseConfirm = "/ibc.core.channel.v1.MsgChannelCloseConfirm"

	TypeURLRecvPacket      = "/ibc.core.channel.v1.MsgRecvPacket"
	TypeURLAcknowledgement = "/ibc.core.channel.v1.MsgAcknowledgement"
	TypeURLTimeout         = "/ibc.core.channel.v1.MsgTimeout"
)

// Message is one IBC datagram addressed to an endpoint. Exactly one of the
// typed payload fields is set, matching TypeURL.
type Message struct {
	TypeURL string

	CreateClient *MsgCreateClient
	UpdateClient *MsgUpdateClient

	ConnectionOpenInit    *MsgConnectionOpenInit
	ConnectionOpenTry     *MsgConnectionOpenTry
	ConnectionOpenAck     *MsgConnectionOpenAck
	ConnectionOpenConfirm *MsgConnectionOpenConfirm

	ChannelOpenInit     *MsgChannelOpenInit
	ChannelOpenTry      *MsgChannelOpenTry
	ChannelOpenAck      *MsgChannelOpenAck
	ChannelOpenConfirm  *MsgChannelOpenConfirm
	ChannelCloseInit    *MsgChannelCloseInit
	ChannelCloseConfirm *MsgChannelCloseConfirm

	RecvPacket      *MsgRecvPacket
	Acknowledgement *MsgAcknowledgement
	Timeout         *MsgTimeout
}

// MsgCreateClient carries the initial client and consensus state for a new
// light client on the receiving chain.
type MsgCreateClient struct {
	ClientType     string
	ClientState    []byte
	ConsensusState []byte
}

// MsgUpdateClient carries a header for an existing light client. The header
// type, not the client id, decides which on-chain component consumes it.
type MsgUpdateClient struct {
	ClientID string
	Header   Header
}

// Header is a light client header an endpoint can submit in an update.
type Header interface {
	// ClientType names the light client this header updates.
	ClientType() string
	// Height the header attests to.
	Height() ibc.Height
	// Encode serializes the header for on-chain submission.
	Encode() ([]byte, error)
}

type MsgConnectionOpenInit struct {
	ClientID     string
	Counterparty ibc.ConnectionCounterparty
	DelayPeriod  uint64
}

type MsgConnectionOpenTry struct {
	ClientID             string
	Counterparty         ibc.ConnectionCounterparty
	CounterpartyVersions []string
	DelayPeriod          uint64
	ProofInit            Proofs
	ClientState          []byte
}

type MsgConnectionOpenAck struct {
	ConnectionID             string
	CounterpartyConnectionID string
	Version                  string
	ProofTry                 Proofs
	ClientState              []byte
}

type MsgConnectionOpenConfirm struct {
	ConnectionID string
	ProofAck     Proofs
}

type MsgChannelOpenInit struct {
	PortID  string
	Channel ibc.ChannelEnd
}

type MsgChannelOpenTry struct {
	PortID              string
	Channel             ibc.ChannelEnd
	CounterpartyVersion string
	ProofInit           Proofs
}

type MsgChannelOpenAck struct {
	PortID                string
	ChannelID             string
	CounterpartyChannelID string
	CounterpartyVersion   string
	ProofTry              Proofs
}

type MsgChannelOpenConfirm struct {
	PortID    string
	ChannelID string
	ProofAck  Proofs
}

type MsgChannelCloseInit struct {
	PortID    string
	ChannelID string
}

type MsgChannelCloseConfirm struct {
	PortID    string
	ChannelID string
	ProofInit Proofs
}

type MsgRecvPacket struct {
	Packet          ibc.Packet
	ProofCommitment Proofs
}

type MsgAcknowledgement struct {
	Packet          ibc.Packet
	Acknowledgement []byte
	ProofAcked      Proofs
}

type MsgTimeout struct {
	Packet           ibc.Packet
	NextSequenceRecv uint64
	ProofUnreceived  Proofs
}

// Proofs bundles the object proof an endpoint built for a piece of its
// state, together with the height the proof is valid at.
type Proofs struct {
	// Object is the chain-specific serialized proof: an RLP-encoded
	// receipt proof on Axon, a CBMT transaction proof on CKB.
	Object []byte
	Height ibc.Height
}
