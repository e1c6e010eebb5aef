package ibc

// EventType names every IBC event the relayer reacts to.
type EventType string

const (
	EventCreateClient         EventType = "create_client"
	EventUpdateClient         EventType = "update_client"
	EventOpenInitConnection   EventType = "connection_open_init"
	EventOpenTryConnection    EventType = "connection_open_try"
	EventOpenAckConnection    EventType = "connection_open_ack"
	EventOpenConfirmConnection EventType = "connection_open_confirm"
	EventOpenInitChannel      EventType = "channel_open_init"
	EventOpenTryChannel       EventType = "channel_open_try"
	EventOpenAckChannel       EventType = "channel_open_ack"
	EventOpenConfirmChannel   EventType = "channel_open_confirm"
	EventCloseInitChannel     EventType = "channel_close_init"
	EventCloseConfirmChannel  EventType = "channel_close_confirm"
	EventSendPacket           EventType = "send_packet"
	EventReceivePacket        EventType = "recv_packet"
	EventWriteAcknowledgement EventType = "write_acknowledgement"
	EventAcknowledgePacket    EventType = "acknowledge_packet"
)

// Event is an IBC event observed on chain.
type Event interface {
	Type() EventType
}

type CreateClient struct {
	ClientID        string
	ClientType      string
	ConsensusHeight Height
}

func (CreateClient) Type() EventType { return EventCreateClient }

type UpdateClient struct {
	ClientID string
}

func (UpdateClient) Type() EventType { return EventUpdateClient }

// ConnectionAttributes are shared by the four connection handshake events.
type ConnectionAttributes struct {
	ConnectionID             string
	ClientID                 string
	CounterpartyConnectionID string
	CounterpartyClientID     string
}

type OpenInitConnection struct{ ConnectionAttributes }

func (OpenInitConnection) Type() EventType { return EventOpenInitConnection }

type OpenTryConnection struct{ ConnectionAttributes }

func (OpenTryConnection) Type() EventType { return EventOpenTryConnection }

type OpenAckConnection struct{ ConnectionAttributes }

func (OpenAckConnection) Type() EventType { return EventOpenAckConnection }

type OpenConfirmConnection struct{ ConnectionAttributes }

func (OpenConfirmConnection) Type() EventType { return EventOpenConfirmConnection }

// ChannelAttributes are shared by the six channel lifecycle events.
type ChannelAttributes struct {
	PortID                string
	ChannelID             string
	ConnectionID          string
	CounterpartyPortID    string
	CounterpartyChannelID string
}

type OpenInitChannel struct{ ChannelAttributes }

func (OpenInitChannel) Type() EventType { return EventOpenInitChannel }

type OpenTryChannel struct{ ChannelAttributes }

func (OpenTryChannel) Type() EventType { return EventOpenTryChannel }

type OpenAckChannel struct{ ChannelAttributes }

func (OpenAckChannel) Type() EventType { return EventOpenAckChannel }

type OpenConfirmChannel struct{ ChannelAttributes }

func (OpenConfirmChannel) Type() EventType { return EventOpenConfirmChannel }

type CloseInitChannel struct{ ChannelAttributes }

func (CloseInitChannel) Type() EventType { return EventCloseInitChannel }

type CloseConfirmChannel struct{ ChannelAttributes }

func (CloseConfirmChannel) Type() EventType { return EventCloseConfirmChannel }

type SendPacket struct {
	Packet Packet
}

func (SendPacket) Type() EventType { return EventSendPacket }

type ReceivePacket struct {
	Packet Packet
}

func (ReceivePacket) Type() EventType { return EventReceivePacket }

type WriteAcknowledgement struct {
	Packet Packet
	Ack    []byte
}

func (WriteAcknowledgement) Type() EventType { return EventWriteAcknowledgement }

type AcknowledgePacket struct {
	Packet Packet
}

func (AcknowledgePacket) Type() EventType { return EventAcknowledgePacket }

// EventWithHeight pairs an event with the block height it was observed at
// and the hash of the transaction that committed it. The tx hash is what
// later turns into an object proof on chains that prove state per
// transaction rather than per store key.
type EventWithHeight struct {
	Event  Event
	Height Height
	TxHash [32]byte
}

func NewEventWithHeight(event Event, height Height, txHash [32]byte) EventWithHeight {
	return EventWithHeight{Event: event, Height: height, TxHash: txHash}
}
