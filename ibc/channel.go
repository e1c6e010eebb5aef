package ibc

// State of a channel or connection end during the handshake lifecycle.
type State string

const (
	StateUninitialized State = "UNINITIALIZED"
	StateInit          State = "INIT"
	StateTryOpen       State = "TRYOPEN"
	StateOpen          State = "OPEN"
	StateClosed        State = "CLOSED"
)

// Order of packet delivery on a channel.
type Order string

const (
	OrderUnordered Order = "ORDER_UNORDERED"
	OrderOrdered   Order = "ORDER_ORDERED"
)

type ChannelCounterparty struct {
	PortID    string `json:"port_id"`
	ChannelID string `json:"channel_id"`
}

// ChannelEnd is one side of an IBC channel as defined in ICS-4.
type ChannelEnd struct {
	State          State               `json:"state"`
	Ordering       Order               `json:"ordering"`
	Counterparty   ChannelCounterparty `json:"counterparty"`
	ConnectionHops []string            `json:"connection_hops"`
	Version        string              `json:"version"`
}

// IdentifiedChannelEnd pairs a channel end with its own port and channel ids.
type IdentifiedChannelEnd struct {
	PortID     string     `json:"port_id"`
	ChannelID  string     `json:"channel_id"`
	ChannelEnd ChannelEnd `json:"channel"`
}

type ConnectionCounterparty struct {
	ClientID     string `json:"client_id"`
	ConnectionID string `json:"connection_id"`
	Prefix       string `json:"prefix"`
}

// ConnectionEnd is one side of an IBC connection as defined in ICS-3.
type ConnectionEnd struct {
	State        State                  `json:"state"`
	ClientID     string                 `json:"client_id"`
	Counterparty ConnectionCounterparty `json:"counterparty"`
	Versions     []string               `json:"versions"`
	DelayPeriod  uint64                 `json:"delay_period"`
}

type IdentifiedConnectionEnd struct {
	ConnectionID  string        `json:"id"`
	ConnectionEnd ConnectionEnd `json:"connection"`
}

// ClientState is the relayer-side view of an axon/ckb4ibc light client:
// the handler contract and the cell model both reduce the client state to
// the chain id, the latest verified height and the default client id.
type ClientState struct {
	ChainID         string `json:"chain_id"`
	LatestHeight    Height `json:"latest_height"`
	DefaultClientID string `json:"default_client_id"`
}

type IdentifiedClientState struct {
	ClientID    string      `json:"client_id"`
	ClientState ClientState `json:"client_state"`
}
