package relayer

import (
	"context"
	"errors"

	"github.com/wenyuanhust/forcerelay/event"
	"github.com/wenyuanhust/forcerelay/ibc"
)

var (
	// ErrSpecificHeight is returned by queries on chains that only serve
	// their latest state. Callers must retry without a height.
	ErrSpecificHeight = errors.New("endpoint cannot query at a specific height")

	// ErrNotSupported marks operations a chain backend has no use for.
	ErrNotSupported = errors.New("operation not supported by this endpoint")

	// ErrProofSourceMissing is returned by proof builders when no
	// transaction hash was recorded for the object being proven.
	ErrProofSourceMissing = errors.New("no transaction recorded for proof object")
)

// QueryHeight selects the height a query runs at. The zero value means
// latest; endpoints that cannot serve historical state reject any other.
type QueryHeight struct {
	Height ibc.Height
}

// Latest queries the chain's current state.
func Latest() QueryHeight { return QueryHeight{} }

// At queries the state as of a specific height.
func At(h ibc.Height) QueryHeight { return QueryHeight{Height: h} }

// IsLatest reports whether the query targets current state.
func (q QueryHeight) IsLatest() bool { return q.Height.IsZero() }

// Endpoint is one chain's side of the relayer: event subscription, IBC
// state queries, datagram delivery and object proof construction.
//
// Implementations exist for Axon (EVM contract calls), CKB (cell queries
// through the indexer) and CometBFT counterparties.
type Endpoint interface {
	// ID returns the configured chain id.
	ID() string

	// Bootstrap establishes connectivity and starts the event monitor.
	// It must be called before any other method.
	Bootstrap(ctx context.Context) error

	// HealthCheck verifies the chain connection is still serviceable.
	HealthCheck(ctx context.Context) error

	// Signer returns the address datagrams are signed with, empty on
	// observation-only endpoints.
	Signer() string

	// Subscribe returns the endpoint's event stream. Each batch covers a
	// contiguous block range in on-chain order.
	Subscribe() <-chan *event.Batch

	// LatestHeight returns the chain tip.
	LatestHeight(ctx context.Context) (ibc.Height, error)

	// QueryClientState returns the state of the named light client.
	QueryClientState(ctx context.Context, clientID string, at QueryHeight) (ibc.ClientState, error)

	// QueryConnection returns one connection end.
	QueryConnection(ctx context.Context, connectionID string, at QueryHeight) (ibc.ConnectionEnd, error)

	// QueryConnections returns every connection end on the chain.
	QueryConnections(ctx context.Context) ([]ibc.IdentifiedConnectionEnd, error)

	// QueryChannel returns one channel end.
	QueryChannel(ctx context.Context, portID, channelID string, at QueryHeight) (ibc.ChannelEnd, error)

	// QueryChannels returns every channel end on the chain.
	QueryChannels(ctx context.Context) ([]ibc.IdentifiedChannelEnd, error)

	// QueryPacketCommitment returns the commitment bytes for a sent
	// packet, empty once the packet was acknowledged or timed out.
	QueryPacketCommitment(ctx context.Context, key PacketKey, at QueryHeight) ([]byte, error)

	// QueryPacketAcknowledgement returns the acknowledgement commitment
	// written for a received packet.
	QueryPacketAcknowledgement(ctx context.Context, key PacketKey, at QueryHeight) ([]byte, error)

	// QueryPacketReceipt reports whether a packet was received.
	QueryPacketReceipt(ctx context.Context, key PacketKey, at QueryHeight) (bool, error)

	// QueryPacketCommitmentSequences lists, in ascending order, every
	// sequence with a standing packet commitment on a channel.
	QueryPacketCommitmentSequences(ctx context.Context, portID, channelID string) ([]uint64, error)

	// QueryUnreceivedPackets filters sequences down to those not yet
	// received on this chain.
	QueryUnreceivedPackets(ctx context.Context, portID, channelID string, sequences []uint64) ([]uint64, error)

	// QueryUnreceivedAcknowledgements filters sequences down to those
	// whose acknowledgement this chain has not yet processed.
	QueryUnreceivedAcknowledgements(ctx context.Context, portID, channelID string, sequences []uint64) ([]uint64, error)

	// QueryNextSequenceReceive returns the next receive sequence expected
	// on a channel.
	QueryNextSequenceReceive(ctx context.Context, portID, channelID string, at QueryHeight) (uint64, error)

	// SendMessages delivers a batch of datagrams in one transaction where
	// the chain allows it and returns the resulting IBC events.
	SendMessages(ctx context.Context, msgs []Message) ([]ibc.EventWithHeight, error)

	// BuildConnectionProofs proves the current state of a connection end.
	BuildConnectionProofs(ctx context.Context, connectionID string) (Proofs, error)

	// BuildChannelProofs proves the current state of a channel end.
	BuildChannelProofs(ctx context.Context, key ChannelKey) (Proofs, error)

	// BuildPacketProofs proves a packet commitment or acknowledgement.
	BuildPacketProofs(ctx context.Context, key PacketKey) (Proofs, error)

	// Close stops the monitor and releases the chain connection.
	Close() error
}
