// Package ckb implements the relayer endpoint for CKB chains running the
// ibc-ckb contracts. IBC objects live in cells whose data is the keccak256
// of an RLP preimage carried in the writing transaction's witness; queries
// go through the indexer, datagrams are cell transitions and proofs are
// CBMT transaction proofs into the committing block's header.
package ckb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/nervosnetwork/ckb-sdk-go/v2/rpc"
	"github.com/nervosnetwork/ckb-sdk-go/v2/types"
	"go.uber.org/zap"

	"github.com/wenyuanhust/forcerelay/config"
	"github.com/wenyuanhust/forcerelay/event"
	"github.com/wenyuanhust/forcerelay/ibc"
	"github.com/wenyuanhust/forcerelay/keyring"
	"github.com/wenyuanhust/forcerelay/relayer"
)

// Chain is the CKB relayer endpoint.
type Chain struct {
	cfg   config.Ckb
	log   *zap.Logger
	key   *keyring.Key
	cache *relayer.TxHashCache
	bus   *event.Bus

	reader       Reader
	builder      *txBuilder
	hashes       codeHashes
	monitor      *Monitor
	resumeHeight uint64
	cancel       context.CancelFunc
}

var _ relayer.Endpoint = (*Chain)(nil)

func NewChain(log *zap.Logger, cfg config.Ckb, key *keyring.Key) *Chain {
	return &Chain{
		cfg:   cfg,
		log:   log.With(zap.String("chain", cfg.ID)),
		key:   key,
		cache: relayer.NewTxHashCache(),
		bus:   event.NewBus(),
		hashes: codeHashes{
			connection: ScriptHash(cfg.ConnectionTypeArgs),
			channel:    ScriptHash(cfg.ChannelTypeArgs),
			packet:     ScriptHash(cfg.PacketTypeArgs),
		},
	}
}

func (c *Chain) ID() string { return c.cfg.ID }

// Cache exposes the tx-hash cache so callers can persist and restore it.
func (c *Chain) Cache() *relayer.TxHashCache { return c.cache }

// ResumeFrom sets the block the monitor starts scanning at on the next
// Bootstrap, typically a persisted watermark. Zero means the chain tip.
func (c *Chain) ResumeFrom(height uint64) { c.resumeHeight = height }

// SyncHeight reports the monitor's watermark, zero before Bootstrap.
func (c *Chain) SyncHeight() uint64 {
	if c.monitor == nil {
		return 0
	}
	return c.monitor.Watermark()
}

// Bootstrap dials the node and starts the finality-aware monitor from
// the current tip.
func (c *Chain) Bootstrap(ctx context.Context) error {
	err := retry.Do(func() error {
		client, err := rpc.Dial(c.cfg.RPCAddr)
		if err != nil {
			return err
		}
		c.reader = client
		return nil
	}, retry.Context(ctx), retry.Attempts(10), retry.Delay(time.Second), retry.DelayType(retry.BackOffDelay))
	if err != nil {
		return fmt.Errorf("dial ckb node %s: %w", c.cfg.RPCAddr, err)
	}
	c.builder = newTxBuilder(c.reader, c.key, c.cfg)

	tip, err := c.reader.GetTipHeader(ctx)
	if err != nil {
		return fmt.Errorf("query tip: %w", err)
	}
	start := tip.Number
	if c.resumeHeight > 0 && c.resumeHeight <= tip.Number {
		start = c.resumeHeight
	}
	c.monitor = NewMonitor(c.log, c.reader, c.cfg.ID, c.hashes, c.cache, c.bus,
		uint64(c.cfg.Confirms), start)
	if c.cfg.RestoreBlockCount > 0 {
		restoreDepth := min(c.cfg.RestoreBlockCount, start)
		if _, err := c.monitor.Restore(ctx, restoreDepth); err != nil {
			return fmt.Errorf("restore events: %w", err)
		}
	}

	monitorCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go func() {
		if err := c.monitor.Run(monitorCtx); err != nil && monitorCtx.Err() == nil {
			c.log.Error("Event monitor stopped", zap.Error(err))
		}
	}()

	c.log.Info("Bootstrapped ckb endpoint",
		zap.String("addr", c.cfg.RPCAddr),
		zap.Uint64("tip", tip.Number),
		zap.Uint8("confirms", c.cfg.Confirms),
	)
	return nil
}

// HealthCheck verifies the node still serves the tip header.
func (c *Chain) HealthCheck(ctx context.Context) error {
	if _, err := c.reader.GetTipHeader(ctx); err != nil {
		return fmt.Errorf("health check %s: %w", c.cfg.ID, err)
	}
	return nil
}

// Signer returns the lock args of the configured key.
func (c *Chain) Signer() string { return fmt.Sprintf("0x%x", c.key.CkbLockArgs()) }

func (c *Chain) Subscribe() <-chan *event.Batch { return c.bus.Subscribe() }

func (c *Chain) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.bus.Close()
	return nil
}

func (c *Chain) LatestHeight(ctx context.Context) (ibc.Height, error) {
	tip, err := c.reader.GetTipHeader(ctx)
	if err != nil {
		return ibc.Height{}, fmt.Errorf("query tip: %w", err)
	}
	return ibc.HeightFromBlockNumber(tip.Number), nil
}

// QueryClientState synthesizes the client state: the cell model keeps no
// dedicated client cell, the chain itself is the client's subject.
func (c *Chain) QueryClientState(ctx context.Context, clientID string, at relayer.QueryHeight) (ibc.ClientState, error) {
	if !at.IsLatest() {
		return ibc.ClientState{}, relayer.ErrSpecificHeight
	}
	tip, err := c.reader.GetTipHeader(ctx)
	if err != nil {
		return ibc.ClientState{}, fmt.Errorf("query tip: %w", err)
	}
	return ibc.ClientState{
		ChainID:         c.cfg.ID,
		LatestHeight:    ibc.HeightFromBlockNumber(tip.Number),
		DefaultClientID: clientID,
	}, nil
}

func (c *Chain) QueryConnection(ctx context.Context, connectionID string, at relayer.QueryHeight) (ibc.ConnectionEnd, error) {
	if !at.IsLatest() {
		return ibc.ConnectionEnd{}, relayer.ErrSpecificHeight
	}
	index, err := ibc.ParseConnectionIndex(connectionID)
	if err != nil {
		return ibc.ConnectionEnd{}, err
	}
	_, conns, err := c.builder.liveConnections(ctx)
	if err != nil {
		return ibc.ConnectionEnd{}, err
	}
	if int(index) >= len(conns.Connections) {
		return ibc.ConnectionEnd{}, fmt.Errorf("connection %s not found", connectionID)
	}
	return conns.Connections[index].ConnectionEnd(), nil
}

func (c *Chain) QueryConnections(ctx context.Context) ([]ibc.IdentifiedConnectionEnd, error) {
	_, conns, err := c.builder.liveConnections(ctx)
	if err != nil {
		return nil, err
	}
	ends := make([]ibc.IdentifiedConnectionEnd, 0, len(conns.Connections))
	for i, conn := range conns.Connections {
		ends = append(ends, ibc.IdentifiedConnectionEnd{
			ConnectionID:  ibc.ConnectionID(uint16(i)),
			ConnectionEnd: conn.ConnectionEnd(),
		})
	}
	return ends, nil
}

func (c *Chain) QueryChannel(ctx context.Context, portID, channelID string, at relayer.QueryHeight) (ibc.ChannelEnd, error) {
	if !at.IsLatest() {
		return ibc.ChannelEnd{}, relayer.ErrSpecificHeight
	}
	_, channel, _, err := c.builder.liveChannel(ctx, portID, channelID)
	if err != nil {
		return ibc.ChannelEnd{}, err
	}
	return channel.ChannelEnd(), nil
}

// QueryChannels lists every channel cell, open or pending.
func (c *Chain) QueryChannels(ctx context.Context) ([]ibc.IdentifiedChannelEnd, error) {
	key := prefixSearchKey(&types.Script{
		CodeHash: c.hashes.channel,
		HashType: types.HashTypeType,
		Args:     []byte{},
	})
	cells, err := collectCells(ctx, c.reader, key)
	if err != nil {
		return nil, err
	}
	var ends []ibc.IdentifiedChannelEnd
	for _, cell := range cells {
		var channel ChannelCell
		if err := c.builder.decodeCell(ctx, cell, &channel); err != nil {
			c.log.Warn("Skipping undecodable channel cell",
				zap.String("tx", cell.OutPoint.TxHash.String()),
				zap.Error(err),
			)
			continue
		}
		ends = append(ends, ibc.IdentifiedChannelEnd{
			PortID:     channel.PortID,
			ChannelID:  channel.ChannelID,
			ChannelEnd: channel.ChannelEnd(),
		})
	}
	return ends, nil
}

func (c *Chain) QueryPacketCommitment(ctx context.Context, key relayer.PacketKey, at relayer.QueryHeight) ([]byte, error) {
	cell, err := c.packetCellData(ctx, key, at, PacketStatusSend)
	if err != nil {
		return nil, err
	}
	return cell, nil
}

func (c *Chain) QueryPacketAcknowledgement(ctx context.Context, key relayer.PacketKey, at relayer.QueryHeight) ([]byte, error) {
	return c.packetCellData(ctx, key, at, PacketStatusWriteAck)
}

func (c *Chain) QueryPacketReceipt(ctx context.Context, key relayer.PacketKey, at relayer.QueryHeight) (bool, error) {
	if !at.IsLatest() {
		return false, relayer.ErrSpecificHeight
	}
	_, packet, err := c.builder.livePacket(ctx, key.ChannelID, key.PortID, key.Sequence)
	if errors.Is(err, ErrCellNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return packet.Status == PacketStatusRecv || packet.Status == PacketStatusWriteAck, nil
}

// packetCellData returns the cell data commitment of the packet cell in
// the wanted status, or nil when no such cell is live.
func (c *Chain) packetCellData(ctx context.Context, key relayer.PacketKey, at relayer.QueryHeight, status uint8) ([]byte, error) {
	if !at.IsLatest() {
		return nil, relayer.ErrSpecificHeight
	}
	cell, packet, err := c.builder.livePacket(ctx, key.ChannelID, key.PortID, key.Sequence)
	if errors.Is(err, ErrCellNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if packet.Status != status {
		return nil, nil
	}
	return cell.OutputData, nil
}

// QueryPacketCommitmentSequences lists the sequences of the channel's
// live send cells, whose data is the packet commitment.
func (c *Chain) QueryPacketCommitmentSequences(ctx context.Context, portID, channelID string) ([]uint64, error) {
	number, err := ibc.ParseChannelNumber(channelID)
	if err != nil {
		return nil, err
	}
	port, err := ParsePortID(portID)
	if err != nil {
		return nil, err
	}
	cells, err := collectCells(ctx, c.reader, PacketSearchKey(c.cfg.PacketTypeArgs, number, port, 0))
	if err != nil {
		return nil, err
	}
	var sequences []uint64
	for _, cell := range cells {
		var packet PacketCell
		if err := c.builder.decodeCell(ctx, cell, &packet); err != nil {
			continue
		}
		if packet.Status != PacketStatusSend {
			continue
		}
		sequences = append(sequences, packet.Packet.Sequence)
	}
	sort.Slice(sequences, func(i, j int) bool { return sequences[i] < sequences[j] })
	return sequences, nil
}

func (c *Chain) QueryUnreceivedPackets(ctx context.Context, portID, channelID string, sequences []uint64) ([]uint64, error) {
	var unreceived []uint64
	for _, seq := range sequences {
		received, err := c.QueryPacketReceipt(ctx, relayer.PacketKey{ChannelID: channelID, PortID: portID, Sequence: seq}, relayer.Latest())
		if err != nil {
			return nil, err
		}
		if !received {
			unreceived = append(unreceived, seq)
		}
	}
	return unreceived, nil
}

func (c *Chain) QueryUnreceivedAcknowledgements(ctx context.Context, portID, channelID string, sequences []uint64) ([]uint64, error) {
	var unreceived []uint64
	for _, seq := range sequences {
		commitment, err := c.QueryPacketCommitment(ctx, relayer.PacketKey{ChannelID: channelID, PortID: portID, Sequence: seq}, relayer.Latest())
		if err != nil {
			return nil, err
		}
		if commitment != nil {
			unreceived = append(unreceived, seq)
		}
	}
	return unreceived, nil
}

// QueryNextSequenceReceive derives the next receive sequence from the
// live packet cells of the channel: one past the highest received one.
func (c *Chain) QueryNextSequenceReceive(ctx context.Context, portID, channelID string, at relayer.QueryHeight) (uint64, error) {
	if !at.IsLatest() {
		return 0, relayer.ErrSpecificHeight
	}
	number, err := ibc.ParseChannelNumber(channelID)
	if err != nil {
		return 0, err
	}
	port, err := ParsePortID(portID)
	if err != nil {
		return 0, err
	}
	cells, err := collectCells(ctx, c.reader, PacketSearchKey(c.cfg.PacketTypeArgs, number, port, 0))
	if err != nil {
		return 0, err
	}
	next := uint64(1)
	for _, cell := range cells {
		var packet PacketCell
		if err := c.builder.decodeCell(ctx, cell, &packet); err != nil {
			continue
		}
		if packet.Status != PacketStatusRecv && packet.Status != PacketStatusWriteAck {
			continue
		}
		if packet.Packet.Sequence >= next {
			next = packet.Packet.Sequence + 1
		}
	}
	return next, nil
}

// SendMessages delivers datagrams one transaction each and waits for
// finality before reporting the resulting events. Create-client is
// satisfied locally; headers for the Axon light client on CKB are
// submitted by the dedicated client updater, not the relayer, so
// update-client is refused here.
func (c *Chain) SendMessages(ctx context.Context, msgs []relayer.Message) ([]ibc.EventWithHeight, error) {
	var events []ibc.EventWithHeight
	for _, msg := range msgs {
		switch msg.TypeURL {
		case relayer.TypeURLCreateClient:
			ev, err := c.localCreateClient(msg.CreateClient)
			if err != nil {
				return nil, err
			}
			events = append(events, ev)
			continue
		case relayer.TypeURLUpdateClient:
			return nil, fmt.Errorf("update client on ckb: %w", relayer.ErrNotSupported)
		}

		tx, err := c.builder.BuildMessageTransaction(ctx, msg)
		if err != nil {
			return nil, fmt.Errorf("build %s: %w", msg.TypeURL, err)
		}
		hash, err := c.reader.SendTransaction(ctx, tx)
		if err != nil {
			return nil, fmt.Errorf("broadcast %s: %w", msg.TypeURL, err)
		}
		committedAt, err := WaitCommitted(ctx, c.reader, *hash, uint64(c.cfg.Confirms))
		if err != nil {
			return nil, err
		}

		tx.Hash = *hash
		ev, err := TransactionToEvent(tx, c.hashes)
		if err != nil {
			c.log.Debug("Sent transaction produced no event",
				zap.String("tx", hash.String()),
				zap.Error(err),
			)
			continue
		}
		withHeight := ibc.NewEventWithHeight(ev, ibc.HeightFromBlockNumber(committedAt), *hash)
		c.cache.Ingest([]ibc.EventWithHeight{withHeight})
		events = append(events, withHeight)
	}
	return events, nil
}

func (c *Chain) localCreateClient(msg *relayer.MsgCreateClient) (ibc.EventWithHeight, error) {
	var state ibc.ClientState
	if err := json.Unmarshal(msg.ClientState, &state); err != nil {
		return ibc.EventWithHeight{}, fmt.Errorf("decode client state: %w", err)
	}
	return ibc.NewEventWithHeight(ibc.CreateClient{
		ClientID:        state.DefaultClientID,
		ClientType:      msg.ClientType,
		ConsensusHeight: state.LatestHeight,
	}, state.LatestHeight, [32]byte{}), nil
}

func (c *Chain) BuildConnectionProofs(ctx context.Context, connectionID string) (relayer.Proofs, error) {
	txHash, ok := c.cache.Connection(connectionID)
	if !ok {
		return relayer.Proofs{}, fmt.Errorf("connection %s: %w", connectionID, relayer.ErrProofSourceMissing)
	}
	return c.buildObjectProofs(ctx, txHash)
}

func (c *Chain) BuildChannelProofs(ctx context.Context, key relayer.ChannelKey) (relayer.Proofs, error) {
	txHash, ok := c.cache.Channel(key)
	if !ok {
		return relayer.Proofs{}, fmt.Errorf("channel %s/%s: %w", key.PortID, key.ChannelID, relayer.ErrProofSourceMissing)
	}
	return c.buildObjectProofs(ctx, txHash)
}

func (c *Chain) BuildPacketProofs(ctx context.Context, key relayer.PacketKey) (relayer.Proofs, error) {
	txHash, ok := c.cache.Packet(key)
	if !ok {
		return relayer.Proofs{}, fmt.Errorf("packet %s/%s#%d: %w", key.PortID, key.ChannelID, key.Sequence, relayer.ErrProofSourceMissing)
	}
	return c.buildObjectProofs(ctx, txHash)
}

// buildObjectProofs proves the transaction that wrote the IBC object
// into its committing block's transactions_root.
func (c *Chain) buildObjectProofs(ctx context.Context, txHash [32]byte) (relayer.Proofs, error) {
	hash := types.Hash(txHash)
	tws, err := c.reader.GetTransaction(ctx, hash, nil)
	if err != nil {
		return relayer.Proofs{}, fmt.Errorf("query transaction %s: %w", hash, err)
	}
	if tws == nil || tws.TxStatus == nil || tws.TxStatus.BlockHash == nil {
		return relayer.Proofs{}, fmt.Errorf("transaction %s is not committed", hash)
	}

	block, err := c.reader.GetBlock(ctx, *tws.TxStatus.BlockHash)
	if err != nil {
		return relayer.Proofs{}, fmt.Errorf("query block %s: %w", tws.TxStatus.BlockHash, err)
	}
	proof, err := BuildTransactionProof(block, hash)
	if err != nil {
		return relayer.Proofs{}, err
	}

	var committed *types.Transaction
	for _, tx := range block.Transactions {
		if tx.Hash == hash {
			committed = tx
			break
		}
	}
	object, err := AssembleObjectProof(committed, *tws.TxStatus.BlockHash, proof)
	if err != nil {
		return relayer.Proofs{}, err
	}
	return relayer.Proofs{Object: object, Height: ibc.HeightFromBlockNumber(block.Header.Number)}, nil
}
