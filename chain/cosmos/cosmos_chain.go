// Package cosmos implements a CometBFT counterparty endpoint. It observes
// IBC events through block results and serves chain heights; datagram
// submission to Cosmos chains is out of the axon/ckb packet path and is
// reported as unsupported.
package cosmos

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	abci "github.com/cometbft/cometbft/abci/types"
	rpchttp "github.com/cometbft/cometbft/rpc/client/http"
	ctypes "github.com/cometbft/cometbft/rpc/core/types"
	"go.uber.org/zap"

	"github.com/wenyuanhust/forcerelay/config"
	"github.com/wenyuanhust/forcerelay/event"
	"github.com/wenyuanhust/forcerelay/ibc"
	"github.com/wenyuanhust/forcerelay/relayer"
)

const monitorTick = time.Second

// rpcClient is the CometBFT RPC surface the endpoint uses.
type rpcClient interface {
	Status(ctx context.Context) (*ctypes.ResultStatus, error)
	Block(ctx context.Context, height *int64) (*ctypes.ResultBlock, error)
	BlockResults(ctx context.Context, height *int64) (*ctypes.ResultBlockResults, error)
}

// Chain is the CometBFT relayer endpoint.
type Chain struct {
	cfg config.Cosmos
	log *zap.Logger
	bus *event.Bus

	client rpcClient
	// First height not yet scanned.
	startHeight int64
	cancel      context.CancelFunc
}

var _ relayer.Endpoint = (*Chain)(nil)

func NewChain(log *zap.Logger, cfg config.Cosmos) *Chain {
	return &Chain{
		cfg: cfg,
		log: log.With(zap.String("chain", cfg.ID)),
		bus: event.NewBus(),
	}
}

func (c *Chain) ID() string { return c.cfg.ID }

func (c *Chain) Bootstrap(ctx context.Context) error {
	err := retry.Do(func() error {
		client, err := rpchttp.New(c.cfg.RPCAddr, "/websocket")
		if err != nil {
			return err
		}
		if _, err := client.Status(ctx); err != nil {
			return err
		}
		c.client = client
		return nil
	}, retry.Context(ctx), retry.Attempts(10), retry.Delay(time.Second), retry.DelayType(retry.BackOffDelay))
	if err != nil {
		return fmt.Errorf("dial cometbft node %s: %w", c.cfg.RPCAddr, err)
	}

	status, err := c.client.Status(ctx)
	if err != nil {
		return fmt.Errorf("query status: %w", err)
	}
	c.startHeight = status.SyncInfo.LatestBlockHeight + 1

	monitorCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go c.monitor(monitorCtx)

	c.log.Info("Bootstrapped cometbft endpoint",
		zap.String("addr", c.cfg.RPCAddr),
		zap.Int64("height", status.SyncInfo.LatestBlockHeight),
	)
	return nil
}

// HealthCheck verifies the node still answers status queries.
func (c *Chain) HealthCheck(ctx context.Context) error {
	if _, err := c.client.Status(ctx); err != nil {
		return fmt.Errorf("health check %s: %w", c.cfg.ID, err)
	}
	return nil
}

// Signer is empty: this endpoint only observes.
func (c *Chain) Signer() string { return "" }

func (c *Chain) Subscribe() <-chan *event.Batch { return c.bus.Subscribe() }

func (c *Chain) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.bus.Close()
	return nil
}

func (c *Chain) monitor(ctx context.Context) {
	ticker := time.NewTicker(monitorTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.pollOnce(ctx); err != nil {
				c.log.Warn("Event poll failed", zap.Error(err))
			}
		}
	}
}

func (c *Chain) pollOnce(ctx context.Context) error {
	status, err := c.client.Status(ctx)
	if err != nil {
		return fmt.Errorf("query status: %w", err)
	}
	tip := status.SyncInfo.LatestBlockHeight
	for height := c.startHeight; height <= tip; height++ {
		events, err := c.scanHeight(ctx, height)
		if err != nil {
			return err
		}
		for _, ev := range events {
			c.bus.Broadcast(&event.Batch{
				ChainID:    c.cfg.ID,
				TrackingID: "cometbft block result streaming",
				Height:     ev.Height,
				Events:     []ibc.EventWithHeight{ev},
			})
		}
		// Advance per block so a failed fetch retries from where it stopped.
		c.startHeight = height + 1
	}
	return nil
}

func (c *Chain) scanHeight(ctx context.Context, height int64) ([]ibc.EventWithHeight, error) {
	block, err := c.client.Block(ctx, &height)
	if err != nil {
		return nil, fmt.Errorf("fetch block %d: %w", height, err)
	}
	results, err := c.client.BlockResults(ctx, &height)
	if err != nil {
		return nil, fmt.Errorf("fetch block results %d: %w", height, err)
	}

	var events []ibc.EventWithHeight
	for i, result := range results.TxsResults {
		if result.Code != 0 || i >= len(block.Block.Data.Txs) {
			continue
		}
		var txHash [32]byte
		copy(txHash[:], block.Block.Data.Txs[i].Hash())
		events = append(events, c.txEvents(result.Events, height, txHash)...)
	}
	return events, nil
}

func (c *Chain) txEvents(raw []abci.Event, height int64, txHash [32]byte) []ibc.EventWithHeight {
	var events []ibc.EventWithHeight
	for _, abciEvent := range raw {
		ev, err := ParseABCIEvent(abciEvent)
		if err != nil {
			c.log.Debug("Skipping malformed event",
				zap.String("type", abciEvent.Type),
				zap.Error(err),
			)
			continue
		}
		if ev == nil {
			continue
		}
		events = append(events, ibc.NewEventWithHeight(ev, ibc.HeightFromBlockNumber(uint64(height)), txHash))
	}
	return events
}

func (c *Chain) LatestHeight(ctx context.Context) (ibc.Height, error) {
	status, err := c.client.Status(ctx)
	if err != nil {
		return ibc.Height{}, fmt.Errorf("query status: %w", err)
	}
	return ibc.HeightFromBlockNumber(uint64(status.SyncInfo.LatestBlockHeight)), nil
}

// The gRPC query surface of a full Cosmos relayer is out of scope: this
// endpoint exists to observe counterparty packet flow.

func (c *Chain) QueryClientState(context.Context, string, relayer.QueryHeight) (ibc.ClientState, error) {
	return ibc.ClientState{}, relayer.ErrNotSupported
}

func (c *Chain) QueryConnection(context.Context, string, relayer.QueryHeight) (ibc.ConnectionEnd, error) {
	return ibc.ConnectionEnd{}, relayer.ErrNotSupported
}

func (c *Chain) QueryConnections(context.Context) ([]ibc.IdentifiedConnectionEnd, error) {
	return nil, relayer.ErrNotSupported
}

func (c *Chain) QueryChannel(context.Context, string, string, relayer.QueryHeight) (ibc.ChannelEnd, error) {
	return ibc.ChannelEnd{}, relayer.ErrNotSupported
}

func (c *Chain) QueryChannels(context.Context) ([]ibc.IdentifiedChannelEnd, error) {
	return nil, relayer.ErrNotSupported
}

func (c *Chain) QueryPacketCommitment(context.Context, relayer.PacketKey, relayer.QueryHeight) ([]byte, error) {
	return nil, relayer.ErrNotSupported
}

func (c *Chain) QueryPacketAcknowledgement(context.Context, relayer.PacketKey, relayer.QueryHeight) ([]byte, error) {
	return nil, relayer.ErrNotSupported
}

func (c *Chain) QueryPacketReceipt(context.Context, relayer.PacketKey, relayer.QueryHeight) (bool, error) {
	return false, relayer.ErrNotSupported
}

func (c *Chain) QueryPacketCommitmentSequences(context.Context, string, string) ([]uint64, error) {
	return nil, relayer.ErrNotSupported
}

func (c *Chain) QueryUnreceivedPackets(context.Context, string, string, []uint64) ([]uint64, error) {
	return nil, relayer.ErrNotSupported
}

func (c *Chain) QueryUnreceivedAcknowledgements(context.Context, string, string, []uint64) ([]uint64, error) {
	return nil, relayer.ErrNotSupported
}

func (c *Chain) QueryNextSequenceReceive(context.Context, string, string, relayer.QueryHeight) (uint64, error) {
	return 0, relayer.ErrNotSupported
}

func (c *Chain) SendMessages(context.Context, []relayer.Message) ([]ibc.EventWithHeight, error) {
	return nil, fmt.Errorf("send messages on cometbft: %w", relayer.ErrNotSupported)
}

func (c *Chain) BuildConnectionProofs(context.Context, string) (relayer.Proofs, error) {
	return relayer.Proofs{}, relayer.ErrNotSupported
}

func (c *Chain) BuildChannelProofs(context.Context, relayer.ChannelKey) (relayer.Proofs, error) {
	return relayer.Proofs{}, relayer.ErrNotSupported
}

func (c *Chain) BuildPacketProofs(context.Context, relayer.PacketKey) (relayer.Proofs, error) {
	return relayer.Proofs{}, relayer.ErrNotSupported
}
