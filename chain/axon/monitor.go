package axon

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/wenyuanhust/forcerelay/event"
	"github.com/wenyuanhust/forcerelay/ibc"
	"github.com/wenyuanhust/forcerelay/relayer"
)

const monitorTick = time.Second

// logClient is the subset of the EVM node API the monitor needs.
// *ethclient.Client satisfies it.
type logClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// Monitor polls the handler contract for IBC events and broadcasts them
// one batch per event, tracking a start-block watermark that only moves
// past a block range once it was processed successfully.
type Monitor struct {
	log        *zap.Logger
	client     logClient
	chainID    string
	contract   common.Address
	cache *relayer.TxHashCache
	bus   *event.Bus
	// Atomic because the relay store reads the watermark from outside
	// the poll loop.
	startBlock atomic.Uint64

	// Send-packet and write-ack events restored at startup, replayed on
	// the bus once Run begins so unrelayed packets are retried.
	reprocess []ibc.EventWithHeight
}

func NewMonitor(log *zap.Logger, client logClient, chainID string, contract common.Address, cache *relayer.TxHashCache, bus *event.Bus, startBlock uint64) *Monitor {
	m := &Monitor{
		log:      log.With(zap.String("chain", chainID)),
		client:   client,
		chainID:  chainID,
		contract: contract,
		cache:    cache,
		bus:      bus,
	}
	m.startBlock.Store(startBlock)
	return m
}

// Watermark returns the first block the monitor has not yet scanned.
func (m *Monitor) Watermark() uint64 { return m.startBlock.Load() }

// Restore scans the blockCount blocks below the watermark and re-seeds
// the transaction hash cache from every IBC event found there. Packet
// events are additionally queued for re-broadcast so the engine retries
// delivery after a restart.
func (m *Monitor) Restore(ctx context.Context, blockCount uint64) ([]ibc.EventWithHeight, error) {
	start := m.startBlock.Load()
	if blockCount > start {
		return nil, fmt.Errorf("restore depth %d exceeds start block %d", blockCount, start)
	}
	events, err := m.fetchEvents(ctx, start-blockCount, start)
	if err != nil {
		return nil, err
	}
	m.cache.Ingest(events)
	for _, ev := range events {
		switch ev.Event.(type) {
		case ibc.SendPacket, ibc.WriteAcknowledgement:
			m.reprocess = append(m.reprocess, ev)
		}
	}
	m.log.Debug("Restored contract events",
		zap.Int("events", len(events)),
		zap.Int("reprocess", len(m.reprocess)),
		zap.Uint64("from", start-blockCount),
		zap.Uint64("to", start),
	)
	return events, nil
}

// Run polls until the context is cancelled. RPC failures are logged and
// retried on the next tick without advancing the watermark.
func (m *Monitor) Run(ctx context.Context) error {
	m.log.Info("Starting event monitor",
		zap.Uint64("start_block", m.startBlock.Load()),
		zap.Int("reprocess", len(m.reprocess)),
	)
	for _, ev := range m.reprocess {
		m.broadcast(ev)
	}
	m.reprocess = nil

	ticker := time.NewTicker(monitorTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.log.Debug("Event monitor shutting down")
			return ctx.Err()
		case <-ticker.C:
			if err := m.runOnce(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				m.log.Error("Failed to fetch contract events",
					zap.Uint64("from", m.startBlock.Load()),
					zap.Error(err),
				)
			}
		}
	}
}

func (m *Monitor) runOnce(ctx context.Context) error {
	tip, err := m.client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("fetch latest block number: %w", err)
	}
	start := m.startBlock.Load()
	if start >= tip {
		return nil
	}

	events, err := m.fetchEvents(ctx, start, tip)
	if err != nil {
		return err
	}
	m.cache.Ingest(events)
	for _, ev := range events {
		m.broadcast(ev)
	}
	m.startBlock.Store(tip + 1)
	return nil
}

func (m *Monitor) fetchEvents(ctx context.Context, from, to uint64) ([]ibc.EventWithHeight, error) {
	logs, err := m.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{m.contract},
	})
	if err != nil {
		return nil, fmt.Errorf("filter logs %d-%d: %w", from, to, err)
	}

	var events []ibc.EventWithHeight
	for _, log := range logs {
		ev, err := ParseLog(log)
		if errors.Is(err, ErrUnknownEvent) {
			continue
		}
		if err != nil {
			return nil, err
		}
		events = append(events, ibc.NewEventWithHeight(
			ev,
			ibc.HeightFromBlockNumber(log.BlockNumber),
			log.TxHash,
		))
	}
	return events, nil
}

func (m *Monitor) broadcast(ev ibc.EventWithHeight) {
	m.bus.Broadcast(&event.Batch{
		ChainID:    m.chainID,
		TrackingID: "axon contract event streaming",
		Height:     ev.Height,
		Events:     []ibc.EventWithHeight{ev},
	})
}
