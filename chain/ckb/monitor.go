package ckb

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wenyuanhust/forcerelay/event"
	"github.com/wenyuanhust/forcerelay/ibc"
	"github.com/wenyuanhust/forcerelay/relayer"
)

const monitorTick = time.Second

// Monitor walks finalized CKB blocks, turns IBC transactions into events
// and records their hashes for later proof building. Only blocks buried
// under the configured number of confirmations are processed, so a chain
// reorg within the confirmation window never reaches the engine.
type Monitor struct {
	log     *zap.Logger
	reader  Reader
	chainID string
	hashes  codeHashes
	cache   *relayer.TxHashCache
	bus     *event.Bus

	confirmations uint64
	// First block not yet scanned. Never advanced past an error so a
	// failed range is retried on the next tick. Atomic because the relay
	// store reads it from outside the poll loop.
	startBlock atomic.Uint64

	reprocess []ibc.EventWithHeight
}

func NewMonitor(log *zap.Logger, reader Reader, chainID string, hashes codeHashes,
	cache *relayer.TxHashCache, bus *event.Bus, confirmations, startBlock uint64) *Monitor {
	m := &Monitor{
		log:           log.Named("monitor"),
		reader:        reader,
		chainID:       chainID,
		hashes:        hashes,
		cache:         cache,
		bus:           bus,
		confirmations: confirmations,
	}
	m.startBlock.Store(startBlock)
	return m
}

// Watermark returns the first block the monitor has not yet scanned.
func (m *Monitor) Watermark() uint64 { return m.startBlock.Load() }

// Restore re-scans the last blockCount finalized blocks, re-seeding the
// tx hash cache and queueing still-relayable packet events so they are
// re-broadcast once the monitor starts.
func (m *Monitor) Restore(ctx context.Context, blockCount uint64) ([]ibc.EventWithHeight, error) {
	start := m.startBlock.Load()
	if blockCount > start {
		return nil, fmt.Errorf("cannot restore %d blocks from height %d", blockCount, start)
	}
	events, err := m.scanRange(ctx, start-blockCount, start)
	if err != nil {
		return nil, err
	}
	m.cache.Ingest(events)
	for _, ev := range events {
		switch ev.Event.Type() {
		case ibc.EventSendPacket, ibc.EventWriteAcknowledgement:
			m.reprocess = append(m.reprocess, ev)
		}
	}
	m.log.Info("Restored events from finalized blocks",
		zap.Uint64("blocks", blockCount),
		zap.Int("events", len(events)),
		zap.Int("reprocess", len(m.reprocess)),
	)
	return events, nil
}

// Run polls for newly finalized blocks until the context ends.
func (m *Monitor) Run(ctx context.Context) error {
	for _, ev := range m.reprocess {
		m.broadcast(ev)
	}
	m.reprocess = nil

	ticker := time.NewTicker(monitorTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.runOnce(ctx); err != nil {
				m.log.Warn("Event poll failed", zap.Error(err))
			}
		}
	}
}

func (m *Monitor) runOnce(ctx context.Context) error {
	tip, err := m.reader.GetTipHeader(ctx)
	if err != nil {
		return fmt.Errorf("query tip: %w", err)
	}
	if tip.Number < m.confirmations {
		return nil
	}
	finalized := tip.Number - m.confirmations
	start := m.startBlock.Load()
	if start > finalized {
		return nil
	}

	events, err := m.scanRange(ctx, start, finalized)
	if err != nil {
		return err
	}
	m.cache.Ingest(events)
	for _, ev := range events {
		m.broadcast(ev)
	}
	m.startBlock.Store(finalized + 1)
	return nil
}

// scanRange extracts IBC events from blocks [from, to].
func (m *Monitor) scanRange(ctx context.Context, from, to uint64) ([]ibc.EventWithHeight, error) {
	var events []ibc.EventWithHeight
	for number := from; number <= to; number++ {
		block, err := m.reader.GetBlockByNumber(ctx, number)
		if err != nil {
			return nil, fmt.Errorf("fetch block %d: %w", number, err)
		}
		for _, tx := range block.Transactions {
			ev, err := TransactionToEvent(tx, m.hashes)
			if err != nil {
				if !errors.Is(err, ErrNoEnvelope) {
					m.log.Debug("Skipping ibc transaction",
						zap.String("tx", tx.Hash.String()),
						zap.Error(err),
					)
				}
				continue
			}
			events = append(events, ibc.NewEventWithHeight(ev, ibc.HeightFromBlockNumber(number), tx.Hash))
		}
	}
	return events, nil
}

func (m *Monitor) broadcast(ev ibc.EventWithHeight) {
	m.bus.Broadcast(&event.Batch{
		ChainID:    m.chainID,
		TrackingID: "ckb cell event streaming",
		Height:     ev.Height,
		Events:     []ibc.EventWithHeight{ev},
	})
}
