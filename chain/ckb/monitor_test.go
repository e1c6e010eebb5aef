package ckb

import (
	"context"
	"testing"

	"github.com/nervosnetwork/ckb-sdk-go/v2/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wenyuanhust/forcerelay/event"
	"github.com/wenyuanhust/forcerelay/relayer"
)

func testMonitor(t *testing.T, reader Reader, startBlock uint64) (*Monitor, *relayer.TxHashCache) {
	t.Helper()
	cache := relayer.NewTxHashCache()
	m := NewMonitor(zaptest.NewLogger(t), reader, "ckb4ibc-dev", testHashes, cache, event.NewBus(), 3, startBlock)
	return m, cache
}

func TestMonitorRestoreReseedsCacheAndReplay(t *testing.T) {
	t.Parallel()

	tx := ibcTransaction(t, testHashes.packet, testPacketCell(), MsgSendPacket)
	tx.Hash = types.Hash{0xab}
	reader := &fakeReader{
		tip: 100,
		blocks: map[uint64]*types.Block{
			95: {Header: &types.Header{Number: 95}, Transactions: []*types.Transaction{tx}},
		},
	}
	m, cache := testMonitor(t, reader, 100)

	events, err := m.Restore(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Len(t, m.reprocess, 1, "send packets are queued for re-broadcast")

	sent := testPacketCell().IbcPacket()
	hash, ok := cache.Packet(relayer.PacketKey{
		ChannelID: sent.SourceChannel,
		PortID:    sent.SourcePort,
		Sequence:  sent.Sequence,
	})
	require.True(t, ok, "the proof source survives the restart")
	require.Equal(t, [32]byte{0xab}, hash)
}

func TestMonitorRestoreRejectsExcessiveDepth(t *testing.T) {
	t.Parallel()

	m, _ := testMonitor(t, &fakeReader{tip: 100}, 50)
	_, err := m.Restore(context.Background(), 51)
	require.Error(t, err)
}

func TestMonitorWatermarkAdvancesPastFinalizedBlocks(t *testing.T) {
	t.Parallel()

	m, _ := testMonitor(t, &fakeReader{tip: 110}, 100)
	require.EqualValues(t, 100, m.Watermark())

	require.NoError(t, m.runOnce(context.Background()))
	// Tip 110 with three confirmations finalizes up to block 107.
	require.EqualValues(t, 108, m.Watermark())
}
