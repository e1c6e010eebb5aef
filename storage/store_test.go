package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wenyuanhust/forcerelay/ibc"
	"github.com/wenyuanhust/forcerelay/relayer"
)

func migratedStore(t *testing.T, chainID string) *Store {
	t.Helper()
	ctx := context.Background()
	db, err := ConnectDB(ctx, ":memory:", 1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Migrate(db))
	return NewStore(db, chainID)
}

func TestMigrateIdempotent(t *testing.T) {
	t.Parallel()

	db, err := ConnectDB(context.Background(), ":memory:", 1)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(db))
	require.NoError(t, Migrate(db))
}

func TestWatermarkRoundtrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := migratedStore(t, "axon-dev")

	_, err := store.Watermark(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.SetWatermark(ctx, 120))
	require.NoError(t, store.SetWatermark(ctx, 140))

	height, err := store.Watermark(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 140, height)
}

func TestWatermarksArePerChain(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, err := ConnectDB(ctx, ":memory:", 1)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, Migrate(db))

	axon := NewStore(db, "axon-dev")
	ckb := NewStore(db, "ckb4ibc-dev")

	require.NoError(t, axon.SetWatermark(ctx, 10))
	require.NoError(t, ckb.SetWatermark(ctx, 99))

	height, err := axon.Watermark(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 10, height)
}

func TestTxHashRoundtrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := migratedStore(t, "axon-dev")

	packet := relayer.PacketKey{PortID: "transfer", ChannelID: "channel-0", Sequence: 7}
	channel := relayer.ChannelKey{PortID: "transfer", ChannelID: "channel-0"}

	require.NoError(t, store.PutPacketTxHash(ctx, packet, [32]byte{1}))
	require.NoError(t, store.PutChannelTxHash(ctx, channel, [32]byte{2}))
	require.NoError(t, store.PutConnectionTxHash(ctx, "connection-0", [32]byte{3}))

	hash, err := store.PacketTxHash(ctx, packet)
	require.NoError(t, err)
	require.Equal(t, [32]byte{1}, hash)

	hash, err = store.ChannelTxHash(ctx, channel)
	require.NoError(t, err)
	require.Equal(t, [32]byte{2}, hash)

	hash, err = store.ConnectionTxHash(ctx, "connection-0")
	require.NoError(t, err)
	require.Equal(t, [32]byte{3}, hash)

	_, err = store.PacketTxHash(ctx, relayer.PacketKey{PortID: "transfer", ChannelID: "channel-0", Sequence: 8})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSaveLoadCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := migratedStore(t, "ckb4ibc-dev")

	cache := relayer.NewTxHashCache()
	cache.Ingest([]ibc.EventWithHeight{
		ibc.NewEventWithHeight(ibc.SendPacket{Packet: ibc.Packet{
			Sequence:      5,
			SourcePort:    "transfer",
			SourceChannel: "channel-1",
		}}, ibc.HeightFromBlockNumber(50), [32]byte{0xaa}),
		ibc.NewEventWithHeight(ibc.OpenAckChannel{ChannelAttributes: ibc.ChannelAttributes{
			PortID:    "transfer",
			ChannelID: "channel-1",
		}}, ibc.HeightFromBlockNumber(51), [32]byte{0xbb}),
		ibc.NewEventWithHeight(ibc.OpenInitConnection{ConnectionAttributes: ibc.ConnectionAttributes{
			ConnectionID: "connection-0",
		}}, ibc.HeightFromBlockNumber(52), [32]byte{0xcc}),
	})
	require.NoError(t, store.SaveCache(ctx, cache))

	restored := relayer.NewTxHashCache()
	require.NoError(t, store.LoadCache(ctx, restored))

	hash, ok := restored.Packet(relayer.PacketKey{PortID: "transfer", ChannelID: "channel-1", Sequence: 5})
	require.True(t, ok)
	require.Equal(t, [32]byte{0xaa}, hash)

	hash, ok = restored.Channel(relayer.ChannelKey{PortID: "transfer", ChannelID: "channel-1"})
	require.True(t, ok)
	require.Equal(t, [32]byte{0xbb}, hash)

	hash, ok = restored.Connection("connection-0")
	require.True(t, ok)
	require.Equal(t, [32]byte{0xcc}, hash)
}

func TestParseObjectKeys(t *testing.T) {
	t.Parallel()

	key, err := parsePacketObjectKey("transfer/channel-2/31")
	require.NoError(t, err)
	require.Equal(t, relayer.PacketKey{PortID: "transfer", ChannelID: "channel-2", Sequence: 31}, key)

	_, err = parsePacketObjectKey("transfer-channel-2-31")
	require.Error(t, err)

	_, err = parseChannelObjectKey("nodelimiter")
	require.Error(t, err)
}
