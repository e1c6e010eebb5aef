package relayer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wenyuanhust/forcerelay/ibc"
)

func TestTxHashCacheIngest(t *testing.T) {
	t.Parallel()

	cache := NewTxHashCache()
	height := ibc.HeightFromBlockNumber(42)

	events := []ibc.EventWithHeight{
		ibc.NewEventWithHeight(ibc.OpenInitConnection{
			ConnectionAttributes: ibc.ConnectionAttributes{ConnectionID: "connection-0"},
		}, height, [32]byte{0xaa}),
		ibc.NewEventWithHeight(ibc.OpenTryChannel{
			ChannelAttributes: ibc.ChannelAttributes{PortID: "transfer", ChannelID: "channel-1"},
		}, height, [32]byte{0xbb}),
		ibc.NewEventWithHeight(ibc.SendPacket{
			Packet: ibc.Packet{Sequence: 7, SourcePort: "transfer", SourceChannel: "channel-1"},
		}, height, [32]byte{0xcc}),
	}
	cache.Ingest(events)

	h, ok := cache.Connection("connection-0")
	require.True(t, ok)
	require.Equal(t, [32]byte{0xaa}, h)

	h, ok = cache.Channel(ChannelKey{PortID: "transfer", ChannelID: "channel-1"})
	require.True(t, ok)
	require.Equal(t, [32]byte{0xbb}, h)

	h, ok = cache.Packet(PacketKey{ChannelID: "channel-1", PortID: "transfer", Sequence: 7})
	require.True(t, ok)
	require.Equal(t, [32]byte{0xcc}, h)

	_, ok = cache.Packet(PacketKey{ChannelID: "channel-1", PortID: "transfer", Sequence: 8})
	require.False(t, ok)
}

func TestTxHashCacheOverwrite(t *testing.T) {
	t.Parallel()

	cache := NewTxHashCache()
	cache.SetConnection("connection-3", [32]byte{1})
	cache.SetConnection("connection-3", [32]byte{2})

	h, ok := cache.Connection("connection-3")
	require.True(t, ok)
	require.Equal(t, [32]byte{2}, h, "later transactions replace earlier hashes")
}
