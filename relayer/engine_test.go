package relayer

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/wenyuanhust/forcerelay/event"
	"github.com/wenyuanhust/forcerelay/ibc"
	"github.com/wenyuanhust/forcerelay/testutil"
)

// fakeEndpoint scripts just enough of Endpoint for engine tests.
type fakeEndpoint struct {
	id     string
	bus    *event.Bus
	height ibc.Height

	commitments map[PacketKey][]byte
	unreceived  []uint64
	channels    map[ChannelKey]ibc.ChannelEnd

	sent chan []Message
}

func newFakeEndpoint(id string) *fakeEndpoint {
	return &fakeEndpoint{
		id:          id,
		bus:         event.NewBus(),
		height:      ibc.HeightFromBlockNumber(100),
		commitments: make(map[PacketKey][]byte),
		channels:    make(map[ChannelKey]ibc.ChannelEnd),
		sent:        make(chan []Message, 16),
	}
}

func (f *fakeEndpoint) ID() string                         { return f.id }
func (f *fakeEndpoint) Bootstrap(context.Context) error    { return nil }
func (f *fakeEndpoint) HealthCheck(context.Context) error  { return nil }
func (f *fakeEndpoint) Signer() string                     { return "fake-signer" }
func (f *fakeEndpoint) Subscribe() <-chan *event.Batch     { return f.bus.Subscribe() }
func (f *fakeEndpoint) Close() error                       { f.bus.Close(); return nil }

func (f *fakeEndpoint) LatestHeight(context.Context) (ibc.Height, error) {
	return f.height, nil
}

func (f *fakeEndpoint) QueryClientState(context.Context, string, QueryHeight) (ibc.ClientState, error) {
	return ibc.ClientState{}, ErrNotSupported
}

func (f *fakeEndpoint) QueryConnection(context.Context, string, QueryHeight) (ibc.ConnectionEnd, error) {
	return ibc.ConnectionEnd{}, ErrNotSupported
}

func (f *fakeEndpoint) QueryConnections(context.Context) ([]ibc.IdentifiedConnectionEnd, error) {
	return nil, nil
}

func (f *fakeEndpoint) QueryChannel(_ context.Context, portID, channelID string, _ QueryHeight) (ibc.ChannelEnd, error) {
	end, ok := f.channels[ChannelKey{PortID: portID, ChannelID: channelID}]
	if !ok {
		return ibc.ChannelEnd{}, ErrNotSupported
	}
	return end, nil
}

func (f *fakeEndpoint) QueryChannels(context.Context) ([]ibc.IdentifiedChannelEnd, error) {
	return nil, nil
}

func (f *fakeEndpoint) QueryPacketCommitment(_ context.Context, key PacketKey, _ QueryHeight) ([]byte, error) {
	return f.commitments[key], nil
}

func (f *fakeEndpoint) QueryPacketAcknowledgement(context.Context, PacketKey, QueryHeight) ([]byte, error) {
	return nil, nil
}

func (f *fakeEndpoint) QueryPacketReceipt(context.Context, PacketKey, QueryHeight) (bool, error) {
	return false, nil
}

func (f *fakeEndpoint) QueryPacketCommitmentSequences(_ context.Context, portID, channelID string) ([]uint64, error) {
	var seqs []uint64
	for key := range f.commitments {
		if key.PortID == portID && key.ChannelID == channelID {
			seqs = append(seqs, key.Sequence)
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs, nil
}

func (f *fakeEndpoint) QueryUnreceivedPackets(context.Context, string, string, []uint64) ([]uint64, error) {
	return f.unreceived, nil
}

func (f *fakeEndpoint) QueryUnreceivedAcknowledgements(context.Context, string, string, []uint64) ([]uint64, error) {
	return nil, nil
}

func (f *fakeEndpoint) QueryNextSequenceReceive(context.Context, string, string, QueryHeight) (uint64, error) {
	return 1, nil
}

func (f *fakeEndpoint) SendMessages(_ context.Context, msgs []Message) ([]ibc.EventWithHeight, error) {
	f.sent <- msgs
	return nil, nil
}

func (f *fakeEndpoint) BuildConnectionProofs(context.Context, string) (Proofs, error) {
	return Proofs{Object: []byte("conn-proof"), Height: f.height}, nil
}

func (f *fakeEndpoint) BuildChannelProofs(context.Context, ChannelKey) (Proofs, error) {
	return Proofs{Object: []byte("chan-proof"), Height: f.height}, nil
}

func (f *fakeEndpoint) BuildPacketProofs(context.Context, PacketKey) (Proofs, error) {
	return Proofs{Object: []byte("packet-proof"), Height: f.height}, nil
}

// waitForSubscribers blocks until both relay directions are listening,
// so a broadcast right after Run cannot be lost.
func waitForSubscribers(t *testing.T, endpoints ...*fakeEndpoint) {
	t.Helper()
	err := testutil.WaitForCondition(5*time.Second, time.Millisecond, func() (bool, error) {
		for _, endpoint := range endpoints {
			if endpoint.bus.Subscribers() == 0 {
				return false, nil
			}
		}
		return true, nil
	})
	require.NoError(t, err)
}

func testPacket(seq uint64, timeoutBlock uint64) ibc.Packet {
	var timeout ibc.Height
	if timeoutBlock > 0 {
		timeout = ibc.HeightFromBlockNumber(timeoutBlock)
	}
	return ibc.Packet{
		Sequence:         seq,
		SourcePort:       "transfer",
		SourceChannel:    "channel-0",
		DestPort:         "transfer",
		DestChannel:      "channel-5",
		Data:             []byte("ping"),
		TimeoutHeight:    timeout,
		TimeoutTimestamp: uint64(time.Now().Add(time.Hour).UnixNano()),
	}
}

func TestEngineRelaysSendPacket(t *testing.T) {
	t.Parallel()

	src := newFakeEndpoint("axon-dev")
	dst := newFakeEndpoint("ckb4ibc-dev")
	engine := NewEngine(zaptest.NewLogger(t), src, dst)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()
	waitForSubscribers(t, src, dst)

	packet := testPacket(1, 500)
	src.bus.Broadcast(&event.Batch{
		ChainID: src.id,
		Height:  ibc.HeightFromBlockNumber(101),
		Events: []ibc.EventWithHeight{
			ibc.NewEventWithHeight(ibc.SendPacket{Packet: packet}, ibc.HeightFromBlockNumber(101), [32]byte{1}),
		},
	})

	select {
	case msgs := <-dst.sent:
		require.Len(t, msgs, 1)
		require.Equal(t, TypeURLRecvPacket, msgs[0].TypeURL)
		require.NotNil(t, msgs[0].RecvPacket)
		require.True(t, packet.Equal(msgs[0].RecvPacket.Packet))
		require.Equal(t, []byte("packet-proof"), msgs[0].RecvPacket.ProofCommitment.Object)
	case <-time.After(5 * time.Second):
		t.Fatal("no datagram reached the destination")
	}

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestEngineRelaysAcknowledgement(t *testing.T) {
	t.Parallel()

	src := newFakeEndpoint("ckb4ibc-dev")
	dst := newFakeEndpoint("axon-dev")
	engine := NewEngine(zaptest.NewLogger(t), src, dst)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = engine.Run(ctx) }()
	waitForSubscribers(t, src, dst)

	packet := testPacket(3, 0)
	src.bus.Broadcast(&event.Batch{
		ChainID: src.id,
		Height:  ibc.HeightFromBlockNumber(200),
		Events: []ibc.EventWithHeight{
			ibc.NewEventWithHeight(ibc.WriteAcknowledgement{Packet: packet, Ack: []byte{0x01}}, ibc.HeightFromBlockNumber(200), [32]byte{2}),
		},
	})

	select {
	case msgs := <-dst.sent:
		require.Len(t, msgs, 1)
		require.Equal(t, TypeURLAcknowledgement, msgs[0].TypeURL)
		require.Equal(t, []byte{0x01}, msgs[0].Acknowledgement.Acknowledgement)
	case <-time.After(5 * time.Second):
		t.Fatal("no acknowledgement reached the destination")
	}
}

func TestEngineTimesOutElapsedPacket(t *testing.T) {
	t.Parallel()

	src := newFakeEndpoint("axon-dev")
	dst := newFakeEndpoint("ckb4ibc-dev")
	dst.height = ibc.HeightFromBlockNumber(1000)
	engine := NewEngine(zaptest.NewLogger(t), src, dst)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = engine.Run(ctx) }()
	waitForSubscribers(t, src, dst)

	// Timeout height 500 already passed on the destination.
	packet := testPacket(9, 500)
	src.bus.Broadcast(&event.Batch{
		ChainID: src.id,
		Height:  ibc.HeightFromBlockNumber(300),
		Events: []ibc.EventWithHeight{
			ibc.NewEventWithHeight(ibc.SendPacket{Packet: packet}, ibc.HeightFromBlockNumber(300), [32]byte{3}),
		},
	})

	select {
	case msgs := <-src.sent:
		require.Len(t, msgs, 1)
		require.Equal(t, TypeURLTimeout, msgs[0].TypeURL)
		require.Equal(t, uint64(9), msgs[0].Timeout.Packet.Sequence)
	case <-time.After(5 * time.Second):
		t.Fatal("no timeout reached the source")
	}

	// Nothing was forwarded to the destination.
	select {
	case msgs := <-dst.sent:
		t.Fatalf("unexpected datagrams on destination: %d", len(msgs))
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEnginePendingPackets(t *testing.T) {
	t.Parallel()

	src := newFakeEndpoint("axon-dev")
	dst := newFakeEndpoint("ckb4ibc-dev")
	engine := NewEngine(zaptest.NewLogger(t), src, dst)

	key := ChannelKey{PortID: "transfer", ChannelID: "channel-0"}
	src.channels[key] = ibc.ChannelEnd{
		State:    ibc.StateOpen,
		Ordering: ibc.OrderUnordered,
		Counterparty: ibc.ChannelCounterparty{
			PortID:    "transfer",
			ChannelID: "channel-5",
		},
	}
	src.commitments[PacketKey{ChannelID: "channel-0", PortID: "transfer", Sequence: 1}] = []byte{1}
	src.commitments[PacketKey{ChannelID: "channel-0", PortID: "transfer", Sequence: 2}] = []byte{2}
	dst.unreceived = []uint64{2}

	pending, err := engine.PendingPackets(context.Background(), src, dst, key)
	require.NoError(t, err)
	require.Equal(t, []uint64{2}, pending)

	// Closed channels are rejected.
	src.channels[key] = ibc.ChannelEnd{State: ibc.StateClosed}
	_, err = engine.PendingPackets(context.Background(), src, dst, key)
	require.Error(t, err)
}

func TestEnginePendingPacketsSparseCommitments(t *testing.T) {
	t.Parallel()

	src := newFakeEndpoint("axon-dev")
	dst := newFakeEndpoint("ckb4ibc-dev")
	engine := NewEngine(zaptest.NewLogger(t), src, dst)

	key := ChannelKey{PortID: "transfer", ChannelID: "channel-0"}
	src.channels[key] = ibc.ChannelEnd{
		State:    ibc.StateOpen,
		Ordering: ibc.OrderUnordered,
		Counterparty: ibc.ChannelCounterparty{
			PortID:    "transfer",
			ChannelID: "channel-5",
		},
	}
	// Sequence 1 was acknowledged and its commitment pruned; only 2 and 5
	// still stand.
	src.commitments[PacketKey{ChannelID: "channel-0", PortID: "transfer", Sequence: 2}] = []byte{2}
	src.commitments[PacketKey{ChannelID: "channel-0", PortID: "transfer", Sequence: 5}] = []byte{5}
	dst.unreceived = []uint64{2, 5}

	pending, err := engine.PendingPackets(context.Background(), src, dst, key)
	require.NoError(t, err)
	require.Equal(t, []uint64{2, 5}, pending)
}
