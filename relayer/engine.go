package relayer

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wenyuanhust/forcerelay/event"
	"github.com/wenyuanhust/forcerelay/ibc"
)

// Engine relays packets between two bootstrapped endpoints, one worker
// per direction. Handshake datagrams are driven by the operator through
// the endpoints directly; the engine's job is the packet lifecycle.
type Engine struct {
	log *zap.Logger
	a   Endpoint
	b   Endpoint
}

func NewEngine(log *zap.Logger, a, b Endpoint) *Engine {
	return &Engine{log: log, a: a, b: b}
}

// Run blocks relaying events until the context is cancelled or a
// direction fails irrecoverably.
func (e *Engine) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return e.relayDirection(ctx, e.a, e.b) })
	eg.Go(func() error { return e.relayDirection(ctx, e.b, e.a) })
	return eg.Wait()
}

func (e *Engine) relayDirection(ctx context.Context, src, dst Endpoint) error {
	log := e.log.With(zap.String("src", src.ID()), zap.String("dst", dst.ID()))
	sub := src.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-sub:
			if !ok {
				return fmt.Errorf("event stream of %s closed", src.ID())
			}
			if err := e.processBatch(ctx, log, src, dst, batch); err != nil {
				// A failed batch is retried through the packet clear
				// path on the next restart; keep the direction alive.
				log.Warn("Failed to process event batch",
					zap.Uint64("height", batch.Height.RevisionHeight),
					zap.Error(err),
				)
			}
		}
	}
}

// processBatch converts the packet events of one source batch into
// datagrams for the destination and submits them in a single call.
func (e *Engine) processBatch(ctx context.Context, log *zap.Logger, src, dst Endpoint, batch *event.Batch) error {
	var msgs []Message
	var timeouts []Message

	for _, ev := range batch.Events {
		switch ev := ev.Event.(type) {
		case ibc.SendPacket:
			msg, timedOut, err := e.packetMessage(ctx, src, dst, ev.Packet)
			if err != nil {
				return err
			}
			if timedOut {
				timeouts = append(timeouts, msg)
			} else {
				msgs = append(msgs, msg)
			}
		case ibc.WriteAcknowledgement:
			proofs, err := src.BuildPacketProofs(ctx, PacketKey{
				ChannelID: ev.Packet.SourceChannel,
				PortID:    ev.Packet.SourcePort,
				Sequence:  ev.Packet.Sequence,
			})
			if err != nil {
				return fmt.Errorf("build ack proofs for sequence %d: %w", ev.Packet.Sequence, err)
			}
			msgs = append(msgs, Message{
				TypeURL: TypeURLAcknowledgement,
				Acknowledgement: &MsgAcknowledgement{
					Packet:          ev.Packet,
					Acknowledgement: ev.Ack,
					ProofAcked:      proofs,
				},
			})
		}
	}

	// Timeouts go back to the source chain, everything else forward.
	if len(timeouts) > 0 {
		events, err := src.SendMessages(ctx, timeouts)
		if err != nil {
			return fmt.Errorf("send %d timeouts to %s: %w", len(timeouts), src.ID(), err)
		}
		log.Info("Timed out packets", zap.Int("msgs", len(timeouts)), zap.Int("events", len(events)))
	}
	if len(msgs) == 0 {
		return nil
	}
	events, err := dst.SendMessages(ctx, msgs)
	if err != nil {
		return fmt.Errorf("send %d datagrams to %s: %w", len(msgs), dst.ID(), err)
	}
	log.Info("Relayed packet datagrams",
		zap.Uint64("height", batch.Height.RevisionHeight),
		zap.Int("msgs", len(msgs)),
		zap.Int("events", len(events)),
	)
	return nil
}

// packetMessage builds the datagram for one sent packet: a receive on the
// destination, or a timeout back to the source when the packet can no
// longer be delivered.
func (e *Engine) packetMessage(ctx context.Context, src, dst Endpoint, packet ibc.Packet) (Message, bool, error) {
	key := PacketKey{
		ChannelID: packet.SourceChannel,
		PortID:    packet.SourcePort,
		Sequence:  packet.Sequence,
	}
	proofs, err := src.BuildPacketProofs(ctx, key)
	if err != nil {
		return Message{}, false, fmt.Errorf("build packet proofs for sequence %d: %w", packet.Sequence, err)
	}

	if !packet.TimeoutHeight.IsZero() {
		dstHeight, err := dst.LatestHeight(ctx)
		if err != nil {
			return Message{}, false, fmt.Errorf("query %s height: %w", dst.ID(), err)
		}
		if !dstHeight.LT(packet.TimeoutHeight) {
			return Message{
				TypeURL: TypeURLTimeout,
				Timeout: &MsgTimeout{
					Packet:           packet,
					NextSequenceRecv: packet.Sequence,
					ProofUnreceived:  proofs,
				},
			}, true, nil
		}
	}

	return Message{
		TypeURL: TypeURLRecvPacket,
		RecvPacket: &MsgRecvPacket{
			Packet:          packet,
			ProofCommitment: proofs,
		},
	}, false, nil
}

// PendingPackets reports the packet sequences committed on src but not yet
// received on dst over the given channel. Clearing them is done by the
// monitors, which replay recent blocks at bootstrap and re-broadcast the
// original send events; this query tells the operator what is stuck.
func (e *Engine) PendingPackets(ctx context.Context, src, dst Endpoint, channel ChannelKey) ([]uint64, error) {
	srcChan, err := src.QueryChannel(ctx, channel.PortID, channel.ChannelID, Latest())
	if err != nil {
		return nil, fmt.Errorf("query channel %s/%s on %s: %w", channel.PortID, channel.ChannelID, src.ID(), err)
	}
	if srcChan.State != ibc.StateOpen {
		return nil, fmt.Errorf("channel %s/%s on %s is %s, not OPEN", channel.PortID, channel.ChannelID, src.ID(), srcChan.State)
	}

	// Enumerate rather than scan from 1: acknowledged packets are pruned,
	// so the standing commitments can be a sparse sequence set.
	pending, err := src.QueryPacketCommitmentSequences(ctx, channel.PortID, channel.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("query packet commitments on %s: %w", src.ID(), err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	unreceived, err := dst.QueryUnreceivedPackets(ctx, srcChan.Counterparty.PortID, srcChan.Counterparty.ChannelID, pending)
	if err != nil {
		return nil, fmt.Errorf("query unreceived packets on %s: %w", dst.ID(), err)
	}
	return unreceived, nil
}
