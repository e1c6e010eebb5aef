package cosmos

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	abci "github.com/cometbft/cometbft/abci/types"

	"github.com/wenyuanhust/forcerelay/ibc"
)

// ABCI event type names emitted by ibc-go modules.
const (
	abciSendPacket           = "send_packet"
	abciRecvPacket           = "recv_packet"
	abciWriteAcknowledgement = "write_acknowledgement"
	abciAcknowledgePacket    = "acknowledge_packet"
)

// ParseABCIEvent maps one ABCI event to its IBC counterpart. Events the
// relayer does not react to return (nil, nil).
func ParseABCIEvent(ev abci.Event) (ibc.Event, error) {
	switch ev.Type {
	case abciSendPacket:
		packet, err := packetFromAttributes(ev.Attributes)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", ev.Type, err)
		}
		return ibc.SendPacket{Packet: packet}, nil

	case abciRecvPacket:
		packet, err := packetFromAttributes(ev.Attributes)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", ev.Type, err)
		}
		return ibc.ReceivePacket{Packet: packet}, nil

	case abciWriteAcknowledgement:
		packet, err := packetFromAttributes(ev.Attributes)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", ev.Type, err)
		}
		ack, err := ackFromAttributes(ev.Attributes)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", ev.Type, err)
		}
		return ibc.WriteAcknowledgement{Packet: packet, Ack: ack}, nil

	case abciAcknowledgePacket:
		packet, err := packetFromAttributes(ev.Attributes)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", ev.Type, err)
		}
		return ibc.AcknowledgePacket{Packet: packet}, nil
	}
	return nil, nil
}

func attribute(attrs []abci.EventAttribute, key string) (string, bool) {
	for _, attr := range attrs {
		if attr.Key == key {
			return attr.Value, true
		}
	}
	return "", false
}

func packetFromAttributes(attrs []abci.EventAttribute) (ibc.Packet, error) {
	var packet ibc.Packet

	seq, ok := attribute(attrs, "packet_sequence")
	if !ok {
		return packet, fmt.Errorf("missing packet_sequence")
	}
	sequence, err := strconv.ParseUint(seq, 10, 64)
	if err != nil {
		return packet, fmt.Errorf("bad packet_sequence %q", seq)
	}
	packet.Sequence = sequence

	packet.SourcePort, _ = attribute(attrs, "packet_src_port")
	packet.SourceChannel, _ = attribute(attrs, "packet_src_channel")
	packet.DestPort, _ = attribute(attrs, "packet_dst_port")
	packet.DestChannel, _ = attribute(attrs, "packet_dst_channel")

	// ibc-go emits the payload hex-encoded.
	if raw, ok := attribute(attrs, "packet_data_hex"); ok {
		data, err := hex.DecodeString(raw)
		if err != nil {
			return packet, fmt.Errorf("bad packet_data_hex: %w", err)
		}
		packet.Data = data
	} else if raw, ok := attribute(attrs, "packet_data"); ok {
		packet.Data = []byte(raw)
	}

	if raw, ok := attribute(attrs, "packet_timeout_height"); ok && raw != "" {
		height, err := parseTimeoutHeight(raw)
		if err != nil {
			return packet, err
		}
		packet.TimeoutHeight = height
	}
	if raw, ok := attribute(attrs, "packet_timeout_timestamp"); ok && raw != "" {
		ts, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return packet, fmt.Errorf("bad packet_timeout_timestamp %q", raw)
		}
		packet.TimeoutTimestamp = ts
	}
	return packet, nil
}

func ackFromAttributes(attrs []abci.EventAttribute) ([]byte, error) {
	if raw, ok := attribute(attrs, "packet_ack_hex"); ok {
		ack, err := hex.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("bad packet_ack_hex: %w", err)
		}
		return ack, nil
	}
	if raw, ok := attribute(attrs, "packet_ack"); ok {
		return []byte(raw), nil
	}
	return nil, fmt.Errorf("missing acknowledgement attribute")
}

// parseTimeoutHeight decodes the "revision-height" form, e.g. "0-1523".
func parseTimeoutHeight(raw string) (ibc.Height, error) {
	revision, height, found := strings.Cut(raw, "-")
	if !found {
		return ibc.Height{}, fmt.Errorf("bad packet_timeout_height %q", raw)
	}
	rn, err := strconv.ParseUint(revision, 10, 64)
	if err != nil {
		return ibc.Height{}, fmt.Errorf("bad packet_timeout_height %q", raw)
	}
	rh, err := strconv.ParseUint(height, 10, 64)
	if err != nil {
		return ibc.Height{}, fmt.Errorf("bad packet_timeout_height %q", raw)
	}
	return ibc.Height{RevisionNumber: rn, RevisionHeight: rh}, nil
}
