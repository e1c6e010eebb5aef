package ibc

import (
	"bytes"
	"errors"
	"fmt"

	host "github.com/cosmos/ibc-go/v9/modules/core/24-host"
	"go.uber.org/multierr"
)

// Packet is a packet sent over an IBC channel as defined in ICS-4.
// See: https://github.com/cosmos/ibc/blob/master/spec/core/ics-004-channel-and-packet-semantics/README.md
type Packet struct {
	Sequence         uint64 // the order of sends and receives, enforced per channel
	SourcePort       string // the port on the sending chain
	SourceChannel    string // the channel end on the sending chain
	DestPort         string // the port on the receiving chain
	DestChannel      string // the channel end on the receiving chain
	Data             []byte // opaque payload defined by the application module
	TimeoutHeight    Height // destination height after which the packet times out; zero means no height timeout
	TimeoutTimestamp uint64 // destination timestamp in unix nanoseconds after which the packet times out; zero means no timestamp timeout
}

// Validate returns an error if the packet is not well-formed.
func (packet Packet) Validate() error {
	var merr error
	if packet.Sequence == 0 {
		multierr.AppendInto(&merr, errors.New("packet sequence cannot be 0"))
	}
	if err := host.PortIdentifierValidator(packet.SourcePort); err != nil {
		multierr.AppendInto(&merr, fmt.Errorf("invalid packet source port: %w", err))
	}
	if err := host.ChannelIdentifierValidator(packet.SourceChannel); err != nil {
		multierr.AppendInto(&merr, fmt.Errorf("invalid packet source channel: %w", err))
	}
	if err := host.PortIdentifierValidator(packet.DestPort); err != nil {
		multierr.AppendInto(&merr, fmt.Errorf("invalid packet destination port: %w", err))
	}
	if err := host.ChannelIdentifierValidator(packet.DestChannel); err != nil {
		multierr.AppendInto(&merr, fmt.Errorf("invalid packet destination channel: %w", err))
	}
	if packet.TimeoutHeight.IsZero() && packet.TimeoutTimestamp == 0 {
		multierr.AppendInto(&merr, errors.New("packet timeout height and packet timeout timestamp cannot both be 0"))
	}
	if len(packet.Data) == 0 {
		multierr.AppendInto(&merr, errors.New("packet data bytes cannot be empty"))
	}
	return merr
}

// Equal reports exact equality including payload bytes.
func (packet Packet) Equal(other Packet) bool {
	return packet.Sequence == other.Sequence &&
		packet.SourcePort == other.SourcePort &&
		packet.SourceChannel == other.SourceChannel &&
		packet.DestPort == other.DestPort &&
		packet.DestChannel == other.DestChannel &&
		packet.TimeoutHeight == other.TimeoutHeight &&
		packet.TimeoutTimestamp == other.TimeoutTimestamp &&
		bytes.Equal(packet.Data, other.Data)
}

// PacketAcknowledgement is written by the receiving chain once the packet
// was processed, and relayed back to the sending chain.
type PacketAcknowledgement struct {
	Packet          Packet
	Acknowledgement []byte
}

// Validate returns an error if the acknowledgement is not well-formed.
func (ack PacketAcknowledgement) Validate() error {
	if err := ack.Packet.Validate(); err != nil {
		return err
	}
	if len(ack.Acknowledgement) == 0 {
		return errors.New("packet acknowledgement cannot be empty")
	}
	return nil
}

// PacketTimeout closes out a packet whose height or timestamp threshold
// elapsed on the destination chain.
type PacketTimeout struct {
	Packet Packet
}

// Validate returns an error if the timeout is not well-formed.
func (timeout PacketTimeout) Validate() error {
	return timeout.Packet.Validate()
}
