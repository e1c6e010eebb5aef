package ibc

import (
	"fmt"
	"strconv"
	"strings"
)

// Client type constant values. The axon and ckb4ibc types mirror the
// client identifiers the Axon IBC handler contract and the CKB cell
// scripts emit; 07-tendermint is the standard Cosmos client.
const (
	ClientTypeAxon       = "axon"
	ClientTypeCkb        = "ckb4ibc"
	ClientTypeTendermint = "07-tendermint"
)

const (
	channelPrefix    = "channel-"
	connectionPrefix = "connection-"
)

// ClientID formats the nth client identifier of a client type, e.g. "axon-0".
func ClientID(clientType string, counter uint64) string {
	return fmt.Sprintf("%s-%d", clientType, counter)
}

// ClientTypeOf extracts the client type from a client identifier by prefix.
// The empty string is returned when no known type matches.
func ClientTypeOf(clientID string) string {
	for _, typ := range []string{ClientTypeAxon, ClientTypeCkb, ClientTypeTendermint} {
		if strings.HasPrefix(clientID, typ) {
			return typ
		}
	}
	return ""
}

// ChannelID formats the nth channel identifier, e.g. "channel-3".
func ChannelID(index uint64) string {
	return fmt.Sprintf("%s%d", channelPrefix, index)
}

// ParseChannelNumber extracts the numeric index from a channel identifier.
func ParseChannelNumber(channelID string) (uint64, error) {
	rest, ok := strings.CutPrefix(channelID, channelPrefix)
	if !ok {
		return 0, fmt.Errorf("invalid channel id %q", channelID)
	}
	n, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid channel id %q", channelID)
	}
	return n, nil
}

// ConnectionID formats the nth connection identifier, e.g. "connection-1".
func ConnectionID(index uint16) string {
	return fmt.Sprintf("%s%d", connectionPrefix, index)
}

// ParseConnectionIndex extracts the numeric index from a connection
// identifier. CKB encodes the index in a cell arg, hence the uint16 range.
func ParseConnectionIndex(connectionID string) (uint16, error) {
	idx := strings.LastIndex(connectionID, "-")
	if idx < 0 {
		return 0, fmt.Errorf("invalid connection id %q", connectionID)
	}
	n, err := strconv.ParseUint(connectionID[idx+1:], 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid connection id %q", connectionID)
	}
	return uint16(n), nil
}
