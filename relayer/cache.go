package relayer

import (
	"sync"

	"github.com/wenyuanhust/forcerelay/ibc"
)

// PacketKey identifies one packet commitment on a chain.
type PacketKey struct {
	ChannelID string
	PortID    string
	Sequence  uint64
}

// ChannelKey identifies one channel end on a chain.
type ChannelKey struct {
	PortID    string
	ChannelID string
}

// TxHashCache remembers which transaction last touched each connection,
// channel and packet. Proof building needs the transaction hash to fetch
// the receipt the proof is built from, so an endpoint records the hash
// whenever it observes or sends a state-changing transaction.
type TxHashCache struct {
	mu      sync.RWMutex
	conns   map[string][32]byte
	chans   map[ChannelKey][32]byte
	packets map[PacketKey][32]byte
}

func NewTxHashCache() *TxHashCache {
	return &TxHashCache{
		conns:   make(map[string][32]byte),
		chans:   make(map[ChannelKey][32]byte),
		packets: make(map[PacketKey][32]byte),
	}
}

func (c *TxHashCache) SetConnection(id string, txHash [32]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[id] = txHash
}

func (c *TxHashCache) Connection(id string) ([32]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.conns[id]
	return h, ok
}

func (c *TxHashCache) SetChannel(key ChannelKey, txHash [32]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chans[key] = txHash
}

func (c *TxHashCache) Channel(key ChannelKey) ([32]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.chans[key]
	return h, ok
}

func (c *TxHashCache) SetPacket(key PacketKey, txHash [32]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.packets[key] = txHash
}

func (c *TxHashCache) Packet(key PacketKey) ([32]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.packets[key]
	return h, ok
}

// Connections returns a snapshot of the connection entries.
func (c *TxHashCache) Connections() map[string][32]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string][32]byte, len(c.conns))
	for k, v := range c.conns {
		out[k] = v
	}
	return out
}

// Channels returns a snapshot of the channel entries.
func (c *TxHashCache) Channels() map[ChannelKey][32]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[ChannelKey][32]byte, len(c.chans))
	for k, v := range c.chans {
		out[k] = v
	}
	return out
}

// Packets returns a snapshot of the packet entries.
func (c *TxHashCache) Packets() map[PacketKey][32]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[PacketKey][32]byte, len(c.packets))
	for k, v := range c.packets {
		out[k] = v
	}
	return out
}

// Ingest records the transaction hashes carried by a batch of events so
// later proof requests can find them.
func (c *TxHashCache) Ingest(events []ibc.EventWithHeight) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ev := range events {
		switch e := ev.Event.(type) {
		case ibc.OpenInitConnection:
			c.conns[e.ConnectionID] = ev.TxHash
		case ibc.OpenTryConnection:
			c.conns[e.ConnectionID] = ev.TxHash
		case ibc.OpenAckConnection:
			c.conns[e.ConnectionID] = ev.TxHash
		case ibc.OpenConfirmConnection:
			c.conns[e.ConnectionID] = ev.TxHash
		case ibc.OpenInitChannel:
			c.chans[ChannelKey{e.PortID, e.ChannelID}] = ev.TxHash
		case ibc.OpenTryChannel:
			c.chans[ChannelKey{e.PortID, e.ChannelID}] = ev.TxHash
		case ibc.OpenAckChannel:
			c.chans[ChannelKey{e.PortID, e.ChannelID}] = ev.TxHash
		case ibc.OpenConfirmChannel:
			c.chans[ChannelKey{e.PortID, e.ChannelID}] = ev.TxHash
		case ibc.CloseInitChannel:
			c.chans[ChannelKey{e.PortID, e.ChannelID}] = ev.TxHash
		case ibc.CloseConfirmChannel:
			c.chans[ChannelKey{e.PortID, e.ChannelID}] = ev.TxHash
		case ibc.SendPacket:
			c.packets[packetKey(e.Packet)] = ev.TxHash
		case ibc.WriteAcknowledgement:
			c.packets[packetKey(e.Packet)] = ev.TxHash
		}
	}
}

func packetKey(p ibc.Packet) PacketKey {
	return PacketKey{
		ChannelID: p.SourceChannel,
		PortID:    p.SourcePort,
		Sequence:  p.Sequence,
	}
}
