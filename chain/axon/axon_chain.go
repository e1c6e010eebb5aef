// Package axon implements the relayer endpoint for Axon, an EVM chain
// whose IBC state lives in the OwnableIBCHandler contract. Queries are
// contract calls, datagrams are contract transactions, and proofs are
// built from transaction receipts plus the chain's consensus metadata.
package axon

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/wenyuanhust/forcerelay/config"
	"github.com/wenyuanhust/forcerelay/event"
	"github.com/wenyuanhust/forcerelay/ibc"
	"github.com/wenyuanhust/forcerelay/keyring"
	"github.com/wenyuanhust/forcerelay/relayer"
)

// Chain is the Axon relayer endpoint.
type Chain struct {
	cfg   config.Axon
	log   *zap.Logger
	key   *keyring.Key
	cache *relayer.TxHashCache
	bus   *event.Bus

	client       *ethclient.Client
	rpc          *RPCClient
	contract     *Contract
	evmChainID   *big.Int
	monitor      *Monitor
	resumeHeight uint64
	cancel       context.CancelFunc
}

var _ relayer.Endpoint = (*Chain)(nil)

func NewChain(log *zap.Logger, cfg config.Axon, key *keyring.Key) *Chain {
	return &Chain{
		cfg:   cfg,
		log:   log.With(zap.String("chain", cfg.ID)),
		key:   key,
		cache: relayer.NewTxHashCache(),
		bus:   event.NewBus(),
	}
}

func (c *Chain) ID() string { return c.cfg.ID }

// Cache exposes the tx-hash cache so callers can persist and restore it.
func (c *Chain) Cache() *relayer.TxHashCache { return c.cache }

// ResumeFrom sets the block the monitor starts scanning at on the next
// Bootstrap, typically a persisted watermark. Zero means the chain tip.
func (c *Chain) ResumeFrom(height uint64) { c.resumeHeight = height }

// SyncHeight reports the monitor's watermark, zero before Bootstrap.
func (c *Chain) SyncHeight() uint64 {
	if c.monitor == nil {
		return 0
	}
	return c.monitor.Watermark()
}

// Bootstrap dials the node, binds the handler contract and starts the
// event monitor from the current tip.
func (c *Chain) Bootstrap(ctx context.Context) error {
	addr := c.cfg.RPCAddr
	if addr == "" {
		addr = c.cfg.WebsocketAddr
	}

	// The node may still be starting; retry the first contact.
	err := retry.Do(func() error {
		client, err := ethclient.DialContext(ctx, addr)
		if err != nil {
			return err
		}
		c.client = client
		return nil
	}, retry.Context(ctx), retry.Attempts(10), retry.Delay(time.Second), retry.DelayType(retry.BackOffDelay))
	if err != nil {
		return fmt.Errorf("dial axon node %s: %w", addr, err)
	}

	c.evmChainID, err = c.client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("query evm chain id: %w", err)
	}
	c.rpc = NewRPCClient(addr)
	c.contract = NewContract(c.cfg.ContractAddress, c.client)

	tip, err := c.client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("query tip: %w", err)
	}
	start := tip
	if c.resumeHeight > 0 && c.resumeHeight <= tip {
		start = c.resumeHeight
	}
	c.monitor = NewMonitor(c.log, c.client, c.cfg.ID, c.cfg.ContractAddress, c.cache, c.bus, start)
	if c.cfg.RestoreBlockCount > 0 {
		restoreDepth := min(c.cfg.RestoreBlockCount, start)
		if _, err := c.monitor.Restore(ctx, restoreDepth); err != nil {
			return fmt.Errorf("restore events: %w", err)
		}
	}

	monitorCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go func() {
		if err := c.monitor.Run(monitorCtx); err != nil && monitorCtx.Err() == nil {
			c.log.Error("Event monitor stopped", zap.Error(err))
		}
	}()

	c.log.Info("Bootstrapped axon endpoint",
		zap.String("addr", addr),
		zap.Uint64("evm_chain_id", c.evmChainID.Uint64()),
		zap.String("contract", c.cfg.ContractAddress.Hex()),
		zap.Uint64("tip", tip),
	)
	return nil
}

// HealthCheck verifies the node still answers on the eth namespace.
func (c *Chain) HealthCheck(ctx context.Context) error {
	if _, err := c.client.BlockNumber(ctx); err != nil {
		return fmt.Errorf("health check %s: %w", c.cfg.ID, err)
	}
	return nil
}

// Signer returns the configured key's eth address.
func (c *Chain) Signer() string { return c.key.EthAddress().Hex() }

func (c *Chain) Subscribe() <-chan *event.Batch { return c.bus.Subscribe() }

func (c *Chain) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.bus.Close()
	if c.client != nil {
		c.client.Close()
	}
	return nil
}

func (c *Chain) LatestHeight(ctx context.Context) (ibc.Height, error) {
	tip, err := c.client.BlockNumber(ctx)
	if err != nil {
		return ibc.Height{}, fmt.Errorf("query tip: %w", err)
	}
	return ibc.HeightFromBlockNumber(tip), nil
}

func (c *Chain) QueryClientState(ctx context.Context, clientID string, at relayer.QueryHeight) (ibc.ClientState, error) {
	if !at.IsLatest() {
		return ibc.ClientState{}, relayer.ErrSpecificHeight
	}
	data, found, err := c.contract.ClientState(ctx, clientID)
	if err != nil {
		return ibc.ClientState{}, err
	}
	if !found {
		return ibc.ClientState{}, fmt.Errorf("client %s not found", clientID)
	}
	var state ibc.ClientState
	if err := json.Unmarshal(data, &state); err != nil {
		return ibc.ClientState{}, fmt.Errorf("decode client state of %s: %w", clientID, err)
	}
	return state, nil
}

func (c *Chain) QueryConnection(ctx context.Context, connectionID string, at relayer.QueryHeight) (ibc.ConnectionEnd, error) {
	if !at.IsLatest() {
		return ibc.ConnectionEnd{}, relayer.ErrSpecificHeight
	}
	end, found, err := c.contract.Connection(ctx, connectionID)
	if err != nil {
		return ibc.ConnectionEnd{}, err
	}
	if !found {
		return ibc.ConnectionEnd{}, fmt.Errorf("connection %s not found", connectionID)
	}
	return end, nil
}

func (c *Chain) QueryConnections(ctx context.Context) ([]ibc.IdentifiedConnectionEnd, error) {
	return c.contract.Connections(ctx)
}

func (c *Chain) QueryChannel(ctx context.Context, portID, channelID string, at relayer.QueryHeight) (ibc.ChannelEnd, error) {
	if !at.IsLatest() {
		return ibc.ChannelEnd{}, relayer.ErrSpecificHeight
	}
	end, found, err := c.contract.Channel(ctx, portID, channelID)
	if err != nil {
		return ibc.ChannelEnd{}, err
	}
	if !found {
		return ibc.ChannelEnd{}, fmt.Errorf("channel %s/%s not found", portID, channelID)
	}
	return end, nil
}

func (c *Chain) QueryChannels(ctx context.Context) ([]ibc.IdentifiedChannelEnd, error) {
	return c.contract.Channels(ctx)
}

func (c *Chain) QueryPacketCommitment(ctx context.Context, key relayer.PacketKey, at relayer.QueryHeight) ([]byte, error) {
	if !at.IsLatest() {
		return nil, relayer.ErrSpecificHeight
	}
	commitment, found, err := c.contract.PacketCommitment(ctx, key.PortID, key.ChannelID, key.Sequence)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return commitment, nil
}

func (c *Chain) QueryPacketAcknowledgement(ctx context.Context, key relayer.PacketKey, at relayer.QueryHeight) ([]byte, error) {
	if !at.IsLatest() {
		return nil, relayer.ErrSpecificHeight
	}
	commitment, found, err := c.contract.PacketAcknowledgement(ctx, key.PortID, key.ChannelID, key.Sequence)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return commitment, nil
}

func (c *Chain) QueryPacketReceipt(ctx context.Context, key relayer.PacketKey, at relayer.QueryHeight) (bool, error) {
	if !at.IsLatest() {
		return false, relayer.ErrSpecificHeight
	}
	return c.contract.HasPacketReceipt(ctx, key.PortID, key.ChannelID, key.Sequence)
}

func (c *Chain) QueryPacketCommitmentSequences(ctx context.Context, portID, channelID string) ([]uint64, error) {
	return c.contract.CommitmentSequences(ctx, portID, channelID)
}

func (c *Chain) QueryUnreceivedPackets(ctx context.Context, portID, channelID string, sequences []uint64) ([]uint64, error) {
	var unreceived []uint64
	for _, seq := range sequences {
		received, err := c.contract.HasPacketReceipt(ctx, portID, channelID, seq)
		if err != nil {
			return nil, err
		}
		if !received {
			unreceived = append(unreceived, seq)
		}
	}
	return unreceived, nil
}

func (c *Chain) QueryUnreceivedAcknowledgements(ctx context.Context, portID, channelID string, sequences []uint64) ([]uint64, error) {
	// A commitment still standing means the ack never made it back.
	var unreceived []uint64
	for _, seq := range sequences {
		_, found, err := c.contract.PacketCommitment(ctx, portID, channelID, seq)
		if err != nil {
			return nil, err
		}
		if found {
			unreceived = append(unreceived, seq)
		}
	}
	return unreceived, nil
}

func (c *Chain) QueryNextSequenceReceive(ctx context.Context, portID, channelID string, at relayer.QueryHeight) (uint64, error) {
	if !at.IsLatest() {
		return 0, relayer.ErrSpecificHeight
	}
	return c.contract.NextSequenceRecv(ctx, portID, channelID)
}

// SendMessages delivers datagrams one transaction each. Create-client
// requests never reach the chain: the handler contract is deployed with
// its clients, so the datagram is satisfied from the client state alone.
func (c *Chain) SendMessages(ctx context.Context, msgs []relayer.Message) ([]ibc.EventWithHeight, error) {
	var events []ibc.EventWithHeight
	for _, msg := range msgs {
		switch msg.TypeURL {
		case relayer.TypeURLCreateClient:
			ev, err := c.localCreateClient(msg.CreateClient)
			if err != nil {
				return nil, err
			}
			events = append(events, ev)
			continue

		case relayer.TypeURLUpdateClient:
			// Counterparty headers go to the dedicated light client
			// contract, not the IBC handler.
			target := c.updateClientTarget(msg.UpdateClient.Header)
			calldata, err := PackMessage(msg)
			if err != nil {
				return nil, err
			}
			receipt, err := c.sendTransaction(ctx, target, calldata)
			if err != nil {
				return nil, fmt.Errorf("update client %s: %w", msg.UpdateClient.ClientID, err)
			}
			events = append(events, ibc.NewEventWithHeight(
				ibc.UpdateClient{ClientID: msg.UpdateClient.ClientID},
				ibc.HeightFromBlockNumber(receipt.BlockNumber.Uint64()),
				receipt.TxHash,
			))
			continue
		}

		calldata, err := PackMessage(msg)
		if err != nil {
			return nil, err
		}
		receipt, err := c.sendTransaction(ctx, c.cfg.ContractAddress, calldata)
		if err != nil {
			return nil, fmt.Errorf("send %s: %w", msg.TypeURL, err)
		}
		txEvents := c.receiptEvents(receipt)
		c.cache.Ingest(txEvents)
		events = append(events, txEvents...)
	}
	return events, nil
}

func (c *Chain) localCreateClient(msg *relayer.MsgCreateClient) (ibc.EventWithHeight, error) {
	var state ibc.ClientState
	if err := json.Unmarshal(msg.ClientState, &state); err != nil {
		return ibc.EventWithHeight{}, fmt.Errorf("decode client state: %w", err)
	}
	return ibc.NewEventWithHeight(ibc.CreateClient{
		ClientID:        state.DefaultClientID,
		ClientType:      msg.ClientType,
		ConsensusHeight: state.LatestHeight,
	}, state.LatestHeight, [32]byte{}), nil
}

func (c *Chain) updateClientTarget(header relayer.Header) common.Address {
	if header.ClientType() == ibc.ClientTypeCkb {
		return c.cfg.CkbLightClientContractAddress
	}
	return c.cfg.ContractAddress
}

func (c *Chain) sendTransaction(ctx context.Context, to common.Address, calldata []byte) (*types.Receipt, error) {
	from := c.key.EthAddress()
	nonce, err := c.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("query nonce: %w", err)
	}
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("query gas price: %w", err)
	}
	gas, err := c.client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: calldata})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Data:     calldata,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.evmChainID), c.key.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	if err := c.client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("broadcast transaction: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, c.client, signed)
	if err != nil {
		return nil, fmt.Errorf("wait for transaction %s: %w", signed.Hash(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("transaction %s reverted", signed.Hash())
	}
	return receipt, nil
}

func (c *Chain) receiptEvents(receipt *types.Receipt) []ibc.EventWithHeight {
	var events []ibc.EventWithHeight
	for _, log := range receipt.Logs {
		if log.Address != c.cfg.ContractAddress {
			continue
		}
		ev, err := ParseLog(*log)
		if err != nil {
			continue
		}
		events = append(events, ibc.NewEventWithHeight(
			ev,
			ibc.HeightFromBlockNumber(receipt.BlockNumber.Uint64()),
			receipt.TxHash,
		))
	}
	return events
}

func (c *Chain) BuildConnectionProofs(ctx context.Context, connectionID string) (relayer.Proofs, error) {
	txHash, ok := c.cache.Connection(connectionID)
	if !ok {
		return relayer.Proofs{}, fmt.Errorf("connection %s: %w", connectionID, relayer.ErrProofSourceMissing)
	}
	return c.buildObjectProofs(ctx, txHash)
}

func (c *Chain) BuildChannelProofs(ctx context.Context, key relayer.ChannelKey) (relayer.Proofs, error) {
	txHash, ok := c.cache.Channel(key)
	if !ok {
		return relayer.Proofs{}, fmt.Errorf("channel %s/%s: %w", key.PortID, key.ChannelID, relayer.ErrProofSourceMissing)
	}
	return c.buildObjectProofs(ctx, txHash)
}

func (c *Chain) BuildPacketProofs(ctx context.Context, key relayer.PacketKey) (relayer.Proofs, error) {
	txHash, ok := c.cache.Packet(key)
	if !ok {
		return relayer.Proofs{}, fmt.Errorf("packet %s/%s#%d: %w", key.PortID, key.ChannelID, key.Sequence, relayer.ErrProofSourceMissing)
	}
	return c.buildObjectProofs(ctx, txHash)
}

// buildObjectProofs assembles the proof bundle for the transaction that
// wrote the IBC object: its receipt, the receipt MPT proof against the
// block's receipts root, the Axon block, the state root of the previous
// block and the consensus proof fetched from the next block.
func (c *Chain) buildObjectProofs(ctx context.Context, txHash [32]byte) (relayer.Proofs, error) {
	hash := common.Hash(txHash)
	receipt, err := c.client.TransactionReceipt(ctx, hash)
	if err != nil {
		return relayer.Proofs{}, fmt.Errorf("query receipt %s: %w", hash, err)
	}
	if receipt.BlockNumber == nil {
		return relayer.Proofs{}, fmt.Errorf("transaction %s is still pending", hash)
	}
	number := receipt.BlockNumber.Uint64()
	if number == 0 {
		return relayer.Proofs{}, fmt.Errorf("transaction %s is in the genesis block", hash)
	}

	block, err := c.client.BlockByNumber(ctx, receipt.BlockNumber)
	if err != nil {
		return relayer.Proofs{}, fmt.Errorf("query block %d: %w", number, err)
	}
	receipts := make(types.Receipts, 0, len(block.Transactions()))
	for _, tx := range block.Transactions() {
		r, err := c.client.TransactionReceipt(ctx, tx.Hash())
		if err != nil {
			return relayer.Proofs{}, fmt.Errorf("query receipt %s: %w", tx.Hash(), err)
		}
		receipts = append(receipts, r)
	}
	receiptProof, err := ReceiptProof(receipts, uint64(receipt.TransactionIndex))
	if err != nil {
		return relayer.Proofs{}, err
	}

	axonBlock, err := c.rpc.BlockByNumber(ctx, number)
	if err != nil {
		return relayer.Proofs{}, err
	}
	prevBlock, err := c.rpc.BlockByNumber(ctx, number-1)
	if err != nil {
		return relayer.Proofs{}, err
	}
	// The consensus proof of block n is carried by block n+1; it may not
	// be mined yet, in which case the caller retries.
	blockProof, err := c.rpc.ProofByNumber(ctx, number+1)
	if err != nil {
		return relayer.Proofs{}, err
	}
	metadata, err := c.rpc.CurrentMetadata(ctx)
	if err != nil {
		return relayer.Proofs{}, err
	}
	if err := checkProposer(axonBlock, metadata); err != nil {
		return relayer.Proofs{}, err
	}

	object, err := assembleObjectProof(receipt, receiptProof, axonBlock, prevBlock.Header.StateRoot, blockProof)
	if err != nil {
		return relayer.Proofs{}, err
	}
	return relayer.Proofs{Object: object, Height: ibc.HeightFromBlockNumber(number)}, nil
}

// checkProposer rejects blocks whose proposer is not in the current
// validator set. Full BLS verification of the block proof is left to the
// on-chain light client that consumes the bundle.
func checkProposer(block *Block, metadata *Metadata) error {
	for _, v := range metadata.VerifierList {
		if v.Address == block.Header.Proposer {
			return nil
		}
	}
	return fmt.Errorf("block %d proposer %s is not a current validator", block.Header.Number, block.Header.Proposer)
}
