package ckb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/nervosnetwork/ckb-sdk-go/v2/crypto/blake2b"
	"github.com/nervosnetwork/ckb-sdk-go/v2/indexer"
	"github.com/nervosnetwork/ckb-sdk-go/v2/types"

	"github.com/wenyuanhust/forcerelay/config"
	"github.com/wenyuanhust/forcerelay/ibc"
	"github.com/wenyuanhust/forcerelay/keyring"
	"github.com/wenyuanhust/forcerelay/relayer"
)

// Secp256k1-blake160 sighash-all lock, deployed with the genesis block.
var secpCodeHash = types.HexToHash("0x9bd7e06f3ecf4be0f2fcd2188b23f1b9fcc88e5d4b65a8637b17723bbda3cce8")

var secpDepGroup = map[string]*types.CellDep{
	"mainnet": {
		OutPoint: &types.OutPoint{TxHash: types.HexToHash("0x71a7ba8fc96349fea0ed3a5c47992e3b4084b031a42264a018e0072e8172e46c"), Index: 0},
		DepType:  types.DepTypeDepGroup,
	},
	"testnet": {
		OutPoint: &types.OutPoint{TxHash: types.HexToHash("0xf8de3bb47d055cdf460d93a2a6e1b05f7432f9777c8c474abf4eec1d4aee5d37"), Index: 0},
		DepType:  types.DepTypeDepGroup,
	},
}

const (
	shannonsPerByte = 100_000_000
	// Flat fee; IBC transactions stay well under 100KB.
	txFee = 1_000_000
	// Smallest change cell the secp lock can carry.
	minChangeCapacity = 61 * shannonsPerByte
)

// ErrNoFeeCells means the relayer key holds no spendable capacity.
var ErrNoFeeCells = errors.New("no spendable cells for the relayer key")

// txBuilder assembles the cell transitions behind each IBC datagram: it
// consumes the live cells holding the current object state and emits the
// successor cells, with RLP preimages in the witnesses and the message
// envelope in the last witness.
type txBuilder struct {
	reader Reader
	key    *keyring.Key
	cfg    config.Ckb
}

func newTxBuilder(reader Reader, key *keyring.Key, cfg config.Ckb) *txBuilder {
	return &txBuilder{reader: reader, key: key, cfg: cfg}
}

func (b *txBuilder) feeLock() *types.Script {
	args := b.key.CkbLockArgs()
	return &types.Script{CodeHash: secpCodeHash, HashType: types.HashTypeType, Args: args[:]}
}

func ibcLock(typeArgs [32]byte, args []byte) *types.Script {
	return &types.Script{CodeHash: ScriptHash(typeArgs), HashType: types.HashTypeType, Args: args}
}

// occupiedCapacity is the minimum capacity a cell with this lock and
// data must carry.
func occupiedCapacity(lock *types.Script, data []byte) uint64 {
	size := 8 + 32 + 1 + len(lock.Args) + len(data)
	return uint64(size) * shannonsPerByte
}

// build accumulates a transaction under construction. Outputs stay
// aligned with their witness preimages so the preimage of output i lands
// in witness i.
type build struct {
	inputs        []*types.CellInput
	inputCapacity uint64
	outputs       []*types.CellOutput
	outputsData   [][]byte
	preimages     [][]byte
	envelope      *Envelope
}

func (s *build) consume(cell *indexer.LiveCell) {
	s.inputs = append(s.inputs, &types.CellInput{PreviousOutput: cell.OutPoint})
	s.inputCapacity += cell.Output.Capacity
}

func (s *build) emit(lock *types.Script, obj any, capacity uint64) error {
	encoded, err := EncodeObject(obj)
	if err != nil {
		return err
	}
	if floor := occupiedCapacity(lock, encoded.Data); capacity < floor {
		capacity = floor
	}
	s.outputs = append(s.outputs, &types.CellOutput{Capacity: capacity, Lock: lock})
	s.outputsData = append(s.outputsData, encoded.Data)
	s.preimages = append(s.preimages, encoded.Witness)
	return nil
}

// BuildMessageTransaction turns one datagram into a signed transaction.
func (b *txBuilder) BuildMessageTransaction(ctx context.Context, msg relayer.Message) (*types.Transaction, error) {
	state := &build{}
	var err error
	switch msg.TypeURL {
	case relayer.TypeURLConnectionOpenInit, relayer.TypeURLConnectionOpenTry,
		relayer.TypeURLConnectionOpenAck, relayer.TypeURLConnectionOpenConfirm:
		err = b.connectionTransition(ctx, state, msg)
	case relayer.TypeURLChannelOpenInit, relayer.TypeURLChannelOpenTry:
		err = b.channelCreation(ctx, state, msg)
	case relayer.TypeURLChannelOpenAck, relayer.TypeURLChannelOpenConfirm,
		relayer.TypeURLChannelCloseInit, relayer.TypeURLChannelCloseConfirm:
		err = b.channelTransition(ctx, state, msg)
	case relayer.TypeURLRecvPacket:
		err = b.recvPacket(ctx, state, msg.RecvPacket)
	case relayer.TypeURLAcknowledgement:
		err = b.ackPacket(ctx, state, msg.Acknowledgement)
	case relayer.TypeURLTimeout:
		err = b.timeoutPacket(ctx, state, msg.Timeout)
	default:
		return nil, fmt.Errorf("%w: %s on ckb", relayer.ErrNotSupported, msg.TypeURL)
	}
	if err != nil {
		return nil, err
	}
	return b.assemble(ctx, state)
}

func (b *txBuilder) connectionTransition(ctx context.Context, state *build, msg relayer.Message) error {
	cell, conns, err := b.liveConnections(ctx)
	if err != nil {
		return err
	}
	state.consume(cell)

	switch msg.TypeURL {
	case relayer.TypeURLConnectionOpenInit:
		m := msg.ConnectionOpenInit
		conns.Connections = append(conns.Connections, ConnectionEndCell{
			State:                1,
			ClientID:             m.ClientID,
			CounterpartyClientID: m.Counterparty.ClientID,
			DelayPeriod:          m.DelayPeriod,
		})
		state.envelope = &Envelope{MsgType: MsgConnectionOpenInit}

	case relayer.TypeURLConnectionOpenTry:
		m := msg.ConnectionOpenTry
		conns.Connections = append(conns.Connections, ConnectionEndCell{
			State:                    2,
			ClientID:                 m.ClientID,
			CounterpartyClientID:     m.Counterparty.ClientID,
			CounterpartyConnectionID: m.Counterparty.ConnectionID,
			DelayPeriod:              m.DelayPeriod,
		})
		state.envelope = &Envelope{MsgType: MsgConnectionOpenTry, Content: m.ProofInit.Object}

	case relayer.TypeURLConnectionOpenAck:
		m := msg.ConnectionOpenAck
		index, err := ibc.ParseConnectionIndex(m.ConnectionID)
		if err != nil {
			return err
		}
		if int(index) >= len(conns.Connections) {
			return fmt.Errorf("connection %s not found", m.ConnectionID)
		}
		conns.Connections[index].State = 3
		conns.Connections[index].CounterpartyConnectionID = m.CounterpartyConnectionID
		state.envelope = &Envelope{MsgType: MsgConnectionOpenAck, Content: m.ProofTry.Object}

	case relayer.TypeURLConnectionOpenConfirm:
		m := msg.ConnectionOpenConfirm
		index, err := ibc.ParseConnectionIndex(m.ConnectionID)
		if err != nil {
			return err
		}
		if int(index) >= len(conns.Connections) {
			return fmt.Errorf("connection %s not found", m.ConnectionID)
		}
		conns.Connections[index].State = 3
		state.envelope = &Envelope{MsgType: MsgConnectionOpenConfirm, Content: m.ProofAck.Object}
	}

	return state.emit(cell.Output.Lock, conns, cell.Output.Capacity)
}

// channelCreation handles open-init and open-try: both consume the
// connections cell to claim the next channel number and emit a fresh
// channel cell alongside the updated connections cell.
func (b *txBuilder) channelCreation(ctx context.Context, state *build, msg relayer.Message) error {
	connCell, conns, err := b.liveConnections(ctx)
	if err != nil {
		return err
	}
	state.consume(connCell)

	number := conns.NextChannelNumber
	conns.NextChannelNumber++
	if err := state.emit(connCell.Output.Lock, conns, connCell.Output.Capacity); err != nil {
		return err
	}

	var (
		portID  string
		channel ibc.ChannelEnd
	)
	switch msg.TypeURL {
	case relayer.TypeURLChannelOpenInit:
		portID = msg.ChannelOpenInit.PortID
		channel = msg.ChannelOpenInit.Channel
		channel.State = ibc.StateInit
		state.envelope = &Envelope{MsgType: MsgChannelOpenInit}
	case relayer.TypeURLChannelOpenTry:
		portID = msg.ChannelOpenTry.PortID
		channel = msg.ChannelOpenTry.Channel
		channel.State = ibc.StateTryOpen
		state.envelope = &Envelope{MsgType: MsgChannelOpenTry, Content: msg.ChannelOpenTry.ProofInit.Object}
	}

	port, err := ParsePortID(portID)
	if err != nil {
		return err
	}
	args := ChannelArgs{Open: false, ChannelID: number, PortID: port}
	cell := channelCellFromEnd(portID, ibc.ChannelID(number), channel)
	return state.emit(ibcLock(b.cfg.ChannelTypeArgs, args.ToArgs()), cell, 0)
}

func (b *txBuilder) channelTransition(ctx context.Context, state *build, msg relayer.Message) error {
	var (
		portID, channelID string
		open              bool
		msgType           MsgType
		proof             []byte
	)
	switch msg.TypeURL {
	case relayer.TypeURLChannelOpenAck:
		m := msg.ChannelOpenAck
		portID, channelID, open = m.PortID, m.ChannelID, true
		msgType, proof = MsgChannelOpenAck, m.ProofTry.Object
	case relayer.TypeURLChannelOpenConfirm:
		m := msg.ChannelOpenConfirm
		portID, channelID, open = m.PortID, m.ChannelID, true
		msgType, proof = MsgChannelOpenConfirm, m.ProofAck.Object
	case relayer.TypeURLChannelCloseInit:
		m := msg.ChannelCloseInit
		portID, channelID, open = m.PortID, m.ChannelID, false
		msgType = MsgChannelCloseInit
	case relayer.TypeURLChannelCloseConfirm:
		m := msg.ChannelCloseConfirm
		portID, channelID, open = m.PortID, m.ChannelID, false
		msgType, proof = MsgChannelCloseConfirm, m.ProofInit.Object
	}

	liveCell, channel, _, err := b.liveChannel(ctx, portID, channelID)
	if err != nil {
		return err
	}
	state.consume(liveCell)
	state.envelope = &Envelope{MsgType: msgType, Content: proof}

	switch msg.TypeURL {
	case relayer.TypeURLChannelOpenAck:
		channel.State = 3
		channel.CounterpartyChannelID = msg.ChannelOpenAck.CounterpartyChannelID
		if v := msg.ChannelOpenAck.CounterpartyVersion; v != "" {
			channel.Version = v
		}
	case relayer.TypeURLChannelOpenConfirm:
		channel.State = 3
	default:
		channel.State = 4
	}

	number, err := ibc.ParseChannelNumber(channelID)
	if err != nil {
		return err
	}
	port, err := ParsePortID(portID)
	if err != nil {
		return err
	}
	args := ChannelArgs{Open: open, ChannelID: number, PortID: port}
	return state.emit(ibcLock(b.cfg.ChannelTypeArgs, args.ToArgs()), channel, liveCell.Output.Capacity)
}

func (b *txBuilder) recvPacket(ctx context.Context, state *build, msg *relayer.MsgRecvPacket) error {
	number, err := ibc.ParseChannelNumber(msg.Packet.DestChannel)
	if err != nil {
		return err
	}
	port, err := ParsePortID(msg.Packet.DestPort)
	if err != nil {
		return err
	}
	args := PacketArgs{ChannelID: number, PortID: port, Sequence: msg.Packet.Sequence}
	cell := NewPacketCell(msg.Packet, PacketStatusRecv, nil)
	state.envelope = &Envelope{MsgType: MsgRecvPacket, Content: msg.ProofCommitment.Object}
	return state.emit(ibcLock(b.cfg.PacketTypeArgs, args.SearchArgs(false)), cell, 0)
}

func (b *txBuilder) ackPacket(ctx context.Context, state *build, msg *relayer.MsgAcknowledgement) error {
	liveCell, packet, err := b.livePacket(ctx, msg.Packet.SourceChannel, msg.Packet.SourcePort, msg.Packet.Sequence)
	if err != nil {
		return err
	}
	if packet.Status != PacketStatusSend {
		return fmt.Errorf("packet %s#%d is not awaiting acknowledgement", msg.Packet.SourceChannel, msg.Packet.Sequence)
	}
	state.consume(liveCell)
	state.envelope = &Envelope{MsgType: MsgAckPacket, Content: msg.ProofAcked.Object}

	packet.Status = PacketStatusAck
	packet.Ack = msg.Acknowledgement
	return state.emit(liveCell.Output.Lock, packet, liveCell.Output.Capacity)
}

// timeoutPacket consumes the stale send cell without a successor; the
// capacity flows back to the relayer as change.
func (b *txBuilder) timeoutPacket(ctx context.Context, state *build, msg *relayer.MsgTimeout) error {
	liveCell, packet, err := b.livePacket(ctx, msg.Packet.SourceChannel, msg.Packet.SourcePort, msg.Packet.Sequence)
	if err != nil {
		return err
	}
	if packet.Status != PacketStatusSend {
		return fmt.Errorf("packet %s#%d is not pending", msg.Packet.SourceChannel, msg.Packet.Sequence)
	}
	state.consume(liveCell)
	state.envelope = &Envelope{MsgType: MsgTimeoutPacket, Content: msg.ProofUnreceived.Object}
	return nil
}

func (b *txBuilder) liveConnections(ctx context.Context) (*indexer.LiveCell, *ConnectionsCell, error) {
	cells, err := collectCells(ctx, b.reader, ConnectionSearchKey(b.cfg.ConnectionTypeArgs))
	if err != nil {
		return nil, nil, err
	}
	if len(cells) != 1 {
		return nil, nil, fmt.Errorf("expected one connections cell, found %d", len(cells))
	}
	var conns ConnectionsCell
	if err := b.decodeCell(ctx, cells[0], &conns); err != nil {
		return nil, nil, err
	}
	return cells[0], &conns, nil
}

// liveChannel finds a channel cell in either the open or the pending
// search space and reports which one held it.
func (b *txBuilder) liveChannel(ctx context.Context, portID, channelID string) (*indexer.LiveCell, *ChannelCell, bool, error) {
	number, err := ibc.ParseChannelNumber(channelID)
	if err != nil {
		return nil, nil, false, err
	}
	port, err := ParsePortID(portID)
	if err != nil {
		return nil, nil, false, err
	}
	for _, open := range []bool{true, false} {
		cells, err := collectCells(ctx, b.reader, ChannelSearchKey(b.cfg.ChannelTypeArgs, open, number, port))
		if err != nil {
			return nil, nil, false, err
		}
		if len(cells) == 0 {
			continue
		}
		var channel ChannelCell
		if err := b.decodeCell(ctx, cells[0], &channel); err != nil {
			return nil, nil, false, err
		}
		return cells[0], &channel, open, nil
	}
	return nil, nil, false, fmt.Errorf("channel %s/%s: %w", portID, channelID, ErrCellNotFound)
}

func (b *txBuilder) livePacket(ctx context.Context, channelID, portID string, sequence uint64) (*indexer.LiveCell, *PacketCell, error) {
	number, err := ibc.ParseChannelNumber(channelID)
	if err != nil {
		return nil, nil, err
	}
	port, err := ParsePortID(portID)
	if err != nil {
		return nil, nil, err
	}
	cells, err := collectCells(ctx, b.reader, PacketSearchKey(b.cfg.PacketTypeArgs, number, port, sequence))
	if err != nil {
		return nil, nil, err
	}
	if len(cells) == 0 {
		return nil, nil, fmt.Errorf("packet cell %s#%d: %w", channelID, sequence, ErrCellNotFound)
	}
	var packet PacketCell
	if err := b.decodeCell(ctx, cells[0], &packet); err != nil {
		return nil, nil, err
	}
	return cells[0], &packet, nil
}

func (b *txBuilder) decodeCell(ctx context.Context, cell *indexer.LiveCell, out any) error {
	tx, _, err := creatingTransaction(ctx, b.reader, cell)
	if err != nil {
		return err
	}
	return decodeWitnessPreimage(tx, cell.OutputData, out)
}

// assemble funds, balances and signs the transaction: fee cells of the
// relayer key cover any capacity the IBC transition itself cannot, a
// change output returns the rest, and the secp inputs are signed with a
// sighash-all witness.
func (b *txBuilder) assemble(ctx context.Context, state *build) (*types.Transaction, error) {
	var outputCapacity uint64
	for _, output := range state.outputs {
		outputCapacity += output.Capacity
	}

	feeCells, err := b.collectFeeCells(ctx, outputCapacity+txFee+minChangeCapacity, state.inputCapacity)
	if err != nil {
		return nil, err
	}
	firstFeeIndex := len(state.inputs)
	for _, cell := range feeCells {
		state.consume(cell)
	}

	change := state.inputCapacity - outputCapacity - txFee
	changeOutput := &types.CellOutput{Capacity: change, Lock: b.feeLock()}
	state.outputs = append(state.outputs, changeOutput)
	state.outputsData = append(state.outputsData, []byte{})
	state.preimages = append(state.preimages, nil)

	deps, err := b.cellDeps(ctx)
	if err != nil {
		return nil, err
	}

	tx := &types.Transaction{
		Version:     0,
		CellDeps:    deps,
		Inputs:      state.inputs,
		Outputs:     state.outputs,
		OutputsData: state.outputsData,
	}

	// One witness per input/output slot, preimages at their output's
	// index, the envelope last.
	slots := len(state.inputs)
	if len(state.outputs) > slots {
		slots = len(state.outputs)
	}
	witnesses := make([][]byte, 0, slots+1)
	for i := 0; i < slots; i++ {
		args := types.WitnessArgs{}
		if i < len(state.preimages) && len(state.preimages[i]) > 0 {
			args.OutputType = state.preimages[i]
		}
		witnesses = append(witnesses, args.Serialize())
	}
	if state.envelope != nil {
		envelope, err := SerializeEnvelope(state.envelope)
		if err != nil {
			return nil, err
		}
		witnesses = append(witnesses, envelope)
	}
	tx.Witnesses = witnesses

	if err := b.signSecpInputs(tx, firstFeeIndex, len(feeCells)); err != nil {
		return nil, err
	}
	return tx, nil
}

// collectFeeCells gathers empty secp cells of the relayer key until the
// target capacity is covered, counting capacity already consumed. At
// least one cell is always picked: the sighash-all signature lives on
// the first fee input's witness, even when the consumed IBC cells
// already cover the target.
func (b *txBuilder) collectFeeCells(ctx context.Context, target, have uint64) ([]*indexer.LiveCell, error) {
	cells, err := collectCells(ctx, b.reader, prefixSearchKey(b.feeLock()))
	if err != nil {
		return nil, err
	}
	var picked []*indexer.LiveCell
	for _, cell := range cells {
		if len(picked) > 0 && have >= target {
			break
		}
		if len(cell.OutputData) > 0 || cell.Output.Type != nil {
			continue
		}
		picked = append(picked, cell)
		have += cell.Output.Capacity
	}
	if len(picked) == 0 || have < target {
		return nil, fmt.Errorf("%w: need %d shannon, found %d", ErrNoFeeCells, target, have)
	}
	return picked, nil
}

// cellDeps lists the secp dep group and the deployed IBC scripts. The
// script cells are located through their type-id scripts so deployments
// never need to be configured by out-point.
func (b *txBuilder) cellDeps(ctx context.Context) ([]*types.CellDep, error) {
	secp, ok := secpDepGroup[b.cfg.Network]
	if !ok {
		return nil, fmt.Errorf("no secp dep group for network %q", b.cfg.Network)
	}
	deps := []*types.CellDep{secp}
	for _, typeArgs := range [][32]byte{b.cfg.ConnectionTypeArgs, b.cfg.ChannelTypeArgs, b.cfg.PacketTypeArgs} {
		dep, err := b.resolveScriptDep(ctx, typeArgs)
		if err != nil {
			return nil, err
		}
		deps = append(deps, dep)
	}
	return deps, nil
}

func (b *txBuilder) resolveScriptDep(ctx context.Context, typeArgs [32]byte) (*types.CellDep, error) {
	key := &indexer.SearchKey{
		Script:     TypeIDScript(typeArgs),
		ScriptType: types.ScriptTypeType,
	}
	cells, err := b.reader.GetCells(ctx, key, indexer.SearchOrderAsc, 1, "")
	if err != nil {
		return nil, fmt.Errorf("locate script cell %x: %w", typeArgs, err)
	}
	if len(cells.Objects) == 0 {
		return nil, fmt.Errorf("script cell %x not deployed", typeArgs)
	}
	return &types.CellDep{OutPoint: cells.Objects[0].OutPoint, DepType: types.DepTypeCode}, nil
}

// signSecpInputs signs the fee input group with a sighash-all witness:
// blake2b over the tx hash, the zero-filled first group witness, the
// remaining group witnesses and every witness past the input count.
func (b *txBuilder) signSecpInputs(tx *types.Transaction, firstIndex, groupSize int) error {
	if groupSize == 0 {
		return errors.New("no fee inputs to sign")
	}

	first, err := types.DeserializeWitnessArgs(tx.Witnesses[firstIndex])
	if err != nil {
		return fmt.Errorf("decode fee witness: %w", err)
	}
	first.Lock = make([]byte, 65)
	placeholder := first.Serialize()

	txHash := tx.ComputeHash()
	message := append([]byte{}, txHash.Bytes()...)
	message = appendLengthPrefixed(message, placeholder)
	for i := firstIndex + 1; i < firstIndex+groupSize; i++ {
		message = appendLengthPrefixed(message, tx.Witnesses[i])
	}
	for i := len(tx.Inputs); i < len(tx.Witnesses); i++ {
		message = appendLengthPrefixed(message, tx.Witnesses[i])
	}

	digest := blake2b.Blake256(message)
	signature, err := b.key.Sign(digest)
	if err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}
	first.Lock = signature
	tx.Witnesses[firstIndex] = first.Serialize()
	return nil
}

func appendLengthPrefixed(message, witness []byte) []byte {
	message = binary.LittleEndian.AppendUint64(message, uint64(len(witness)))
	return append(message, witness...)
}

func channelCellFromEnd(portID, channelID string, end ibc.ChannelEnd) ChannelCell {
	ordering := uint8(1)
	if end.Ordering == ibc.OrderOrdered {
		ordering = 2
	}
	state := uint8(1)
	switch end.State {
	case ibc.StateTryOpen:
		state = 2
	case ibc.StateOpen:
		state = 3
	case ibc.StateClosed:
		state = 4
	}
	return ChannelCell{
		State:                 state,
		Ordering:              ordering,
		PortID:                portID,
		ChannelID:             channelID,
		ConnectionHops:        end.ConnectionHops,
		Version:               end.Version,
		CounterpartyPortID:    end.Counterparty.PortID,
		CounterpartyChannelID: end.Counterparty.ChannelID,
	}
}
