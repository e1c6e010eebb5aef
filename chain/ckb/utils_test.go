package ckb

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/nervosnetwork/ckb-sdk-go/v2/types"
	"github.com/stretchr/testify/require"
)

func testPortID() [32]byte {
	var port [32]byte
	for i := range port {
		port[i] = byte(i)
	}
	return port
}

func TestPacketArgsRoundtrip(t *testing.T) {
	t.Parallel()

	args := PacketArgs{ChannelID: 7, PortID: testPortID(), Sequence: 42}

	full := args.SearchArgs(false)
	require.Len(t, full, 48)

	parsed, err := ParsePacketArgs(full)
	require.NoError(t, err)
	require.Equal(t, args, parsed)
}

func TestPacketArgsSearchAllDropsSequence(t *testing.T) {
	t.Parallel()

	args := PacketArgs{ChannelID: 7, PortID: testPortID(), Sequence: 42}

	prefix := args.SearchArgs(true)
	require.Len(t, prefix, 40)
	require.Equal(t, args.SearchArgs(false)[:40], prefix)
}

func TestParsePacketArgsRejectsShortInput(t *testing.T) {
	t.Parallel()

	_, err := ParsePacketArgs(make([]byte, 40))
	require.Error(t, err)
}

func TestChannelArgsRoundtrip(t *testing.T) {
	t.Parallel()

	for _, open := range []bool{true, false} {
		args := ChannelArgs{Open: open, ChannelID: 3, PortID: testPortID()}

		raw := args.ToArgs()
		require.Len(t, raw, 41)

		parsed, err := ParseChannelArgs(raw)
		require.NoError(t, err)
		require.Equal(t, args, parsed)
	}
}

func TestEncodeObjectCommitment(t *testing.T) {
	t.Parallel()

	obj := struct {
		A uint64
		B []byte
	}{A: 9, B: []byte("ibc")}

	encoded, err := EncodeObject(obj)
	require.NoError(t, err)
	require.Len(t, encoded.Data, 32)

	require.NoError(t, VerifyEncodedObject(encoded.Data, encoded.Witness))

	tampered := append([]byte(nil), encoded.Witness...)
	tampered[0] ^= 0xff
	require.Error(t, VerifyEncodedObject(encoded.Data, tampered))
	require.Error(t, VerifyEncodedObject([]byte("short"), encoded.Witness))
}

func TestParsePortID(t *testing.T) {
	t.Parallel()

	want := testPortID()
	got, err := ParsePortID("0x" + common.Bytes2Hex(want[:]))
	require.NoError(t, err)
	require.Equal(t, want, got)

	_, err = ParsePortID("transfer")
	require.Error(t, err)
	_, err = ParsePortID("0xabcd")
	require.Error(t, err)
}

func TestPacketSearchKey(t *testing.T) {
	t.Parallel()

	typeArgs := common.HexToHash("0x01")
	key := PacketSearchKey(typeArgs, 2, testPortID(), 0)

	require.Equal(t, types.ScriptTypeLock, key.ScriptType)
	require.Equal(t, types.ScriptSearchModePrefix, key.ScriptSearchMode)
	require.True(t, key.WithData)
	require.Equal(t, ScriptHash(typeArgs), key.Script.CodeHash)
	require.Len(t, key.Script.Args, 40, "zero sequence matches every packet of the channel")

	keyed := PacketSearchKey(typeArgs, 2, testPortID(), 11)
	require.Len(t, keyed.Script.Args, 48)
}

func TestScriptHashDeterministic(t *testing.T) {
	t.Parallel()

	typeArgs := common.HexToHash("0x02")
	require.Equal(t, ScriptHash(typeArgs), ScriptHash(typeArgs))
	require.NotEqual(t, ScriptHash(typeArgs), ScriptHash(common.HexToHash("0x03")))
}

func TestSudtCodeHash(t *testing.T) {
	t.Parallel()

	mainnet, err := SudtCodeHash("mainnet")
	require.NoError(t, err)
	require.Equal(t, SudtCodeHashMainnet, mainnet)

	testnet, err := SudtCodeHash("testnet")
	require.NoError(t, err)
	require.Equal(t, SudtCodeHashTestnet, testnet)

	_, err = SudtCodeHash("devnet")
	require.Error(t, err)
}
