package keyring

import (
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestImportMnemonicDeterministic(t *testing.T) {
	t.Parallel()

	a, err := New(t.TempDir())
	require.NoError(t, err)
	b, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, a.ImportMnemonic("relayer", testMnemonic))
	require.NoError(t, b.ImportMnemonic("relayer", testMnemonic))

	ka, err := a.Get("relayer")
	require.NoError(t, err)
	kb, err := b.Get("relayer")
	require.NoError(t, err)

	require.Equal(t, ka.EthAddress(), kb.EthAddress())
	require.Equal(t, ka.CkbLockArgs(), kb.CkbLockArgs())
	require.Len(t, ka.CkbLockArgs(), 20)
}

func TestImportMnemonicRejectsInvalid(t *testing.T) {
	t.Parallel()

	r, err := New(t.TempDir())
	require.NoError(t, err)
	require.Error(t, r.ImportMnemonic("bad", "not a valid mnemonic"))
}

func TestImportHexRoundtrip(t *testing.T) {
	t.Parallel()

	r, err := New(t.TempDir())
	require.NoError(t, err)

	priv, err := crypto.GenerateKey()
	require.NoError(t, err)

	hexKey := "0x" + hex.EncodeToString(crypto.FromECDSA(priv))
	require.NoError(t, r.ImportHex("hot", hexKey))

	k, err := r.Get("hot")
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(priv.PublicKey), k.EthAddress())

	// Names are unique.
	require.Error(t, r.ImportHex("hot", hexKey))
}

func TestSignVerify(t *testing.T) {
	t.Parallel()

	r, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, r.ImportMnemonic("signer", testMnemonic))

	k, err := r.Get("signer")
	require.NoError(t, err)

	digest := crypto.Keccak256([]byte("hello axon"))
	sig, err := k.Sign(digest)
	require.NoError(t, err)
	require.Len(t, sig, 65)

	pub, err := crypto.SigToPub(digest, sig)
	require.NoError(t, err)
	require.Equal(t, k.EthAddress(), crypto.PubkeyToAddress(*pub))

	_, err = k.Sign([]byte("short"))
	require.Error(t, err)
}

func TestGenerateAndList(t *testing.T) {
	t.Parallel()

	r, err := New(t.TempDir())
	require.NoError(t, err)

	mnemonic, err := r.Generate("fresh")
	require.NoError(t, err)
	require.True(t, len(mnemonic) > 0)

	require.NoError(t, r.ImportMnemonic("other", testMnemonic))

	names, err := r.List()
	require.NoError(t, err)
	require.Equal(t, []string{"fresh", "other"}, names)

	// The generated mnemonic re-derives the same key.
	again, err := New(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, again.ImportMnemonic("fresh", mnemonic))

	k1, err := r.Get("fresh")
	require.NoError(t, err)
	k2, err := again.Get("fresh")
	require.NoError(t, err)
	require.Equal(t, k1.EthAddress(), k2.EthAddress())
}
