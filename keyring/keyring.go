// Package keyring manages the relayer's secp256k1 signing keys on disk.
package keyring

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/nervosnetwork/ckb-sdk-go/v2/crypto/blake2b"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"
)

// Eth-style derivation path m/44'/60'/0'/0/0, shared by Axon and CKB keys
// so one mnemonic drives both sides of the bridge.
var derivationPath = []uint32{
	bip32.FirstHardenedChild + 44,
	bip32.FirstHardenedChild + 60,
	bip32.FirstHardenedChild + 0,
	0,
	0,
}

// Key is a named secp256k1 key pair.
type Key struct {
	Name       string
	PrivateKey *ecdsa.PrivateKey
}

// EthAddress returns the keccak160 address used on Axon.
func (k *Key) EthAddress() common.Address {
	return crypto.PubkeyToAddress(k.PrivateKey.PublicKey)
}

// CkbLockArgs returns the blake160 of the compressed public key, the args
// of the standard secp256k1-blake160 lock script on CKB.
func (k *Key) CkbLockArgs() []byte {
	return blake2b.Blake160(crypto.CompressPubkey(&k.PrivateKey.PublicKey))
}

// Sign produces a 65-byte [R || S || V] signature over a 32-byte digest.
func (k *Key) Sign(digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	return crypto.Sign(digest, k.PrivateKey)
}

type keyFile struct {
	Name       string `json:"name"`
	Address    string `json:"address"`
	PrivateKey string `json:"private_key"`
}

// Keyring stores keys as JSON files under a directory, one file per key.
type Keyring struct {
	dir string
}

// New opens (creating if needed) the keyring directory.
func New(dir string) (*Keyring, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create keyring dir %s: %w", dir, err)
	}
	return &Keyring{dir: dir}, nil
}

func (r *Keyring) path(name string) string {
	return filepath.Join(r.dir, name+".json")
}

// Generate creates a new key from a fresh 24-word mnemonic and returns the
// mnemonic so the operator can back it up.
func (r *Keyring) Generate(name string) (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", err
	}
	if err := r.ImportMnemonic(name, mnemonic); err != nil {
		return "", err
	}
	return mnemonic, nil
}

// ImportMnemonic derives a key over the eth path and stores it under name.
func (r *Keyring) ImportMnemonic(name, mnemonic string) error {
	if !bip39.IsMnemonicValid(mnemonic) {
		return fmt.Errorf("invalid mnemonic")
	}
	node, err := bip32.NewMasterKey(bip39.NewSeed(mnemonic, ""))
	if err != nil {
		return fmt.Errorf("derive master key: %w", err)
	}
	for _, step := range derivationPath {
		if node, err = node.NewChildKey(step); err != nil {
			return fmt.Errorf("derive child key: %w", err)
		}
	}
	priv, err := crypto.ToECDSA(node.Key)
	if err != nil {
		return fmt.Errorf("load derived key: %w", err)
	}
	return r.store(name, priv)
}

// ImportHex stores a raw hex-encoded private key under name.
func (r *Keyring) ImportHex(name, hexKey string) error {
	priv, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return fmt.Errorf("parse private key: %w", err)
	}
	return r.store(name, priv)
}

func (r *Keyring) store(name string, priv *ecdsa.PrivateKey) error {
	if name == "" {
		return fmt.Errorf("key name cannot be empty")
	}
	if _, err := os.Stat(r.path(name)); err == nil {
		return fmt.Errorf("key %q already exists", name)
	}
	kf := keyFile{
		Name:       name,
		Address:    crypto.PubkeyToAddress(priv.PublicKey).Hex(),
		PrivateKey: hex.EncodeToString(crypto.FromECDSA(priv)),
	}
	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(r.path(name), data, 0o600)
}

// Get loads the key stored under name.
func (r *Keyring) Get(name string) (*Key, error) {
	data, err := os.ReadFile(r.path(name))
	if err != nil {
		return nil, fmt.Errorf("read key %q: %w", name, err)
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("decode key %q: %w", name, err)
	}
	priv, err := crypto.HexToECDSA(kf.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("parse key %q: %w", name, err)
	}
	return &Key{Name: kf.Name, PrivateKey: priv}, nil
}

// List returns the stored key names, sorted.
func (r *Keyring) List() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}
