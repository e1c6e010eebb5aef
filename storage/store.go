// Package storage persists relayer progress in sqlite: per-chain sync
// watermarks and the tx-hash cache behind object proofs, so both survive
// restarts without replaying the whole chain.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wenyuanhust/forcerelay/relayer"
)

// Object kinds in the tx_hash table.
const (
	kindConnection = "connection"
	kindChannel    = "channel"
	kindPacket     = "packet"
)

// ErrNotFound is returned by lookups with no matching row.
var ErrNotFound = errors.New("not found in relay store")

// ConnectDB connects to the sqlite database at databaseFile, creating
// parent directories as needed. Pass :memory: for an in-memory database.
// Sqlite allows one writer; keep maxConns at 1 unless read-only.
func ConnectDB(ctx context.Context, databaseFile string, maxConns int) (*sql.DB, error) {
	if databaseFile != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(databaseFile), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", databaseFile)
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", databaseFile, err)
	}
	db.SetMaxOpenConns(maxConns)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db %s: %w", databaseFile, err)
	}
	return db, nil
}

// Migrate migrates db in an idempotent manner. If an error is returned,
// it's acceptable to delete the database and start over.
func Migrate(db *sql.DB) error {
	_, err := db.Exec(`PRAGMA journal_mode = WAL`)
	if err != nil {
		return fmt.Errorf("pragma journal_mode: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS chain_sync (
    chain_id TEXT NOT NULL PRIMARY KEY CHECK (length(chain_id) > 0),
    height INTEGER NOT NULL,
    updated_at TEXT NOT NULL CHECK (length(updated_at) > 0)
)`)
	if err != nil {
		return fmt.Errorf("create table chain_sync: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS tx_hash (
    chain_id TEXT NOT NULL CHECK (length(chain_id) > 0),
    kind TEXT NOT NULL CHECK (kind IN ('connection', 'channel', 'packet')),
    object_key TEXT NOT NULL CHECK (length(object_key) > 0),
    tx_hash BLOB NOT NULL CHECK (length(tx_hash) = 32),
    updated_at TEXT NOT NULL CHECK (length(updated_at) > 0),
    PRIMARY KEY (chain_id, kind, object_key)
)`)
	if err != nil {
		return fmt.Errorf("create table tx_hash: %w", err)
	}
	return nil
}

// Store reads and writes relayer state for one chain.
type Store struct {
	db      *sql.DB
	chainID string
}

func NewStore(db *sql.DB, chainID string) *Store {
	return &Store{db: db, chainID: chainID}
}

func nowRFC3339() string { return time.Now().UTC().Format(time.RFC3339) }

// SetWatermark records the first block the monitor has not yet scanned.
func (s *Store) SetWatermark(ctx context.Context, height uint64) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO chain_sync(chain_id, height, updated_at) VALUES (?, ?, ?)
ON CONFLICT(chain_id) DO UPDATE SET height=excluded.height, updated_at=excluded.updated_at`,
		s.chainID, int64(height), nowRFC3339())
	if err != nil {
		return fmt.Errorf("set watermark for %s: %w", s.chainID, err)
	}
	return nil
}

// Watermark returns the stored sync height.
func (s *Store) Watermark(ctx context.Context) (uint64, error) {
	var height int64
	err := s.db.QueryRowContext(ctx,
		`SELECT height FROM chain_sync WHERE chain_id = ?`, s.chainID).Scan(&height)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query watermark for %s: %w", s.chainID, err)
	}
	return uint64(height), nil
}

func (s *Store) putTxHash(ctx context.Context, kind, objectKey string, txHash [32]byte) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO tx_hash(chain_id, kind, object_key, tx_hash, updated_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(chain_id, kind, object_key) DO UPDATE SET tx_hash=excluded.tx_hash, updated_at=excluded.updated_at`,
		s.chainID, kind, objectKey, txHash[:], nowRFC3339())
	if err != nil {
		return fmt.Errorf("store %s tx hash for %s: %w", kind, objectKey, err)
	}
	return nil
}

func (s *Store) getTxHash(ctx context.Context, kind, objectKey string) ([32]byte, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT tx_hash FROM tx_hash WHERE chain_id = ? AND kind = ? AND object_key = ?`,
		s.chainID, kind, objectKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return [32]byte{}, ErrNotFound
	}
	if err != nil {
		return [32]byte{}, fmt.Errorf("query %s tx hash for %s: %w", kind, objectKey, err)
	}
	var hash [32]byte
	copy(hash[:], raw)
	return hash, nil
}

func (s *Store) PutConnectionTxHash(ctx context.Context, connectionID string, txHash [32]byte) error {
	return s.putTxHash(ctx, kindConnection, connectionID, txHash)
}

func (s *Store) ConnectionTxHash(ctx context.Context, connectionID string) ([32]byte, error) {
	return s.getTxHash(ctx, kindConnection, connectionID)
}

func channelObjectKey(key relayer.ChannelKey) string {
	return key.PortID + "/" + key.ChannelID
}

func (s *Store) PutChannelTxHash(ctx context.Context, key relayer.ChannelKey, txHash [32]byte) error {
	return s.putTxHash(ctx, kindChannel, channelObjectKey(key), txHash)
}

func (s *Store) ChannelTxHash(ctx context.Context, key relayer.ChannelKey) ([32]byte, error) {
	return s.getTxHash(ctx, kindChannel, channelObjectKey(key))
}

func packetObjectKey(key relayer.PacketKey) string {
	return fmt.Sprintf("%s/%s/%d", key.PortID, key.ChannelID, key.Sequence)
}

func (s *Store) PutPacketTxHash(ctx context.Context, key relayer.PacketKey, txHash [32]byte) error {
	return s.putTxHash(ctx, kindPacket, packetObjectKey(key), txHash)
}

func (s *Store) PacketTxHash(ctx context.Context, key relayer.PacketKey) ([32]byte, error) {
	return s.getTxHash(ctx, kindPacket, packetObjectKey(key))
}

// SaveCache writes every entry of an in-memory tx-hash cache.
func (s *Store) SaveCache(ctx context.Context, cache *relayer.TxHashCache) error {
	for connectionID, txHash := range cache.Connections() {
		if err := s.PutConnectionTxHash(ctx, connectionID, txHash); err != nil {
			return err
		}
	}
	for key, txHash := range cache.Channels() {
		if err := s.PutChannelTxHash(ctx, key, txHash); err != nil {
			return err
		}
	}
	for key, txHash := range cache.Packets() {
		if err := s.PutPacketTxHash(ctx, key, txHash); err != nil {
			return err
		}
	}
	return nil
}

// LoadCache re-seeds an in-memory tx-hash cache from the store.
func (s *Store) LoadCache(ctx context.Context, cache *relayer.TxHashCache) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, object_key, tx_hash FROM tx_hash WHERE chain_id = ?`, s.chainID)
	if err != nil {
		return fmt.Errorf("load tx hashes for %s: %w", s.chainID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			kind, objectKey string
			raw             []byte
		)
		if err := rows.Scan(&kind, &objectKey, &raw); err != nil {
			return err
		}
		var txHash [32]byte
		copy(txHash[:], raw)

		switch kind {
		case kindConnection:
			cache.SetConnection(objectKey, txHash)
		case kindChannel:
			key, err := parseChannelObjectKey(objectKey)
			if err != nil {
				return err
			}
			cache.SetChannel(key, txHash)
		case kindPacket:
			key, err := parsePacketObjectKey(objectKey)
			if err != nil {
				return err
			}
			cache.SetPacket(key, txHash)
		}
	}
	return rows.Err()
}

func parseChannelObjectKey(objectKey string) (relayer.ChannelKey, error) {
	portID, channelID, found := strings.Cut(objectKey, "/")
	if !found || portID == "" || channelID == "" {
		return relayer.ChannelKey{}, fmt.Errorf("malformed channel key %q", objectKey)
	}
	return relayer.ChannelKey{PortID: portID, ChannelID: channelID}, nil
}

func parsePacketObjectKey(objectKey string) (relayer.PacketKey, error) {
	last := strings.LastIndex(objectKey, "/")
	if last < 0 {
		return relayer.PacketKey{}, fmt.Errorf("malformed packet key %q", objectKey)
	}
	channel, err := parseChannelObjectKey(objectKey[:last])
	if err != nil {
		return relayer.PacketKey{}, err
	}
	sequence, err := strconv.ParseUint(objectKey[last+1:], 10, 64)
	if err != nil {
		return relayer.PacketKey{}, fmt.Errorf("malformed packet key %q", objectKey)
	}
	return relayer.PacketKey{
		PortID:    channel.PortID,
		ChannelID: channel.ChannelID,
		Sequence:  sequence,
	}, nil
}
