package ckb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nervosnetwork/ckb-sdk-go/v2/indexer"
	"github.com/nervosnetwork/ckb-sdk-go/v2/types"
)

// Reader is the subset of the CKB node and indexer RPC surface the
// relayer depends on. rpc.Client satisfies it; tests swap in fakes.
type Reader interface {
	GetTipHeader(ctx context.Context) (*types.Header, error)
	GetHeader(ctx context.Context, hash types.Hash) (*types.Header, error)
	GetBlock(ctx context.Context, hash types.Hash) (*types.Block, error)
	GetBlockByNumber(ctx context.Context, number uint64) (*types.Block, error)
	GetTransaction(ctx context.Context, hash types.Hash, onlyCommitted *bool) (*types.TransactionWithStatus, error)
	GetCells(ctx context.Context, searchKey *indexer.SearchKey, order indexer.SearchOrder, limit uint64, afterCursor string) (*indexer.LiveCells, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) (*types.Hash, error)
}

// ErrTxRejected marks a transaction the node refused; resubmitting the
// same bytes will not help.
var ErrTxRejected = errors.New("transaction rejected by the ckb node")

// ErrCellNotFound marks a live-cell lookup that completed but matched
// nothing, as opposed to an RPC failure.
var ErrCellNotFound = errors.New("ibc cell not found")

const commitPollInterval = time.Second

// WaitCommitted blocks until the transaction is committed and buried
// under the given number of confirmations, and returns the number of
// the block that committed it.
func WaitCommitted(ctx context.Context, reader Reader, hash types.Hash, confirmations uint64) (uint64, error) {
	ticker := time.NewTicker(commitPollInterval)
	defer ticker.Stop()

	var committedAt uint64
	for {
		tws, err := reader.GetTransaction(ctx, hash, nil)
		if err != nil {
			return 0, fmt.Errorf("poll transaction %s: %w", hash, err)
		}
		if tws != nil && tws.TxStatus != nil {
			switch tws.TxStatus.Status {
			case types.TransactionStatusRejected:
				return 0, fmt.Errorf("%w: %s", ErrTxRejected, hash)
			case types.TransactionStatusCommitted:
				if tws.TxStatus.BlockHash == nil {
					return 0, fmt.Errorf("committed transaction %s has no block hash", hash)
				}
				header, err := reader.GetHeader(ctx, *tws.TxStatus.BlockHash)
				if err != nil {
					return 0, fmt.Errorf("resolve commit block of %s: %w", hash, err)
				}
				committedAt = header.Number
			}
		}

		if committedAt > 0 {
			tip, err := reader.GetTipHeader(ctx)
			if err != nil {
				return 0, fmt.Errorf("poll tip: %w", err)
			}
			if tip.Number >= committedAt+confirmations {
				return committedAt, nil
			}
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}

const cellPageSize = 100

// collectCells walks the indexer cursor until the search is exhausted.
func collectCells(ctx context.Context, reader Reader, key *indexer.SearchKey) ([]*indexer.LiveCell, error) {
	var (
		cells  []*indexer.LiveCell
		cursor string
	)
	for {
		page, err := reader.GetCells(ctx, key, indexer.SearchOrderAsc, cellPageSize, cursor)
		if err != nil {
			return nil, fmt.Errorf("search live cells: %w", err)
		}
		cells = append(cells, page.Objects...)
		if len(page.Objects) < cellPageSize || page.LastCursor == "" {
			return cells, nil
		}
		cursor = page.LastCursor
	}
}

// creatingTransaction fetches the transaction that produced a live cell.
// That transaction's witness carries the RLP preimage of the cell data,
// and its inclusion proof is the object proof for the cell's content.
func creatingTransaction(ctx context.Context, reader Reader, cell *indexer.LiveCell) (*types.Transaction, types.Hash, error) {
	tws, err := reader.GetTransaction(ctx, cell.OutPoint.TxHash, nil)
	if err != nil {
		return nil, types.Hash{}, fmt.Errorf("fetch creating transaction: %w", err)
	}
	if tws == nil || tws.Transaction == nil {
		return nil, types.Hash{}, fmt.Errorf("creating transaction %s not found", cell.OutPoint.TxHash)
	}
	var blockHash types.Hash
	if tws.TxStatus != nil && tws.TxStatus.BlockHash != nil {
		blockHash = *tws.TxStatus.BlockHash
	}
	return tws.Transaction, blockHash, nil
}
