package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wenyuanhust/forcerelay/chain/axon"
	"github.com/wenyuanhust/forcerelay/chain/ckb"
	"github.com/wenyuanhust/forcerelay/chain/cosmos"
	"github.com/wenyuanhust/forcerelay/config"
	"github.com/wenyuanhust/forcerelay/keyring"
	"github.com/wenyuanhust/forcerelay/relayer"
	"github.com/wenyuanhust/forcerelay/storage"
)

const cachePersistInterval = 30 * time.Second

func startCmd(configPath *string) *cobra.Command {
	var chainA, chainB string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Relay packets between two configured chains",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg.Global.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runRelayer(ctx, log, cfg, chainA, chainB)
		},
	}
	cmd.Flags().StringVar(&chainA, "chain-a", "", "chain id of the first endpoint (defaults to the first configured chain)")
	cmd.Flags().StringVar(&chainB, "chain-b", "", "chain id of the second endpoint (defaults to the second configured chain)")
	return cmd
}

func runRelayer(ctx context.Context, log *zap.Logger, cfg *config.Config, chainA, chainB string) (err error) {
	ids := configuredChainIDs(cfg)
	if len(ids) < 2 {
		return fmt.Errorf("need at least two configured chains, have %d", len(ids))
	}
	if chainA == "" {
		chainA = ids[0]
	}
	if chainB == "" {
		chainB = ids[1]
	}
	if chainA == chainB {
		return fmt.Errorf("cannot relay %s to itself", chainA)
	}

	kr, err := keyring.New(filepath.Join(cfg.Global.StoreDir, "keys"))
	if err != nil {
		return err
	}
	db, err := storage.ConnectDB(ctx, filepath.Join(cfg.Global.StoreDir, "relay.db"), 1)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := storage.Migrate(db); err != nil {
		return err
	}

	endpointA, err := buildEndpoint(log, cfg, kr, chainA)
	if err != nil {
		return err
	}
	endpointB, err := buildEndpoint(log, cfg, kr, chainB)
	if err != nil {
		return err
	}

	// Proof sources and scan progress survive restarts through the relay
	// store.
	var persisters []func(context.Context) error
	for _, endpoint := range []relayer.Endpoint{endpointA, endpointB} {
		cache := endpointCache(endpoint)
		if cache == nil {
			continue
		}
		store := storage.NewStore(db, endpoint.ID())
		tracker, _ := endpoint.(syncTracker)
		if err := restoreEndpointState(ctx, store, cache, tracker); err != nil {
			return fmt.Errorf("restore state of %s: %w", endpoint.ID(), err)
		}
		persisters = append(persisters, func(ctx context.Context) error {
			return persistEndpointState(ctx, store, cache, tracker)
		})
	}

	if err := endpointA.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap %s: %w", chainA, err)
	}
	if err := endpointB.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap %s: %w", chainB, err)
	}
	defer func() {
		err = multierr.Append(err, endpointA.Close())
		err = multierr.Append(err, endpointB.Close())
	}()

	go persistCaches(ctx, log, persisters)

	log.Info("Starting relay engine",
		zap.String("chain_a", chainA),
		zap.String("chain_b", chainB),
	)
	return relayer.NewEngine(log, endpointA, endpointB).Run(ctx)
}

func persistCaches(ctx context.Context, log *zap.Logger, persisters []func(context.Context) error) {
	ticker := time.NewTicker(cachePersistInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, persist := range persisters {
				if err := persist(ctx); err != nil {
					log.Warn("Failed to persist tx hash cache", zap.Error(err))
				}
			}
		}
	}
}

func configuredChainIDs(cfg *config.Config) []string {
	var ids []string
	for _, c := range cfg.Axon {
		ids = append(ids, c.ID)
	}
	for _, c := range cfg.Ckb {
		ids = append(ids, c.ID)
	}
	for _, c := range cfg.Cosmos {
		ids = append(ids, c.ID)
	}
	return ids
}

func buildEndpoint(log *zap.Logger, cfg *config.Config, kr *keyring.Keyring, chainID string) (relayer.Endpoint, error) {
	for _, c := range cfg.Axon {
		if c.ID == chainID {
			key, err := kr.Get(c.KeyName)
			if err != nil {
				return nil, fmt.Errorf("key for %s: %w", chainID, err)
			}
			return axon.NewChain(log, c, key), nil
		}
	}
	for _, c := range cfg.Ckb {
		if c.ID == chainID {
			key, err := kr.Get(c.KeyName)
			if err != nil {
				return nil, fmt.Errorf("key for %s: %w", chainID, err)
			}
			return ckb.NewChain(log, c, key), nil
		}
	}
	for _, c := range cfg.Cosmos {
		if c.ID == chainID {
			return cosmos.NewChain(log, c), nil
		}
	}
	return nil, fmt.Errorf("chain %s is not configured", chainID)
}

// syncTracker is satisfied by endpoints whose event monitor keeps a
// scan watermark worth persisting across restarts.
type syncTracker interface {
	ResumeFrom(height uint64)
	SyncHeight() uint64
}

// restoreEndpointState re-seeds the endpoint's tx-hash cache and, for
// endpoints that track one, the monitor's scan watermark.
func restoreEndpointState(ctx context.Context, store *storage.Store, cache *relayer.TxHashCache, tracker syncTracker) error {
	if err := store.LoadCache(ctx, cache); err != nil {
		return err
	}
	if tracker == nil {
		return nil
	}
	height, err := store.Watermark(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	tracker.ResumeFrom(height)
	return nil
}

// persistEndpointState writes the tx-hash cache and, once the monitor
// has a watermark, the current scan height.
func persistEndpointState(ctx context.Context, store *storage.Store, cache *relayer.TxHashCache, tracker syncTracker) error {
	if err := store.SaveCache(ctx, cache); err != nil {
		return err
	}
	if tracker == nil {
		return nil
	}
	if height := tracker.SyncHeight(); height > 0 {
		return store.SetWatermark(ctx, height)
	}
	return nil
}

func endpointCache(endpoint relayer.Endpoint) *relayer.TxHashCache {
	switch c := endpoint.(type) {
	case *axon.Chain:
		return c.Cache()
	case *ckb.Chain:
		return c.Cache()
	}
	return nil
}
