package kernel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ruteri/liquefaction/confidentialstore"
	"github.com/ruteri/liquefaction/ethtx"
	"github.com/ruteri/liquefaction/wallet"
)

// snapshotKey is the deterministic location the dispatcher's serialized
// state is stored under (spec.md §6: persisted state is "keyed
// deterministically" in host storage).
const snapshotKey = "kernel/state-snapshot"

// Snapshot is the wire form of the dispatcher's full mutable state: every
// wallet, every ethtx ledger, and the dispatch clock they were captured at.
type Snapshot struct {
	BlockNumber uint64
	Wallets     wallet.RegistrySnapshot
	EthTx       ethtx.PolicySnapshot
}

// ExportState captures the dispatcher's current state without touching any
// storage backend.
func (k *Kernel) ExportState() Snapshot {
	k.mu.Lock()
	defer k.mu.Unlock()
	return Snapshot{
		BlockNumber: k.Clock.BlockNumber(),
		Wallets:     k.Wallets.ExportState(),
		EthTx:       k.EthTx.ExportState(),
	}
}

// ImportState reloads a previously captured snapshot. Callers must do this
// before the kernel serves any dispatch: it is not transactional against
// concurrent operations.
func (k *Kernel) ImportState(snap Snapshot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.Wallets.ImportState(snap.Wallets)
	k.EthTx.ImportState(snap.EthTx)
	k.Clock.SetBlockNumber(snap.BlockNumber)
}

// SaveSnapshot serializes the dispatcher's state and persists it through
// store under a fixed, deterministic key.
func (k *Kernel) SaveSnapshot(ctx context.Context, store confidentialstore.Backend) error {
	raw, err := json.Marshal(k.ExportState())
	if err != nil {
		return fmt.Errorf("marshaling kernel snapshot: %w", err)
	}
	if err := store.Put(ctx, snapshotKey, raw); err != nil {
		return fmt.Errorf("persisting kernel snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads a previously persisted snapshot and reloads it into the
// dispatcher. It returns confidentialstore.ErrNotFound unmodified if no
// snapshot has ever been saved, so callers can tell a fresh boot apart from
// a genuine storage failure.
func (k *Kernel) LoadSnapshot(ctx context.Context, store confidentialstore.Backend) error {
	raw, err := store.Get(ctx, snapshotKey)
	if err != nil {
		return err
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("decoding kernel snapshot: %w", err)
	}
	k.ImportState(snap)
	return nil
}
