package wallet

import (
	"github.com/ruteri/liquefaction/delayedcell"
	"github.com/ruteri/liquefaction/interfaces"
)

// LeaseSnapshot is the wire form of one Lease, flattening its delayed cell
// into plain fields so it round-trips through encoding/json.
type LeaseSnapshot struct {
	Asset            interfaces.AssetTag
	PolicyValue      interfaces.Principal
	PolicyWroteAt    uint64
	PolicyWritten    bool
	Expiry           uint64
}

// WalletSnapshot is the wire form of one Wallet.
type WalletSnapshot struct {
	Address                interfaces.WalletAddress
	AccountIndex           interfaces.AccountIndex
	Owner                  interfaces.Principal
	PublicKey              []byte
	PrivateKey             []byte
	OwnerValue             interfaces.Principal
	OwnerWroteAt           uint64
	OwnerWritten           bool
	MaxExpiry              uint64
	ExportRequestedValue   bool
	ExportRequestedWroteAt uint64
	ExportRequestedWritten bool
	ExportCounterparty     [32]byte
	Leases                 []LeaseSnapshot
	Destroyed              bool
}

// RegistrySnapshot is the full wire form of a Registry, keyed to reconstruct
// both r.wallets and r.ownerIndex/r.attended on import.
type RegistrySnapshot struct {
	Wallets  []WalletSnapshot
	Attended map[interfaces.Principal][]AttendedEntry
}

// ExportState serializes every wallet, its ownership index entry and the
// attended-wallet log into a snapshot the kernel can persist through a
// confidentialstore.Backend.
func (r *Registry) ExportState() RegistrySnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	byAddr := make(map[interfaces.WalletAddress]ownerKey, len(r.ownerIndex))
	for k, addr := range r.ownerIndex {
		byAddr[addr] = k
	}

	snap := RegistrySnapshot{
		Wallets:  make([]WalletSnapshot, 0, len(r.wallets)),
		Attended: make(map[interfaces.Principal][]AttendedEntry, len(r.attended)),
	}

	for addr, w := range r.wallets {
		ownerVal, ownerAt, ownerWritten := w.Owner.Raw()
		exportVal, exportAt, exportWritten := w.ExportRequested.Raw()

		leases := make([]LeaseSnapshot, 0, len(w.Leases))
		for asset, lease := range w.Leases {
			polVal, polAt, polWritten := lease.Policy.Raw()
			leases = append(leases, LeaseSnapshot{
				Asset:         asset,
				PolicyValue:   polVal,
				PolicyWroteAt: polAt,
				PolicyWritten: polWritten,
				Expiry:        lease.Expiry,
			})
		}

		key := byAddr[addr]
		snap.Wallets = append(snap.Wallets, WalletSnapshot{
			Address:                addr,
			AccountIndex:           key.idx,
			Owner:                  key.owner,
			PublicKey:              append([]byte(nil), w.PublicKey...),
			PrivateKey:             append([]byte(nil), w.PrivateKey...),
			OwnerValue:             ownerVal,
			OwnerWroteAt:           ownerAt,
			OwnerWritten:           ownerWritten,
			MaxExpiry:              w.MaxExpiry,
			ExportRequestedValue:   exportVal,
			ExportRequestedWroteAt: exportAt,
			ExportRequestedWritten: exportWritten,
			ExportCounterparty:     w.ExportCounterparty,
			Leases:                 leases,
			Destroyed:              w.destroyed,
		})
	}

	for p, entries := range r.attended {
		snap.Attended[p] = append([]AttendedEntry(nil), entries...)
	}

	return snap
}

// ImportState replaces the registry's entire state with snap. Callers must
// do this before the registry serves any dispatch, since it is not
// transactional against concurrent operations.
func (r *Registry) ImportState(snap RegistrySnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.wallets = make(map[interfaces.WalletAddress]*Wallet, len(snap.Wallets))
	r.ownerIndex = make(map[ownerKey]interfaces.WalletAddress, len(snap.Wallets))

	for _, ws := range snap.Wallets {
		w := &Wallet{
			Address:            ws.Address,
			PublicKey:          ws.PublicKey,
			PrivateKey:         ws.PrivateKey,
			MaxExpiry:          ws.MaxExpiry,
			ExportCounterparty: ws.ExportCounterparty,
			Leases:             make(map[interfaces.AssetTag]*Lease, len(ws.Leases)),
			destroyed:          ws.Destroyed,
		}
		if ws.OwnerWritten {
			w.Owner = delayedcell.NewAt(ws.OwnerValue, ws.OwnerWroteAt)
		}
		if ws.ExportRequestedWritten {
			w.ExportRequested = delayedcell.NewAt(ws.ExportRequestedValue, ws.ExportRequestedWroteAt)
		}
		for _, ls := range ws.Leases {
			lease := &Lease{Expiry: ls.Expiry}
			if ls.PolicyWritten {
				lease.Policy = delayedcell.NewAt(ls.PolicyValue, ls.PolicyWroteAt)
			}
			w.Leases[ls.Asset] = lease
		}

		r.wallets[ws.Address] = w
		r.ownerIndex[ownerKey{owner: ws.Owner, idx: ws.AccountIndex}] = ws.Address
	}

	r.attended = make(map[interfaces.Principal][]AttendedEntry, len(snap.Attended))
	for p, entries := range snap.Attended {
		r.attended[p] = append([]AttendedEntry(nil), entries...)
	}
}
