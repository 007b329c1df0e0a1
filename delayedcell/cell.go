// Package delayedcell implements the delayed-finalization primitive
// (spec.md §4.1): a value plus the block at which it was last written, where
// reads only become authoritative in a strictly later block than the write.
//
// This is the mechanism by which ownership transfers, lease installations
// and export-request flips avoid leaking their decision into the same
// dispatch that produced them: a policy that creates a wallet and enrolls
// itself in one block cannot also sign in that block, because the
// enrollment's leaseholder cell has not finalized yet.
package delayedcell

import "github.com/ruteri/liquefaction/kernelerr"

// Cell holds a value of type T and the block number it was last written at.
type Cell[T comparable] struct {
	value   T
	wroteAt uint64
	written bool
}

// New returns a zero-valued, never-written cell.
func New[T comparable]() Cell[T] {
	return Cell[T]{}
}

// NewAt returns a cell pre-populated as if written at wroteAt. Used when
// reloading a cell from a snapshot.
func NewAt[T comparable](value T, wroteAt uint64) Cell[T] {
	return Cell[T]{value: value, wroteAt: wroteAt, written: true}
}

// UpdateTo writes a new value, failing if the cell was already written in
// currentBlock (same-block double-mutation).
func (c *Cell[T]) UpdateTo(op string, value T, currentBlock uint64) error {
	if c.written && c.wroteAt == currentBlock {
		return kernelerr.New(op, kernelerr.Pending, nil)
	}
	c.value = value
	c.wroteAt = currentBlock
	c.written = true
	return nil
}

// Finalized returns the value only if it was written strictly before
// currentBlock; otherwise it fails with Pending.
func (c *Cell[T]) Finalized(op string, currentBlock uint64) (T, error) {
	var zero T
	if !c.written {
		return zero, kernelerr.New(op, kernelerr.Pending, nil)
	}
	if c.wroteAt >= currentBlock {
		return zero, kernelerr.New(op, kernelerr.Pending, nil)
	}
	return c.value, nil
}

// IsFinalizedEqualTo returns false (not an error) when the cell is pending,
// otherwise whether the finalized value equals want.
func (c *Cell[T]) IsFinalizedEqualTo(want T, currentBlock uint64) bool {
	if !c.written || c.wroteAt >= currentBlock {
		return false
	}
	return c.value == want
}

// WroteAt reports the block number of the last write and whether the cell
// has ever been written.
func (c *Cell[T]) WroteAt() (uint64, bool) {
	return c.wroteAt, c.written
}

// Raw returns the underlying value and write-block regardless of
// finalization, for snapshotting.
func (c *Cell[T]) Raw() (T, uint64, bool) {
	return c.value, c.wroteAt, c.written
}
