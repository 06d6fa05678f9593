// Copyright 2025 LogTier Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package ledger defines the read-side contract for closed, immutable,
// append-ordered ledgers: a ReadHandle that serves entries by ID, the
// ledger metadata record with its binary codec, and an in-memory ledger
// used by tests and the bench command.
package ledger

import (
	"context"
)

// Entry is a single ledger record addressed by a dense, zero-based ID.
type Entry struct {
	ID   int64
	Data []byte
}

// ReadHandle reads entries from a ledger by ID. Implementations must be
// safe for concurrent readers. A handle over a closed ledger serves IDs
// in [0, LastAddConfirmed].
type ReadHandle interface {
	// ID returns the ledger identifier.
	ID() int64

	// Length returns the total stored payload size in bytes, as tracked
	// by the system of record.
	Length() int64

	// IsClosed reports whether the ledger is sealed. Only closed ledgers
	// may be offloaded.
	IsClosed() bool

	// LastAddConfirmed returns the highest readable entry ID, or -1 for
	// an empty ledger.
	LastAddConfirmed() int64

	// Metadata returns the ledger metadata record.
	Metadata() *Metadata

	// ReadEntries returns the entries with IDs in [firstEntry, lastEntry].
	ReadEntries(ctx context.Context, firstEntry, lastEntry int64) ([]Entry, error)

	// Close releases resources held by the handle.
	Close() error
}
