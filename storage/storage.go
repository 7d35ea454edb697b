// Copyright (c) 2024, ncconfd project. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package storage persists datastore contents to disk (spec.md §4.2 —
// C2's backing store). The registry itself stays backend-agnostic so a
// file-per-datastore layout and a single-file bbolt layout can be
// swapped in with the storage-plugin CLI option (spec.md §6).
package storage

import "github.com/coreconf/ncconfd/rpc"

// Backend persists and retrieves the raw configuration bytes for a
// named datastore. Implementations need not be safe for concurrent
// use; the datastore registry (C2) serializes all access through its
// own single goroutine.
type Backend interface {
	// Load returns the persisted bytes for ds, or (nil, nil) if ds has
	// never been written.
	Load(ds rpc.Datastore) ([]byte, error)

	// Save persists data for ds, replacing any prior content
	// atomically: a reader must never observe a partial write.
	Save(ds rpc.Datastore, data []byte) error

	// Delete removes any persisted content for ds. Deleting an
	// already-absent datastore is not an error.
	Delete(ds rpc.Datastore) error

	// Close releases any resources the backend holds open.
	Close() error
}
