// Copyright (c) 2024, ncconfd project. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only
package storage

import (
	"fmt"
	"time"

	"github.com/coreconf/ncconfd/rpc"
	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("datastores")

// BoltBackend stores every datastore as one key in a single bbolt
// file, selected with -storage-plugin=bolt (spec.md §6). bbolt commits
// each Save under its own write transaction, so the atomic-replace
// guarantee FileBackend gets from rename comes for free here.
type BoltBackend struct {
	db *bolt.DB
}

func NewBoltBackend(path string) (*BoltBackend, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("storage: open bolt db %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: create bucket: %w", err)
	}
	return &BoltBackend{db: db}, nil
}

func (b *BoltBackend) Load(ds rpc.Datastore) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(ds))
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

func (b *BoltBackend) Save(ds rpc.Datastore, data []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(ds), data)
	})
}

func (b *BoltBackend) Delete(ds rpc.Datastore) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(ds))
	})
}

func (b *BoltBackend) Close() error { return b.db.Close() }
