// Copyright (c) 2024, ncconfd project. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/coreconf/ncconfd/rpc"
)

// FileBackend stores each datastore as its own file under a directory,
// writing through a temp file plus rename so a reader never observes a
// partial write (grounded on session/commitmgr.go's writeRunning and
// server/config_mgmt.go's writeTempRunningConfigFile: create, chmod
// 0600 since a running config can carry secrets, write, rename).
type FileBackend struct {
	dir string
}

func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", dir, err)
	}
	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) path(ds rpc.Datastore) string {
	return filepath.Join(b.dir, string(ds)+".xml")
}

func (b *FileBackend) Load(ds rpc.Datastore) ([]byte, error) {
	data, err := os.ReadFile(b.path(ds))
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}

func (b *FileBackend) Save(ds rpc.Datastore, data []byte) error {
	tmp, err := os.CreateTemp(b.dir, string(ds)+".tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("storage: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp file: %w", err)
	}
	return os.Rename(tmpName, b.path(ds))
}

func (b *FileBackend) Delete(ds rpc.Datastore) error {
	err := os.Remove(b.path(ds))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (b *FileBackend) Close() error { return nil }
