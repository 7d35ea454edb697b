// Copyright (c) 2024, ncconfd project. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only
package datastore

import (
	"github.com/coreconf/ncconfd"
	"github.com/coreconf/ncconfd/ncerror"
	"github.com/coreconf/ncconfd/rpc"
)

// Lock acquires an exclusive lock on ds for holder/holderSession
// (grounded on session/sessionmgr.go's Lock/Unlock pair). Re-locking by
// the same holder is idempotent; locking against a different holder
// fails with lock-denied naming the current holder, per RFC 6241 §7.5.
func (r *Registry) Lock(ds rpc.Datastore, holder ncconfd.LockId, holderSession string) error {
	_, err := r.call(func(r *Registry) (interface{}, error) {
		e, err := r.lookup(ds, "")
		if err != nil {
			return nil, err
		}
		if e.locked && e.holder != holder {
			return nil, ncerror.NewLockDeniedProtocolError(e.holderSession)
		}
		e.locked = true
		e.holder = holder
		e.holderSession = holderSession
		return nil, nil
	})
	return err
}

// Unlock releases ds's lock. Unlocking by anyone other than the
// current holder fails with lock-denied. Unlocking an already-unlocked
// datastore is not an error.
func (r *Registry) Unlock(ds rpc.Datastore, holder ncconfd.LockId) error {
	_, err := r.call(func(r *Registry) (interface{}, error) {
		e, err := r.lookup(ds, "")
		if err != nil {
			return nil, err
		}
		if !e.locked {
			return nil, nil
		}
		if e.holder != holder {
			return nil, ncerror.NewLockDeniedProtocolError(e.holderSession)
		}
		e.locked = false
		e.holder = 0
		e.holderSession = ""
		return nil, nil
	})
	return err
}

// UnlockAll releases every lock held by holderSession, called when a
// session closes (grounded on session/sessionmgr.go's UnlockAllPid).
func (r *Registry) UnlockAll(holderSession string) {
	r.call(func(r *Registry) (interface{}, error) {
		for _, e := range r.named {
			if e.locked && e.holderSession == holderSession {
				e.locked = false
				e.holder = 0
				e.holderSession = ""
			}
		}
		return nil, nil
	})
}

// LockHolder reports ds's current holder, if any.
func (r *Registry) LockHolder(ds rpc.Datastore) (holder ncconfd.LockId, session string, locked bool) {
	val, _ := r.call(func(r *Registry) (interface{}, error) {
		e, err := r.lookup(ds, "")
		if err != nil {
			return nil, err
		}
		return *e, nil
	})
	e, ok := val.(entry)
	if !ok {
		return 0, "", false
	}
	return e.holder, e.holderSession, e.locked
}
