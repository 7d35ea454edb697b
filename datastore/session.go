// Copyright (c) 2024, ncconfd project. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only
package datastore

import (
	"fmt"

	"github.com/coreconf/ncconfd/rpc"
	"github.com/coreconf/ncconfd/tree"
)

// OpenSession creates sid's private candidate as a clone of the shared
// candidate datastore (NETCONF's <candidate/> is shared, but ncconfd
// gives each session its own working copy the way configd's per-session
// union tree does, so concurrent edits from different sessions do not
// clobber each other before a commit).
func (r *Registry) OpenSession(sid string) error {
	_, err := r.call(func(r *Registry) (interface{}, error) {
		if _, exists := r.session[sid]; exists {
			return nil, fmt.Errorf("datastore: session %s already open", sid)
		}
		shared := r.named[rpc.Candidate]
		r.session[sid] = &entry{tree: tree.Clone(shared.tree), gen: shared.gen}
		return nil, nil
	})
	return err
}

// CloseSession discards sid's private candidate and releases any locks
// it held.
func (r *Registry) CloseSession(sid string) {
	r.call(func(r *Registry) (interface{}, error) {
		delete(r.session, sid)
		return nil, nil
	})
	r.UnlockAll(sid)
}

// SessionCount reports how many sessions currently have an open
// private candidate.
func (r *Registry) SessionCount() int {
	val, _ := r.call(func(r *Registry) (interface{}, error) {
		return len(r.session), nil
	})
	n, _ := val.(int)
	return n
}
