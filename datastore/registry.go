// Copyright (c) 2024, ncconfd project. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package datastore implements the named-datastore registry (spec.md
// §4.2 — C2): candidate/running/startup/failsafe/tmp plus one private
// candidate per session, each versioned by a generation counter and
// persisted through a storage.Backend.
//
// All registry state is owned by a single goroutine (grounded on
// session/commitmgr.go's CommitMgr: a request channel plus a
// response channel per call) so the exported methods can be called
// concurrently without a lock, matching the single-threaded
// cooperative event-loop model of spec.md §5.
package datastore

import (
	"fmt"
	"sync/atomic"

	"github.com/coreconf/ncconfd"
	"github.com/coreconf/ncconfd/ncerror"
	"github.com/coreconf/ncconfd/rpc"
	"github.com/coreconf/ncconfd/storage"
	"github.com/coreconf/ncconfd/tree"
)

// Generation is a monotonically increasing per-datastore version,
// bumped on every successful Put and returned by Get and Put. The commit
// engine (C6) does not consult it.
type Generation uint64

type entry struct {
	tree          *tree.Node
	gen           Generation
	locked        bool
	holder        ncconfd.LockId
	holderSession string
}

type request struct {
	fn   func(*Registry) (interface{}, error)
	resp chan response
}

type response struct {
	val interface{}
	err error
}

// Registry is the C2 datastore registry. Zero value is not usable; use
// New.
type Registry struct {
	backend storage.Backend
	resolve tree.Resolver
	reqch   chan request
	closed  int32

	named   map[rpc.Datastore]*entry
	session map[string]*entry
}

// New creates a Registry backed by backend, binding every loaded tree
// against resolve (nil is fine: nodes simply stay unbound). The five
// named datastores are seeded empty; Load should be called afterwards
// to hydrate them from disk.
func New(backend storage.Backend, resolve tree.Resolver) *Registry {
	r := &Registry{
		backend: backend,
		resolve: resolve,
		reqch:   make(chan request),
		named:   map[rpc.Datastore]*entry{},
		session: map[string]*entry{},
	}
	for _, ds := range []rpc.Datastore{rpc.Candidate, rpc.Running, rpc.Startup, rpc.Failsafe, rpc.Tmp} {
		r.named[ds] = &entry{tree: tree.New("config")}
	}
	go r.run()
	return r
}

func (r *Registry) run() {
	for req := range r.reqch {
		val, err := req.fn(r)
		req.resp <- response{val, err}
	}
}

func (r *Registry) call(fn func(*Registry) (interface{}, error)) (interface{}, error) {
	if atomic.LoadInt32(&r.closed) != 0 {
		return nil, fmt.Errorf("datastore: registry closed")
	}
	resp := make(chan response, 1)
	r.reqch <- request{fn: fn, resp: resp}
	res := <-resp
	return res.val, res.err
}

// Close stops the registry's goroutine and closes the backend. No
// further calls may be made afterwards.
func (r *Registry) Close() error {
	atomic.StoreInt32(&r.closed, 1)
	close(r.reqch)
	return r.backend.Close()
}

func (r *Registry) lookup(ds rpc.Datastore, sid string) (*entry, error) {
	if sid != "" {
		e, ok := r.session[sid]
		if !ok {
			return nil, fmt.Errorf("datastore: no session datastore for %s", sid)
		}
		return e, nil
	}
	e, ok := r.named[ds]
	if !ok {
		return nil, fmt.Errorf("datastore: unknown datastore %q", ds)
	}
	return e, nil
}

// Load hydrates ds from the backend, parsing and schema-binding the
// persisted bytes. A datastore with nothing persisted yet is left
// empty rather than erroring.
func (r *Registry) Load(ds rpc.Datastore) error {
	_, err := r.call(func(r *Registry) (interface{}, error) {
		data, err := r.backend.Load(ds)
		if err != nil {
			return nil, err
		}
		if data == nil {
			return nil, nil
		}
		t, err := tree.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("datastore: parse %s: %w", ds, err)
		}
		if r.resolve != nil {
			tree.BindSchema(t, r.resolve)
		}
		e, err := r.lookup(ds, "")
		if err != nil {
			return nil, err
		}
		e.tree = t
		return nil, nil
	})
	return err
}

// Get returns a clone of ds's current tree and generation. A session
// id selects that session's private candidate instead of a named
// datastore; pass "" for the shared named datastores.
func (r *Registry) Get(ds rpc.Datastore, sid string) (*tree.Node, Generation, error) {
	val, err := r.call(func(r *Registry) (interface{}, error) {
		e, err := r.lookup(ds, sid)
		if err != nil {
			return nil, err
		}
		return struct {
			t   *tree.Node
			gen Generation
		}{tree.Clone(e.tree), e.gen}, nil
	})
	if err != nil {
		return nil, 0, err
	}
	pair := val.(struct {
		t   *tree.Node
		gen Generation
	})
	return pair.t, pair.gen, nil
}

// Put replaces ds's tree with t, bumps its generation and persists the
// new content. The caller must hold ds's lock if one is in force.
func (r *Registry) Put(ds rpc.Datastore, sid string, t *tree.Node) (Generation, error) {
	val, err := r.call(func(r *Registry) (interface{}, error) {
		e, err := r.lookup(ds, sid)
		if err != nil {
			return nil, err
		}
		e.tree = tree.Clone(t)
		e.gen++
		if sid == "" {
			if err := r.backend.Save(ds, tree.Serialize(e.tree, false)); err != nil {
				return nil, fmt.Errorf("datastore: persist %s: %w", ds, err)
			}
		}
		return e.gen, nil
	})
	if err != nil {
		return 0, err
	}
	return val.(Generation), nil
}

// Exists reports whether ds (or the session's private datastore) holds
// any content.
func (r *Registry) Exists(ds rpc.Datastore, sid string) bool {
	val, _ := r.call(func(r *Registry) (interface{}, error) {
		e, err := r.lookup(ds, sid)
		if err != nil {
			return false, nil
		}
		return len(e.tree.Children) > 0, nil
	})
	b, _ := val.(bool)
	return b
}

// CopyConfig clones src into dst atomically, matching RFC 6241's
// <copy-config>: the whole of dst is replaced in one step, never left
// half-written.
func (r *Registry) CopyConfig(dstDS rpc.Datastore, dstSid string, srcDS rpc.Datastore, srcSid string) error {
	_, err := r.call(func(r *Registry) (interface{}, error) {
		se, err := r.lookup(srcDS, srcSid)
		if err != nil {
			return nil, err
		}
		de, err := r.lookup(dstDS, dstSid)
		if err != nil {
			return nil, err
		}
		de.tree = tree.Clone(se.tree)
		de.gen++
		if dstSid == "" {
			if err := r.backend.Save(dstDS, tree.Serialize(de.tree, false)); err != nil {
				return nil, fmt.Errorf("datastore: persist %s: %w", dstDS, err)
			}
		}
		return nil, nil
	})
	return err
}

// DeleteConfig empties ds, matching RFC 6241's <delete-config>.
// Deleting running or candidate is rejected (RFC 6241 §7.3: they may
// not be deleted, only replaced).
func (r *Registry) DeleteConfig(ds rpc.Datastore) error {
	if ds == rpc.Running || ds == rpc.Candidate {
		e := ncerror.NewOperationNotSupportedApplicationError()
		e.Message = "running and candidate cannot be deleted, only replaced"
		return e
	}
	_, err := r.call(func(r *Registry) (interface{}, error) {
		e, err := r.lookup(ds, "")
		if err != nil {
			return nil, err
		}
		e.tree = tree.New("config")
		e.gen++
		return nil, r.backend.Delete(ds)
	})
	return err
}
