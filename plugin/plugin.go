// Copyright (c) 2024, ncconfd project. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package plugin implements the transaction-phase callback bus and RPC
// handler table of spec.md §4.5 — C4: one registration-ordered list of
// transaction hooks invoked forward on success and in reverse on
// cleanup, one handler per qualified RPC name, and module upgrade
// callbacks.
//
// Grounded on server/server.go's dispatch-table construction (a single
// map built once at startup, looked up by exported name) generalized
// from "exported Go methods" to "names a plugin registers itself
// under".
package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/coreconf/ncconfd/tree"
)

// Phase names one step of the two-phase commit protocol a plugin can
// hook (spec.md §4.6's transaction table).
type Phase string

const (
	PhaseBegin      Phase = "begin"
	PhaseValidate   Phase = "validate"
	PhaseComplete   Phase = "complete"
	PhaseCommit     Phase = "commit"
	PhaseCommitDone Phase = "commit_done"
	PhaseEnd        Phase = "end"
	PhaseRevert     Phase = "revert"
	PhaseAbort      Phase = "abort"
)

// TxnCallback runs a plugin's hook for one phase against the candidate
// (new) and running (old) trees of the in-flight transaction.
type TxnCallback func(ctx context.Context, phase Phase, oldTree, newTree *tree.Node, changes *tree.Changeset) error

// RPCHandler implements one NETCONF RPC a plugin owns.
type RPCHandler func(ctx context.Context, args interface{}) (interface{}, error)

// UpgradeCallback runs once at startup for a module whose on-disk
// revision differs from its loaded schema revision (spec.md §4.7).
type UpgradeCallback func(ctx context.Context, fromRevision, toRevision string, cfg *tree.Node) (*tree.Node, error)

type registration struct {
	name     string
	priority int
	txn      TxnCallback
}

// Bus is the C4 plugin bus. Zero value is ready to use.
type Bus struct {
	mu       sync.RWMutex
	plugins  []registration
	rpcs     map[string]RPCHandler
	upgrades map[string]UpgradeCallback
}

func NewBus() *Bus {
	return &Bus{
		rpcs:     map[string]RPCHandler{},
		upgrades: map[string]UpgradeCallback{},
	}
}

// RegisterTxn registers a plugin's transaction-phase callback.
// Forward phases run in registration order and cleanup phases in the
// reverse of it; priority is recorded with the registration but does
// not affect invocation order.
func (b *Bus) RegisterTxn(name string, priority int, cb TxnCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.plugins = append(b.plugins, registration{name: name, priority: priority, txn: cb})
}

// RegisterRPC registers the handler for a qualified RPC name. A second
// registration for the same name is an error: exactly one plugin may
// own an RPC (spec.md §4.5).
func (b *Bus) RegisterRPC(name string, h RPCHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.rpcs[name]; exists {
		return fmt.Errorf("plugin: RPC %q already registered", name)
	}
	b.rpcs[name] = h
	return nil
}

// RegisterUpgrade registers module's upgrade callback, overwriting any
// prior registration for the same module (a module replacing its own
// plugin keeps one sink for upgrades).
func (b *Bus) RegisterUpgrade(module string, cb UpgradeCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.upgrades[module] = cb
}

// RPC returns the handler registered for name, or (nil, false).
func (b *Bus) RPC(name string) (RPCHandler, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.rpcs[name]
	return h, ok
}

// Upgrade returns the upgrade callback registered for module, if any.
func (b *Bus) Upgrade(module string) (UpgradeCallback, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	cb, ok := b.upgrades[module]
	return cb, ok
}

// UpgradeModules runs every registered upgrade callback whose module
// name appears in modules, in stable alphabetical order across modules
// (spec.md §9 Open Question: cross-module ordering), threading cfg
// through each call so later callbacks see earlier ones' output.
func (b *Bus) UpgradeModules(ctx context.Context, modules map[string][2]string, cfg *tree.Node) (*tree.Node, error) {
	b.mu.RLock()
	names := make([]string, 0, len(modules))
	for name := range modules {
		if _, ok := b.upgrades[name]; ok {
			names = append(names, name)
		}
	}
	b.mu.RUnlock()
	sort.Strings(names)

	for _, name := range names {
		cb, _ := b.Upgrade(name)
		rev := modules[name]
		next, err := cb(ctx, rev[0], rev[1], cfg)
		if err != nil {
			return nil, fmt.Errorf("plugin: upgrade %s: %w", name, err)
		}
		cfg = next
	}
	return cfg, nil
}

// RunForward invokes every registered plugin's callback for phase, in
// registration order, stopping at the first error. reached reports how
// many plugins (by registration index) actually ran the phase:
// len(plugins) on full success, or the index of the failing plugin
// otherwise (the number of plugins that completed it). On failure the
// commit engine passes reached+1 to RunReverse, so cleanup touches the
// plugins that observed the phase that failed, the failing one
// included (spec.md §8 Property 4).
func (b *Bus) RunForward(ctx context.Context, phase Phase, oldTree, newTree *tree.Node, changes *tree.Changeset) (failed string, reached int, err error) {
	b.mu.RLock()
	plugins := make([]registration, len(b.plugins))
	copy(plugins, b.plugins)
	b.mu.RUnlock()

	for i, p := range plugins {
		if p.txn == nil {
			continue
		}
		if err := p.txn(ctx, phase, oldTree, newTree, changes); err != nil {
			return p.name, i, err
		}
	}
	return "", len(plugins), nil
}

// RunReverse invokes the callback for phase on plugins [0, limit) in
// reverse registration order (spec.md §4.5's cleanup ordering),
// collecting rather than stopping on error so every plugin gets a
// chance to release its own resources. limit is the reached value a
// prior RunForward returned: plugins registered after that point never
// observed the forward phase and must not receive its reverse either
// (spec.md §8 Property 4).
func (b *Bus) RunReverse(ctx context.Context, phase Phase, oldTree, newTree *tree.Node, changes *tree.Changeset, limit int) []error {
	b.mu.RLock()
	plugins := make([]registration, len(b.plugins))
	copy(plugins, b.plugins)
	b.mu.RUnlock()

	if limit > len(plugins) {
		limit = len(plugins)
	}

	var errs []error
	for i := limit - 1; i >= 0; i-- {
		p := plugins[i]
		if p.txn == nil {
			continue
		}
		if err := p.txn(ctx, phase, oldTree, newTree, changes); err != nil {
			errs = append(errs, fmt.Errorf("plugin %s: %w", p.name, err))
		}
	}
	return errs
}

// Names returns the registered plugin names in registration order, for
// diagnostics and tests.
func (b *Bus) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, len(b.plugins))
	for i, p := range b.plugins {
		out[i] = p.name
	}
	return out
}
