// Copyright (c) 2024, ncconfd project. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package commit implements the two-phase commit transaction engine of
// spec.md §4.6 — C6. A transaction runs begin, validate, complete and
// commit forward through every registered plugin in registration
// order; once every plugin has accepted commit, commit_done and end
// run forward to let plugins finalize. If any forward phase fails, the
// engine drives revert then end in reverse registration order instead
// (abort is used when the failure happens in begin or validate, before
// any plugin was handed the change to complete).
//
// Grounded on session/commitmgr.go's CommitMgr: one goroutine owns
// commit state (here, reached through datastore.Registry's own
// request channel rather than a second one) and an inCommit flag
// rejects concurrent attempts. spec.md §4.6 calls that rejection
// "in-use" rather than the teacher's resource-denied, so Engine uses
// ncerror.NewInUseProtocolError for contention.
package commit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/coreconf/ncconfd/datastore"
	"github.com/coreconf/ncconfd/ncerror"
	"github.com/coreconf/ncconfd/plugin"
	"github.com/coreconf/ncconfd/rpc"
	"github.com/coreconf/ncconfd/schema"
	"github.com/coreconf/ncconfd/tree"
	"github.com/google/uuid"
)

// CompatMode selects whether edit-config targets the candidate
// (two-step edit + commit, default) or running directly in one step
// (RFC 6241 §8.3.1's :writable-running without :candidate, spec.md
// §4.6's "set" mode).
type CompatMode int

const (
	ModeCandidate CompatMode = iota
	ModeSet
)

// Result reports a completed transaction.
type Result struct {
	TxnId   string
	Changes *tree.Changeset
}

// Engine is the C6 commit engine. Zero value is not usable; use New.
type Engine struct {
	reg    *datastore.Registry
	bus    *plugin.Bus
	oracle schema.Oracle
	metrics Metrics

	mu       sync.Mutex
	inCommit bool
}

// Metrics is the subset of prometheus.Collector hooks the engine
// drives; the server wires a concrete implementation backed by
// client_golang counters/histograms (spec.md's metrics ambient stack).
type Metrics interface {
	CommitStarted()
	CommitSucceeded()
	CommitFailed(reason string)
}

type noopMetrics struct{}

func (noopMetrics) CommitStarted()        {}
func (noopMetrics) CommitSucceeded()      {}
func (noopMetrics) CommitFailed(string)   {}

func New(reg *datastore.Registry, bus *plugin.Bus, oracle schema.Oracle) *Engine {
	return &Engine{reg: reg, bus: bus, oracle: oracle, metrics: noopMetrics{}}
}

func (e *Engine) SetMetrics(m Metrics) { e.metrics = m }

// Commit runs the full transaction protocol against sid's private
// candidate (or the shared candidate, when sid is "" — used by
// ModeSet and by startup/confirm which operate without a session).
func (e *Engine) Commit(ctx context.Context, mode CompatMode, sid string) (*Result, error) {
	e.mu.Lock()
	if e.inCommit {
		e.mu.Unlock()
		return nil, ncerror.NewInUseProtocolError()
	}
	e.inCommit = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.inCommit = false
		e.mu.Unlock()
	}()

	e.metrics.CommitStarted()

	candidate, _, err := e.reg.Get(rpc.Candidate, sid)
	if err != nil {
		e.metrics.CommitFailed("read-candidate")
		return nil, err
	}
	running, _, err := e.reg.Get(rpc.Running, "")
	if err != nil {
		e.metrics.CommitFailed("read-running")
		return nil, err
	}

	changes := tree.Diff(running, candidate)
	if changes.Empty() {
		e.metrics.CommitSucceeded()
		return &Result{TxnId: newTxnId(), Changes: changes}, nil
	}

	tree.BindSchema(candidate, schema.Resolver(e.oracle))

	var schemaErrs ncerror.List
	for _, d := range e.oracle.ValidateStructure(candidate) {
		schemaErrs.Append(&ncerror.Error{
			Type: ncerror.TypeApplication, Tag: ncerror.ErrorTag(d.Tag),
			Path: d.Path, Message: d.Message, AppTag: d.AppTag,
		})
	}
	if !schemaErrs.Empty() {
		e.metrics.CommitFailed("validate")
		return nil, &schemaErrs
	}

	txnId := newTxnId()
	reached := 0

	forward := []plugin.Phase{plugin.PhaseBegin, plugin.PhaseValidate, plugin.PhaseComplete, plugin.PhaseCommit}
	for _, phase := range forward {
		failed, n, err := e.bus.RunForward(ctx, phase, running, candidate, changes)
		if err != nil {
			phaseErr := fmt.Errorf("commit: phase %s failed in plugin %s: %w", phase, failed, err)
			e.metrics.CommitFailed(string(phase))
			// n is the failing plugin's index; it observed the phase too,
			// so cleanup covers it as well.
			if rbErrs := e.rollback(ctx, phase, n+1, running, candidate, changes); len(rbErrs) > 0 {
				return nil, rollbackFailedError(phaseErr, rbErrs)
			}
			return nil, phaseErr
		}
		reached = n
	}

	// Every plugin accepted the change: publish running, then tell
	// plugins it is final.
	if _, err := e.reg.Put(rpc.Running, "", candidate); err != nil {
		e.metrics.CommitFailed("publish")
		if rbErrs := e.rollback(ctx, plugin.PhaseCommit, reached, running, candidate, changes); len(rbErrs) > 0 {
			return nil, rollbackFailedError(err, rbErrs)
		}
		return nil, err
	}

	for _, phase := range []plugin.Phase{plugin.PhaseCommitDone, plugin.PhaseEnd} {
		e.bus.RunForward(ctx, phase, running, candidate, changes)
	}

	if mode == ModeCandidate && sid != "" {
		// candidate now equals running; keep the session's working copy
		// in sync the way RFC 6241 §8.3.1's commit-then-clear does.
		e.reg.Put(rpc.Candidate, sid, candidate)
	}

	e.metrics.CommitSucceeded()
	return &Result{TxnId: txnId, Changes: changes}, nil
}

// rollback drives cleanup in reverse registration order, limited to the
// reached plugins that actually observed the failed phase (spec.md §8
// Property 4). failedPhase selects which cleanup path spec.md §4.5's
// table requires: begin and validate haven't committed anything yet,
// so they abort; complete and commit (and a failed post-commit
// publish, reported here as PhaseCommit) have to unwind a change that
// was already handed to plugins, so they revert then end.
func (e *Engine) rollback(ctx context.Context, failedPhase plugin.Phase, reached int, oldTree, newTree *tree.Node, changes *tree.Changeset) []error {
	if failedPhase == plugin.PhaseBegin || failedPhase == plugin.PhaseValidate {
		return e.bus.RunReverse(ctx, plugin.PhaseAbort, oldTree, newTree, changes, reached)
	}
	var errs []error
	errs = append(errs, e.bus.RunReverse(ctx, plugin.PhaseRevert, oldTree, newTree, changes, reached)...)
	errs = append(errs, e.bus.RunReverse(ctx, plugin.PhaseEnd, oldTree, newTree, changes, reached)...)
	return errs
}

// rollbackFailedError reports a transaction that failed to commit and
// then failed to clean up after itself (spec.md §8 scenario S6): the
// wire-visible error must carry error-tag=rollback-failed rather than
// whatever tag the original phase failure would have produced, since
// the datastore is now in a state no single ncerror tag describes on
// its own.
func rollbackFailedError(cause error, rbErrs []error) error {
	e := ncerror.NewRollbackFailedApplicationError()
	e.Message = fmt.Sprintf("commit failed (%v) and rollback also failed: %v", cause, errors.Join(rbErrs...))
	return e
}

func newTxnId() string { return uuid.NewString() }
