// Copyright (c) 2024, ncconfd project. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package validate implements the read-only validation pass of
// spec.md §4.4 — C5: schema structural checks via the schema oracle
// (C3), then every registered plugin's validate callback, aggregated
// into one ncerror.List. Nothing here mutates a datastore.
//
// Grounded on session/commit.go's validate() → commit.Validate call
// shape: run the schema-level checks first (they are cheap and catch
// most malformed input), then give plugins a chance to reject
// semantically, collecting every diagnostic rather than stopping at
// the first.
package validate

import (
	"context"

	"github.com/coreconf/ncconfd/ncerror"
	"github.com/coreconf/ncconfd/plugin"
	"github.com/coreconf/ncconfd/schema"
	"github.com/coreconf/ncconfd/tree"
)

// Result is the outcome of a Run: Errors is empty iff the candidate is
// acceptable to commit.
type Result struct {
	Errors ncerror.List
}

func (r *Result) OK() bool { return r.Errors.Empty() }

// Run validates newTree against oracle's schema and every plugin
// registered on bus, diffing against oldTree so plugins can see what
// actually changed (spec.md §4.5's "touched namespace" optimization).
func Run(ctx context.Context, oracle schema.Oracle, bus *plugin.Bus, oldTree, newTree *tree.Node) *Result {
	res := &Result{}

	for _, d := range oracle.ValidateStructure(newTree) {
		res.Errors.Append(diagnosticToError(d))
	}

	changes := tree.Diff(oldTree, newTree)
	if failed, _, err := bus.RunForward(ctx, plugin.PhaseValidate, oldTree, newTree, changes); err != nil {
		res.Errors.Append(pluginError(failed, err))
	}

	return res
}

func diagnosticToError(d schema.Diagnostic) *ncerror.Error {
	e := &ncerror.Error{
		Type:    ncerror.TypeApplication,
		Tag:     ncerror.ErrorTag(d.Tag),
		Path:    d.Path,
		Message: d.Message,
		AppTag:  d.AppTag,
	}
	if d.Severity == "warning" {
		e.Severity = ncerror.SeverityWarning
	} else {
		e.Severity = ncerror.SeverityError
	}
	return e
}

func pluginError(name string, err error) *ncerror.Error {
	e := ncerror.NewOperationFailedApplicationError()
	e.Message = "plugin " + name + ": " + err.Error()
	return e
}
