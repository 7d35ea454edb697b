// Copyright (c) 2024, ncconfd project. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package startup implements the boot-time startup controller of
// spec.md §4.7 — C8: pick a source for the initial running
// configuration per -startup-mode, run any pending module upgrade
// callbacks, validate and commit it, falling back to the failsafe
// datastore on failure, then seed candidate and (on success) overlay
// any configured extra XML.
//
// Grounded on original_source/apps/backend/backend_main.c's startup
// sequence (SM_INIT/SM_NONE/SM_RUNNING/SM_STARTUP switch, ret2status's
// three-way STARTUP_OK/STARTUP_ERR/STARTUP_INVALID mapping,
// startup_failsafe, and the startup_extraxml call gated on
// status == STARTUP_OK) — the teacher repo's own equivalent
// (danos/config/load) is an external package not present in this pack,
// so clixon's C control flow is re-expressed here in the teacher's Go
// idiom (explicit Context, explicit error returns, no globals).
package startup

import (
	"context"
	"fmt"
	"os"

	"github.com/coreconf/ncconfd/commit"
	"github.com/coreconf/ncconfd/datastore"
	"github.com/coreconf/ncconfd/ncerror"
	"github.com/coreconf/ncconfd/plugin"
	"github.com/coreconf/ncconfd/rpc"
	"github.com/coreconf/ncconfd/schema"
	"github.com/coreconf/ncconfd/tree"
	"gopkg.in/yaml.v3"
)

// Outcome is the three-way result of ret2status in backend_main.c.
type Outcome int

const (
	StartupOK Outcome = iota
	StartupErr
	StartupInvalid
)

func (o Outcome) String() string {
	switch o {
	case StartupOK:
		return "STARTUP_OK"
	case StartupErr:
		return "STARTUP_ERR"
	case StartupInvalid:
		return "STARTUP_INVALID"
	}
	return "unknown"
}

// Result reports what Run did.
type Result struct {
	Outcome     Outcome
	UsedFailsafe bool
	Diagnostics []schema.Diagnostic
}

// Controller is the C8 startup controller. Zero value is not usable;
// use New.
type Controller struct {
	reg            *datastore.Registry
	eng            *commit.Engine
	oracle         schema.Oracle
	bus            *plugin.Bus
	extraXMLPath   string
	moduleStatePath string
}

func New(reg *datastore.Registry, eng *commit.Engine, oracle schema.Oracle, bus *plugin.Bus, extraXMLPath, moduleStatePath string) *Controller {
	return &Controller{reg: reg, eng: eng, oracle: oracle, bus: bus,
		extraXMLPath: extraXMLPath, moduleStatePath: moduleStatePath}
}

// Run executes the boot sequence for -startup-mode mode ("none",
// "init", "running" or "startup").
func (c *Controller) Run(ctx context.Context, mode string) (*Result, error) {
	if err := c.runUpgrades(ctx); err != nil {
		return nil, fmt.Errorf("startup: module upgrade: %w", err)
	}

	var outcome Outcome
	var diags []schema.Diagnostic
	var err error

	switch mode {
	case "none":
		outcome = StartupOK
	case "init":
		if _, perr := c.reg.Put(rpc.Running, "", tree.New("config")); perr != nil {
			return nil, fmt.Errorf("startup: reset running: %w", perr)
		}
		outcome = StartupOK
	case "running":
		outcome, diags, err = c.applyFrom(ctx, rpc.Running)
	case "startup":
		outcome, diags, err = c.applyFrom(ctx, rpc.Startup)
	default:
		return nil, fmt.Errorf("startup: unknown startup mode %q", mode)
	}
	if err != nil {
		return nil, err
	}

	usedFailsafe := false
	if outcome != StartupOK {
		if ferr := c.applyFailsafe(); ferr != nil {
			return nil, fmt.Errorf("startup: failsafe recovery failed: %w", ferr)
		}
		usedFailsafe = true
	}

	if err := c.reg.CopyConfig(rpc.Candidate, "", rpc.Running, ""); err != nil {
		return nil, fmt.Errorf("startup: seed candidate: %w", err)
	}

	if outcome == StartupOK && mode != "none" && c.extraXMLPath != "" {
		if err := c.overlayExtraXML(); err != nil {
			return nil, fmt.Errorf("startup: extra-xml overlay: %w", err)
		}
	}

	c.saveModuleState()

	return &Result{Outcome: outcome, UsedFailsafe: usedFailsafe, Diagnostics: diags}, nil
}

// applyFrom loads source (running, re-validated fresh, or startup),
// seeds an empty running so the commit engine sees every element as
// added, and commits it through the full plugin-phase table.
func (c *Controller) applyFrom(ctx context.Context, source rpc.Datastore) (Outcome, []schema.Diagnostic, error) {
	if !c.reg.Exists(source, "") && source != rpc.Running {
		return StartupErr, nil, nil
	}
	src, _, err := c.reg.Get(source, "")
	if err != nil {
		return StartupErr, nil, nil
	}

	if _, err := c.reg.Put(rpc.Candidate, "", src); err != nil {
		return StartupErr, nil, err
	}
	if _, err := c.reg.Put(rpc.Running, "", tree.New("config")); err != nil {
		return StartupErr, nil, err
	}

	if _, err := c.eng.Commit(ctx, commit.ModeSet, ""); err != nil {
		if el, ok := err.(*ncerror.List); ok {
			return StartupInvalid, errorsToDiagnostics(el), nil
		}
		return StartupErr, nil, nil
	}
	return StartupOK, nil, nil
}

func errorsToDiagnostics(l *ncerror.List) []schema.Diagnostic {
	diags := make([]schema.Diagnostic, 0, len(l.Errors))
	for _, e := range l.Errors {
		diags = append(diags, schema.Diagnostic{
			Severity: string(e.Severity), Tag: string(e.Tag),
			Path: e.Path, Message: e.Message, AppTag: e.AppTag,
		})
	}
	return diags
}

// applyFailsafe loads the failsafe datastore straight into running,
// bypassing validation: a failsafe config is trusted by construction
// (spec.md §4.7), matching startup_failsafe's role as last resort.
func (c *Controller) applyFailsafe() error {
	return c.reg.CopyConfig(rpc.Running, "", rpc.Failsafe, "")
}

func (c *Controller) overlayExtraXML() error {
	data, err := os.ReadFile(c.extraXMLPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	extra, err := tree.Parse(data)
	if err != nil {
		return err
	}
	candidate, _, err := c.reg.Get(rpc.Candidate, "")
	if err != nil {
		return err
	}
	merged, err := tree.Merge(candidate, extra)
	if err != nil {
		return err
	}
	_, err = c.reg.Put(rpc.Candidate, "", merged)
	return err
}

// moduleRevisions is the on-disk YAML shape for the module-state
// comparison (spec.md §4.7's "compare with startup XML" step).
type moduleRevisions map[string]string

func (c *Controller) runUpgrades(ctx context.Context) error {
	if c.moduleStatePath == "" {
		return nil
	}
	prev, err := loadModuleState(c.moduleStatePath)
	if err != nil {
		return err
	}

	changed := map[string][2]string{}
	for _, m := range c.oracle.Modules() {
		if prevRev, ok := prev[m.Name]; ok && prevRev != m.Revision {
			changed[m.Name] = [2]string{prevRev, m.Revision}
		}
	}
	if len(changed) == 0 {
		return nil
	}

	running, _, err := c.reg.Get(rpc.Running, "")
	if err != nil {
		return err
	}
	upgraded, err := c.bus.UpgradeModules(ctx, changed, running)
	if err != nil {
		return err
	}
	_, err = c.reg.Put(rpc.Running, "", upgraded)
	return err
}

func (c *Controller) saveModuleState() {
	if c.moduleStatePath == "" {
		return
	}
	rev := moduleRevisions{}
	for _, m := range c.oracle.Modules() {
		rev[m.Name] = m.Revision
	}
	data, err := yaml.Marshal(rev)
	if err != nil {
		return
	}
	os.WriteFile(c.moduleStatePath, data, 0644)
}

func loadModuleState(path string) (moduleRevisions, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return moduleRevisions{}, nil
	}
	if err != nil {
		return nil, err
	}
	rev := moduleRevisions{}
	if err := yaml.Unmarshal(data, &rev); err != nil {
		return nil, err
	}
	return rev, nil
}
