// Copyright (c) 2024, ncconfd project. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

// Package auth declares the NACM authorization oracle the core
// consults. The evaluator itself is an external collaborator
// (spec.md §1) — this package only states the contract.
package auth

// Oracle's AllowRPC is consulted by the dispatcher before every RPC.
// AllowDataWrite and AllowDataRead are part of the contract, but no
// component in this module calls them; data-node access is not checked.
// A real deployment backs this with a NACM rule-tree evaluator; tests
// use AllowAll/DenyAll.
type Oracle interface {
	// AllowRPC reports whether the given user/group set may invoke the
	// named RPC.
	AllowRPC(user string, groups []string, rpcName string) bool

	// AllowDataWrite reports whether the given user/group set may
	// create/update/delete the data node at path.
	AllowDataWrite(user string, groups []string, path []string) bool

	// AllowDataRead reports whether the given user/group set may read
	// the data node at path.
	AllowDataRead(user string, groups []string, path []string) bool
}

// AllowAll is the permissive oracle used when NACM is disabled.
type AllowAll struct{}

func (AllowAll) AllowRPC(string, []string, string) bool       { return true }
func (AllowAll) AllowDataWrite(string, []string, []string) bool { return true }
func (AllowAll) AllowDataRead(string, []string, []string) bool  { return true }

// DenyAll is useful in tests that exercise the access-denied path.
type DenyAll struct{}

func (DenyAll) AllowRPC(string, []string, string) bool       { return false }
func (DenyAll) AllowDataWrite(string, []string, []string) bool { return false }
func (DenyAll) AllowDataRead(string, []string, []string) bool  { return false }
