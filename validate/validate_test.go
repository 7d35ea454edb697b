// Copyright (c) 2024, ncconfd project. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only
package validate_test

import (
	"context"
	"errors"
	"testing"

	"github.com/coreconf/ncconfd/plugin"
	"github.com/coreconf/ncconfd/schema"
	"github.com/coreconf/ncconfd/tree"
	"github.com/coreconf/ncconfd/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSchema() schema.Oracle {
	root := schema.NewContainer("config").WithChild(
		schema.NewLeaf("name").WithMandatory(),
	)
	return schema.NewStatic().AddRoot(root)
}

func TestRunOKForValidTree(t *testing.T) {
	oracle := buildSchema()
	n, err := tree.Parse([]byte(`<config><name>r1</name></config>`))
	require.NoError(t, err)
	tree.BindSchema(n, schema.Resolver(oracle))

	res := validate.Run(context.Background(), oracle, plugin.NewBus(), tree.New("config"), n)
	assert.True(t, res.OK())
}

func TestRunFlagsMissingMandatoryLeaf(t *testing.T) {
	oracle := buildSchema()
	n, err := tree.Parse([]byte(`<config></config>`))
	require.NoError(t, err)
	tree.BindSchema(n, schema.Resolver(oracle))

	res := validate.Run(context.Background(), oracle, plugin.NewBus(), tree.New("config"), n)
	assert.False(t, res.OK())
}

func TestRunAggregatesPluginValidateFailure(t *testing.T) {
	oracle := buildSchema()
	n, err := tree.Parse([]byte(`<config><name>r1</name></config>`))
	require.NoError(t, err)
	tree.BindSchema(n, schema.Resolver(oracle))

	bus := plugin.NewBus()
	bus.RegisterTxn("rejector", 0, func(ctx context.Context, phase plugin.Phase, old, new *tree.Node, cs *tree.Changeset) error {
		if phase == plugin.PhaseValidate {
			return errors.New("semantically invalid")
		}
		return nil
	})

	res := validate.Run(context.Background(), oracle, bus, tree.New("config"), n)
	assert.False(t, res.OK())
}
