// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package registry_test

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/opfusion/pkg/fusion"
	"github.com/gomlx/opfusion/pkg/pattern"
	"github.com/gomlx/opfusion/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedPass string

func (p namedPass) Name() string                       { return string(p) }
func (p namedPass) DefinePatterns() []*pattern.Pattern { return nil }

func factory(name string) registry.Factory {
	return func() fusion.Pass { return namedPass(name) }
}

func TestRegisterAndLookup(t *testing.T) {
	r := registry.New()
	r.Register("B", registry.CategoryGraph, factory("B"))
	r.Register("A", registry.CategoryBuffer, factory("A"))
	r.Register("C", registry.CategoryGraph, factory("C"))
	r.Register("A", registry.CategoryGraph, factory("A"))

	assert.Equal(t, 4, r.Len())
	assert.Equal(t, []string{"B", "A", "C", "A"}, r.Names())

	graphPasses := r.LookupByCategory(registry.CategoryGraph)
	require.Len(t, graphPasses, 3)
	var names []string
	for _, e := range graphPasses {
		names = append(names, e.Factory().Name())
		assert.Equal(t, registry.CategoryGraph, e.Category)
	}
	assert.Equal(t, []string{"B", "C", "A"}, names)
	assert.Len(t, r.LookupByCategory(registry.CategoryBuffer), 1)

	e, found := r.Lookup("C", registry.CategoryGraph)
	require.True(t, found)
	assert.Equal(t, "C", e.Name)
	_, found = r.Lookup("C", registry.CategoryBuffer)
	assert.False(t, found)
	assert.True(t, r.Has("A"))
	assert.False(t, r.Has("D"))
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	r := registry.New()
	r.Register("A", registry.CategoryGraph, factory("A"))
	err := exceptions.TryCatch[error](func() { r.Register("A", registry.CategoryGraph, factory("A")) })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
	assert.Equal(t, 1, r.Len(), "registry unchanged")

	require.Panics(t, func() { r.Register("", registry.CategoryGraph, factory("")) })
	require.Panics(t, func() { r.Register("X", registry.CategoryGraph, nil) })
}

func TestFreshRegistriesAreIndependent(t *testing.T) {
	r1, r2 := registry.New(), registry.New()
	r1.Register("A", registry.CategoryGraph, factory("A"))
	assert.Equal(t, 0, r2.Len())
	assert.Equal(t, "buffer", registry.CategoryBuffer.String())
}
