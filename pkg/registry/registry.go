// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package registry holds the table of fusion passes a driver runs, partitioned by category.
//
// There is no global registry: the startup sequence creates one and hands it to the packages
// providing passes (see passes.Register), so tests can build a fresh one each time.
package registry

import (
	"slices"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/opfusion/pkg/fusion"
)

// Category of a pass.
type Category int

//go:generate go tool enumer -type=Category -trimprefix=Category -transform=lower -output=gen_category_enumer.go registry.go

const (
	// CategoryGraph passes rewrite the whole graph (fusion.GraphPass).
	CategoryGraph Category = iota

	// CategoryBuffer passes group nodes for the AI-core buffer fusion (fusion.BufferPass).
	CategoryBuffer
)

// Categories in the order a driver runs them.
var Categories = []Category{CategoryGraph, CategoryBuffer}

// Factory creates a new instance of a pass. It is called once per graph optimization.
type Factory func() fusion.Pass

// Entry is one registered pass.
type Entry struct {
	Name     string
	Category Category
	Factory  Factory
}

type key struct {
	name     string
	category Category
}

// Registry of passes. Registration is expected to happen once, before any lookup, but the
// Registry is safe for concurrent use anyway.
type Registry struct {
	mu      sync.RWMutex
	entries []Entry
	index   map[key]int
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{index: make(map[key]int)}
}

// Register adds a pass. It panics if a pass with the same name is already registered in the
// category: that is a configuration bug of the program, not a runtime condition.
func (r *Registry) Register(name string, category Category, factory Factory) {
	if name == "" || factory == nil {
		exceptions.Panicf("registry.Register(%q, %s): name and factory are required", name, category)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key{name, category}
	if _, found := r.index[k]; found {
		exceptions.Panicf("registry.Register: pass %q already registered as a %s pass", name, category)
	}
	r.index[k] = len(r.entries)
	r.entries = append(r.entries, Entry{Name: name, Category: category, Factory: factory})
}

// LookupByCategory returns the passes of the category, in registration order.
func (r *Registry) LookupByCategory(category Category) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var entries []Entry
	for _, e := range r.entries {
		if e.Category == category {
			entries = append(entries, e)
		}
	}
	return entries
}

// Lookup returns the pass registered with the name in the category.
func (r *Registry) Lookup(name string, category Category) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, found := r.index[key{name, category}]
	if !found {
		return Entry{}, false
	}
	return r.entries[idx], true
}

// Names returns the names of all registered passes, in registration order.
// A name registered in both categories is listed twice.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		names = append(names, e.Name)
	}
	return names
}

// Has returns whether a pass with the name is registered in any category.
func (r *Registry) Has(name string) bool {
	return slices.Contains(r.Names(), name)
}

// Len returns the number of registered passes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
