// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package matcher

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/opfusion/pkg/graph"
	"github.com/gomlx/opfusion/pkg/pattern"
)

// Mapping binds each descriptor of a pattern to the ordered list of graph nodes that matched it.
// Nodes of a repeated descriptor are listed in data-flow order. Optional descriptors that
// matched nothing are bound to an empty list.
//
// A Mapping is read-only: accessors return copies.
type Mapping struct {
	pattern  *pattern.Pattern
	names    []string
	bindings map[string][]graph.NodeID
}

// Pattern that produced the mapping.
func (m *Mapping) Pattern() *pattern.Pattern { return m.pattern }

// Descs returns the descriptor names in pattern declaration order.
func (m *Mapping) Descs() []string { return slices.Clone(m.names) }

// Nodes bound to the descriptor.
func (m *Mapping) Nodes(desc string) []graph.NodeID {
	return slices.Clone(m.bindings[desc])
}

// First returns the first node bound to the descriptor, if any.
func (m *Mapping) First(desc string) (graph.NodeID, bool) {
	nodes := m.bindings[desc]
	if len(nodes) == 0 {
		return graph.InvalidNodeID, false
	}
	return nodes[0], true
}

// All returns the nodes of all descriptors, in declaration order.
func (m *Mapping) All() []graph.NodeID {
	var all []graph.NodeID
	for _, name := range m.names {
		all = append(all, m.bindings[name]...)
	}
	return all
}

// Len is the total number of bound nodes.
func (m *Mapping) Len() int {
	count := 0
	for _, nodes := range m.bindings {
		count += len(nodes)
	}
	return count
}

// Key identifies the set of bound nodes, independently of the descriptors they are bound to.
func (m *Mapping) Key() string {
	all := m.All()
	slices.SortFunc(all, func(a, b graph.NodeID) int {
		if c := cmp.Compare(a.Index, b.Index); c != 0 {
			return c
		}
		return cmp.Compare(a.Generation, b.Generation)
	})
	parts := make([]string, len(all))
	for ii, id := range all {
		parts[ii] = id.String()
	}
	return strings.Join(parts, ",")
}

// String prints the bindings with node names taken from g, or ids if g is nil.
func (m *Mapping) String() string { return m.Format(nil) }

// Format prints the bindings with node names taken from g, or ids if g is nil.
func (m *Mapping) Format(g *graph.Graph) string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "%s{", m.pattern.Name())
	for ii, name := range m.names {
		if ii > 0 {
			sb.WriteString(", ")
		}
		nodes := m.bindings[name]
		labels := make([]string, len(nodes))
		for jj, id := range nodes {
			labels[jj] = id.String()
			if g != nil {
				if n, found := g.Node(id); found {
					labels[jj] = n.Name()
				}
			}
		}
		_, _ = fmt.Fprintf(&sb, "%s:[%s]", name, strings.Join(labels, " "))
	}
	sb.WriteString("}")
	return sb.String()
}
