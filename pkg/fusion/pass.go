// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fusion defines the fusion pass interfaces and runs passes over a graph.
//
// A pass declares its patterns once per run (DefinePatterns). The Runner matches each pattern
// in turn and hands every Mapping to the pass:
//
//   - GraphPass.Fuse verifies the mapping and rewrites the graph through the transaction in
//     Context.Txn. The Runner commits the transaction on status.Success, and rolls it back
//     otherwise, so a rejected mapping leaves no trace in the graph.
//   - BufferPass.GetFusionNodes only verifies the mapping and returns the nodes to fuse
//     together. The Runner tags them with a fusion scope (see ScopeIDAttr), which a later
//     compilation stage uses to group them.
//
// status.NotChanged means the mapping doesn't qualify: the Runner moves on to the next one.
// status.Failed and status.ParamInvalid abort the run.
//
// Nodes of an accepted mapping are consumed: later mappings of the same run touching them are
// skipped.
package fusion

import (
	"github.com/gomlx/opfusion/pkg/graph"
	"github.com/gomlx/opfusion/pkg/matcher"
	"github.com/gomlx/opfusion/pkg/ops"
	"github.com/gomlx/opfusion/pkg/pattern"
	"github.com/gomlx/opfusion/pkg/rewrite"
	"github.com/gomlx/opfusion/pkg/status"
	"github.com/gomlx/opfusion/pkg/support/sets"
)

// Attributes set on the nodes grouped by a BufferPass.
const (
	ScopeIDAttr   = "_fusion_scope_id"
	ScopePassAttr = "_fusion_pass"
)

// Pass is the part common to graph and buffer fusion passes.
type Pass interface {
	// Name identifies the pass in the registry and in statistics.
	Name() string

	// DefinePatterns returns the alternative patterns to try, in order. It is called once per run.
	DefinePatterns() []*pattern.Pattern
}

// GraphPass rewrites the graph for each accepted mapping.
type GraphPass interface {
	Pass

	// Fuse verifies the mapping and, if it qualifies, rewrites the graph using ctx.Txn.
	// On status.Success it returns the nodes created or changed by the rewrite.
	Fuse(ctx *Context, m *matcher.Mapping) (status.Status, []graph.NodeID, error)
}

// BufferPass selects groups of nodes to be fused by a later compilation stage.
type BufferPass interface {
	Pass

	// GetFusionNodes verifies the mapping and returns, on status.Success, the mapped nodes to
	// fuse together.
	GetFusionNodes(ctx *Context, m *matcher.Mapping) (status.Status, []graph.NodeID, error)
}

// Convention decides what a status.Success verification with no nodes means.
type Convention int

//go:generate go tool enumer -type=Convention -trimprefix=Convention -transform=snake -output=gen_convention_enumer.go pass.go

const (
	// ConventionNotChanged requires passes to report a rejected mapping with status.NotChanged:
	// status.Success with no nodes is an inconsistency, reported as status.Failed.
	ConventionNotChanged Convention = iota

	// ConventionEmptyIsNoOp treats status.Success with no nodes as "no rewrite", like
	// status.NotChanged.
	ConventionEmptyIsNoOp
)

// ConventionFromString parses the names returned by Convention.String. An empty name is
// ConventionNotChanged.
func ConventionFromString(name string) (Convention, error) {
	if name == "" {
		return ConventionNotChanged, nil
	}
	c, err := ConventionString(name)
	if err != nil {
		return ConventionNotChanged, status.Errorf(status.ParamInvalid,
			"unknown verification convention %q, valid values are %q", name, ConventionStrings())
	}
	return c, nil
}

// ConventionDeclarer is implemented by passes that don't follow the Runner's default convention.
type ConventionDeclarer interface {
	VerifyConvention() Convention
}

// Context is given to a pass for each mapping.
type Context struct {
	Graph *graph.Graph
	Ops   *ops.Registry

	// Txn is the transaction graph passes must rewrite through. Buffer passes get a transaction
	// too, but the Runner discards any edit they make through it.
	Txn *rewrite.Txn

	passName string
	consumed sets.Set[graph.NodeID]
}

// PassName of the pass being run.
func (ctx *Context) PassName() string { return ctx.passName }

// IsConsumed returns whether the node was fused by an earlier mapping of the run.
func (ctx *Context) IsConsumed(id graph.NodeID) bool { return ctx.consumed.Has(id) }

// Node returns the first node bound to the descriptor, or a status.ParamInvalid error if the
// descriptor is bound to nothing or the node is gone.
func (ctx *Context) Node(m *matcher.Mapping, desc string) (*graph.Node, error) {
	id, found := m.First(desc)
	if !found {
		return nil, status.Errorf(status.ParamInvalid, "%s: descriptor %q bound to no node", ctx.passName, desc)
	}
	n, found := ctx.Graph.Node(id)
	if !found {
		return nil, status.Errorf(status.ParamInvalid, "%s: node %s bound to %q is not in graph %q",
			ctx.passName, id, desc, ctx.Graph.Name())
	}
	return n, nil
}

// OptionalNode is like Node, but returns nil without error if the descriptor is bound to nothing.
func (ctx *Context) OptionalNode(m *matcher.Mapping, desc string) (*graph.Node, error) {
	if _, found := m.First(desc); !found {
		return nil, nil
	}
	return ctx.Node(m, desc)
}
