// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package ops is the registry of operator-type capabilities: the buffer-fusion op pattern
// (category) of each operator type, its shape/type inference function and an optional
// eligibility predicate used by the pattern matcher.
//
// Operator types are looked up by the interned graph.OpType. Unknown types are reported
// explicitly, never defaulted.
package ops

import (
	"slices"

	"github.com/gomlx/opfusion/pkg/graph"
	"github.com/gomlx/opfusion/pkg/status"
)

// Op pattern categories used by buffer-fusion patterns.
const (
	PatternElemWise    = "ElemWise"
	PatternConvolution = "Convolution"
	PatternMatMul      = "MatMul"
	PatternDequant     = "dequant"
	PatternQuant       = "quant"
	PatternOpaque      = "Opaque"
)

// InferFunc re-derives the output descriptors of a node from its input descriptors and
// attributes. It must be idempotent, and return an error if the shapes are incompatible.
type InferFunc func(n *graph.Node) error

// Def holds the capabilities of one operator type.
type Def struct {
	Type graph.OpType

	// Pattern is the buffer-fusion category, e.g. PatternElemWise. Empty means PatternOpaque.
	Pattern string

	// InferShapeAndType may be nil, in which case inference is reported as unsupported.
	InferShapeAndType InferFunc

	// Eligible, if set, must return true for a node of this type to be bound by the matcher.
	Eligible func(n *graph.Node) bool
}

// Registry maps operator types to their Def.
type Registry struct {
	defs  map[graph.OpType]Def
	order []graph.OpType
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[graph.OpType]Def)}
}

// NewBuiltinRegistry returns a registry with RegisterBuiltins applied.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	RegisterBuiltins(r)
	return r
}

// Register adds a definition. Registering the same type twice is a status.ParamInvalid error.
func (r *Registry) Register(def Def) error {
	if !def.Type.IsValid() {
		return status.Errorf(status.ParamInvalid, "ops.Register: definition without operator type")
	}
	if _, found := r.defs[def.Type]; found {
		return status.Errorf(status.ParamInvalid, "ops.Register: operator type %q already registered", def.Type)
	}
	if def.Pattern == "" {
		def.Pattern = PatternOpaque
	}
	r.defs[def.Type] = def
	r.order = append(r.order, def.Type)
	return nil
}

// Lookup returns the definition of the operator type.
func (r *Registry) Lookup(opType graph.OpType) (Def, bool) {
	if r == nil {
		return Def{}, false
	}
	def, found := r.defs[opType]
	return def, found
}

// PatternOf returns the buffer-fusion category of the operator type.
func (r *Registry) PatternOf(opType graph.OpType) (string, bool) {
	def, found := r.Lookup(opType)
	if !found {
		return "", false
	}
	return def.Pattern, true
}

// Types lists the registered types in registration order.
func (r *Registry) Types() []graph.OpType {
	return slices.Clone(r.order)
}

// IsEligible applies the eligibility predicate of the node type. Types without a predicate,
// or unknown to the registry, are eligible.
func (r *Registry) IsEligible(n *graph.Node) bool {
	def, found := r.Lookup(n.Type())
	if !found || def.Eligible == nil {
		return true
	}
	return def.Eligible(n)
}

// InferShapeAndType calls the inference function of the node type.
// It fails with status.ParamInvalid if the type is unknown or has no inference function.
func (r *Registry) InferShapeAndType(n *graph.Node) error {
	def, found := r.Lookup(n.Type())
	if !found {
		return status.Errorf(status.ParamInvalid, "InferShapeAndType(%s): operator type not registered", n)
	}
	if def.InferShapeAndType == nil {
		return status.Errorf(status.ParamInvalid, "InferShapeAndType(%s): operator type has no shape inference", n)
	}
	if err := def.InferShapeAndType(n); err != nil {
		return status.Wrapf(err, status.Failed, "InferShapeAndType(%s)", n)
	}
	return nil
}
