// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package pattern is the declarative language used by fusion passes to describe the sub-graph
// they are looking for.
//
// A Pattern is a set of named descriptors (OpDesc), each accepting a set of operator types (or,
// for buffer-fusion patterns, op pattern categories like "ElemWise") and a repetition range,
// connected by directed pattern edges. One or more descriptors are heads, where matching starts,
// and one descriptor is the output sink of the fused region.
//
// Patterns are built with chained calls and are immutable once closed:
//
//	p := pattern.New("ConvClip", pattern.KindBuffer).
//		AddOpDesc("conv", []string{"Convolution"}, pattern.NumDefault, pattern.NumDefault, pattern.GroupInvalid, false).
//		AddOpDesc("clip", []string{"ElemWise"}, pattern.NumDefault, pattern.NumDefault, pattern.GroupInvalid, false).
//		SetHead("conv").
//		SetOutputs("conv", "clip")
//
// Builder misuse that can only come from a programming error (reusing a descriptor name,
// modifying a closed pattern) panics. Structural problems are reported by Validate, which runs
// on first use.
package pattern

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/opfusion/pkg/graph"
	"github.com/gomlx/opfusion/pkg/status"
	"github.com/gomlx/opfusion/pkg/support/sets"
)

// Repetition and group constants for AddOpDesc.
const (
	// NumNone as minimum makes a descriptor optional.
	NumNone = 0

	// NumDefault is a single match.
	NumDefault = 1

	// NumMax is the largest repetition of a descriptor supported.
	NumMax = 5

	// GroupInvalid means the descriptor belongs to no group.
	GroupInvalid = -1
)

// Kind of pattern: it decides how descriptor types are matched.
type Kind int

//go:generate go tool enumer -type=Kind -trimprefix=Kind -transform=lower -output=gen_kind_enumer.go pattern.go

const (
	// KindGraph descriptors list operator types.
	KindGraph Kind = iota

	// KindBuffer descriptors list operator types or op pattern categories (see package ops).
	KindBuffer
)

// OpDesc is a template node of a Pattern.
type OpDesc struct {
	Name  string
	Types []string

	// Min and Max number of graph nodes bound to this descriptor. Min == NumNone makes it optional.
	Min, Max int

	// GroupID tags descriptors that belong together, GroupInvalid otherwise.
	GroupID int

	// ShapeTolerant descriptors accept nodes with unknown dimensions.
	ShapeTolerant bool

	typeSet sets.Set[graph.OpType]
}

// Accepts returns whether the operator type (or op pattern category) is listed by the descriptor.
func (d *OpDesc) Accepts(t graph.OpType) bool {
	return d.typeSet.Has(t)
}

// IsOptional returns whether the descriptor can be bound to no node.
func (d *OpDesc) IsOptional() bool { return d.Min == NumNone }

// IsRepeated returns whether the descriptor can be bound to more than one node.
func (d *OpDesc) IsRepeated() bool { return d.Max > 1 }

// String implements fmt.Stringer.
func (d *OpDesc) String() string {
	return fmt.Sprintf("%s%v{%d,%d}", d.Name, d.Types, d.Min, d.Max)
}

// Edge is a directed pattern edge: the output of descriptor From feeds descriptor To.
type Edge struct {
	From, To string
}

// Pattern is a sub-graph template. Build it with New and the chained builder methods.
type Pattern struct {
	name  string
	kind  Kind
	descs []*OpDesc

	byName map[string]*OpDesc

	// declaredInputs / declaredOutputs keep what SetInputs / SetOutputs were given.
	declaredInputs  map[string][]string
	declaredOutputs map[string][]string

	heads  []string
	output string

	closed      bool
	validateErr error

	// Computed by Validate.
	edges []Edge
	preds map[string][]string
	succs map[string][]string
	topo  []string
}

// New starts the definition of a pattern.
func New(name string, kind Kind) *Pattern {
	return &Pattern{
		name:            name,
		kind:            kind,
		byName:          make(map[string]*OpDesc),
		declaredInputs:  make(map[string][]string),
		declaredOutputs: make(map[string][]string),
	}
}

func (p *Pattern) checkOpen(method string) {
	if p.closed {
		exceptions.Panicf("pattern %q: %s called after the pattern was closed", p.name, method)
	}
}

// AddOpDesc registers a descriptor. Reusing a name within the pattern panics.
func (p *Pattern) AddOpDesc(name string, types []string, minMatch, maxMatch, groupID int, shapeTolerant bool) *Pattern {
	p.checkOpen("AddOpDesc")
	if _, found := p.byName[name]; found {
		exceptions.Panicf("pattern %q: descriptor name %q used more than once", p.name, name)
	}
	d := &OpDesc{
		Name:          name,
		Types:         slices.Clone(types),
		Min:           minMatch,
		Max:           maxMatch,
		GroupID:       groupID,
		ShapeTolerant: shapeTolerant,
		typeSet:       sets.MakeWith(graph.OpTypes(types...)...),
	}
	p.descs = append(p.descs, d)
	p.byName[name] = d
	return p
}

// AddOp is a shortcut for a descriptor matched exactly once, not tolerant to unknown shapes.
func (p *Pattern) AddOp(name string, types ...string) *Pattern {
	return p.AddOpDesc(name, types, NumDefault, NumDefault, GroupInvalid, false)
}

// SetInputs declares that the outputs of each of inputs feed descriptor name.
func (p *Pattern) SetInputs(name string, inputs ...string) *Pattern {
	p.checkOpen("SetInputs")
	p.declaredInputs[name] = append(p.declaredInputs[name], inputs...)
	return p
}

// SetOutputs declares that the output of descriptor name feeds each of outputs.
func (p *Pattern) SetOutputs(name string, outputs ...string) *Pattern {
	p.checkOpen("SetOutputs")
	p.declaredOutputs[name] = append(p.declaredOutputs[name], outputs...)
	return p
}

// SetHead marks the descriptors matching starts from.
func (p *Pattern) SetHead(names ...string) *Pattern {
	p.checkOpen("SetHead")
	p.heads = slices.Clone(names)
	return p
}

// SetOutput marks the sink descriptor whose nodes are the external output of the fused region.
func (p *Pattern) SetOutput(name string) *Pattern {
	p.checkOpen("SetOutput")
	p.output = name
	return p
}

// Close validates the pattern and makes it immutable. It returns the validation error, if any.
func (p *Pattern) Close() error {
	return p.Validate()
}

// Validate checks the pattern structure once, closes the pattern, and caches the result:
//   - every descriptor name referenced by edges, heads and output exists, and types are given;
//   - 0 <= Min <= Max, 1 <= Max <= NumMax;
//   - SetInputs and SetOutputs agree where both were given for the same pair of descriptors;
//   - the pattern graph is acyclic and connected;
//   - heads are mandatory (Min >= 1), and there is exactly one sink, the output.
//
// Graph patterns without heads start matching from their output.
func (p *Pattern) Validate() error {
	if p.closed {
		return p.validateErr
	}
	p.closed = true
	p.validateErr = p.validate()
	if p.validateErr != nil {
		p.validateErr = status.Wrapf(p.validateErr, status.ParamInvalid, "pattern %q", p.name)
	}
	return p.validateErr
}

func (p *Pattern) validate() error {
	if len(p.descs) == 0 {
		return status.Errorf(status.ParamInvalid, "no descriptors")
	}
	for _, d := range p.descs {
		if len(d.Types) == 0 {
			return status.Errorf(status.ParamInvalid, "descriptor %q accepts no types", d.Name)
		}
		if d.Min < 0 || d.Max < 1 || d.Min > d.Max || d.Max > NumMax {
			return status.Errorf(status.ParamInvalid, "descriptor %q has invalid repetition {%d,%d}", d.Name, d.Min, d.Max)
		}
	}
	if err := p.buildEdges(); err != nil {
		return err
	}
	if err := p.buildTopo(); err != nil {
		return err
	}

	// Output sink.
	var sinks []string
	for _, d := range p.descs {
		if len(p.succs[d.Name]) == 0 {
			sinks = append(sinks, d.Name)
		}
	}
	if p.output == "" {
		if len(sinks) != 1 {
			return status.Errorf(status.ParamInvalid, "no output set and %d descriptors without outputs %v", len(sinks), sinks)
		}
		p.output = sinks[0]
	}
	if _, found := p.byName[p.output]; !found {
		return status.Errorf(status.ParamInvalid, "output descriptor %q not defined", p.output)
	}
	if len(sinks) != 1 || sinks[0] != p.output {
		return status.Errorf(status.ParamInvalid, "output %q must be the only descriptor without outputs, found %v", p.output, sinks)
	}

	// Heads.
	if len(p.heads) == 0 {
		if p.kind != KindGraph {
			return status.Errorf(status.ParamInvalid, "no head set")
		}
		p.heads = []string{p.output}
	}
	seen := sets.Make[string]()
	for _, h := range p.heads {
		d, found := p.byName[h]
		if !found {
			return status.Errorf(status.ParamInvalid, "head descriptor %q not defined", h)
		}
		if seen.Has(h) {
			return status.Errorf(status.ParamInvalid, "head descriptor %q listed twice", h)
		}
		seen.Insert(h)
		if d.IsOptional() {
			return status.Errorf(status.ParamInvalid, "head descriptor %q is optional, heads must match at least once", h)
		}
	}

	// Connectivity, ignoring edge direction.
	reached := sets.MakeWith(p.heads[0])
	queue := []string{p.heads[0]}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		for _, next := range slices.Concat(p.succs[name], p.preds[name]) {
			if !reached.Has(next) {
				reached.Insert(next)
				queue = append(queue, next)
			}
		}
	}
	if len(reached) != len(p.descs) {
		var missing []string
		for _, d := range p.descs {
			if !reached.Has(d.Name) {
				missing = append(missing, d.Name)
			}
		}
		return status.Errorf(status.ParamInvalid, "descriptors %v are not connected to head %q", missing, p.heads[0])
	}
	return nil
}

// buildEdges merges the edges given by SetInputs and SetOutputs, and checks they agree.
func (p *Pattern) buildEdges() error {
	edgeSet := sets.Make[Edge]()
	p.preds = make(map[string][]string)
	p.succs = make(map[string][]string)
	addEdge := func(e Edge) error {
		for _, name := range []string{e.From, e.To} {
			if _, found := p.byName[name]; !found {
				return status.Errorf(status.ParamInvalid, "edge %s -> %s references undefined descriptor %q", e.From, e.To, name)
			}
		}
		if e.From == e.To {
			return status.Errorf(status.ParamInvalid, "self edge on descriptor %q", e.From)
		}
		if edgeSet.Has(e) {
			return nil
		}
		edgeSet.Insert(e)
		p.edges = append(p.edges, e)
		p.succs[e.From] = append(p.succs[e.From], e.To)
		p.preds[e.To] = append(p.preds[e.To], e.From)
		return nil
	}
	for _, d := range p.descs {
		for _, out := range p.declaredOutputs[d.Name] {
			if err := addEdge(Edge{From: d.Name, To: out}); err != nil {
				return err
			}
		}
	}
	for _, d := range p.descs {
		for _, in := range p.declaredInputs[d.Name] {
			if err := addEdge(Edge{From: in, To: d.Name}); err != nil {
				return err
			}
		}
	}
	for name := range p.declaredInputs {
		if _, found := p.byName[name]; !found {
			return status.Errorf(status.ParamInvalid, "SetInputs on undefined descriptor %q", name)
		}
	}
	for name := range p.declaredOutputs {
		if _, found := p.byName[name]; !found {
			return status.Errorf(status.ParamInvalid, "SetOutputs on undefined descriptor %q", name)
		}
	}

	// Where both directions were declared, they must agree.
	for _, e := range p.edges {
		if outs, declared := p.declaredOutputs[e.From]; declared && !slices.Contains(outs, e.To) {
			return status.Errorf(status.ParamInvalid, "SetInputs(%q) lists %q, but SetOutputs(%q) doesn't list %q",
				e.To, e.From, e.From, e.To)
		}
		if ins, declared := p.declaredInputs[e.To]; declared && !slices.Contains(ins, e.From) {
			return status.Errorf(status.ParamInvalid, "SetOutputs(%q) lists %q, but SetInputs(%q) doesn't list %q",
				e.From, e.To, e.To, e.From)
		}
	}
	return nil
}

// buildTopo computes a topological order (ties broken by declaration order) and rejects cycles.
func (p *Pattern) buildTopo() error {
	inDegree := make(map[string]int, len(p.descs))
	for _, e := range p.edges {
		inDegree[e.To]++
	}
	done := sets.Make[string]()
	for len(p.topo) < len(p.descs) {
		progress := false
		for _, d := range p.descs {
			if done.Has(d.Name) || inDegree[d.Name] > 0 {
				continue
			}
			done.Insert(d.Name)
			p.topo = append(p.topo, d.Name)
			for _, next := range p.succs[d.Name] {
				inDegree[next]--
			}
			progress = true
		}
		if !progress {
			var cycle []string
			for _, d := range p.descs {
				if !done.Has(d.Name) {
					cycle = append(cycle, d.Name)
				}
			}
			return status.Errorf(status.ParamInvalid, "pattern edges form a cycle among %v", cycle)
		}
	}
	return nil
}

// Name of the pattern.
func (p *Pattern) Name() string { return p.name }

// Kind of the pattern.
func (p *Pattern) Kind() Kind { return p.kind }

// IsClosed returns whether the pattern can no longer be modified.
func (p *Pattern) IsClosed() bool { return p.closed }

// Descs returns the descriptors in declaration order.
func (p *Pattern) Descs() []*OpDesc { return slices.Clone(p.descs) }

// Desc returns the named descriptor.
func (p *Pattern) Desc(name string) (*OpDesc, bool) {
	d, found := p.byName[name]
	return d, found
}

// Heads returns the head descriptor names. Only complete after Validate.
func (p *Pattern) Heads() []string { return slices.Clone(p.heads) }

// Output returns the output descriptor name. Only complete after Validate.
func (p *Pattern) Output() string { return p.output }

// Edges returns the pattern edges. Only available after Validate.
func (p *Pattern) Edges() []Edge { return slices.Clone(p.edges) }

// Predecessors of the descriptor, in declaration order. Only available after Validate.
func (p *Pattern) Predecessors(name string) []string { return slices.Clone(p.preds[name]) }

// Successors of the descriptor, in declaration order. Only available after Validate.
func (p *Pattern) Successors(name string) []string { return slices.Clone(p.succs[name]) }

// TopologicalOrder of the descriptor names. Only available after Validate.
func (p *Pattern) TopologicalOrder() []string { return slices.Clone(p.topo) }

// String pretty-prints the pattern.
func (p *Pattern) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "Pattern %q (%s):", p.name, p.kind)
	for _, d := range p.descs {
		_, _ = fmt.Fprintf(&sb, " %s", d)
	}
	for _, e := range p.edges {
		_, _ = fmt.Fprintf(&sb, " %s->%s", e.From, e.To)
	}
	return sb.String()
}
