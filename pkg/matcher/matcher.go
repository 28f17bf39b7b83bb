// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package matcher finds the sub-graphs of a graph.Graph that match a pattern.Pattern.
//
// Matching is seeded from every graph node accepted by a head descriptor. The remaining
// descriptors are bound in breadth-first order over the pattern edges (in both directions),
// with backtracking: each descriptor tries its candidate bindings in turn, and a failure
// further down undoes the binding and tries the next one.
//
// Candidates of a descriptor are the graph neighbours of the nodes bound to an adjacent
// descriptor, following the pattern edge direction. A descriptor bound to nothing (an optional
// descriptor that matched zero nodes) passes its neighbours' frontier through, so the
// pattern A -> B{0,1} -> C matches a graph where A feeds C directly.
//
// Repeated descriptors (Max > 1) bind chains of nodes: starting from a candidate, the chain
// is extended along nodes with a single consumer (forward) or a single producer (backward),
// up to Max. Longer chains are tried first.
//
// Each seed yields every complete binding, in this greedy order: longer chains and earlier
// candidates first. So when a pass rejects the first alternative, the next ones are still
// offered. Mappings binding the same set of nodes are reported once, the first one found. The
// matcher never modifies the graph, and it doesn't track nodes consumed by previous rewrites:
// that's up to the caller.
package matcher

import (
	"slices"

	"github.com/gomlx/opfusion/pkg/graph"
	"github.com/gomlx/opfusion/pkg/ops"
	"github.com/gomlx/opfusion/pkg/pattern"
	"github.com/gomlx/opfusion/pkg/support/sets"
	"k8s.io/klog/v2"
)

// Options configures a Matcher.
type Options struct {
	// Ops provides the op pattern categories used by pattern.KindBuffer patterns and the
	// eligibility predicates of operator types. If nil, descriptors only match operator types.
	Ops *ops.Registry

	// MaxMappings caps the number of mappings returned by Match. 0 means no limit.
	MaxMappings int
}

// Matcher matches patterns against graphs. It holds no per-graph state and can be shared.
type Matcher struct {
	opts Options
}

// New creates a Matcher.
func New(opts Options) *Matcher {
	return &Matcher{opts: opts}
}

// Match returns the mappings of p in g, in seed order: heads in declaration order, and for each
// head the graph nodes in insertion order. Alternatives from the same seed follow each other.
//
// It fails only if the pattern is invalid (see pattern.Pattern.Validate).
func (m *Matcher) Match(g *graph.Graph, p *pattern.Pattern) ([]*Mapping, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	var mappings []*Mapping
	seen := sets.Make[string]()
	nodes := g.AllNodes()
	for _, head := range p.Heads() {
		headDesc, _ := p.Desc(head)
		order := bindingOrder(p, head)
		for _, seed := range nodes {
			if !m.accepts(p, headDesc, seed) {
				continue
			}
			s := &search{m: m, g: g, p: p, order: order, bound: make(map[string][]graph.NodeID), used: sets.Make[graph.NodeID]()}
			s.emit = func(mapping *Mapping) bool {
				key := mapping.Key()
				if seen.Has(key) {
					return true
				}
				seen.Insert(key)
				if klog.V(3).Enabled() {
					klog.Infof("matcher: pattern %q matched %s", p.Name(), mapping.Format(g))
				}
				mappings = append(mappings, mapping)
				return m.opts.MaxMappings <= 0 || len(mappings) < m.opts.MaxMappings
			}
			if !s.run(seed) {
				return mappings, nil
			}
		}
	}
	return mappings, nil
}

// accepts checks whether the node can be bound to the descriptor, ignoring edges.
func (m *Matcher) accepts(p *pattern.Pattern, d *pattern.OpDesc, n *graph.Node) bool {
	if !d.Accepts(n.Type()) {
		if p.Kind() != pattern.KindBuffer {
			return false
		}
		category, found := m.opts.Ops.PatternOf(n.Type())
		if !found || !d.Accepts(graph.MakeOpType(category)) {
			return false
		}
	}
	if !d.ShapeTolerant && n.HasUnknownShape() {
		return false
	}
	return m.opts.Ops.IsEligible(n)
}

// bindingOrder is the breadth-first order of descriptors from head, following successors and
// then predecessors, in declaration order.
func bindingOrder(p *pattern.Pattern, head string) []string {
	order := []string{head}
	visited := sets.MakeWith(head)
	for ii := 0; ii < len(order); ii++ {
		name := order[ii]
		for _, next := range slices.Concat(p.Successors(name), p.Predecessors(name)) {
			if !visited.Has(next) {
				visited.Insert(next)
				order = append(order, next)
			}
		}
	}
	return order
}

// search holds the state of matching from one seed.
type search struct {
	m     *Matcher
	g     *graph.Graph
	p     *pattern.Pattern
	order []string

	// bound has an entry (possibly empty) for every descriptor already processed.
	bound map[string][]graph.NodeID
	used  sets.Set[graph.NodeID]

	// emit receives each complete binding, and returns false to stop the search.
	emit func(*Mapping) bool
}

// run enumerates the bindings seeded at seed. It returns false if emit stopped the search.
func (s *search) run(seed *graph.Node) bool {
	head, _ := s.p.Desc(s.order[0])
	forward := len(s.p.Successors(head.Name)) > 0 || len(s.p.Predecessors(head.Name)) == 0
	for _, chain := range s.chains(head, seed, forward) {
		s.bind(head.Name, chain)
		more := s.step(1)
		s.unbind(head.Name)
		if !more {
			return false
		}
	}
	return true
}

// step tries every binding of descriptor order[idx] and, recursively, of the following ones,
// emitting the complete bindings that verify. Bindings are restored before returning.
// It returns false if emit stopped the search.
func (s *search) step(idx int) bool {
	if idx == len(s.order) {
		if s.verify() {
			return s.emit(s.mapping())
		}
		return true
	}
	d, _ := s.p.Desc(s.order[idx])
	starts, forward := s.candidates(d)
	for _, start := range starts {
		for _, chain := range s.chains(d, start, forward) {
			s.bind(d.Name, chain)
			more := s.step(idx + 1)
			s.unbind(d.Name)
			if !more {
				return false
			}
		}
	}
	if d.IsOptional() {
		s.bind(d.Name, nil)
		more := s.step(idx + 1)
		s.unbind(d.Name)
		if !more {
			return false
		}
	}
	return true
}

func (s *search) bind(desc string, chain []graph.NodeID) {
	s.bound[desc] = chain
	s.used.Insert(chain...)
}

func (s *search) unbind(desc string) {
	s.used.Remove(s.bound[desc]...)
	delete(s.bound, desc)
}

// candidates returns the first nodes of the chains to try for d, and whether chains grow
// forward (d follows an already bound descriptor) or backward (d precedes one).
func (s *search) candidates(d *pattern.OpDesc) ([]*graph.Node, bool) {
	var starts []*graph.Node
	add := func(ids []graph.NodeID) {
		for _, id := range ids {
			n, found := s.g.Node(id)
			if !found || s.used.Has(id) || slices.Contains(starts, n) {
				continue
			}
			if s.m.accepts(s.p, d, n) {
				starts = append(starts, n)
			}
		}
	}
	for _, pred := range s.p.Predecessors(d.Name) {
		if _, found := s.bound[pred]; !found {
			continue
		}
		for _, f := range s.frontierOut(pred) {
			add(s.g.DataConsumers(f))
		}
		return starts, true
	}
	for _, succ := range s.p.Successors(d.Name) {
		if _, found := s.bound[succ]; !found {
			continue
		}
		for _, f := range s.frontierIn(succ) {
			add(s.g.DataProducers(f))
		}
		return starts, false
	}
	return nil, true
}

// chains returns the chains starting at start to bind to d, longest first, in data-flow order.
func (s *search) chains(d *pattern.OpDesc, start *graph.Node, forward bool) [][]graph.NodeID {
	chain := []graph.NodeID{start.ID()}
	current := start
	for len(chain) < d.Max {
		next, ok := s.extend(d, current, forward, chain)
		if !ok {
			break
		}
		chain = append(chain, next.ID())
		current = next
	}
	if !forward {
		slices.Reverse(chain)
	}
	minLen := max(d.Min, 1)
	var chains [][]graph.NodeID
	for length := len(chain); length >= minLen; length-- {
		if forward {
			chains = append(chains, chain[:length])
		} else {
			chains = append(chains, chain[len(chain)-length:])
		}
	}
	return chains
}

// extend returns the node continuing a repeated chain past current. A chain only continues
// through nodes whose single data consumer is the next node of the chain, so fusing the chain
// doesn't duplicate computation.
func (s *search) extend(d *pattern.OpDesc, current *graph.Node, forward bool, chain []graph.NodeID) (*graph.Node, bool) {
	var candidate, tail *graph.Node
	if forward {
		outs := current.OutputNodes()
		if len(outs) != 1 || current.NumDataReceivers() != 1 {
			return nil, false
		}
		candidate, _ = s.g.Node(outs[0])
		tail = current
	} else {
		ins := current.InputNodes()
		if len(ins) != 1 {
			return nil, false
		}
		candidate, _ = s.g.Node(ins[0])
		if candidate == nil || len(candidate.OutputNodes()) != 1 || candidate.NumDataReceivers() != 1 {
			return nil, false
		}
		tail = candidate
	}
	if candidate == nil || tail == nil || s.used.Has(candidate.ID()) || slices.Contains(chain, candidate.ID()) {
		return nil, false
	}
	if !s.m.accepts(s.p, d, candidate) {
		return nil, false
	}
	return candidate, true
}

// frontierOut returns the nodes whose outputs feed the successors of desc: the last node of its
// chain, or, if desc is bound to nothing, the frontier of its bound predecessors.
func (s *search) frontierOut(desc string) []graph.NodeID {
	nodes, found := s.bound[desc]
	if !found {
		return nil
	}
	if len(nodes) > 0 {
		return nodes[len(nodes)-1:]
	}
	var frontier []graph.NodeID
	for _, pred := range s.p.Predecessors(desc) {
		frontier = append(frontier, s.frontierOut(pred)...)
	}
	return frontier
}

// frontierIn returns the nodes whose inputs are fed by the predecessors of desc: the first node
// of its chain, or, if desc is bound to nothing, the frontier of its bound successors.
func (s *search) frontierIn(desc string) []graph.NodeID {
	nodes, found := s.bound[desc]
	if !found {
		return nil
	}
	if len(nodes) > 0 {
		return nodes[:1]
	}
	var frontier []graph.NodeID
	for _, succ := range s.p.Successors(desc) {
		frontier = append(frontier, s.frontierIn(succ)...)
	}
	return frontier
}

// verify checks the repetition bounds of every descriptor and that every pattern edge is
// realized by a data edge of the graph.
func (s *search) verify() bool {
	for _, d := range s.p.Descs() {
		count := len(s.bound[d.Name])
		if count < d.Min || count > d.Max {
			return false
		}
	}
	for _, e := range s.p.Edges() {
		srcs, dsts := s.frontierOut(e.From), s.frontierIn(e.To)
		if len(srcs) == 0 || len(dsts) == 0 {
			continue
		}
		if !s.anyEdge(srcs, dsts) {
			return false
		}
	}
	return true
}

func (s *search) anyEdge(srcs, dsts []graph.NodeID) bool {
	for _, src := range srcs {
		consumers := s.g.DataConsumers(src)
		for _, dst := range dsts {
			if slices.Contains(consumers, dst) {
				return true
			}
		}
	}
	return false
}

func (s *search) mapping() *Mapping {
	descs := s.p.Descs()
	m := &Mapping{
		pattern:  s.p,
		names:    make([]string, len(descs)),
		bindings: make(map[string][]graph.NodeID, len(descs)),
	}
	for ii, d := range descs {
		m.names[ii] = d.Name
		m.bindings[d.Name] = slices.Clone(s.bound[d.Name])
	}
	return m
}
