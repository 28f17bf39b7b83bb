// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/opfusion/pkg/status"
	"github.com/google/uuid"
)

// Producer returns the (first) output anchor feeding the input anchor.
func (g *Graph) Producer(in InAnchor) (OutAnchor, bool) {
	n, found := g.Node(in.Node)
	if !found {
		return OutAnchor{}, false
	}
	return n.Producer(in.Index)
}

// ProducerNode returns the node feeding the input anchor.
func (g *Graph) ProducerNode(in InAnchor) (*Node, bool) {
	src, found := g.Producer(in)
	if !found {
		return nil, false
	}
	return g.Node(src.Node)
}

// Consumers returns the input anchors receiving the output anchor, in connection order.
func (g *Graph) Consumers(out OutAnchor) []InAnchor {
	n, found := g.Node(out.Node)
	if !found || out.Index < 0 || out.Index >= len(n.outputs) {
		return nil
	}
	return n.Receivers(out.Index)
}

// DataConsumers returns the distinct nodes consuming any output of the node.
func (g *Graph) DataConsumers(id NodeID) []NodeID {
	n, found := g.Node(id)
	if !found {
		return nil
	}
	return n.OutputNodes()
}

// DataProducers returns the distinct nodes feeding any input of the node.
func (g *Graph) DataProducers(id NodeID) []NodeID {
	n, found := g.Node(id)
	if !found {
		return nil
	}
	return n.InputNodes()
}

// Edges lists all data edges followed by all control edges, ordered by producer insertion order.
func (g *Graph) Edges() []Edge {
	var edges []Edge
	for _, n := range g.AllNodes() {
		edges = append(edges, n.OutEdges()...)
	}
	for _, n := range g.AllNodes() {
		for _, dst := range n.controlOut {
			edges = append(edges, Edge{Src: OutAnchor{Node: n.id, Index: -1}, Dst: InAnchor{Node: dst, Index: -1}, Control: true})
		}
	}
	return edges
}

// Validate checks the structural invariants: every edge endpoint is a live node of this graph,
// both sides of every edge agree, and non-dynamic inputs have at most one source.
func (g *Graph) Validate() error {
	dataEdges, controlEdges := 0, 0
	for _, n := range g.AllNodes() {
		if n.graph != g {
			return status.Errorf(status.Failed, "node %q doesn't point back to graph %q", n.name, g.name)
		}
		for ii, in := range n.inputs {
			if !in.desc.Dynamic && len(in.sources) > 1 {
				return status.Errorf(status.Failed, "input #%d of %q is not dynamic but has %d sources", ii, n.name, len(in.sources))
			}
			for _, src := range in.sources {
				producer, found := g.Node(src.Node)
				if !found {
					return status.Errorf(status.Failed, "input #%d of %q references removed node %s", ii, n.name, src.Node)
				}
				if src.Index >= len(producer.outputs) || !slices.Contains(producer.outputs[src.Index].receivers, n.In(ii)) {
					return status.Errorf(status.Failed, "edge %s -> %q:%d is not registered by its producer", g.anchorName(src), n.name, ii)
				}
				dataEdges++
			}
		}
		for ii, out := range n.outputs {
			for _, dst := range out.receivers {
				consumer, found := g.Node(dst.Node)
				if !found {
					return status.Errorf(status.Failed, "output #%d of %q references removed node %s", ii, n.name, dst.Node)
				}
				if dst.Index >= len(consumer.inputs) || !slices.Contains(consumer.inputs[dst.Index].sources, n.Out(ii)) {
					return status.Errorf(status.Failed, "edge %q:%d -> %q:%d is not registered by its consumer", n.name, ii, consumer.name, dst.Index)
				}
			}
		}
		for _, dst := range n.controlOut {
			consumer, found := g.Node(dst)
			if !found {
				return status.Errorf(status.Failed, "control edge from %q references removed node %s", n.name, dst)
			}
			if !slices.Contains(consumer.controlIn, n.id) {
				return status.Errorf(status.Failed, "control edge %q -> %q is not registered by its consumer", n.name, consumer.name)
			}
			controlEdges++
		}
		for _, src := range n.controlIn {
			if !g.Has(src) {
				return status.Errorf(status.Failed, "control edge into %q references removed node %s", n.name, src)
			}
		}
	}
	if dataEdges != g.numDataEdges || controlEdges != g.numControlEdges {
		return status.Errorf(status.Failed, "edge count mismatch: counted %d data/%d control, graph records %d/%d",
			dataEdges, controlEdges, g.numDataEdges, g.numControlEdges)
	}
	return nil
}

// Fingerprint returns a canonical text dump of the graph structure: nodes in insertion order
// with their type, descriptors and attributes, and all edges by node name.
// Two graphs with equal fingerprints are structurally identical.
func (g *Graph) Fingerprint() string {
	var sb strings.Builder
	name := func(id NodeID) string {
		if n, found := g.Node(id); found {
			return n.name
		}
		return id.String()
	}
	for _, n := range g.AllNodes() {
		_, _ = fmt.Fprintf(&sb, "%s:%s attrs=%s\n", n.name, n.opType, n.attrs.String())
		for ii, in := range n.inputs {
			srcs := make([]string, len(in.sources))
			for jj, src := range in.sources {
				srcs[jj] = fmt.Sprintf("%s:%d", name(src.Node), src.Index)
			}
			_, _ = fmt.Fprintf(&sb, "  in#%d %s %s dynamic=%v <- [%s]\n", ii, in.desc.Name, in.desc.Shape, in.desc.Dynamic,
				strings.Join(srcs, ", "))
		}
		for ii, out := range n.outputs {
			dsts := make([]string, len(out.receivers))
			for jj, dst := range out.receivers {
				dsts[jj] = fmt.Sprintf("%s:%d", name(dst.Node), dst.Index)
			}
			_, _ = fmt.Fprintf(&sb, "  out#%d %s -> [%s]\n", ii, out.shape, strings.Join(dsts, ", "))
		}
		if len(n.controlIn) > 0 {
			ctrls := make([]string, len(n.controlIn))
			for jj, src := range n.controlIn {
				ctrls[jj] = name(src)
			}
			_, _ = fmt.Fprintf(&sb, "  ctrl <- [%s]\n", strings.Join(ctrls, ", "))
		}
	}
	return sb.String()
}

// Clone returns a deep copy of the graph with a new ID. NodeIDs are preserved: ids of g resolve
// to the corresponding nodes of the clone.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		id:              uuid.New(),
		name:            g.name,
		idSpace:         g.idSpace,
		slots:           make([]slot, len(g.slots)),
		freeSlots:       slices.Clone(g.freeSlots),
		order:           slices.Clone(g.order),
		byName:          make(map[string]NodeID, len(g.byName)),
		numDataEdges:    g.numDataEdges,
		numControlEdges: g.numControlEdges,
	}
	for k, v := range g.byName {
		c.byName[k] = v
	}
	for ii, s := range g.slots {
		c.slots[ii].generation = s.generation
		if s.node == nil {
			continue
		}
		n := s.node
		cn := &Node{
			graph:      c,
			id:         n.id,
			name:       n.name,
			opType:     n.opType,
			inputs:     make([]inputSlot, len(n.inputs)),
			outputs:    make([]outputSlot, len(n.outputs)),
			controlIn:  slices.Clone(n.controlIn),
			controlOut: slices.Clone(n.controlOut),
			attrs:      n.attrs.Clone(),
		}
		for jj, in := range n.inputs {
			in.desc.Shape = in.desc.Shape.Clone()
			cn.inputs[jj] = inputSlot{desc: in.desc, sources: slices.Clone(in.sources)}
		}
		for jj, out := range n.outputs {
			cn.outputs[jj] = outputSlot{shape: out.shape.Clone(), receivers: slices.Clone(out.receivers)}
		}
		c.slots[ii].node = cn
	}
	return c
}

// String returns a short summary followed by the fingerprint.
func (g *Graph) String() string {
	return fmt.Sprintf("Graph %q: %d nodes, %d data edges, %d control edges\n%s",
		g.name, g.NumNodes(), g.numDataEdges, g.numControlEdges, g.Fingerprint())
}
