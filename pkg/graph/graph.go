// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graph implements the computation graph that fusion passes match and rewrite.
//
// A Graph owns its nodes in an arena: nodes are addressed by NodeID (slot index plus
// generation), and anchors refer to nodes by NodeID only. Removing a node invalidates its
// NodeID, so an ID held by a pass after the node is gone never resolves to a different node.
//
// Edges connect an output anchor (OutAnchor) of a producer to an input anchor (InAnchor) of a
// consumer. Control edges carry no data and only order two nodes.
//
// All mutations are immediate. RemoveNode only succeeds on a node without incident edges, so a
// rewrite must rewire every edge before removing the nodes it replaces.
//
// All queries return snapshots (owned slices), never live views of the graph.
//
// A Graph is not safe for concurrent use: one goroutine owns a graph during optimization.
package graph

import (
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/gomlx/opfusion/pkg/shapes"
	"github.com/gomlx/opfusion/pkg/status"
	"github.com/google/uuid"
)

// NodeID is a stable reference to a node of a Graph. Generation 0 is never used by a live node,
// so the zero NodeID is invalid.
//
// Space identifies the graph that created the id: ids of one graph never resolve in another,
// except in its clones, which share the id space of their source.
type NodeID struct {
	Space      uint32
	Index      int32
	Generation uint32
}

// InvalidNodeID is the zero NodeID.
var InvalidNodeID = NodeID{}

// IsValid returns whether the id could refer to a node. It doesn't check any graph.
func (id NodeID) IsValid() bool { return id.Generation != 0 }

// String implements fmt.Stringer.
func (id NodeID) String() string { return fmt.Sprintf("#%d.%d", id.Index, id.Generation) }

// OutAnchor is the output number Index of a node.
type OutAnchor struct {
	Node  NodeID
	Index int
}

// InAnchor is the input number Index of a node.
type InAnchor struct {
	Node  NodeID
	Index int
}

// Edge is a data edge (Src output feeds Dst input) or, if Control is set, a control edge, in
// which case the anchor indices are -1.
type Edge struct {
	Src     OutAnchor
	Dst     InAnchor
	Control bool
}

// InputDesc describes one input anchor of an operator.
type InputDesc struct {
	Name  string
	Shape shapes.Shape

	// Dynamic inputs accept any number of incoming data edges, ordered by position.
	// Other inputs accept at most one.
	Dynamic bool
}

// OpDesc is the request to create a node: name, operator type, input/output descriptors and
// attributes.
type OpDesc struct {
	Name    string
	Type    string
	Inputs  []InputDesc
	Outputs []shapes.Shape
	Attrs   *Attrs
}

// Clone returns a deep copy of the descriptor.
func (d OpDesc) Clone() OpDesc {
	c := d
	c.Inputs = make([]InputDesc, len(d.Inputs))
	for ii, in := range d.Inputs {
		in.Shape = in.Shape.Clone()
		c.Inputs[ii] = in
	}
	c.Outputs = make([]shapes.Shape, len(d.Outputs))
	for ii, out := range d.Outputs {
		c.Outputs[ii] = out.Clone()
	}
	c.Attrs = d.Attrs.Clone()
	return c
}

// idSpaces hands out NodeID spaces, one per graph created with New.
var idSpaces atomic.Uint32

type slot struct {
	node       *Node
	generation uint32
}

// Graph is a directed graph of operator nodes.
type Graph struct {
	id      uuid.UUID
	name    string
	idSpace uint32

	// slots is the node arena. Freed slots are reused with a higher generation.
	slots     []slot
	freeSlots []int32

	// order lists the live nodes in insertion order.
	order []NodeID

	byName map[string]NodeID

	numDataEdges, numControlEdges int
}

// New creates an empty graph with a fresh unique id.
func New(name string) *Graph {
	return &Graph{
		id:      uuid.New(),
		name:    name,
		idSpace: idSpaces.Add(1),
		byName:  make(map[string]NodeID),
	}
}

// ID uniquely identifies the graph in this process, e.g. to key statistics.
func (g *Graph) ID() uuid.UUID { return g.id }

// Name of the graph.
func (g *Graph) Name() string { return g.name }

// NumNodes returns the number of live nodes.
func (g *Graph) NumNodes() int { return len(g.order) }

// NumEdges returns the number of data edges and the number of control edges.
func (g *Graph) NumEdges() (data, control int) { return g.numDataEdges, g.numControlEdges }

// Node returns the live node for id.
func (g *Graph) Node(id NodeID) (*Node, bool) {
	if !id.IsValid() || id.Space != g.idSpace || id.Index < 0 || int(id.Index) >= len(g.slots) {
		return nil, false
	}
	s := g.slots[id.Index]
	if s.node == nil || s.generation != id.Generation {
		return nil, false
	}
	return s.node, true
}

// Has returns whether id refers to a live node.
func (g *Graph) Has(id NodeID) bool {
	_, found := g.Node(id)
	return found
}

// NodeByName returns the node with the given name.
func (g *Graph) NodeByName(name string) (*Node, bool) {
	id, found := g.byName[name]
	if !found {
		return nil, false
	}
	return g.Node(id)
}

// AllNodes returns the live nodes in insertion order. The slice is owned by the caller.
func (g *Graph) AllNodes() []*Node {
	nodes := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		n, _ := g.Node(id)
		nodes = append(nodes, n)
	}
	return nodes
}

// AllNodeIDs returns the ids of the live nodes in insertion order.
func (g *Graph) AllNodeIDs() []NodeID {
	return slices.Clone(g.order)
}

// AddNode creates a node from the descriptor, which is copied. It fails with
// status.ParamInvalid if the name or type are missing, or if the name is already used.
func (g *Graph) AddNode(desc OpDesc) (*Node, error) {
	if desc.Name == "" {
		return nil, status.Errorf(status.ParamInvalid, "AddNode: operator descriptor has no name (type %q)", desc.Type)
	}
	if desc.Type == "" {
		return nil, status.Errorf(status.ParamInvalid, "AddNode(%q): operator descriptor has no type", desc.Name)
	}
	if _, found := g.byName[desc.Name]; found {
		return nil, status.Errorf(status.ParamInvalid, "AddNode(%q): a node with this name already exists in graph %q",
			desc.Name, g.name)
	}
	desc = desc.Clone()
	n := &Node{
		graph:  g,
		name:   desc.Name,
		opType: MakeOpType(desc.Type),
		attrs:  desc.Attrs,
	}
	n.inputs = make([]inputSlot, len(desc.Inputs))
	for ii, in := range desc.Inputs {
		n.inputs[ii] = inputSlot{desc: in}
	}
	n.outputs = make([]outputSlot, len(desc.Outputs))
	for ii, out := range desc.Outputs {
		n.outputs[ii] = outputSlot{shape: out}
	}

	var idx int32
	if len(g.freeSlots) > 0 {
		idx = g.freeSlots[len(g.freeSlots)-1]
		g.freeSlots = g.freeSlots[:len(g.freeSlots)-1]
	} else {
		idx = int32(len(g.slots))
		g.slots = append(g.slots, slot{})
	}
	s := &g.slots[idx]
	s.generation++
	s.node = n
	n.id = NodeID{Space: g.idSpace, Index: idx, Generation: s.generation}
	g.order = append(g.order, n.id)
	g.byName[n.name] = n.id
	return n, nil
}

// RemoveNode removes a node that has no incident edges (data or control).
// It fails with status.Failed, leaving the graph unchanged, if the node still has edges, and
// with status.ParamInvalid if id doesn't refer to a live node.
func (g *Graph) RemoveNode(id NodeID) error {
	n, found := g.Node(id)
	if !found {
		return status.Errorf(status.ParamInvalid, "RemoveNode(%s): node not in graph %q", id, g.name)
	}
	if count := n.NumIncidentEdges(); count > 0 {
		return status.Errorf(status.Failed, "RemoveNode(%q): node still has %d incident edges, remove them first",
			n.name, count)
	}
	delete(g.byName, n.name)
	g.order = slices.DeleteFunc(g.order, func(o NodeID) bool { return o == id })
	g.slots[id.Index].node = nil
	g.freeSlots = append(g.freeSlots, id.Index)
	n.graph = nil
	return nil
}

// checkOut returns the producer node of an output anchor, or a ParamInvalid error.
func (g *Graph) checkOut(src OutAnchor, op string) (*Node, error) {
	n, found := g.Node(src.Node)
	if !found {
		return nil, status.Errorf(status.ParamInvalid, "%s: source node %s not in graph %q", op, src.Node, g.name)
	}
	if src.Index < 0 || src.Index >= len(n.outputs) {
		return nil, status.Errorf(status.ParamInvalid, "%s: node %q has no output #%d (it has %d outputs)",
			op, n.name, src.Index, len(n.outputs))
	}
	return n, nil
}

// checkIn returns the consumer node of an input anchor, or a ParamInvalid error.
func (g *Graph) checkIn(dst InAnchor, op string) (*Node, error) {
	n, found := g.Node(dst.Node)
	if !found {
		return nil, status.Errorf(status.ParamInvalid, "%s: destination node %s not in graph %q", op, dst.Node, g.name)
	}
	if dst.Index < 0 || dst.Index >= len(n.inputs) {
		return nil, status.Errorf(status.ParamInvalid, "%s: node %q has no input #%d (it has %d inputs)",
			op, n.name, dst.Index, len(n.inputs))
	}
	return n, nil
}

// AddEdge connects src to dst. For dynamic inputs the new edge is appended after the existing
// ones. It fails if either node is not in the graph, or with status.Failed if dst is not
// dynamic and already connected.
func (g *Graph) AddEdge(src OutAnchor, dst InAnchor) error {
	return g.AddEdgeAt(src, dst, -1)
}

// AddEdgeAt is like AddEdge, but inserts the edge at the given position among the sources of
// a dynamic input. Position -1 appends.
func (g *Graph) AddEdgeAt(src OutAnchor, dst InAnchor, position int) error {
	return g.InsertEdge(src, dst, position, -1)
}

// InsertEdge is like AddEdge, with explicit positions: srcPos among the sources of dst, and
// dstPos among the receivers of src. Out of range positions (e.g. -1) append.
// Together with EdgePosition it restores a removed edge exactly where it was.
func (g *Graph) InsertEdge(src OutAnchor, dst InAnchor, srcPos, dstPos int) error {
	producer, err := g.checkOut(src, "AddEdge")
	if err != nil {
		return err
	}
	consumer, err := g.checkIn(dst, "AddEdge")
	if err != nil {
		return err
	}
	in := &consumer.inputs[dst.Index]
	if len(in.sources) > 0 && !in.desc.Dynamic {
		return status.Errorf(status.Failed, "AddEdge: input #%d of %q is already connected to %s",
			dst.Index, consumer.name, g.anchorName(in.sources[0]))
	}
	if srcPos < 0 || srcPos > len(in.sources) {
		srcPos = len(in.sources)
	}
	out := &producer.outputs[src.Index]
	if dstPos < 0 || dstPos > len(out.receivers) {
		dstPos = len(out.receivers)
	}
	in.sources = slices.Insert(in.sources, srcPos, src)
	out.receivers = slices.Insert(out.receivers, dstPos, dst)
	g.numDataEdges++
	return nil
}

// EdgePosition returns the position of src among the sources of dst, and of dst among the
// receivers of src.
func (g *Graph) EdgePosition(src OutAnchor, dst InAnchor) (srcPos, dstPos int, found bool) {
	producer, err := g.checkOut(src, "EdgePosition")
	if err != nil {
		return -1, -1, false
	}
	consumer, err := g.checkIn(dst, "EdgePosition")
	if err != nil {
		return -1, -1, false
	}
	srcPos = slices.Index(consumer.inputs[dst.Index].sources, src)
	dstPos = slices.Index(producer.outputs[src.Index].receivers, dst)
	return srcPos, dstPos, srcPos >= 0 && dstPos >= 0
}

// RemoveEdge disconnects src from dst. If the same pair is connected more than once (a dynamic
// input fed twice by the same output), only the first connection is removed.
// It fails with status.Failed if there is no such edge.
func (g *Graph) RemoveEdge(src OutAnchor, dst InAnchor) error {
	producer, err := g.checkOut(src, "RemoveEdge")
	if err != nil {
		return err
	}
	consumer, err := g.checkIn(dst, "RemoveEdge")
	if err != nil {
		return err
	}
	in := &consumer.inputs[dst.Index]
	srcPos := slices.Index(in.sources, src)
	out := &producer.outputs[src.Index]
	dstPos := slices.Index(out.receivers, dst)
	if srcPos < 0 || dstPos < 0 {
		return status.Errorf(status.Failed, "RemoveEdge: no edge from %s to input #%d of %q",
			g.anchorName(src), dst.Index, consumer.name)
	}
	in.sources = slices.Delete(in.sources, srcPos, srcPos+1)
	out.receivers = slices.Delete(out.receivers, dstPos, dstPos+1)
	g.numDataEdges--
	return nil
}

// AddControlEdge makes dst run after src. Duplicated control edges are rejected with status.Failed.
func (g *Graph) AddControlEdge(src, dst NodeID) error {
	return g.InsertControlEdge(src, dst, -1, -1)
}

// InsertControlEdge is like AddControlEdge, with explicit positions among the control outputs of
// src and the control inputs of dst. Out of range positions append.
func (g *Graph) InsertControlEdge(src, dst NodeID, outPos, inPos int) error {
	producer, found := g.Node(src)
	if !found {
		return status.Errorf(status.ParamInvalid, "AddControlEdge: source node %s not in graph %q", src, g.name)
	}
	consumer, found := g.Node(dst)
	if !found {
		return status.Errorf(status.ParamInvalid, "AddControlEdge: destination node %s not in graph %q", dst, g.name)
	}
	if slices.Contains(producer.controlOut, dst) {
		return status.Errorf(status.Failed, "AddControlEdge: %q already has a control edge to %q", producer.name, consumer.name)
	}
	if outPos < 0 || outPos > len(producer.controlOut) {
		outPos = len(producer.controlOut)
	}
	if inPos < 0 || inPos > len(consumer.controlIn) {
		inPos = len(consumer.controlIn)
	}
	producer.controlOut = slices.Insert(producer.controlOut, outPos, dst)
	consumer.controlIn = slices.Insert(consumer.controlIn, inPos, src)
	g.numControlEdges++
	return nil
}

// ControlEdgePosition returns the position of dst among the control outputs of src, and of src
// among the control inputs of dst.
func (g *Graph) ControlEdgePosition(src, dst NodeID) (outPos, inPos int, found bool) {
	producer, found := g.Node(src)
	if !found {
		return -1, -1, false
	}
	consumer, found := g.Node(dst)
	if !found {
		return -1, -1, false
	}
	outPos = slices.Index(producer.controlOut, dst)
	inPos = slices.Index(consumer.controlIn, src)
	return outPos, inPos, outPos >= 0 && inPos >= 0
}

// RemoveControlEdge removes the control edge from src to dst, failing with status.Failed if
// there is none.
func (g *Graph) RemoveControlEdge(src, dst NodeID) error {
	producer, found := g.Node(src)
	if !found {
		return status.Errorf(status.ParamInvalid, "RemoveControlEdge: source node %s not in graph %q", src, g.name)
	}
	consumer, found := g.Node(dst)
	if !found {
		return status.Errorf(status.ParamInvalid, "RemoveControlEdge: destination node %s not in graph %q", dst, g.name)
	}
	outPos := slices.Index(producer.controlOut, dst)
	inPos := slices.Index(consumer.controlIn, src)
	if outPos < 0 || inPos < 0 {
		return status.Errorf(status.Failed, "RemoveControlEdge: no control edge from %q to %q", producer.name, consumer.name)
	}
	producer.controlOut = slices.Delete(producer.controlOut, outPos, outPos+1)
	consumer.controlIn = slices.Delete(consumer.controlIn, inPos, inPos+1)
	g.numControlEdges--
	return nil
}

// anchorName is used in error messages.
func (g *Graph) anchorName(src OutAnchor) string {
	if n, found := g.Node(src.Node); found {
		return fmt.Sprintf("%q:%d", n.name, src.Index)
	}
	return fmt.Sprintf("%s:%d", src.Node, src.Index)
}
