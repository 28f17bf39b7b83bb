// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"slices"

	"github.com/gomlx/opfusion/pkg/shapes"
	"github.com/gomlx/opfusion/pkg/status"
)

type inputSlot struct {
	desc InputDesc

	// sources has at most one element, unless desc.Dynamic is set.
	sources []OutAnchor
}

type outputSlot struct {
	shape     shapes.Shape
	receivers []InAnchor
}

// Node is one operator instance in a Graph.
//
// Nodes are created with Graph.AddNode and owned by the graph. Use ID to refer to a node
// across graph mutations.
type Node struct {
	graph  *Graph
	id     NodeID
	name   string
	opType OpType

	inputs  []inputSlot
	outputs []outputSlot

	controlIn, controlOut []NodeID

	attrs *Attrs
}

// ID of the node in its graph.
func (n *Node) ID() NodeID { return n.id }

// Name is unique within the graph.
func (n *Node) Name() string { return n.name }

// Type returns the interned operator type.
func (n *Node) Type() OpType { return n.opType }

// TypeName returns the operator type name.
func (n *Node) TypeName() string { return n.opType.String() }

// Graph that owns the node, or nil after it has been removed.
func (n *Node) Graph() *Graph { return n.graph }

// NumInputs returns the number of input anchors.
func (n *Node) NumInputs() int { return len(n.inputs) }

// NumOutputs returns the number of output anchors.
func (n *Node) NumOutputs() int { return len(n.outputs) }

// In returns the input anchor #idx.
func (n *Node) In(idx int) InAnchor { return InAnchor{Node: n.id, Index: idx} }

// Out returns the output anchor #idx.
func (n *Node) Out(idx int) OutAnchor { return OutAnchor{Node: n.id, Index: idx} }

// InputDesc returns the descriptor of input #idx.
func (n *Node) InputDesc(idx int) InputDesc {
	d := n.inputs[idx].desc
	d.Shape = d.Shape.Clone()
	return d
}

// SetInputShape updates the shape of input #idx.
func (n *Node) SetInputShape(idx int, shape shapes.Shape) {
	n.inputs[idx].desc.Shape = shape.Clone()
}

// OutputShape returns the shape of output #idx.
func (n *Node) OutputShape(idx int) shapes.Shape { return n.outputs[idx].shape.Clone() }

// SetOutputShape updates the shape of output #idx.
func (n *Node) SetOutputShape(idx int, shape shapes.Shape) {
	n.outputs[idx].shape = shape.Clone()
}

// HasUnknownShape returns whether any input or output has an unknown dimension.
func (n *Node) HasUnknownShape() bool {
	for _, in := range n.inputs {
		if in.desc.Shape.IsUnknown() {
			return true
		}
	}
	for _, out := range n.outputs {
		if out.shape.IsUnknown() {
			return true
		}
	}
	return false
}

// Attrs returns the attribute dictionary of the node. Changes are applied to the node.
func (n *Node) Attrs() *Attrs {
	if n.attrs == nil {
		n.attrs = NewAttrs()
	}
	return n.attrs
}

// Attr returns the attribute value.
func (n *Node) Attr(name string) (AttrValue, bool) { return n.attrs.Get(name) }

// SetAttr sets an attribute on the node.
func (n *Node) SetAttr(name string, value AttrValue) { n.Attrs().Set(name, value) }

// DelAttr removes an attribute, returning whether it was present.
func (n *Node) DelAttr(name string) bool {
	if n.attrs == nil {
		return false
	}
	return n.attrs.Delete(name)
}

// IntAttr returns an int attribute, or a status.ParamInvalid error if missing or of another kind.
func (n *Node) IntAttr(name string) (int64, error) {
	v, found := n.attrs.Get(name)
	if !found {
		return 0, status.Errorf(status.ParamInvalid, "node %q (%s) has no attribute %q", n.name, n.opType, name)
	}
	i, ok := v.Int()
	if !ok {
		return 0, status.Errorf(status.ParamInvalid, "attribute %q of node %q is %s, not int", name, n.name, v.Kind())
	}
	return i, nil
}

// Desc returns a copy of the operator descriptor of the node, without edges.
// It is the starting point to create a replacement node with a changed type or attributes.
func (n *Node) Desc() OpDesc {
	d := OpDesc{
		Name:    n.name,
		Type:    n.opType.String(),
		Inputs:  make([]InputDesc, len(n.inputs)),
		Outputs: make([]shapes.Shape, len(n.outputs)),
		Attrs:   n.attrs.Clone(),
	}
	for ii := range n.inputs {
		d.Inputs[ii] = n.InputDesc(ii)
	}
	for ii := range n.outputs {
		d.Outputs[ii] = n.OutputShape(ii)
	}
	return d
}

// Sources returns the output anchors feeding input #idx, in position order.
func (n *Node) Sources(idx int) []OutAnchor {
	return slices.Clone(n.inputs[idx].sources)
}

// Producer returns the (first) output anchor feeding input #idx.
func (n *Node) Producer(idx int) (OutAnchor, bool) {
	if idx < 0 || idx >= len(n.inputs) || len(n.inputs[idx].sources) == 0 {
		return OutAnchor{}, false
	}
	return n.inputs[idx].sources[0], true
}

// Receivers returns the input anchors fed by output #idx, in connection order.
func (n *Node) Receivers(idx int) []InAnchor {
	return slices.Clone(n.outputs[idx].receivers)
}

// ControlInputs returns the nodes with a control edge into this node.
func (n *Node) ControlInputs() []NodeID { return slices.Clone(n.controlIn) }

// ControlOutputs returns the nodes this node has a control edge to.
func (n *Node) ControlOutputs() []NodeID { return slices.Clone(n.controlOut) }

// InEdges lists the incoming data edges, by input index and then position.
func (n *Node) InEdges() []Edge {
	var edges []Edge
	for ii, in := range n.inputs {
		for _, src := range in.sources {
			edges = append(edges, Edge{Src: src, Dst: n.In(ii)})
		}
	}
	return edges
}

// OutEdges lists the outgoing data edges, by output index and then connection order.
func (n *Node) OutEdges() []Edge {
	var edges []Edge
	for ii, out := range n.outputs {
		for _, dst := range out.receivers {
			edges = append(edges, Edge{Src: n.Out(ii), Dst: dst})
		}
	}
	return edges
}

// NumIncidentEdges counts data and control edges, in and out.
func (n *Node) NumIncidentEdges() int {
	count := len(n.controlIn) + len(n.controlOut)
	for _, in := range n.inputs {
		count += len(in.sources)
	}
	for _, out := range n.outputs {
		count += len(out.receivers)
	}
	return count
}

// InputNodes returns the distinct producer nodes of the data inputs, in input order.
func (n *Node) InputNodes() []NodeID {
	var ids []NodeID
	for _, in := range n.inputs {
		for _, src := range in.sources {
			if !slices.Contains(ids, src.Node) {
				ids = append(ids, src.Node)
			}
		}
	}
	return ids
}

// OutputNodes returns the distinct consumer nodes of the data outputs, in output order.
func (n *Node) OutputNodes() []NodeID {
	var ids []NodeID
	for _, out := range n.outputs {
		for _, dst := range out.receivers {
			if !slices.Contains(ids, dst.Node) {
				ids = append(ids, dst.Node)
			}
		}
	}
	return ids
}

// NumDataReceivers counts the data edges leaving the node.
func (n *Node) NumDataReceivers() int {
	count := 0
	for _, out := range n.outputs {
		count += len(out.receivers)
	}
	return count
}

// String returns the node name and type.
func (n *Node) String() string {
	return n.name + "(" + n.opType.String() + ")"
}
