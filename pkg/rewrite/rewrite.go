// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package rewrite implements the graph edits fusion passes compose, grouped in a transaction.
//
// A Txn journals every edit it applies to the graph, so Rollback can undo them in reverse
// order and restore the graph exactly (same Graph.Fingerprint). Node removals are not applied
// immediately: RemoveNode schedules them, and Commit applies them last, after checking that
// every scheduled node has no incident edges left. Until Commit, NodeIDs of scheduled nodes
// remain valid.
//
// Edits are applied immediately, so queries on the graph inside a transaction see them.
//
// Typical use:
//
//	txn := rewrite.Begin(g, opsRegistry)
//	fused, err := txn.AddNode(desc)
//	...
//	if err != nil {
//		_ = txn.Rollback()
//		return err
//	}
//	return txn.Commit()
package rewrite

import (
	"slices"

	"github.com/gomlx/opfusion/pkg/graph"
	"github.com/gomlx/opfusion/pkg/ops"
	"github.com/gomlx/opfusion/pkg/shapes"
	"github.com/gomlx/opfusion/pkg/status"
	"github.com/pkg/errors"
)

// undoFn reverts one journalled edit.
type undoFn func() error

// Txn is an in-progress rewrite of one graph. It is not safe for concurrent use.
type Txn struct {
	g   *graph.Graph
	ops *ops.Registry

	journal  []undoFn
	removals []graph.NodeID
	added    []graph.NodeID
	done     bool
}

// Begin starts a transaction over g. The ops registry is used by InferShape, and may be nil if
// InferShape is not used.
func Begin(g *graph.Graph, opsRegistry *ops.Registry) *Txn {
	return &Txn{g: g, ops: opsRegistry}
}

// Graph being edited.
func (t *Txn) Graph() *graph.Graph { return t.g }

// Len is the number of journalled edits.
func (t *Txn) Len() int { return len(t.journal) }

// Added lists the nodes created by the transaction.
func (t *Txn) Added() []graph.NodeID { return slices.Clone(t.added) }

// Scheduled lists the nodes scheduled for removal, in scheduling order.
func (t *Txn) Scheduled() []graph.NodeID { return slices.Clone(t.removals) }

func (t *Txn) check(op string) error {
	if t.done {
		return status.Errorf(status.ParamInvalid, "rewrite.%s: transaction already committed or rolled back", op)
	}
	return nil
}

func (t *Txn) node(op string, id graph.NodeID) (*graph.Node, error) {
	if err := t.check(op); err != nil {
		return nil, err
	}
	n, found := t.g.Node(id)
	if !found {
		return nil, status.Errorf(status.ParamInvalid, "rewrite.%s: node %s not in graph %q", op, id, t.g.Name())
	}
	return n, nil
}

// AddNode creates a node from the descriptor.
func (t *Txn) AddNode(desc graph.OpDesc) (*graph.Node, error) {
	if err := t.check("AddNode"); err != nil {
		return nil, err
	}
	n, err := t.g.AddNode(desc)
	if err != nil {
		return nil, err
	}
	id := n.ID()
	t.added = append(t.added, id)
	t.journal = append(t.journal, func() error {
		t.added = slices.DeleteFunc(t.added, func(a graph.NodeID) bool { return a == id })
		return t.g.RemoveNode(id)
	})
	return n, nil
}

// AddEdge connects src to dst, see graph.Graph.AddEdge.
func (t *Txn) AddEdge(src graph.OutAnchor, dst graph.InAnchor) error {
	return t.AddEdgeAt(src, dst, -1)
}

// AddEdgeAt connects src to dst at the given position among the sources of a dynamic input.
func (t *Txn) AddEdgeAt(src graph.OutAnchor, dst graph.InAnchor, position int) error {
	if err := t.check("AddEdge"); err != nil {
		return err
	}
	if err := t.g.AddEdgeAt(src, dst, position); err != nil {
		return err
	}
	t.journal = append(t.journal, func() error { return t.g.RemoveEdge(src, dst) })
	return nil
}

// RemoveEdge disconnects src from dst. It fails with status.Failed if there is no such edge.
func (t *Txn) RemoveEdge(src graph.OutAnchor, dst graph.InAnchor) error {
	_, err := t.removeEdge(src, dst)
	return err
}

// removeEdge returns the position of src among the sources of dst before removal.
func (t *Txn) removeEdge(src graph.OutAnchor, dst graph.InAnchor) (int, error) {
	if err := t.check("RemoveEdge"); err != nil {
		return -1, err
	}
	srcPos, dstPos, found := t.g.EdgePosition(src, dst)
	if !found {
		// Let the graph report the exact problem.
		if err := t.g.RemoveEdge(src, dst); err != nil {
			return -1, err
		}
		return -1, status.Errorf(status.Failed, "rewrite.RemoveEdge: edge position not found")
	}
	if err := t.g.RemoveEdge(src, dst); err != nil {
		return -1, err
	}
	t.journal = append(t.journal, func() error { return t.g.InsertEdge(src, dst, srcPos, dstPos) })
	return srcPos, nil
}

// RemoveControlEdge removes the control edge from src to dst.
func (t *Txn) RemoveControlEdge(src, dst graph.NodeID) error {
	if err := t.check("RemoveControlEdge"); err != nil {
		return err
	}
	outPos, inPos, _ := t.g.ControlEdgePosition(src, dst)
	if err := t.g.RemoveControlEdge(src, dst); err != nil {
		return err
	}
	t.journal = append(t.journal, func() error { return t.g.InsertControlEdge(src, dst, outPos, inPos) })
	return nil
}

// AddControlEdge adds a control edge from src to dst.
func (t *Txn) AddControlEdge(src, dst graph.NodeID) error {
	if err := t.check("AddControlEdge"); err != nil {
		return err
	}
	if err := t.g.AddControlEdge(src, dst); err != nil {
		return err
	}
	t.journal = append(t.journal, func() error { return t.g.RemoveControlEdge(src, dst) })
	return nil
}

// RedirectInput replaces the edge oldSrc -> dst by newSrc -> dst, keeping its position among
// the sources of dst.
func (t *Txn) RedirectInput(oldSrc graph.OutAnchor, dst graph.InAnchor, newSrc graph.OutAnchor) error {
	srcPos, err := t.removeEdge(oldSrc, dst)
	if err != nil {
		return errors.WithMessage(err, "rewrite.RedirectInput")
	}
	return t.AddEdgeAt(newSrc, dst, srcPos)
}

// ReplaceOutputUses moves every receiver of oldOut to newOut, preserving the receivers' order
// and the position of the edge among each receiver's sources.
func (t *Txn) ReplaceOutputUses(oldOut, newOut graph.OutAnchor) error {
	if err := t.check("ReplaceOutputUses"); err != nil {
		return err
	}
	if _, found := t.g.Node(newOut.Node); !found {
		return status.Errorf(status.ParamInvalid, "rewrite.ReplaceOutputUses: node %s not in graph %q", newOut.Node, t.g.Name())
	}
	for _, dst := range t.g.Consumers(oldOut) {
		if err := t.RedirectInput(oldOut, dst, newOut); err != nil {
			return errors.WithMessage(err, "rewrite.ReplaceOutputUses")
		}
	}
	return nil
}

// CopyInputEdge connects every source of from to the input anchor to, in order. It is used to
// give a replacement node the external inputs of the node it replaces.
func (t *Txn) CopyInputEdge(from, to graph.InAnchor) error {
	n, err := t.node("CopyInputEdge", from.Node)
	if err != nil {
		return err
	}
	if from.Index < 0 || from.Index >= n.NumInputs() {
		return status.Errorf(status.ParamInvalid, "rewrite.CopyInputEdge: %s has no input #%d", n, from.Index)
	}
	for _, src := range n.Sources(from.Index) {
		if err := t.AddEdge(src, to); err != nil {
			return errors.WithMessage(err, "rewrite.CopyInputEdge")
		}
	}
	return nil
}

// IsolateNode removes every data and control edge incident to the node.
func (t *Txn) IsolateNode(id graph.NodeID) error {
	n, err := t.node("IsolateNode", id)
	if err != nil {
		return err
	}
	for _, e := range slices.Concat(n.InEdges(), n.OutEdges()) {
		if err := t.RemoveEdge(e.Src, e.Dst); err != nil {
			return err
		}
	}
	for _, src := range n.ControlInputs() {
		if err := t.RemoveControlEdge(src, id); err != nil {
			return err
		}
	}
	for _, dst := range n.ControlOutputs() {
		if err := t.RemoveControlEdge(id, dst); err != nil {
			return err
		}
	}
	return nil
}

// RemoveNode schedules the node for removal at Commit. Scheduling a node twice is a no-op.
func (t *Txn) RemoveNode(id graph.NodeID) error {
	if _, err := t.node("RemoveNode", id); err != nil {
		return err
	}
	if slices.Contains(t.removals, id) {
		return nil
	}
	t.removals = append(t.removals, id)
	t.journal = append(t.journal, func() error {
		t.removals = slices.DeleteFunc(t.removals, func(r graph.NodeID) bool { return r == id })
		return nil
	})
	return nil
}

// SetAttr sets an attribute of the node.
func (t *Txn) SetAttr(id graph.NodeID, name string, value graph.AttrValue) error {
	n, err := t.node("SetAttr", id)
	if err != nil {
		return err
	}
	t.journalAttr(n, name)
	n.SetAttr(name, value)
	return nil
}

// DelAttr removes an attribute of the node, if present.
func (t *Txn) DelAttr(id graph.NodeID, name string) error {
	n, err := t.node("DelAttr", id)
	if err != nil {
		return err
	}
	t.journalAttr(n, name)
	n.DelAttr(name)
	return nil
}

func (t *Txn) journalAttr(n *graph.Node, name string) {
	id := n.ID()
	previous, had := n.Attr(name)
	t.journal = append(t.journal, func() error {
		n, found := t.g.Node(id)
		if !found {
			return status.Errorf(status.Failed, "rewrite: undo attribute %q of removed node %s", name, id)
		}
		if had {
			n.SetAttr(name, previous)
		} else {
			n.DelAttr(name)
		}
		return nil
	})
}

// InferShape refreshes the input shapes of the node from its producers, and calls the shape
// inference of its operator type.
func (t *Txn) InferShape(id graph.NodeID) error {
	n, err := t.node("InferShape", id)
	if err != nil {
		return err
	}
	if t.ops == nil {
		return status.Errorf(status.ParamInvalid, "rewrite.InferShape(%s): no ops registry given to the transaction", n)
	}
	inputs := make([]shapes.Shape, n.NumInputs())
	for ii := range inputs {
		inputs[ii] = n.InputDesc(ii).Shape
	}
	outputs := make([]shapes.Shape, n.NumOutputs())
	for ii := range outputs {
		outputs[ii] = n.OutputShape(ii)
	}
	t.journal = append(t.journal, func() error {
		n, found := t.g.Node(id)
		if !found {
			return status.Errorf(status.Failed, "rewrite: undo shapes of removed node %s", id)
		}
		for ii, s := range inputs {
			n.SetInputShape(ii, s)
		}
		for ii, s := range outputs {
			n.SetOutputShape(ii, s)
		}
		return nil
	})
	for ii := range inputs {
		if producer, found := n.Producer(ii); found {
			if pn, found := t.g.Node(producer.Node); found {
				n.SetInputShape(ii, pn.OutputShape(producer.Index))
			}
		}
	}
	return t.ops.InferShapeAndType(n)
}

// Commit applies the scheduled removals and closes the transaction. If a scheduled node still
// has incident edges, nothing is removed, the transaction stays open, and a status.Failed
// error is returned: the caller should then Rollback.
func (t *Txn) Commit() error {
	if err := t.check("Commit"); err != nil {
		return err
	}
	for _, id := range t.removals {
		n, found := t.g.Node(id)
		if !found {
			return status.Errorf(status.Failed, "rewrite.Commit: node %s scheduled for removal is gone", id)
		}
		if count := n.NumIncidentEdges(); count > 0 {
			return status.Errorf(status.Failed, "rewrite.Commit: node %s scheduled for removal still has %d edges", n, count)
		}
	}
	for _, id := range t.removals {
		if err := t.g.RemoveNode(id); err != nil {
			return status.Wrapf(err, status.Failed, "rewrite.Commit")
		}
	}
	t.done = true
	t.journal = nil
	return nil
}

// Rollback undoes all edits in reverse order and closes the transaction.
// An error means the graph could not be fully restored, which is a bug.
func (t *Txn) Rollback() error {
	if err := t.check("Rollback"); err != nil {
		return err
	}
	t.done = true
	var firstErr error
	for ii := len(t.journal) - 1; ii >= 0; ii-- {
		if err := t.journal[ii](); err != nil && firstErr == nil {
			firstErr = status.Wrapf(err, status.Failed, "rewrite.Rollback")
		}
	}
	t.journal = nil
	t.removals = nil
	t.added = nil
	return firstErr
}
