// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package rewrite

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opfusion/pkg/graph"
	"github.com/gomlx/opfusion/pkg/status"
	"github.com/gomlx/opfusion/pkg/tensors"
	"github.com/pkg/errors"
)

// ConstTypes are the operator types holding a compile-time constant in their "value" attribute.
var ConstTypes = graph.OpTypes("Const", "Constant")

// ValueAttr is the attribute of constant nodes holding their tensor.
const ValueAttr = "value"

// IsConst returns whether the node is a constant producer.
func IsConst(n *graph.Node) bool {
	for _, t := range ConstTypes {
		if n.Type() == t {
			return true
		}
	}
	return false
}

// ConstValue returns the tensor feeding the input anchor, if its producer is a constant node.
// Inputs fed by runtime tensors (or not connected) return false.
func ConstValue(g *graph.Graph, in graph.InAnchor) (*tensors.Tensor, bool) {
	producer, found := g.ProducerNode(in)
	if !found || !IsConst(producer) {
		return nil, false
	}
	v, found := producer.Attr(ValueAttr)
	if !found {
		return nil, false
	}
	return v.Tensor()
}

// TensorToAttr converts a constant tensor to a list attribute: list(int) for integer dtypes,
// list(float) for floating point dtypes.
func TensorToAttr(t *tensors.Tensor) (graph.AttrValue, error) {
	if t.DType().IsFloat() || t.DType() == dtypes.Float16 {
		values, err := t.AsFloat64s()
		if err != nil {
			return graph.AttrValue{}, err
		}
		return graph.AttrFloats(values...), nil
	}
	values, err := t.AsInt64s()
	if err != nil {
		return graph.AttrValue{}, err
	}
	return graph.AttrInts(values...), nil
}

// FoldConstInput moves the constant feeding the input anchor in into the attribute attr of the
// node dst (which may be in.Node itself): the attribute is set, the edge from the constant is
// removed, and the constant node is scheduled for removal if it has no other consumer.
//
// It fails with status.ParamInvalid if the input is not fed by a constant: passes are expected
// to check ConstValue during verification.
func (t *Txn) FoldConstInput(in graph.InAnchor, dst graph.NodeID, attr string) error {
	if err := t.check("FoldConstInput"); err != nil {
		return err
	}
	value, found := ConstValue(t.g, in)
	if !found {
		return status.Errorf(status.ParamInvalid, "rewrite.FoldConstInput: input #%d of node %s is not fed by a constant",
			in.Index, in.Node)
	}
	attrValue, err := TensorToAttr(value)
	if err != nil {
		return status.Wrapf(errors.WithStack(err), status.ParamInvalid, "rewrite.FoldConstInput")
	}
	src, _ := t.g.Producer(in)
	if err := t.SetAttr(dst, attr, attrValue); err != nil {
		return err
	}
	if err := t.RemoveEdge(src, in); err != nil {
		return err
	}
	constNode, _ := t.g.Node(src.Node)
	if constNode.NumDataReceivers() == 0 {
		if err := t.IsolateNode(src.Node); err != nil {
			return err
		}
		return t.RemoveNode(src.Node)
	}
	return nil
}
