// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"strconv"

	"github.com/gomlx/opfusion/pkg/fusion"
	"github.com/gomlx/opfusion/pkg/graph"
	"github.com/gomlx/opfusion/pkg/matcher"
	"github.com/gomlx/opfusion/pkg/pattern"
	"github.com/gomlx/opfusion/pkg/rewrite"
	"github.com/gomlx/opfusion/pkg/shapes"
	"github.com/gomlx/opfusion/pkg/status"
	"k8s.io/klog/v2"
)

// TransposeReshapeFusionPass replaces a Transpose followed by a Reshape, or a Reshape followed
// by a Transpose, by one ConfusionTransposeD node with the attributes "perm", "shape" and
// "transpose_first".
//
// The permutation is taken from the "perm" attribute of TransposeD, or from the constant
// second input of Transpose. The shape is the output shape of the Reshape, which must be fully
// known.
type TransposeReshapeFusionPass struct{}

var _ fusion.GraphPass = (*TransposeReshapeFusionPass)(nil)

const (
	descTranspose = "transpose"
	descReshape   = "reshape"

	patternTransposeReshape = "TransposeReshapeFusion"
	patternReshapeTranspose = "ReshapeTransposeFusion"
)

var transposeTypes = []string{"Transpose", "TransposeD"}

// Name implements fusion.Pass.
func (p *TransposeReshapeFusionPass) Name() string { return TransposeReshapeFusionName }

// DefinePatterns implements fusion.Pass.
func (p *TransposeReshapeFusionPass) DefinePatterns() []*pattern.Pattern {
	return []*pattern.Pattern{
		pattern.New(patternTransposeReshape, pattern.KindGraph).
			AddOp(descTranspose, transposeTypes...).
			AddOp(descReshape, "Reshape").
			SetInputs(descReshape, descTranspose).
			SetOutput(descReshape),
		pattern.New(patternReshapeTranspose, pattern.KindGraph).
			AddOp(descReshape, "Reshape").
			AddOp(descTranspose, transposeTypes...).
			SetInputs(descTranspose, descReshape).
			SetOutput(descTranspose),
	}
}

// permutation of a transpose node, if known at compile time.
func permutation(g *graph.Graph, n *graph.Node) ([]int64, bool) {
	if v, found := n.Attr("perm"); found {
		return v.Ints()
	}
	if n.NumInputs() < 2 {
		return nil, false
	}
	value, found := rewrite.ConstValue(g, n.In(1))
	if !found {
		return nil, false
	}
	perm, err := value.AsInt64s()
	return perm, err == nil
}

// Fuse implements fusion.GraphPass.
func (p *TransposeReshapeFusionPass) Fuse(ctx *fusion.Context, m *matcher.Mapping) (status.Status, []graph.NodeID, error) {
	transpose, err := ctx.Node(m, descTranspose)
	if err != nil {
		return status.ParamInvalid, nil, err
	}
	reshape, err := ctx.Node(m, descReshape)
	if err != nil {
		return status.ParamInvalid, nil, err
	}
	transposeFirst := m.Pattern().Name() == patternTransposeReshape
	first, second := reshape, transpose
	if transposeFirst {
		first, second = transpose, reshape
	}
	if !hasSingleConsumer(ctx.Graph, first) {
		klog.V(2).Infof("%s: %q has other consumers than %q", p.Name(), first.Name(), second.Name())
		return status.NotChanged, nil, nil
	}
	perm, ok := permutation(ctx.Graph, transpose)
	if !ok {
		klog.V(2).Infof("%s: permutation of %q is not a constant", p.Name(), transpose.Name())
		return status.NotChanged, nil, nil
	}
	reshaped := reshape.OutputShape(0)
	if !reshaped.Ok() || reshaped.IsUnknown() {
		klog.V(2).Infof("%s: output shape of %q is not known", p.Name(), reshape.Name())
		return status.NotChanged, nil, nil
	}
	dims := make([]int64, reshaped.Rank())
	for ii, d := range reshaped.Dimensions {
		dims[ii] = int64(d)
	}

	txn := ctx.Txn
	fused, err := txn.AddNode(graph.OpDesc{
		Name:    freshName(ctx.Graph, first.Name()+"_confusion_transpose"),
		Type:    "ConfusionTransposeD",
		Inputs:  []graph.InputDesc{first.InputDesc(0)},
		Outputs: []shapes.Shape{second.OutputShape(0)},
		Attrs: graph.NewAttrs().
			Set("perm", graph.AttrInts(perm...)).
			Set("shape", graph.AttrInts(dims...)).
			Set("transpose_first", graph.AttrBool(transposeFirst)),
	})
	if err != nil {
		return status.Of(err), nil, err
	}
	steps := []func() error{
		func() error { return txn.CopyInputEdge(first.In(0), fused.In(0)) },
		func() error { return txn.ReplaceOutputUses(second.Out(0), fused.Out(0)) },
		func() error { return moveControlEdges(txn, []*graph.Node{first, second}, fused.ID()) },
		func() error { return dropConstInputs(txn, transpose, reshape) },
		func() error { return removeReplaced(txn, first, second) },
		func() error { return txn.InferShape(fused.ID()) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return status.Of(err), nil, err
		}
	}
	return status.Success, []graph.NodeID{fused.ID()}, nil
}

// dropConstInputs folds the constant secondary inputs (permutation, shape) of the replaced nodes
// into themselves, so their producers are removed if they have no other consumer.
func dropConstInputs(txn *rewrite.Txn, replaced ...*graph.Node) error {
	for _, n := range replaced {
		for ii := 1; ii < n.NumInputs(); ii++ {
			if _, found := rewrite.ConstValue(txn.Graph(), n.In(ii)); !found {
				continue
			}
			if err := txn.FoldConstInput(n.In(ii), n.ID(), "_input_"+strconv.Itoa(ii)); err != nil {
				return err
			}
		}
	}
	return nil
}
