// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"github.com/gomlx/opfusion/pkg/fusion"
	"github.com/gomlx/opfusion/pkg/graph"
	"github.com/gomlx/opfusion/pkg/matcher"
	"github.com/gomlx/opfusion/pkg/pattern"
	"github.com/gomlx/opfusion/pkg/rewrite"
	"github.com/gomlx/opfusion/pkg/status"
	"k8s.io/klog/v2"
)

// BatchToSpaceNDConstToAttrPass replaces a BatchToSpaceND node whose block shape and crops are
// constants by a BatchToSpaceNDD node carrying them as the attributes "block_shape" and "crops".
//
// Only the NHWC form is converted: rank-4 input, 2 block sizes and 4 crop values.
type BatchToSpaceNDConstToAttrPass struct{}

var _ fusion.GraphPass = (*BatchToSpaceNDConstToAttrPass)(nil)

const (
	descBatchToSpace = "batch_to_space"

	batchToSpaceRank      = 4
	batchToSpaceBlockSize = 2
	batchToSpaceCropsSize = 4
)

// Name implements fusion.Pass.
func (p *BatchToSpaceNDConstToAttrPass) Name() string { return BatchToSpaceNDConstToAttrName }

// DefinePatterns implements fusion.Pass.
func (p *BatchToSpaceNDConstToAttrPass) DefinePatterns() []*pattern.Pattern {
	return []*pattern.Pattern{
		pattern.New("BatchToSpaceNDConstToAttr", pattern.KindGraph).
			AddOp(descBatchToSpace, "BatchToSpaceND").
			SetOutput(descBatchToSpace),
	}
}

// Fuse implements fusion.GraphPass.
func (p *BatchToSpaceNDConstToAttrPass) Fuse(ctx *fusion.Context, m *matcher.Mapping) (status.Status, []graph.NodeID, error) {
	n, err := ctx.Node(m, descBatchToSpace)
	if err != nil {
		return status.ParamInvalid, nil, err
	}
	if n.NumInputs() != 3 || n.NumOutputs() != 1 {
		return status.ParamInvalid, nil, status.Errorf(status.ParamInvalid,
			"%s: %q has %d inputs and %d outputs, expected 3 and 1", p.Name(), n.Name(), n.NumInputs(), n.NumOutputs())
	}
	if rank := n.InputDesc(0).Shape.Rank(); rank != batchToSpaceRank {
		klog.V(2).Infof("%s: %q input has rank %d", p.Name(), n.Name(), rank)
		return status.NotChanged, nil, nil
	}
	block, found := rewrite.ConstValue(ctx.Graph, n.In(1))
	if !found || block.Size() != batchToSpaceBlockSize {
		klog.V(2).Infof("%s: %q block_shape is not a constant of size %d", p.Name(), n.Name(), batchToSpaceBlockSize)
		return status.NotChanged, nil, nil
	}
	crops, found := rewrite.ConstValue(ctx.Graph, n.In(2))
	if !found || crops.Size() != batchToSpaceCropsSize {
		klog.V(2).Infof("%s: %q crops is not a constant of size %d", p.Name(), n.Name(), batchToSpaceCropsSize)
		return status.NotChanged, nil, nil
	}

	desc := n.Desc()
	desc.Name = freshName(ctx.Graph, n.Name()+"_d")
	desc.Type = "BatchToSpaceNDD"
	desc.Inputs = desc.Inputs[:1]
	txn := ctx.Txn
	replacement, err := txn.AddNode(desc)
	if err != nil {
		return status.Of(err), nil, err
	}
	id := replacement.ID()
	steps := []func() error{
		func() error { return txn.FoldConstInput(n.In(1), id, "block_shape") },
		func() error { return txn.FoldConstInput(n.In(2), id, "crops") },
		func() error { return txn.CopyInputEdge(n.In(0), replacement.In(0)) },
		func() error { return txn.ReplaceOutputUses(n.Out(0), replacement.Out(0)) },
		func() error { return moveControlEdges(txn, []*graph.Node{n}, id) },
		func() error { return removeReplaced(txn, n) },
		func() error { return txn.InferShape(id) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return status.Of(err), nil, err
		}
	}
	return status.Success, []graph.NodeID{id}, nil
}
