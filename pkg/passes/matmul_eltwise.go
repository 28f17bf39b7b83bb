// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"github.com/gomlx/opfusion/pkg/fusion"
	"github.com/gomlx/opfusion/pkg/graph"
	"github.com/gomlx/opfusion/pkg/matcher"
	"github.com/gomlx/opfusion/pkg/ops"
	"github.com/gomlx/opfusion/pkg/pattern"
	"github.com/gomlx/opfusion/pkg/status"
)

// MatMulEltwiseFusionPass groups a matrix multiplication with the chain of up to
// pattern.NumMax elementwise operators following it.
type MatMulEltwiseFusionPass struct{}

var _ fusion.BufferPass = (*MatMulEltwiseFusionPass)(nil)

const (
	descMatMul  = "matmul"
	descEltwise = "eltwise"
)

// Name implements fusion.Pass.
func (p *MatMulEltwiseFusionPass) Name() string { return MatMulEltwiseFusionName }

// DefinePatterns implements fusion.Pass.
func (p *MatMulEltwiseFusionPass) DefinePatterns() []*pattern.Pattern {
	return []*pattern.Pattern{
		pattern.New("MatMulEltwiseFusion", pattern.KindBuffer).
			AddOpDesc(descMatMul, []string{ops.PatternMatMul}, pattern.NumDefault, pattern.NumDefault,
				pattern.GroupInvalid, false).
			AddOpDesc(descEltwise, []string{ops.PatternElemWise}, pattern.NumDefault, pattern.NumMax,
				pattern.GroupInvalid, false).
			SetHead(descMatMul).
			SetOutputs(descMatMul, descEltwise),
	}
}

// GetFusionNodes implements fusion.BufferPass.
func (p *MatMulEltwiseFusionPass) GetFusionNodes(ctx *fusion.Context, m *matcher.Mapping) (status.Status, []graph.NodeID, error) {
	matMul, err := ctx.Node(m, descMatMul)
	if err != nil {
		return status.ParamInvalid, nil, err
	}
	if !hasSingleConsumer(ctx.Graph, matMul) {
		return status.NotChanged, nil, nil
	}
	return status.Success, m.All(), nil
}
