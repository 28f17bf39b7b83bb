// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"github.com/gomlx/opfusion/pkg/fusion"
	"github.com/gomlx/opfusion/pkg/graph"
	"github.com/gomlx/opfusion/pkg/matcher"
	"github.com/gomlx/opfusion/pkg/ops"
	"github.com/gomlx/opfusion/pkg/pattern"
	"github.com/gomlx/opfusion/pkg/status"
	"k8s.io/klog/v2"
)

// DequantLeakyReluQuantFusionPass groups a dequantization, an optional LeakyRelu and a
// quantization.
type DequantLeakyReluQuantFusionPass struct{}

var _ fusion.BufferPass = (*DequantLeakyReluQuantFusionPass)(nil)

const (
	descDequant   = "dequant"
	descLeakyRelu = "leakyrelu"
	descQuant     = "quant"
)

// Name implements fusion.Pass.
func (p *DequantLeakyReluQuantFusionPass) Name() string { return DequantLeakyReluQuantFusionName }

// DefinePatterns implements fusion.Pass.
func (p *DequantLeakyReluQuantFusionPass) DefinePatterns() []*pattern.Pattern {
	return []*pattern.Pattern{
		pattern.New("DequantLeakyReluQuantFusion", pattern.KindBuffer).
			AddOpDesc(descDequant, []string{ops.PatternDequant}, pattern.NumDefault, pattern.NumDefault,
				pattern.GroupInvalid, false).
			AddOpDesc(descLeakyRelu, []string{"LeakyRelu"}, pattern.NumNone, pattern.NumDefault,
				pattern.GroupInvalid, false).
			AddOpDesc(descQuant, []string{ops.PatternQuant}, pattern.NumDefault, pattern.NumDefault,
				pattern.GroupInvalid, false).
			SetHead(descDequant).
			SetOutputs(descDequant, descLeakyRelu).
			SetOutputs(descLeakyRelu, descQuant),
	}
}

// GetFusionNodes implements fusion.BufferPass.
//
// The intermediate results can't be used outside the group: the dequantization and the
// LeakyRelu must feed only the next node of the chain.
func (p *DequantLeakyReluQuantFusionPass) GetFusionNodes(ctx *fusion.Context, m *matcher.Mapping) (status.Status, []graph.NodeID, error) {
	dequant, err := ctx.Node(m, descDequant)
	if err != nil {
		return status.ParamInvalid, nil, err
	}
	leakyRelu, err := ctx.OptionalNode(m, descLeakyRelu)
	if err != nil {
		return status.ParamInvalid, nil, err
	}
	if _, err = ctx.Node(m, descQuant); err != nil {
		return status.ParamInvalid, nil, err
	}
	intermediate := []*graph.Node{dequant}
	if leakyRelu != nil {
		intermediate = append(intermediate, leakyRelu)
	}
	for _, n := range intermediate {
		if !hasSingleConsumer(ctx.Graph, n) {
			klog.V(2).Infof("%s: %q is consumed outside of the group", p.Name(), n.Name())
			return status.NotChanged, nil, nil
		}
	}
	return status.Success, m.All(), nil
}
