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

// ConvClipByValueFusionPass groups a convolution with a following ClipByValue.
//
// The pattern admits any elementwise operator after the convolution. Other elementwise
// operators are rejected by returning status.Success with no nodes, so the pass declares
// fusion.ConventionEmptyIsNoOp.
type ConvClipByValueFusionPass struct{}

var (
	_ fusion.BufferPass         = (*ConvClipByValueFusionPass)(nil)
	_ fusion.ConventionDeclarer = (*ConvClipByValueFusionPass)(nil)
)

const (
	descConv     = "convolution"
	descElemWise = "elemwise"
)

// Name implements fusion.Pass.
func (p *ConvClipByValueFusionPass) Name() string { return ConvClipByValueFusionName }

// VerifyConvention implements fusion.ConventionDeclarer.
func (p *ConvClipByValueFusionPass) VerifyConvention() fusion.Convention {
	return fusion.ConventionEmptyIsNoOp
}

// DefinePatterns implements fusion.Pass.
func (p *ConvClipByValueFusionPass) DefinePatterns() []*pattern.Pattern {
	return []*pattern.Pattern{
		pattern.New("ConvClipByValueFusion", pattern.KindBuffer).
			AddOpDesc(descConv, []string{ops.PatternConvolution}, pattern.NumDefault, pattern.NumDefault,
				pattern.GroupInvalid, false).
			AddOpDesc(descElemWise, []string{ops.PatternElemWise}, pattern.NumDefault, pattern.NumDefault,
				pattern.GroupInvalid, false).
			SetHead(descConv).
			SetOutputs(descConv, descElemWise),
	}
}

// GetFusionNodes implements fusion.BufferPass.
func (p *ConvClipByValueFusionPass) GetFusionNodes(ctx *fusion.Context, m *matcher.Mapping) (status.Status, []graph.NodeID, error) {
	elemWise, err := ctx.Node(m, descElemWise)
	if err != nil {
		return status.ParamInvalid, nil, err
	}
	if elemWise.TypeName() != "ClipByValue" {
		klog.V(2).Infof("%s: %q is %s, not ClipByValue", p.Name(), elemWise.Name(), elemWise.TypeName())
		return status.Success, nil, nil
	}
	return status.Success, m.All(), nil
}
