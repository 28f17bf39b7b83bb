// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package matcher_test

import (
	"fmt"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opfusion/pkg/graph"
	"github.com/gomlx/opfusion/pkg/graph/graphtest"
	"github.com/gomlx/opfusion/pkg/matcher"
	"github.com/gomlx/opfusion/pkg/ops"
	"github.com/gomlx/opfusion/pkg/pattern"
	"github.com/gomlx/opfusion/pkg/shapes"
	"github.com/gomlx/opfusion/pkg/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMatcher() *matcher.Matcher {
	return matcher.New(matcher.Options{Ops: ops.NewBuiltinRegistry()})
}

func bound(t *testing.T, g *graph.Graph, m *matcher.Mapping, desc string) []string {
	t.Helper()
	return graphtest.Names(g, m.Nodes(desc))
}

func TestRoundTripSingleDescriptor(t *testing.T) {
	b := graphtest.New(t, "single")
	b.Data("in", graphtest.DefaultShape)
	b.Op("x", "X", "in")
	p := pattern.New("single", pattern.KindGraph).AddOp("x", "X")

	mappings, err := newMatcher().Match(b.G, p)
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	assert.Equal(t, []string{"x"}, bound(t, b.G, mappings[0], "x"))
	assert.Equal(t, 1, mappings[0].Len())
	assert.Equal(t, []string{"x"}, mappings[0].Descs())
}

func TestConvElemWise(t *testing.T) {
	b := graphtest.New(t, "conv_clip")
	b.Data("x", graphtest.DefaultShape)
	b.Data("w", shapes.Make(dtypes.Float32, 3, 3, 16, 16))
	b.Op("conv", "Convolution", "x", "w")
	b.Op("clip", "ClipByValue", "conv")
	p := pattern.New("ConvClip", pattern.KindBuffer).
		AddOpDesc("conv", []string{ops.PatternConvolution}, 1, 1, pattern.GroupInvalid, false).
		AddOpDesc("elemwise", []string{ops.PatternElemWise}, 1, 1, pattern.GroupInvalid, false).
		SetHead("conv").
		SetOutputs("conv", "elemwise")

	mappings, err := newMatcher().Match(b.G, p)
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	m := mappings[0]
	assert.Equal(t, []string{"conv"}, bound(t, b.G, m, "conv"))
	assert.Equal(t, []string{"clip"}, bound(t, b.G, m, "elemwise"))
	assert.Equal(t, []string{"conv", "clip"}, graphtest.Names(b.G, m.All()))
	assert.Equal(t, "ConvClip{conv:[conv], elemwise:[clip]}", m.Format(b.G))

	// Without the registry, categories are unknown.
	mappings, err = matcher.New(matcher.Options{}).Match(b.G, p)
	require.NoError(t, err)
	assert.Empty(t, mappings)
}

func dequantLeakyReluQuant() *pattern.Pattern {
	return pattern.New("DequantLeakyReluQuant", pattern.KindBuffer).
		AddOpDesc("dequant", []string{ops.PatternDequant}, pattern.NumDefault, pattern.NumDefault, pattern.GroupInvalid, false).
		AddOpDesc("leakyrelu", []string{"LeakyRelu"}, pattern.NumNone, pattern.NumDefault, pattern.GroupInvalid, false).
		AddOpDesc("quant", []string{ops.PatternQuant}, pattern.NumDefault, pattern.NumDefault, pattern.GroupInvalid, false).
		SetHead("dequant").
		SetOutputs("dequant", "leakyrelu").
		SetOutputs("leakyrelu", "quant")
}

func TestOptionalDescriptor(t *testing.T) {
	// Without the optional node.
	b := graphtest.New(t, "dequant_quant")
	b.Data("x", graphtest.DefaultShape)
	b.Op("dq", "AscendDequant", "x")
	b.Op("q", "AscendQuant", "dq")
	mappings, err := newMatcher().Match(b.G, dequantLeakyReluQuant())
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	m := mappings[0]
	assert.Equal(t, []string{"dq"}, bound(t, b.G, m, "dequant"))
	assert.Empty(t, m.Nodes("leakyrelu"))
	_, found := m.First("leakyrelu")
	assert.False(t, found)
	assert.Equal(t, []string{"q"}, bound(t, b.G, m, "quant"))

	// With the optional node.
	b = graphtest.New(t, "dequant_leakyrelu_quant")
	b.Data("x", graphtest.DefaultShape)
	b.Op("dq", "AscendDequant", "x")
	b.Op("lr", "LeakyRelu", "dq")
	b.Op("q", "AscendQuant", "lr")
	mappings, err = newMatcher().Match(b.G, dequantLeakyReluQuant())
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	assert.Equal(t, []string{"lr"}, bound(t, b.G, mappings[0], "leakyrelu"))

	// A different elementwise op in between breaks the pattern.
	b = graphtest.New(t, "dequant_relu_quant")
	b.Data("x", graphtest.DefaultShape)
	b.Op("dq", "AscendDequant", "x")
	b.Op("relu", "Relu", "dq")
	b.Op("q", "AscendQuant", "relu")
	mappings, err = newMatcher().Match(b.G, dequantLeakyReluQuant())
	require.NoError(t, err)
	assert.Empty(t, mappings)
}

// chainGraph builds MatMul followed by numElemWise Relu nodes.
func chainGraph(t *testing.T, numElemWise int) *graphtest.Builder {
	b := graphtest.New(t, "chain")
	b.Data("a", graphtest.DefaultShape)
	b.Data("w", graphtest.DefaultShape)
	prev := b.Op("matmul", "MatMul", "a", "w").Name()
	for ii := range numElemWise {
		prev = b.Op(fmt.Sprintf("relu%d", ii), "Relu", prev).Name()
	}
	return b
}

func matMulElemWise(minMatch, maxMatch int) *pattern.Pattern {
	return pattern.New("MatMulElemWise", pattern.KindBuffer).
		AddOpDesc("matmul", []string{ops.PatternMatMul}, pattern.NumDefault, pattern.NumDefault, pattern.GroupInvalid, false).
		AddOpDesc("elemwise", []string{ops.PatternElemWise}, minMatch, maxMatch, pattern.GroupInvalid, false).
		SetHead("matmul").
		SetOutputs("matmul", "elemwise")
}

func TestRepetitionBounds(t *testing.T) {
	for _, numElemWise := range []int{0, 1, 3, pattern.NumMax, pattern.NumMax + 2} {
		for _, bounds := range [][2]int{{1, pattern.NumMax}, {2, 3}, {0, 2}} {
			t.Run(fmt.Sprintf("chain=%d,bounds=%v", numElemWise, bounds), func(t *testing.T) {
				b := chainGraph(t, numElemWise)
				mappings, err := newMatcher().Match(b.G, matMulElemWise(bounds[0], bounds[1]))
				require.NoError(t, err)
				if numElemWise < bounds[0] {
					assert.Empty(t, mappings)
					return
				}
				// One mapping per admissible chain length, longest (greedy) first.
				longest := min(numElemWise, bounds[1])
				require.Len(t, mappings, longest-bounds[0]+1)
				for ii, m := range mappings {
					got := m.Nodes("elemwise")
					assert.Len(t, got, longest-ii)
					assert.GreaterOrEqual(t, len(got), bounds[0])
					assert.LessOrEqual(t, len(got), bounds[1])
					for jj, name := range graphtest.Names(b.G, got) {
						assert.Equal(t, fmt.Sprintf("relu%d", jj), name, "chain in data-flow order")
					}
				}
			})
		}
	}
}

func TestRepetitionStopsAtBranch(t *testing.T) {
	b := chainGraph(t, 4)
	// relu1 gets a second consumer.
	b.Op("side", "Sigmoid", "relu1")
	mappings, err := newMatcher().Match(b.G, matMulElemWise(1, pattern.NumMax))
	require.NoError(t, err)
	require.Len(t, mappings, 2)
	assert.Equal(t, []string{"relu0", "relu1"}, bound(t, b.G, mappings[0], "elemwise"))
	assert.Equal(t, []string{"relu0"}, bound(t, b.G, mappings[1], "elemwise"))
}

func TestRepetitionBacktracks(t *testing.T) {
	// The longest elemwise chain would swallow relu2, which the "relu" descriptor needs.
	b := chainGraph(t, 3)
	p := pattern.New("MatMulElemWiseRelu", pattern.KindBuffer).
		AddOpDesc("matmul", []string{ops.PatternMatMul}, 1, 1, pattern.GroupInvalid, false).
		AddOpDesc("elemwise", []string{ops.PatternElemWise}, 1, pattern.NumMax, pattern.GroupInvalid, false).
		AddOpDesc("relu", []string{"Relu"}, 1, 1, pattern.GroupInvalid, false).
		SetHead("matmul").
		SetOutputs("matmul", "elemwise").
		SetOutputs("elemwise", "relu")
	mappings, err := newMatcher().Match(b.G, p)
	require.NoError(t, err)
	require.Len(t, mappings, 2)
	assert.Equal(t, []string{"relu0", "relu1"}, bound(t, b.G, mappings[0], "elemwise"))
	assert.Equal(t, []string{"relu2"}, bound(t, b.G, mappings[0], "relu"))
	// The shorter chain leaves relu1 to the "relu" descriptor.
	assert.Equal(t, []string{"relu0"}, bound(t, b.G, mappings[1], "elemwise"))
	assert.Equal(t, []string{"relu1"}, bound(t, b.G, mappings[1], "relu"))
}

func TestAllAlternativesFromOneSeed(t *testing.T) {
	b := graphtest.New(t, "conv_two_consumers")
	b.Data("x", graphtest.DefaultShape)
	b.Data("w", shapes.Make(dtypes.Float32, 3, 3, 16, 16))
	b.Op("conv", "Conv2D", "x", "w")
	b.Op("relu", "Relu", "conv")
	b.Op("clip", "ClipByValue", "conv")
	p := pattern.New("ConvElemWise", pattern.KindBuffer).
		AddOpDesc("conv", []string{ops.PatternConvolution}, 1, 1, pattern.GroupInvalid, false).
		AddOpDesc("elemwise", []string{ops.PatternElemWise}, 1, 1, pattern.GroupInvalid, false).
		SetHead("conv").
		SetOutputs("conv", "elemwise")

	mappings, err := newMatcher().Match(b.G, p)
	require.NoError(t, err)
	require.Len(t, mappings, 2)
	assert.Equal(t, []string{"conv", "relu"}, graphtest.Names(b.G, mappings[0].All()))
	assert.Equal(t, []string{"conv", "clip"}, graphtest.Names(b.G, mappings[1].All()))

	// The cap stops the enumeration within a seed too.
	mappings, err = matcher.New(matcher.Options{Ops: ops.NewBuiltinRegistry(), MaxMappings: 1}).Match(b.G, p)
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	assert.Equal(t, []string{"relu"}, bound(t, b.G, mappings[0], "elemwise"))
}

func TestShapeTolerance(t *testing.T) {
	unknown := shapes.Make(dtypes.Float32, shapes.UnknownDim, 8, 8, 16)
	b := graphtest.New(t, "dynamic")
	b.Data("x", unknown)
	b.OpWithShape("relu", "Relu", unknown, "x")
	strict := pattern.New("strict", pattern.KindGraph).AddOp("relu", "Relu")
	mappings, err := newMatcher().Match(b.G, strict)
	require.NoError(t, err)
	assert.Empty(t, mappings)

	tolerant := pattern.New("tolerant", pattern.KindGraph).
		AddOpDesc("relu", []string{"Relu"}, 1, 1, pattern.GroupInvalid, true)
	mappings, err = newMatcher().Match(b.G, tolerant)
	require.NoError(t, err)
	assert.Len(t, mappings, 1)
}

func transposeReshape() *pattern.Pattern {
	return pattern.New("TransposeReshape", pattern.KindGraph).
		AddOp("transpose", "Transpose").
		AddOp("reshape", "Reshape").
		SetInputs("reshape", "transpose").
		SetOutput("reshape")
}

func TestGraphPatternMatchesBackward(t *testing.T) {
	b := graphtest.New(t, "transpose_reshape")
	b.Data("x", graphtest.DefaultShape)
	b.Op("t0", "Transpose", "x")
	b.Op("r0", "Reshape", "t0")
	b.Op("t1", "Transpose", "r0")
	b.Op("r1", "Reshape", "t1")
	b.Op("r2", "Reshape", "x")

	mappings, err := newMatcher().Match(b.G, transposeReshape())
	require.NoError(t, err)
	require.Len(t, mappings, 2)
	assert.Equal(t, []string{"t0"}, bound(t, b.G, mappings[0], "transpose"))
	assert.Equal(t, []string{"r0"}, bound(t, b.G, mappings[0], "reshape"))
	assert.Equal(t, []string{"t1"}, bound(t, b.G, mappings[1], "transpose"))
	assert.Equal(t, []string{"r1"}, bound(t, b.G, mappings[1], "reshape"))

	mappings, err = matcher.New(matcher.Options{MaxMappings: 1}).Match(b.G, transposeReshape())
	require.NoError(t, err)
	assert.Len(t, mappings, 1)
}

func TestDuplicatedMappingsReportedOnce(t *testing.T) {
	b := graphtest.New(t, "relus")
	b.Data("x", graphtest.DefaultShape)
	b.Op("r1", "Relu", "x")
	b.Op("r2", "Relu", "r1")
	b.Op("r3", "Relu", "r2")
	p := pattern.New("pair", pattern.KindGraph).
		AddOp("a", "Relu").
		AddOp("b", "Relu").
		SetOutputs("a", "b").
		SetHead("a", "b")

	mappings, err := newMatcher().Match(b.G, p)
	require.NoError(t, err)
	require.Len(t, mappings, 2)
	assert.Equal(t, []string{"r1", "r2"}, graphtest.Names(b.G, mappings[0].All()))
	assert.Equal(t, []string{"r2", "r3"}, graphtest.Names(b.G, mappings[1].All()))
	assert.NotEqual(t, mappings[0].Key(), mappings[1].Key())
}

func TestEligibility(t *testing.T) {
	reg := ops.NewRegistry()
	require.NoError(t, reg.Register(ops.Def{
		Type: graph.MakeOpType("Relu"),
		Eligible: func(n *graph.Node) bool {
			return !n.Attrs().Has("no_fusion")
		},
	}))
	b := graphtest.New(t, "eligible")
	b.Data("x", graphtest.DefaultShape)
	b.Op("r1", "Relu", "x")
	b.Op("r2", "Relu", "x").SetAttr("no_fusion", graph.AttrBool(true))
	p := pattern.New("relu", pattern.KindGraph).AddOp("relu", "Relu")

	mappings, err := matcher.New(matcher.Options{Ops: reg}).Match(b.G, p)
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	assert.Equal(t, []string{"r1"}, bound(t, b.G, mappings[0], "relu"))
}

func TestInvalidPattern(t *testing.T) {
	b := graphtest.New(t, "any")
	_, err := newMatcher().Match(b.G, pattern.New("empty", pattern.KindGraph))
	require.Error(t, err)
	assert.Equal(t, status.ParamInvalid, status.Of(err))
}

func TestMatchDoesNotModifyGraph(t *testing.T) {
	b := chainGraph(t, 3)
	before := b.G.Fingerprint()
	_, err := newMatcher().Match(b.G, matMulElemWise(1, pattern.NumMax))
	require.NoError(t, err)
	assert.Equal(t, before, b.G.Fingerprint())
}
