// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/gomlx/opfusion/pkg/fusion"
	"github.com/gomlx/opfusion/pkg/graph"
	"github.com/gomlx/opfusion/pkg/graph/graphtest"
	"github.com/gomlx/opfusion/pkg/matcher"
	"github.com/gomlx/opfusion/pkg/ops"
	"github.com/gomlx/opfusion/pkg/pattern"
	"github.com/gomlx/opfusion/pkg/shapes"
	"github.com/gomlx/opfusion/pkg/status"
	"github.com/gomlx/opfusion/pkg/support/sets"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fuseFn func(ctx *fusion.Context, m *matcher.Mapping) (status.Status, []graph.NodeID, error)

// testGraphPass matches two consecutive Relu nodes.
type testGraphPass struct {
	fuse fuseFn
}

func (p *testGraphPass) Name() string { return "TestReluPairPass" }

func (p *testGraphPass) DefinePatterns() []*pattern.Pattern {
	return []*pattern.Pattern{
		pattern.New("ReluPair", pattern.KindGraph).
			AddOp("a", "Relu").
			AddOp("b", "Relu").
			SetInputs("b", "a").
			SetOutput("b"),
	}
}

func (p *testGraphPass) Fuse(ctx *fusion.Context, m *matcher.Mapping) (status.Status, []graph.NodeID, error) {
	return p.fuse(ctx, m)
}

// fuseReluPair replaces the pair by a single "FusedRelu" node.
func fuseReluPair(ctx *fusion.Context, m *matcher.Mapping) (status.Status, []graph.NodeID, error) {
	a, err := ctx.Node(m, "a")
	if err != nil {
		return status.ParamInvalid, nil, err
	}
	b, err := ctx.Node(m, "b")
	if err != nil {
		return status.ParamInvalid, nil, err
	}
	txn := ctx.Txn
	fused, err := txn.AddNode(graph.OpDesc{
		Name:    a.Name() + "_" + b.Name(),
		Type:    "FusedRelu",
		Inputs:  []graph.InputDesc{a.InputDesc(0)},
		Outputs: []shapes.Shape{b.OutputShape(0)},
	})
	if err != nil {
		return status.Of(err), nil, err
	}
	for _, step := range []func() error{
		func() error { return txn.CopyInputEdge(a.In(0), fused.In(0)) },
		func() error { return txn.ReplaceOutputUses(b.Out(0), fused.Out(0)) },
		func() error { return txn.IsolateNode(a.ID()) },
		func() error { return txn.IsolateNode(b.ID()) },
		func() error { return txn.RemoveNode(a.ID()) },
		func() error { return txn.RemoveNode(b.ID()) },
	} {
		if err := step(); err != nil {
			return status.Of(err), nil, err
		}
	}
	return status.Success, []graph.NodeID{fused.ID()}, nil
}

func reluChain(t *testing.T, n int) *graphtest.Builder {
	b := graphtest.New(t, "relus")
	b.Data("x", graphtest.DefaultShape)
	prev := "x"
	for ii := range n {
		prev = b.Op(fmt.Sprintf("r%d", ii), "Relu", prev).Name()
	}
	b.Op("out", "Sigmoid", prev)
	return b
}

func newRunner(recorder *fusion.Recorder, convention fusion.Convention) *fusion.Runner {
	return fusion.NewRunner(ops.NewBuiltinRegistry(), recorder, fusion.Options{Convention: convention})
}

func TestGraphPassMutualExclusivity(t *testing.T) {
	b := reluChain(t, 3)
	g := b.G
	recorder := fusion.NewRecorder()
	res, err := newRunner(recorder, fusion.ConventionNotChanged).Run(g, &testGraphPass{fuse: fuseReluPair})
	require.NoError(t, err)
	assert.Equal(t, status.Success, res.Status)
	assert.Equal(t, 1, res.Effective)
	assert.Equal(t, 1, res.Skipped, "the second pair overlaps the first one")
	assert.Equal(t, []string{"x", "r2", "out", "r0_r1"}, graphtest.NodeNames(g))
	require.NoError(t, g.Validate())

	// No node appears in two accepted mappings.
	seen := sets.Make[graph.NodeID]()
	for _, nodes := range res.Fused {
		for _, id := range nodes {
			assert.False(t, seen.Has(id))
			seen.Insert(id)
		}
	}
	assert.Equal(t, fusion.Stats{Matched: 1, Effective: 1}, recorder.Get("TestReluPairPass", g.ID()))

	// Running again fuses the new pair (r0_r1 is not a Relu, so only r2 is left: no match).
	res, err = newRunner(recorder, fusion.ConventionNotChanged).Run(g, &testGraphPass{fuse: fuseReluPair})
	require.NoError(t, err)
	assert.Equal(t, status.NotChanged, res.Status)
}

func TestNotChangedIsIdempotent(t *testing.T) {
	b := reluChain(t, 2)
	g := b.G
	before := g.Fingerprint()
	// The pass starts rewriting, then decides the mapping doesn't qualify.
	rejecting := &testGraphPass{fuse: func(ctx *fusion.Context, m *matcher.Mapping) (status.Status, []graph.NodeID, error) {
		st, _, err := fuseReluPair(ctx, m)
		require.Equal(t, status.Success, st)
		require.NoError(t, err)
		return status.NotChanged, nil, nil
	}}
	runner := newRunner(nil, fusion.ConventionNotChanged)
	for range 2 {
		res, err := runner.Run(g, rejecting)
		require.NoError(t, err)
		assert.Equal(t, status.NotChanged, res.Status)
		assert.Equal(t, 1, res.Matched)
		assert.Equal(t, 0, res.Effective)
		assert.Equal(t, before, g.Fingerprint())
	}
}

func TestFailureRollsBackMapping(t *testing.T) {
	b := reluChain(t, 2)
	g := b.G
	before := g.Fingerprint()
	failing := &testGraphPass{fuse: func(ctx *fusion.Context, m *matcher.Mapping) (status.Status, []graph.NodeID, error) {
		_, _, _ = fuseReluPair(ctx, m)
		return status.Failed, nil, errors.New("expected edge is missing")
	}}
	res, err := newRunner(nil, fusion.ConventionNotChanged).Run(g, failing)
	require.Error(t, err)
	assert.Equal(t, status.Failed, status.Of(err))
	assert.Contains(t, err.Error(), "expected edge is missing")
	assert.Equal(t, status.Failed, res.Status)
	assert.Equal(t, fusion.StateDone, res.State)
	assert.Equal(t, before, g.Fingerprint())
	require.NoError(t, g.Validate())

	// ParamInvalid without an error value still carries an error.
	invalid := &testGraphPass{fuse: func(*fusion.Context, *matcher.Mapping) (status.Status, []graph.NodeID, error) {
		return status.ParamInvalid, nil, nil
	}}
	res, err = newRunner(nil, fusion.ConventionNotChanged).Run(g, invalid)
	require.Error(t, err)
	assert.Equal(t, status.ParamInvalid, res.Status)
}

func TestGraphPassMustReturnLiveNodes(t *testing.T) {
	b := reluChain(t, 2)
	g := b.G
	before := g.Fingerprint()
	lying := &testGraphPass{fuse: func(ctx *fusion.Context, m *matcher.Mapping) (status.Status, []graph.NodeID, error) {
		_, _, _ = fuseReluPair(ctx, m)
		a, _ := m.First("a")
		return status.Success, []graph.NodeID{a}, nil
	}}
	_, err := newRunner(nil, fusion.ConventionNotChanged).Run(g, lying)
	require.Error(t, err)
	assert.Equal(t, before, g.Fingerprint())
}

func TestStateHistory(t *testing.T) {
	b := reluChain(t, 4)
	calls := 0
	pass := &testGraphPass{fuse: func(ctx *fusion.Context, m *matcher.Mapping) (status.Status, []graph.NodeID, error) {
		calls++
		if calls == 1 {
			return status.NotChanged, nil, nil
		}
		return fuseReluPair(ctx, m)
	}}
	res, err := newRunner(nil, fusion.ConventionNotChanged).Run(b.G, pass)
	require.NoError(t, err)
	// (r0,r1) rejected, (r1,r2) fused, (r2,r3) skipped.
	assert.Equal(t, []fusion.State{
		fusion.StateDefined, fusion.StateMatching, fusion.StateVerifying,
		fusion.StateMatching, fusion.StateVerifying, fusion.StateRewriting,
		fusion.StateMatching, fusion.StateDone,
	}, res.History)
	assert.Equal(t, 2, res.Matched)
	assert.Equal(t, 1, res.Effective)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, "Verifying", fusion.StateVerifying.String())
}

// testBufferPass matches Convolution -> ElemWise.
type testBufferPass struct {
	get fuseFn
}

func (p *testBufferPass) Name() string { return "TestConvElemWisePass" }

func (p *testBufferPass) DefinePatterns() []*pattern.Pattern {
	return []*pattern.Pattern{
		pattern.New("ConvElemWise", pattern.KindBuffer).
			AddOpDesc("conv", []string{ops.PatternConvolution}, 1, 1, pattern.GroupInvalid, false).
			AddOpDesc("elemwise", []string{ops.PatternElemWise}, 1, 1, pattern.GroupInvalid, false).
			SetHead("conv").
			SetOutputs("conv", "elemwise"),
	}
}

func (p *testBufferPass) GetFusionNodes(ctx *fusion.Context, m *matcher.Mapping) (status.Status, []graph.NodeID, error) {
	return p.get(ctx, m)
}

// noOpBufferPass declares ConventionEmptyIsNoOp.
type noOpBufferPass struct {
	testBufferPass
}

func (p *noOpBufferPass) VerifyConvention() fusion.Convention { return fusion.ConventionEmptyIsNoOp }

func convGraph(t *testing.T) *graphtest.Builder {
	b := graphtest.New(t, "conv")
	b.Data("x", graphtest.DefaultShape)
	b.Data("w", graphtest.DefaultShape)
	b.Op("conv", "Convolution", "x", "w")
	b.Op("relu", "Relu", "conv")
	return b
}

func allNodes(_ *fusion.Context, m *matcher.Mapping) (status.Status, []graph.NodeID, error) {
	return status.Success, m.All(), nil
}

func emptySuccess(*fusion.Context, *matcher.Mapping) (status.Status, []graph.NodeID, error) {
	return status.Success, nil, nil
}

func TestBufferPassTagsScope(t *testing.T) {
	b := convGraph(t)
	g := b.G
	runner := newRunner(nil, fusion.ConventionNotChanged)
	res, err := runner.Run(g, &testBufferPass{get: allNodes})
	require.NoError(t, err)
	assert.Equal(t, status.Success, res.Status)
	for _, name := range []string{"conv", "relu"} {
		v, found := b.Node(name).Attr(fusion.ScopeIDAttr)
		require.Truef(t, found, "node %q not tagged", name)
		_, ok := v.Int()
		assert.True(t, ok)
		v, _ = b.Node(name).Attr(fusion.ScopePassAttr)
		passName, _ := v.Str()
		assert.Equal(t, "TestConvElemWisePass", passName)
	}
	_, found := b.Node("x").Attr(fusion.ScopeIDAttr)
	assert.False(t, found)

	// Nodes already in a scope are not fused again.
	before := g.Fingerprint()
	res, err = runner.Run(g, &testBufferPass{get: allNodes})
	require.NoError(t, err)
	assert.Equal(t, status.NotChanged, res.Status)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, before, g.Fingerprint())
}

func TestBufferPassRejectsNodesOutsideMapping(t *testing.T) {
	b := convGraph(t)
	g := b.G
	before := g.Fingerprint()
	x := b.Node("x").ID()
	pass := &testBufferPass{get: func(*fusion.Context, *matcher.Mapping) (status.Status, []graph.NodeID, error) {
		return status.Success, []graph.NodeID{x}, nil
	}}
	_, err := newRunner(nil, fusion.ConventionNotChanged).Run(g, pass)
	require.Error(t, err)
	assert.Equal(t, before, g.Fingerprint())
}

func TestVerificationConventions(t *testing.T) {
	// Declared by the pass.
	b := convGraph(t)
	before := b.G.Fingerprint()
	res, err := newRunner(nil, fusion.ConventionNotChanged).Run(b.G, &noOpBufferPass{testBufferPass{get: emptySuccess}})
	require.NoError(t, err)
	assert.Equal(t, status.NotChanged, res.Status)
	assert.Equal(t, before, b.G.Fingerprint())

	// Runner default.
	res, err = newRunner(nil, fusion.ConventionEmptyIsNoOp).Run(b.G, &testBufferPass{get: emptySuccess})
	require.NoError(t, err)
	assert.Equal(t, status.NotChanged, res.Status)

	res, err = newRunner(nil, fusion.ConventionNotChanged).Run(b.G, &testBufferPass{get: emptySuccess})
	require.Error(t, err)
	assert.Equal(t, status.Failed, res.Status)
	assert.Equal(t, before, b.G.Fingerprint())

	c, err := fusion.ConventionFromString(fusion.ConventionEmptyIsNoOp.String())
	require.NoError(t, err)
	assert.Equal(t, fusion.ConventionEmptyIsNoOp, c)
	_, err = fusion.ConventionFromString("whatever")
	assert.Equal(t, status.ParamInvalid, status.Of(err))
	assert.Equal(t, []string{"not_changed", "empty_is_no_op"}, fusion.ConventionStrings())
	c, err = fusion.ConventionFromString("")
	require.NoError(t, err)
	assert.Equal(t, fusion.ConventionNotChanged, c)
}

type notAPass struct{}

func (notAPass) Name() string                       { return "NotAPass" }
func (notAPass) DefinePatterns() []*pattern.Pattern { return nil }

func TestRunRejectsUnknownPassKind(t *testing.T) {
	b := convGraph(t)
	res, err := newRunner(nil, fusion.ConventionNotChanged).Run(b.G, notAPass{})
	require.Error(t, err)
	assert.Equal(t, status.ParamInvalid, res.Status)
}

func TestRecorder(t *testing.T) {
	recorder := fusion.NewRecorder()
	graphs := []uuid.UUID{uuid.New(), uuid.New()}
	var wg sync.WaitGroup
	for ii := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recorder.Add("A", graphs[ii%2], 2, 1)
			recorder.Add("B", graphs[0], 1, 0)
		}()
	}
	wg.Wait()
	assert.Equal(t, fusion.Stats{Matched: 100, Effective: 50}, recorder.Get("A", graphs[0]))
	assert.Equal(t, fusion.Stats{Matched: 200, Effective: 100}, recorder.PassTotals("A"))
	assert.Equal(t, fusion.Stats{Matched: 100}, recorder.PassTotals("B"))
	assert.Equal(t, []string{"A", "B"}, recorder.Passes())

	snapshot := recorder.Snapshot()
	assert.Len(t, snapshot, 3)
	keys := fusion.SortedKeys(snapshot)
	assert.Equal(t, "A", keys[0].Pass)
	assert.Equal(t, "B", keys[2].Pass)

	recorder.Reset()
	assert.Empty(t, recorder.Snapshot())
	assert.Len(t, snapshot, 3, "snapshots are copies")
}
