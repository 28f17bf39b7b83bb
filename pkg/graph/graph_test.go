// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph_test

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opfusion/pkg/graph"
	"github.com/gomlx/opfusion/pkg/graph/graphtest"
	"github.com/gomlx/opfusion/pkg/shapes"
	"github.com/gomlx/opfusion/pkg/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddNode(t *testing.T) {
	g := graph.New("test")
	_, err := g.AddNode(graph.OpDesc{Type: "Relu"})
	require.Error(t, err)
	assert.Equal(t, status.ParamInvalid, status.Of(err))

	_, err = g.AddNode(graph.OpDesc{Name: "relu"})
	assert.Equal(t, status.ParamInvalid, status.Of(err))

	n, err := g.AddNode(graph.OpDesc{Name: "relu", Type: "Relu", Outputs: []shapes.Shape{graphtest.DefaultShape}})
	require.NoError(t, err)
	assert.Equal(t, "Relu", n.TypeName())
	assert.Equal(t, graph.MakeOpType("Relu"), n.Type())
	assert.True(t, n.ID().IsValid())

	_, err = g.AddNode(graph.OpDesc{Name: "relu", Type: "Relu"})
	assert.Equal(t, status.ParamInvalid, status.Of(err), "duplicate names must be rejected")
	assert.Equal(t, 1, g.NumNodes())
}

func TestRemoveNodeWithEdgesFails(t *testing.T) {
	b := graphtest.New(t, "remove")
	b.Data("x", graphtest.DefaultShape)
	conv := b.Op("conv", "Convolution", "x")
	b.Op("clip", "ClipByValue", "conv")
	g := b.G
	before := g.Fingerprint()
	dataBefore, _ := g.NumEdges()

	err := g.RemoveNode(conv.ID())
	require.Error(t, err)
	assert.Equal(t, status.Failed, status.Of(err))
	assert.Equal(t, before, g.Fingerprint())
	assert.Equal(t, 3, g.NumNodes())
	dataAfter, _ := g.NumEdges()
	assert.Equal(t, dataBefore, dataAfter)

	// Removing edges first makes the removal legal.
	require.NoError(t, g.RemoveEdge(b.Node("x").Out(0), conv.In(0)))
	require.NoError(t, g.RemoveEdge(conv.Out(0), b.Node("clip").In(0)))
	require.NoError(t, g.RemoveNode(conv.ID()))
	assert.False(t, g.Has(conv.ID()))
	assert.Nil(t, conv.Graph())
	require.NoError(t, g.Validate())

	err = g.RemoveNode(conv.ID())
	assert.Equal(t, status.ParamInvalid, status.Of(err))
}

func TestRemoveNodeWithControlEdgeFails(t *testing.T) {
	b := graphtest.New(t, "control")
	a := b.Op("a", "NoOp")
	c := b.Op("c", "NoOp")
	require.NoError(t, b.G.AddControlEdge(a.ID(), c.ID()))
	assert.Equal(t, status.Failed, status.Of(b.G.AddControlEdge(a.ID(), c.ID())))
	assert.Equal(t, status.Failed, status.Of(b.G.RemoveNode(c.ID())))
	require.NoError(t, b.G.RemoveControlEdge(a.ID(), c.ID()))
	assert.Equal(t, status.Failed, status.Of(b.G.RemoveControlEdge(a.ID(), c.ID())))
	require.NoError(t, b.G.RemoveNode(c.ID()))
	require.NoError(t, b.G.Validate())
}

func TestStaleNodeID(t *testing.T) {
	g := graph.New("stale")
	first, err := g.AddNode(graph.OpDesc{Name: "a", Type: "NoOp"})
	require.NoError(t, err)
	oldID := first.ID()
	require.NoError(t, g.RemoveNode(oldID))

	second, err := g.AddNode(graph.OpDesc{Name: "b", Type: "NoOp"})
	require.NoError(t, err)
	assert.Equal(t, oldID.Index, second.ID().Index, "slot is reused")
	assert.NotEqual(t, oldID, second.ID())
	_, found := g.Node(oldID)
	assert.False(t, found, "a removed node id must never resolve to the slot's new node")
	_, found = g.NodeByName("a")
	assert.False(t, found)
}

func TestAddEdgeCardinality(t *testing.T) {
	b := graphtest.New(t, "edges")
	x := b.Data("x", graphtest.DefaultShape)
	y := b.Data("y", graphtest.DefaultShape)
	relu := b.Op("relu", "Relu", "x")
	g := b.G

	err := g.AddEdge(y.Out(0), relu.In(0))
	assert.Equal(t, status.Failed, status.Of(err), "single input already connected")

	err = g.AddEdge(y.Out(3), relu.In(0))
	assert.Equal(t, status.ParamInvalid, status.Of(err))

	other := graph.New("other")
	alien, err := other.AddNode(graph.OpDesc{Name: "alien", Type: "Data", Outputs: []shapes.Shape{graphtest.DefaultShape}})
	require.NoError(t, err)
	_, found := g.Node(alien.ID())
	assert.False(t, found, "ids of another graph don't resolve")
	err = g.AddEdge(alien.Out(0), relu.In(0))
	assert.Equal(t, status.ParamInvalid, status.Of(err))

	concat, err := g.AddNode(graph.OpDesc{
		Name:    "concat",
		Type:    "ConcatV2",
		Inputs:  []graph.InputDesc{{Name: "x", Dynamic: true, Shape: graphtest.DefaultShape}},
		Outputs: []shapes.Shape{shapes.Make(dtypes.Float32, 3, 8, 8, 16)},
	})
	require.NoError(t, err)
	require.NoError(t, g.AddEdge(x.Out(0), concat.In(0)))
	require.NoError(t, g.AddEdge(y.Out(0), concat.In(0)))
	require.NoError(t, g.AddEdgeAt(relu.Out(0), concat.In(0), 1))
	assert.Equal(t, []graph.OutAnchor{x.Out(0), relu.Out(0), y.Out(0)}, concat.Sources(0))

	err = g.RemoveEdge(y.Out(0), relu.In(0))
	assert.Equal(t, status.Failed, status.Of(err), "no such edge")
	require.NoError(t, g.RemoveEdge(relu.Out(0), concat.In(0)))
	assert.Equal(t, []graph.OutAnchor{x.Out(0), y.Out(0)}, concat.Sources(0))
	require.NoError(t, g.Validate())
}

func TestQueries(t *testing.T) {
	b := graphtest.New(t, "queries")
	b.Data("x", graphtest.DefaultShape)
	b.Op("a", "Relu", "x")
	b.Op("b", "Sigmoid", "x")
	b.Op("c", "Add", "a", "b")
	g := b.G

	x := b.Node("x")
	assert.Equal(t, []string{"a", "b"}, graphtest.Names(g, g.DataConsumers(x.ID())))
	consumers := g.Consumers(x.Out(0))
	require.Len(t, consumers, 2)
	assert.Equal(t, b.Node("a").In(0), consumers[0])

	producer, found := g.ProducerNode(b.Node("c").In(1))
	require.True(t, found)
	assert.Equal(t, "b", producer.Name())
	assert.Equal(t, []string{"a", "b"}, graphtest.Names(g, g.DataProducers(b.Node("c").ID())))
	assert.Equal(t, []string{"x", "a", "b", "c"}, graphtest.NodeNames(g))
	assert.Len(t, g.Edges(), 4)

	// Snapshots are owned by the caller.
	nodes := g.AllNodes()
	nodes[0] = nil
	assert.NotNil(t, g.AllNodes()[0])
}

func TestCloneAndFingerprint(t *testing.T) {
	b := graphtest.New(t, "clone")
	b.Data("x", graphtest.DefaultShape)
	relu := b.Op("relu", "Relu", "x")
	relu.SetAttr("alpha", graph.AttrFloat(0.5))
	g := b.G

	c := g.Clone()
	assert.NotEqual(t, g.ID(), c.ID())
	assert.Equal(t, g.Fingerprint(), c.Fingerprint())
	require.NoError(t, c.Validate())

	cRelu, found := c.Node(relu.ID())
	require.True(t, found)
	cRelu.SetAttr("alpha", graph.AttrFloat(0.25))
	assert.NotEqual(t, g.Fingerprint(), c.Fingerprint())
	v, _ := relu.Attr("alpha")
	f, _ := v.Float()
	assert.Equal(t, 0.5, f)
}

func TestDesc(t *testing.T) {
	b := graphtest.New(t, "desc")
	b.Data("x", graphtest.DefaultShape)
	relu := b.Op("relu", "Relu", "x")
	relu.SetAttr("n", graph.AttrInt(3))
	desc := relu.Desc()
	desc.Name = "relu2"
	desc.Attrs.Set("n", graph.AttrInt(4))
	n, err := relu.IntAttr("n")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	_, err = relu.IntAttr("missing")
	assert.Equal(t, status.ParamInvalid, status.Of(err))

	relu2, err := b.G.AddNode(desc)
	require.NoError(t, err)
	assert.Equal(t, 0, relu2.NumIncidentEdges())
	assert.True(t, relu2.InputDesc(0).Shape.Equal(graphtest.DefaultShape))
}

func TestInsertEdgeRestoresPositions(t *testing.T) {
	b := graphtest.New(t, "positions")
	b.Data("x", graphtest.DefaultShape)
	b.Op("a", "Relu", "x")
	b.Op("b", "Relu", "x")
	b.Op("c", "Relu", "x")
	g := b.G
	x, bNode := b.Node("x"), b.Node("b")
	require.NoError(t, g.AddControlEdge(x.ID(), b.Node("a").ID()))
	require.NoError(t, g.AddControlEdge(x.ID(), bNode.ID()))
	before := g.Fingerprint()

	srcPos, dstPos, found := g.EdgePosition(x.Out(0), bNode.In(0))
	require.True(t, found)
	assert.Equal(t, 0, srcPos)
	assert.Equal(t, 1, dstPos)
	require.NoError(t, g.RemoveEdge(x.Out(0), bNode.In(0)))
	assert.NotEqual(t, before, g.Fingerprint())
	require.NoError(t, g.InsertEdge(x.Out(0), bNode.In(0), srcPos, dstPos))
	assert.Equal(t, before, g.Fingerprint())

	outPos, inPos, found := g.ControlEdgePosition(x.ID(), b.Node("a").ID())
	require.True(t, found)
	require.NoError(t, g.RemoveControlEdge(x.ID(), b.Node("a").ID()))
	require.NoError(t, g.InsertControlEdge(x.ID(), b.Node("a").ID(), outPos, inPos))
	assert.Equal(t, []graph.NodeID{b.Node("a").ID(), bNode.ID()}, x.ControlOutputs())
	_, _, found = g.EdgePosition(x.Out(0), b.Node("a").In(1))
	assert.False(t, found)
	require.NoError(t, g.Validate())
}
