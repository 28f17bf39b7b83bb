// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graphtest holds test utilities to build small computation graphs.
package graphtest

import (
	"strconv"
	"strings"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opfusion/pkg/graph"
	"github.com/gomlx/opfusion/pkg/shapes"
	"github.com/gomlx/opfusion/pkg/tensors"
	"github.com/stretchr/testify/require"
)

// DefaultShape is used by Builder.Op for nodes without explicit shapes.
var DefaultShape = shapes.Make(dtypes.Float32, 1, 8, 8, 16).WithFormat(shapes.FormatNHWC)

// Builder creates graph nodes and edges, failing the test on any error.
type Builder struct {
	t testing.TB
	G *graph.Graph
}

// New creates a Builder over an empty graph.
func New(t testing.TB, name string) *Builder {
	return &Builder{t: t, G: graph.New(name)}
}

// parseInput splits "name" or "name:idx".
func parseInput(input string) (string, int) {
	name, idxStr, found := strings.Cut(input, ":")
	if !found {
		return name, 0
	}
	idx, err := strconv.Atoi(idxStr)
	if err != nil {
		return input, 0
	}
	return name, idx
}

// Op adds a node with one output of DefaultShape, and one input per given input, each
// connected to the named producer ("name" or "name:outputIdx").
func (b *Builder) Op(name, opType string, inputs ...string) *graph.Node {
	return b.OpWithShape(name, opType, DefaultShape, inputs...)
}

// OpWithShape is like Op, with the given output shape.
func (b *Builder) OpWithShape(name, opType string, output shapes.Shape, inputs ...string) *graph.Node {
	b.t.Helper()
	desc := graph.OpDesc{Name: name, Type: opType, Outputs: []shapes.Shape{output}, Attrs: graph.NewAttrs()}
	srcs := make([]graph.OutAnchor, len(inputs))
	for ii, input := range inputs {
		producerName, idx := parseInput(input)
		producer, found := b.G.NodeByName(producerName)
		require.Truef(b.t, found, "producer %q of %q not found", producerName, name)
		srcs[ii] = producer.Out(idx)
		desc.Inputs = append(desc.Inputs, graph.InputDesc{
			Name:  "x" + strconv.Itoa(ii),
			Shape: producer.OutputShape(idx),
		})
	}
	n, err := b.G.AddNode(desc)
	require.NoError(b.t, err)
	for ii, src := range srcs {
		require.NoError(b.t, b.G.AddEdge(src, n.In(ii)))
	}
	return n
}

// Const adds a "Const" node holding the tensor in its "value" attribute.
func (b *Builder) Const(name string, value *tensors.Tensor) *graph.Node {
	b.t.Helper()
	n, err := b.G.AddNode(graph.OpDesc{
		Name:    name,
		Type:    "Const",
		Outputs: []shapes.Shape{value.Shape()},
		Attrs:   graph.NewAttrs().Set("value", graph.AttrTensor(value)),
	})
	require.NoError(b.t, err)
	return n
}

// Data adds a "Data" (graph input) node with the given shape.
func (b *Builder) Data(name string, shape shapes.Shape) *graph.Node {
	return b.OpWithShape(name, "Data", shape)
}

// Node returns the node with the given name, failing the test if it doesn't exist.
func (b *Builder) Node(name string) *graph.Node {
	b.t.Helper()
	n, found := b.G.NodeByName(name)
	require.Truef(b.t, found, "node %q not found", name)
	return n
}

// Names returns the names of the nodes, in the given order.
func Names(g *graph.Graph, ids []graph.NodeID) []string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if n, found := g.Node(id); found {
			names = append(names, n.Name())
		} else {
			names = append(names, id.String())
		}
	}
	return names
}

// NodeNames lists the names of all nodes of g, in insertion order.
func NodeNames(g *graph.Graph) []string {
	return Names(g, g.AllNodeIDs())
}
