// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graphfile_test

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opfusion/pkg/graph"
	"github.com/gomlx/opfusion/pkg/graph/graphtest"
	"github.com/gomlx/opfusion/pkg/graphfile"
	"github.com/gomlx/opfusion/pkg/shapes"
	"github.com/gomlx/opfusion/pkg/status"
	"github.com/gomlx/opfusion/pkg/tensors"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const model = `
name: model
nodes:
  - name: x
    type: Data
    outputs: [{dtype: Float32, dims: [8, 4, 4, 3], format: NHWC}]
  - name: block
    type: Const
    outputs: [{dtype: Int32, dims: [2]}]
    attrs:
      value: {tensor: {dtype: Int32, dims: [2], ints: [2, 2]}}
  - name: crops
    type: Const
    outputs: [{dtype: Int64, dims: [2, 2]}]
    attrs:
      value: {tensor: {dtype: Int64, dims: [2, 2], ints: [0, 1, 1, 0]}}
  - name: b2s
    type: BatchToSpaceND
    inputs:
      - {from: [x]}
      - {from: [block]}
      - {from: ["crops:0"]}
    outputs: [{dtype: Float32, dims: [2, 7, 7, 3]}]
    attrs:
      alpha: {float: 0.5}
      mode: {string: fast}
    control: [x]
---
name: second
nodes:
  - name: a
    type: Data
    outputs: [{dtype: Float16, dims: [-1, 4]}]
  - name: concat
    type: ConcatV2
    inputs: [{name: values, dynamic: true, from: [a, a]}]
    outputs: [{dtype: Float16, dims: [-1, 8]}]
`

func TestRead(t *testing.T) {
	graphs, err := graphfile.Read(strings.NewReader(model))
	require.NoError(t, err)
	require.Len(t, graphs, 2)

	g := graphs[0]
	assert.Equal(t, "model", g.Name())
	assert.Equal(t, []string{"x", "block", "crops", "b2s"}, graphtest.NodeNames(g))
	require.NoError(t, g.Validate())
	b2s, found := g.NodeByName("b2s")
	require.True(t, found)
	assert.Equal(t, 3, b2s.NumInputs())
	assert.Equal(t, shapes.FormatNHWC, b2s.InputDesc(0).Shape.Format, "input shape taken from the producer")
	assert.Equal(t, "x0", b2s.InputDesc(0).Name)
	x, _ := g.NodeByName("x")
	assert.Equal(t, []graph.NodeID{x.ID()}, b2s.ControlInputs())
	v, _ := b2s.Attr("mode")
	mode, _ := v.Str()
	assert.Equal(t, "fast", mode)

	crops, _ := g.NodeByName("crops")
	v, _ = crops.Attr("value")
	tensor, ok := v.Tensor()
	require.True(t, ok)
	assert.Equal(t, dtypes.Int64, tensor.DType())
	assert.Equal(t, []int64{0, 1, 1, 0}, must.M1(tensor.AsInt64s()))

	concat, _ := graphs[1].NodeByName("concat")
	assert.Len(t, concat.Sources(0), 2)
	assert.True(t, concat.InputDesc(0).Dynamic)
	assert.True(t, concat.HasUnknownShape())
}

func TestRoundTrip(t *testing.T) {
	graphs, err := graphfile.Read(strings.NewReader(model))
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, graphfile.Write(&buf, graphs...))

	again, err := graphfile.Read(&buf)
	require.NoError(t, err)
	require.Len(t, again, len(graphs))
	for ii := range graphs {
		assert.Equal(t, graphs[ii].Fingerprint(), again[ii].Fingerprint())
	}

	path := filepath.Join(t.TempDir(), "graphs.yaml")
	require.NoError(t, graphfile.Save(path, graphs...))
	loaded, err := graphfile.Load(path)
	require.NoError(t, err)
	assert.Equal(t, graphs[1].Fingerprint(), loaded[1].Fingerprint())
}

func TestAttrOrderKept(t *testing.T) {
	const text = `
name: ordered
nodes:
  - name: x
    type: Data
    outputs: [{dtype: Float32, dims: [4]}]
    attrs:
      zeta: {int: 1}
      alpha: {bool: true}
      mode: {string: fast}
`
	graphs, err := graphfile.Read(strings.NewReader(text))
	require.NoError(t, err)
	x, _ := graphs[0].NodeByName("x")
	assert.Equal(t, []string{"zeta", "alpha", "mode"}, x.Attrs().Keys())

	path := filepath.Join(t.TempDir(), "ordered.yaml")
	require.NoError(t, graphfile.Save(path, graphs...))
	loaded, err := graphfile.Load(path)
	require.NoError(t, err)
	x, _ = loaded[0].NodeByName("x")
	assert.Equal(t, []string{"zeta", "alpha", "mode"}, x.Attrs().Keys())
	assert.Equal(t, graphs[0].Fingerprint(), loaded[0].Fingerprint())

	_, err = graphfile.Read(strings.NewReader("name: g\nnodes:\n  - {name: a, type: Data, attrs: {x: {int: 1}, x: {int: 2}}}\n"))
	require.Error(t, err)
	assert.Equal(t, status.ParamInvalid, status.Of(err))
}

func TestFloatConstantEncoding(t *testing.T) {
	b := graphtest.New(t, "floats")
	b.Const("c", must.M1(tensors.FromVector[float32](0.5, -2)))
	var buf bytes.Buffer
	require.NoError(t, graphfile.Write(&buf, b.G))
	assert.Contains(t, buf.String(), "floats: [0.5, -2]")
}

func TestReadErrors(t *testing.T) {
	for name, text := range map[string]string{
		"unknown producer": "name: g\nnodes:\n  - {name: a, type: Relu, inputs: [{from: [b]}]}\n",
		"bad output index": "name: g\nnodes:\n  - {name: a, type: Data, outputs: [{dtype: Float32, dims: [1]}]}\n" +
			"  - {name: b, type: Relu, inputs: [{from: [\"a:3\"]}]}\n",
		"unknown dtype":   "name: g\nnodes:\n  - {name: a, type: Data, outputs: [{dtype: Float99, dims: [1]}]}\n",
		"two values":      "name: g\nnodes:\n  - {name: a, type: Data, attrs: {x: {int: 1, float: 2}}}\n",
		"unknown field":   "name: g\nnodes:\n  - {name: a, type: Data, color: red}\n",
		"bad dimension":   "name: g\nnodes:\n  - {name: a, type: Data, outputs: [{dtype: Float32, dims: [0]}]}\n",
		"unknown format":  "name: g\nnodes:\n  - {name: a, type: Data, outputs: [{dtype: Float32, dims: [1], format: XYZ}]}\n",
		"tensor size":     "name: g\nnodes:\n  - {name: a, type: Const, attrs: {value: {tensor: {dtype: Int32, dims: [3], ints: [1]}}}}\n",
		"duplicated name": "name: g\nnodes:\n  - {name: a, type: Data}\n  - {name: a, type: Data}\n",
	} {
		_, err := graphfile.Read(strings.NewReader(text))
		require.Errorf(t, err, "case %q", name)
		assert.Equalf(t, status.ParamInvalid, status.Of(err), "case %q: %v", name, err)
	}
}
