// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graphfile reads and writes computation graphs as YAML documents.
//
// Example:
//
//	name: model
//	nodes:
//	  - name: x
//	    type: Data
//	    outputs: [{dtype: Float32, dims: [2, 3, 4]}]
//	  - name: transpose
//	    type: TransposeD
//	    inputs: [{name: x, from: ["x"]}]
//	    outputs: [{dtype: Float32, dims: [2, 4, 3]}]
//	    attrs: {perm: {ints: [0, 2, 1]}}
//
// Producers are referred to as "name" (output 0) or "name:index". Several graphs can be given
// in one file as separate YAML documents. Attributes keep the order of the document, which is
// part of the graph fingerprint.
package graphfile

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opfusion/pkg/graph"
	"github.com/gomlx/opfusion/pkg/shapes"
	"github.com/gomlx/opfusion/pkg/status"
	"github.com/gomlx/opfusion/pkg/support/fsutil"
	"github.com/gomlx/opfusion/pkg/tensors"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"gopkg.in/yaml.v3"
)

// File is the YAML document of one graph.
type File struct {
	Name  string `yaml:"name"`
	Nodes []Node `yaml:"nodes"`
}

// Node of the YAML document.
type Node struct {
	Name    string   `yaml:"name"`
	Type    string   `yaml:"type"`
	Inputs  []Input  `yaml:"inputs,omitempty"`
	Outputs []Shape  `yaml:"outputs,omitempty"`
	Attrs   Attrs    `yaml:"attrs,omitempty"`
	Control []string `yaml:"control,omitempty"`
}

// Input anchor with its producers.
type Input struct {
	Name    string   `yaml:"name,omitempty"`
	Dynamic bool     `yaml:"dynamic,omitempty"`
	From    []string `yaml:"from,omitempty"`
	Shape   *Shape   `yaml:"shape,omitempty"`
}

// Shape descriptor.
type Shape struct {
	DType  string `yaml:"dtype"`
	Dims   []int  `yaml:"dims,flow"`
	Format string `yaml:"format,omitempty"`
}

// Attr holds exactly one of its fields.
type Attr struct {
	Int     *int64    `yaml:"int,omitempty"`
	Float   *float64  `yaml:"float,omitempty"`
	String  *string   `yaml:"string,omitempty"`
	Bool    *bool     `yaml:"bool,omitempty"`
	Ints    []int64   `yaml:"ints,omitempty,flow"`
	Floats  []float64 `yaml:"floats,omitempty,flow"`
	Strings []string  `yaml:"strings,omitempty,flow"`
	Bools   []bool    `yaml:"bools,omitempty,flow"`
	Tensor  *Tensor   `yaml:"tensor,omitempty"`
}

// NamedAttr is one entry of Attrs.
type NamedAttr struct {
	Name  string
	Value Attr
}

// Attrs is written as a YAML mapping, in order.
type Attrs []NamedAttr

// UnmarshalYAML implements yaml.Unmarshaler.
func (as *Attrs) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return invalidf("line %d: attrs must be a mapping", value.Line)
	}
	seen := make(map[string]bool, len(value.Content)/2)
	for ii := 0; ii+1 < len(value.Content); ii += 2 {
		key, node := value.Content[ii], value.Content[ii+1]
		if seen[key.Value] {
			return invalidf("line %d: attribute %q given twice", key.Line, key.Value)
		}
		seen[key.Value] = true
		var a Attr
		if err := node.Decode(&a); err != nil {
			return errors.WithMessagef(err, "attribute %q", key.Value)
		}
		*as = append(*as, NamedAttr{Name: key.Value, Value: a})
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (as Attrs) MarshalYAML() (any, error) {
	mapping := &yaml.Node{Kind: yaml.MappingNode}
	for _, a := range as {
		var value yaml.Node
		if err := value.Encode(a.Value); err != nil {
			return nil, errors.Wrapf(err, "attribute %q", a.Name)
		}
		mapping.Content = append(mapping.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: a.Name}, &value)
	}
	return mapping, nil
}

// Tensor constant: integer dtypes use Ints, the others Floats.
type Tensor struct {
	DType  string    `yaml:"dtype"`
	Dims   []int     `yaml:"dims,flow"`
	Ints   []int64   `yaml:"ints,omitempty,flow"`
	Floats []float64 `yaml:"floats,omitempty,flow"`
}

func invalidf(format string, args ...any) error {
	return status.Errorf(status.ParamInvalid, format, args...)
}

func parseDType(name string) (dtypes.DType, error) {
	dtype, err := dtypes.DTypeString(name)
	if err != nil {
		if alias, found := dtypes.MapOfNames[name]; found {
			return alias, nil
		}
		return dtypes.InvalidDType, invalidf("unknown dtype %q", name)
	}
	return dtype, nil
}

func (s Shape) toShape() (shapes.Shape, error) {
	dtype, err := parseDType(s.DType)
	if err != nil {
		return shapes.Invalid(), err
	}
	shape := shapes.Shape{DType: dtype, Dimensions: append([]int(nil), s.Dims...)}
	for _, d := range s.Dims {
		if d <= 0 && d != shapes.UnknownDim {
			return shapes.Invalid(), invalidf("invalid dimension %d in %v", d, s.Dims)
		}
	}
	if s.Format != "" {
		format, found := shapes.FormatFromString(s.Format)
		if !found {
			return shapes.Invalid(), invalidf("unknown format %q", s.Format)
		}
		shape.Format = format
	}
	return shape, nil
}

func fromShape(s shapes.Shape) Shape {
	out := Shape{DType: s.DType.String(), Dims: append([]int{}, s.Dimensions...)}
	if s.Format != shapes.FormatND {
		out.Format = s.Format.String()
	}
	return out
}

func convert[T any](values []float64, cast func(float64) T) []T {
	out := make([]T, len(values))
	for ii, v := range values {
		out[ii] = cast(v)
	}
	return out
}

func (t *Tensor) toTensor() (*tensors.Tensor, error) {
	dtype, err := parseDType(t.DType)
	if err != nil {
		return nil, err
	}
	values := t.Floats
	if len(t.Ints) > 0 {
		values = make([]float64, len(t.Ints))
		for ii, v := range t.Ints {
			values[ii] = float64(v)
		}
	}
	var tensor *tensors.Tensor
	switch dtype {
	case dtypes.Float32:
		tensor, err = tensors.FromFlat(convert(values, func(v float64) float32 { return float32(v) }), t.Dims...)
	case dtypes.Float64:
		tensor, err = tensors.FromFlat(values, t.Dims...)
	case dtypes.Float16:
		tensor, err = tensors.FromFlat(convert(values, func(v float64) float16.Float16 { return float16.Fromfloat32(float32(v)) }), t.Dims...)
	case dtypes.Int8:
		tensor, err = tensors.FromFlat(convert(values, func(v float64) int8 { return int8(v) }), t.Dims...)
	case dtypes.Int16:
		tensor, err = tensors.FromFlat(convert(values, func(v float64) int16 { return int16(v) }), t.Dims...)
	case dtypes.Int32:
		tensor, err = tensors.FromFlat(convert(values, func(v float64) int32 { return int32(v) }), t.Dims...)
	case dtypes.Int64:
		tensor, err = tensors.FromFlat(t.ints(), t.Dims...)
	case dtypes.Uint8:
		tensor, err = tensors.FromFlat(convert(values, func(v float64) uint8 { return uint8(v) }), t.Dims...)
	case dtypes.Uint32:
		tensor, err = tensors.FromFlat(convert(values, func(v float64) uint32 { return uint32(v) }), t.Dims...)
	default:
		return nil, invalidf("tensors of dtype %s are not supported", dtype)
	}
	if err != nil {
		return nil, status.Wrapf(err, status.ParamInvalid, "tensor")
	}
	return tensor, nil
}

// ints returns the values as int64, without going through float64.
func (t *Tensor) ints() []int64 {
	if len(t.Ints) > 0 || len(t.Floats) == 0 {
		return append([]int64{}, t.Ints...)
	}
	return convert(t.Floats, func(v float64) int64 { return int64(v) })
}

func fromTensor(t *tensors.Tensor) (*Tensor, error) {
	out := &Tensor{DType: t.DType().String(), Dims: append([]int{}, t.Shape().Dimensions...)}
	var err error
	if t.DType().IsFloat() || t.DType() == dtypes.Float16 {
		out.Floats, err = t.AsFloat64s()
	} else {
		out.Ints, err = t.AsInt64s()
	}
	if err != nil {
		return nil, status.Wrapf(err, status.ParamInvalid, "tensor %s", t.Shape())
	}
	return out, nil
}

func (a Attr) toValue() (graph.AttrValue, error) {
	var (
		value graph.AttrValue
		count int
	)
	set := func(v graph.AttrValue) {
		value = v
		count++
	}
	if a.Int != nil {
		set(graph.AttrInt(*a.Int))
	}
	if a.Float != nil {
		set(graph.AttrFloat(*a.Float))
	}
	if a.String != nil {
		set(graph.AttrString(*a.String))
	}
	if a.Bool != nil {
		set(graph.AttrBool(*a.Bool))
	}
	if a.Ints != nil {
		set(graph.AttrInts(a.Ints...))
	}
	if a.Floats != nil {
		set(graph.AttrFloats(a.Floats...))
	}
	if a.Strings != nil {
		set(graph.AttrStrings(a.Strings...))
	}
	if a.Bools != nil {
		set(graph.AttrBools(a.Bools...))
	}
	if a.Tensor != nil {
		t, err := a.Tensor.toTensor()
		if err != nil {
			return value, err
		}
		set(graph.AttrTensor(t))
	}
	if count != 1 {
		return value, invalidf("attribute must have exactly one value, got %d", count)
	}
	return value, nil
}

func fromValue(v graph.AttrValue) (Attr, error) {
	var a Attr
	switch v.Kind() {
	case graph.AttrKindInt:
		i, _ := v.Int()
		a.Int = &i
	case graph.AttrKindFloat:
		f, _ := v.Float()
		a.Float = &f
	case graph.AttrKindString:
		s, _ := v.Str()
		a.String = &s
	case graph.AttrKindBool:
		b, _ := v.Bool()
		a.Bool = &b
	case graph.AttrKindInts:
		a.Ints, _ = v.Ints()
		if a.Ints == nil {
			a.Ints = []int64{}
		}
	case graph.AttrKindFloats:
		a.Floats, _ = v.Floats()
		if a.Floats == nil {
			a.Floats = []float64{}
		}
	case graph.AttrKindStrings:
		a.Strings, _ = v.Strings()
		if a.Strings == nil {
			a.Strings = []string{}
		}
	case graph.AttrKindBools:
		a.Bools, _ = v.Bools()
		if a.Bools == nil {
			a.Bools = []bool{}
		}
	case graph.AttrKindTensor:
		t, _ := v.Tensor()
		encoded, err := fromTensor(t)
		if err != nil {
			return a, err
		}
		a.Tensor = encoded
	default:
		return a, invalidf("attribute of kind %s can't be encoded", v.Kind())
	}
	return a, nil
}

func parseProducer(ref string) (string, int, error) {
	name, idxStr, found := strings.Cut(ref, ":")
	if !found {
		return name, 0, nil
	}
	idx, err := strconv.Atoi(idxStr)
	if err != nil || idx < 0 {
		return "", 0, invalidf("invalid producer reference %q", ref)
	}
	return name, idx, nil
}

// Build creates the graph described by the file.
func (f *File) Build() (*graph.Graph, error) {
	g := graph.New(f.Name)
	for _, n := range f.Nodes {
		desc := graph.OpDesc{Name: n.Name, Type: n.Type, Attrs: graph.NewAttrs()}
		for ii, in := range n.Inputs {
			inDesc := graph.InputDesc{Name: in.Name, Dynamic: in.Dynamic}
			if inDesc.Name == "" {
				inDesc.Name = "x" + strconv.Itoa(ii)
			}
			if in.Shape != nil {
				shape, err := in.Shape.toShape()
				if err != nil {
					return nil, errors.WithMessagef(err, "input #%d of node %q", ii, n.Name)
				}
				inDesc.Shape = shape
			}
			desc.Inputs = append(desc.Inputs, inDesc)
		}
		for ii, out := range n.Outputs {
			shape, err := out.toShape()
			if err != nil {
				return nil, errors.WithMessagef(err, "output #%d of node %q", ii, n.Name)
			}
			desc.Outputs = append(desc.Outputs, shape)
		}
		for _, a := range n.Attrs {
			value, err := a.Value.toValue()
			if err != nil {
				return nil, errors.WithMessagef(err, "attribute %q of node %q", a.Name, n.Name)
			}
			desc.Attrs.Set(a.Name, value)
		}
		if _, err := g.AddNode(desc); err != nil {
			return nil, err
		}
	}

	// Edges, once all nodes exist.
	lookup := func(ref, of string) (*graph.Node, int, error) {
		name, idx, err := parseProducer(ref)
		if err != nil {
			return nil, 0, err
		}
		producer, found := g.NodeByName(name)
		if !found {
			return nil, 0, invalidf("node %q refers to unknown node %q", of, name)
		}
		return producer, idx, nil
	}
	for _, n := range f.Nodes {
		consumer, _ := g.NodeByName(n.Name)
		for ii, in := range n.Inputs {
			for _, ref := range in.From {
				producer, idx, err := lookup(ref, n.Name)
				if err != nil {
					return nil, err
				}
				if idx >= producer.NumOutputs() {
					return nil, invalidf("node %q refers to output #%d of %q, which has %d outputs",
						n.Name, idx, producer.Name(), producer.NumOutputs())
				}
				if in.Shape == nil {
					consumer.SetInputShape(ii, producer.OutputShape(idx))
				}
				if err := g.AddEdge(producer.Out(idx), consumer.In(ii)); err != nil {
					return nil, err
				}
			}
		}
		for _, ref := range n.Control {
			producer, _, err := lookup(ref, n.Name)
			if err != nil {
				return nil, err
			}
			if err := g.AddControlEdge(producer.ID(), consumer.ID()); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

// FromGraph describes the graph.
func FromGraph(g *graph.Graph) (*File, error) {
	f := &File{Name: g.Name()}
	ref := func(out graph.OutAnchor) string {
		producer, _ := g.Node(out.Node)
		if out.Index == 0 {
			return producer.Name()
		}
		return fmt.Sprintf("%s:%d", producer.Name(), out.Index)
	}
	for _, n := range g.AllNodes() {
		node := Node{Name: n.Name(), Type: n.TypeName()}
		for ii := range n.NumInputs() {
			desc := n.InputDesc(ii)
			shape := fromShape(desc.Shape)
			in := Input{Name: desc.Name, Dynamic: desc.Dynamic, Shape: &shape}
			for _, src := range n.Sources(ii) {
				in.From = append(in.From, ref(src))
			}
			node.Inputs = append(node.Inputs, in)
		}
		for ii := range n.NumOutputs() {
			node.Outputs = append(node.Outputs, fromShape(n.OutputShape(ii)))
		}
		attrs := n.Desc().Attrs
		for _, name := range attrs.Keys() {
			v, _ := attrs.Get(name)
			a, err := fromValue(v)
			if err != nil {
				return nil, errors.WithMessagef(err, "attribute %q of node %q", name, n.Name())
			}
			node.Attrs = append(node.Attrs, NamedAttr{Name: name, Value: a})
		}
		for _, id := range n.ControlInputs() {
			producer, _ := g.Node(id)
			node.Control = append(node.Control, producer.Name())
		}
		f.Nodes = append(f.Nodes, node)
	}
	return f, nil
}

// Read parses all the graphs of the YAML stream.
func Read(r io.Reader) ([]*graph.Graph, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var graphs []*graph.Graph
	for {
		var f File
		err := dec.Decode(&f)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, status.Wrapf(err, status.ParamInvalid, "graph #%d", len(graphs))
		}
		g, err := f.Build()
		if err != nil {
			return nil, errors.WithMessagef(err, "graph #%d (%q)", len(graphs), f.Name)
		}
		graphs = append(graphs, g)
	}
	return graphs, nil
}

// Write encodes the graphs as a YAML stream, one document per graph.
func Write(w io.Writer, graphs ...*graph.Graph) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	for _, g := range graphs {
		f, err := FromGraph(g)
		if err != nil {
			return errors.WithMessagef(err, "graph %q", g.Name())
		}
		if err := enc.Encode(f); err != nil {
			return errors.Wrapf(err, "encoding graph %q", g.Name())
		}
	}
	return errors.WithStack(enc.Close())
}

// Load reads the graphs of a YAML file.
func Load(path string) ([]*graph.Graph, error) {
	data, err := fsutil.ReadFile(path)
	if err != nil {
		return nil, errors.WithMessage(err, "reading graphs")
	}
	graphs, err := Read(bytes.NewReader(data))
	return graphs, errors.WithMessagef(err, "file %q", path)
}

// Save writes the graphs to a YAML file.
func Save(path string, graphs ...*graph.Graph) error {
	var buf bytes.Buffer
	if err := Write(&buf, graphs...); err != nil {
		return err
	}
	return errors.WithMessage(fsutil.WriteFile(path, buf.Bytes()), "writing graphs")
}
