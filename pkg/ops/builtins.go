// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package ops

import (
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opfusion/pkg/graph"
	"github.com/gomlx/opfusion/pkg/shapes"
	"github.com/pkg/errors"
)

var (
	// ElementwiseTypes are unary or broadcasting binary operators whose output takes the shape of
	// their first input.
	ElementwiseTypes = []string{
		"Relu", "LeakyRelu", "Relu6", "ClipByValue", "Sigmoid", "Tanh", "Abs", "Exp", "Neg",
		"Add", "Sub", "Mul", "RealDiv", "Maximum", "Minimum", "Cast",
	}
)

// RegisterBuiltins registers the operator types used by the fusion passes of this module.
// Registration errors can only come from types already registered, which are left untouched.
func RegisterBuiltins(r *Registry) {
	register := func(def Def) {
		if _, found := r.Lookup(def.Type); found {
			return
		}
		_ = r.Register(def)
	}
	for _, name := range ElementwiseTypes {
		register(Def{Type: graph.MakeOpType(name), Pattern: PatternElemWise, InferShapeAndType: inferElementwise})
	}
	register(Def{Type: graph.MakeOpType("Const"), InferShapeAndType: inferConst})
	register(Def{Type: graph.MakeOpType("Data"), InferShapeAndType: inferKeep})
	for _, name := range []string{"Conv2D", "Convolution", "DepthwiseConv2D"} {
		register(Def{Type: graph.MakeOpType(name), Pattern: PatternConvolution, InferShapeAndType: inferConv})
	}
	register(Def{Type: graph.MakeOpType("MatMul"), Pattern: PatternMatMul, InferShapeAndType: inferMatMul})
	register(Def{Type: graph.MakeOpType("BatchMatMul"), Pattern: PatternMatMul, InferShapeAndType: inferMatMul})
	register(Def{Type: graph.MakeOpType("AscendDequant"), Pattern: PatternDequant, InferShapeAndType: inferWithDType(dtypes.Float16)})
	register(Def{Type: graph.MakeOpType("AscendQuant"), Pattern: PatternQuant, InferShapeAndType: inferWithDType(dtypes.Int8)})
	register(Def{Type: graph.MakeOpType("BatchToSpaceND"), InferShapeAndType: inferKeep})
	register(Def{Type: graph.MakeOpType("BatchToSpaceNDD"), InferShapeAndType: inferBatchToSpaceNDD})
	register(Def{Type: graph.MakeOpType("Transpose"), InferShapeAndType: inferKeep})
	register(Def{Type: graph.MakeOpType("TransposeD"), InferShapeAndType: inferTransposeD})
	register(Def{Type: graph.MakeOpType("Reshape"), InferShapeAndType: inferKeep})
	register(Def{Type: graph.MakeOpType("ConfusionTransposeD"), InferShapeAndType: inferConfusionTransposeD})
}

func checkArity(n *graph.Node, inputs, outputs int) error {
	if n.NumInputs() < inputs || n.NumOutputs() != outputs {
		return errors.Errorf("%s expects at least %d inputs and %d outputs, got %d and %d",
			n, inputs, outputs, n.NumInputs(), n.NumOutputs())
	}
	return nil
}

func inferKeep(n *graph.Node) error {
	for ii := range n.NumOutputs() {
		if !n.OutputShape(ii).Ok() {
			return errors.Errorf("%s: output #%d has no valid shape", n, ii)
		}
	}
	return nil
}

func inferConst(n *graph.Node) error {
	if err := checkArity(n, 0, 1); err != nil {
		return err
	}
	v, found := n.Attr("value")
	if !found {
		return errors.Errorf("%s has no \"value\" attribute", n)
	}
	t, ok := v.Tensor()
	if !ok {
		return errors.Errorf("%s: \"value\" attribute is %s, not a tensor", n, v.Kind())
	}
	n.SetOutputShape(0, t.Shape())
	return nil
}

func inferElementwise(n *graph.Node) error {
	if err := checkArity(n, 1, 1); err != nil {
		return err
	}
	out := n.InputDesc(0).Shape
	for ii := 1; ii < n.NumInputs(); ii++ {
		other := n.InputDesc(ii).Shape
		if other.DType != out.DType {
			return errors.Errorf("%s: input #%d dtype %s differs from input #0 dtype %s", n, ii, other.DType, out.DType)
		}
		if other.Rank() > out.Rank() {
			return errors.Errorf("%s: input #%d shape %s doesn't broadcast to %s", n, ii, other, out)
		}
	}
	if n.TypeName() == "Cast" {
		out.DType = n.OutputShape(0).DType
	}
	n.SetOutputShape(0, out)
	return nil
}

func inferWithDType(dtype dtypes.DType) InferFunc {
	return func(n *graph.Node) error {
		if err := checkArity(n, 1, 1); err != nil {
			return err
		}
		out := n.InputDesc(0).Shape
		out.DType = dtype
		n.SetOutputShape(0, out)
		return nil
	}
}

func inferConv(n *graph.Node) error {
	if err := checkArity(n, 2, 1); err != nil {
		return err
	}
	x, filter := n.InputDesc(0).Shape, n.InputDesc(1).Shape
	if x.Rank() != 4 || filter.Rank() != 4 {
		return errors.Errorf("%s: input and filter must have rank 4, got %s and %s", n, x, filter)
	}
	if out := n.OutputShape(0); !out.Ok() || out.Rank() != 4 {
		return errors.Errorf("%s: output shape %s is not a rank-4 shape", n, out)
	}
	return nil
}

func inferMatMul(n *graph.Node) error {
	if err := checkArity(n, 2, 1); err != nil {
		return err
	}
	a, b := n.InputDesc(0).Shape, n.InputDesc(1).Shape
	if a.Rank() < 2 || b.Rank() < 2 {
		return errors.Errorf("%s: operands must have rank >= 2, got %s and %s", n, a, b)
	}
	k1, k2 := a.Dim(-1), b.Dim(-2)
	if k1 != k2 && k1 != shapes.UnknownDim && k2 != shapes.UnknownDim {
		return errors.Errorf("%s: contracting dimensions differ: %s x %s", n, a, b)
	}
	out := a.Clone()
	out.Dimensions[out.Rank()-1] = b.Dim(-1)
	n.SetOutputShape(0, out)
	return nil
}

func intsAttr(n *graph.Node, name string) ([]int64, error) {
	v, found := n.Attr(name)
	if !found {
		return nil, errors.Errorf("%s has no %q attribute", n, name)
	}
	values, ok := v.Ints()
	if !ok {
		return nil, errors.Errorf("%s: attribute %q is %s, not list(int)", n, name, v.Kind())
	}
	return values, nil
}

// inferBatchToSpaceNDD infers the NHWC output: the batch is divided by the block size, and the
// spatial axes are multiplied by the block and cropped.
func inferBatchToSpaceNDD(n *graph.Node) error {
	if err := checkArity(n, 1, 1); err != nil {
		return err
	}
	x := n.InputDesc(0).Shape
	block, err := intsAttr(n, "block_shape")
	if err != nil {
		return err
	}
	crops, err := intsAttr(n, "crops")
	if err != nil {
		return err
	}
	if x.Rank() != 4 || len(block) != 2 || len(crops) != 4 {
		return errors.Errorf("%s: expects rank-4 input, 2 block sizes and 4 crops, got %s, %v, %v", n, x, block, crops)
	}
	out := x.Clone()
	if x.Dim(0) != shapes.UnknownDim {
		if x.Dim(0)%int(block[0]*block[1]) != 0 {
			return errors.Errorf("%s: batch %d not divisible by block %v", n, x.Dim(0), block)
		}
		out.Dimensions[0] = x.Dim(0) / int(block[0]*block[1])
	}
	for axis := 1; axis <= 2; axis++ {
		if x.Dim(axis) == shapes.UnknownDim {
			continue
		}
		dim := x.Dim(axis)*int(block[axis-1]) - int(crops[2*(axis-1)]) - int(crops[2*(axis-1)+1])
		if dim <= 0 {
			return errors.Errorf("%s: crops %v remove all of axis %d", n, crops, axis)
		}
		out.Dimensions[axis] = dim
	}
	n.SetOutputShape(0, out)
	return nil
}

func transposeShape(s shapes.Shape, perm []int64) (shapes.Shape, error) {
	if len(perm) != s.Rank() {
		return shapes.Invalid(), errors.Errorf("permutation %v doesn't match rank of %s", perm, s)
	}
	out := s.Clone()
	seen := make([]bool, len(perm))
	for ii, p := range perm {
		if p < 0 || int(p) >= len(perm) || seen[p] {
			return shapes.Invalid(), errors.Errorf("invalid permutation %v", perm)
		}
		seen[p] = true
		out.Dimensions[ii] = s.Dimensions[p]
	}
	return out, nil
}

func reshapeShape(s shapes.Shape, dims []int64) (shapes.Shape, error) {
	out := s.Clone()
	out.Dimensions = make([]int, len(dims))
	for ii, d := range dims {
		out.Dimensions[ii] = int(d)
	}
	if s.Size() != shapes.UnknownDim && out.Size() != shapes.UnknownDim && s.Size() != out.Size() {
		return shapes.Invalid(), errors.Errorf("cannot reshape %s to %v", s, dims)
	}
	return out, nil
}

func inferTransposeD(n *graph.Node) error {
	if err := checkArity(n, 1, 1); err != nil {
		return err
	}
	perm, err := intsAttr(n, "perm")
	if err != nil {
		return err
	}
	out, err := transposeShape(n.InputDesc(0).Shape, perm)
	if err != nil {
		return errors.WithMessagef(err, "%s", n)
	}
	n.SetOutputShape(0, out)
	return nil
}

// inferConfusionTransposeD handles both orders: transpose then reshape when "transpose_first"
// is set, and reshape then transpose otherwise.
func inferConfusionTransposeD(n *graph.Node) error {
	if err := checkArity(n, 1, 1); err != nil {
		return err
	}
	perm, err := intsAttr(n, "perm")
	if err != nil {
		return err
	}
	dims, err := intsAttr(n, "shape")
	if err != nil {
		return err
	}
	transposeFirst := false
	if v, found := n.Attr("transpose_first"); found {
		transposeFirst, _ = v.Bool()
	}
	x := n.InputDesc(0).Shape
	var out shapes.Shape
	if transposeFirst {
		out, err = transposeShape(x, perm)
		if err == nil {
			out, err = reshapeShape(out, dims)
		}
	} else {
		out, err = reshapeShape(x, dims)
		if err == nil {
			out, err = transposeShape(out, perm)
		}
	}
	if err != nil {
		return errors.WithMessagef(err, "%s", n)
	}
	n.SetOutputShape(0, out)
	return nil
}

// IsElementwise returns whether the named type is in ElementwiseTypes.
func IsElementwise(name string) bool {
	return slices.Contains(ElementwiseTypes, name)
}
