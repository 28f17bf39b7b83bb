// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package kernels

import (
	"github.com/gomlx/opfusion/pkg/tensors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// Number is the element type the generic kernels work on.
type Number interface {
	constraints.Integer | constraints.Float
}

// RegisterBuiltins registers the sample kernels Relu and ClipByValue.
func RegisterBuiltins(r *Registry) {
	r.Register("Relu", KernelFunc(reluKernel))
	r.Register("ClipByValue", KernelFunc(clipByValueKernel))
}

// bounds of a clip. The upper bound is optional.
type bounds struct {
	lower, upper float64
	hasUpper     bool
}

func clip[T Number](flat []T, b bounds) []T {
	lower, upper := T(b.lower), T(b.upper)
	out := make([]T, len(flat))
	for ii, v := range flat {
		v = max(v, lower)
		if b.hasUpper {
			v = min(v, upper)
		}
		out[ii] = v
	}
	return out
}

// clipTensor clips the tensor values, whatever its numeric dtype. Float16 is computed in float32.
func clipTensor(t *tensors.Tensor, b bounds) (*tensors.Tensor, bool) {
	dims := t.Shape().Dimensions
	var (
		out *tensors.Tensor
		err error
	)
	switch flat := t.Flat().(type) {
	case []float32:
		out, err = tensors.FromFlat(clip(flat, b), dims...)
	case []float64:
		out, err = tensors.FromFlat(clip(flat, b), dims...)
	case []int32:
		out, err = tensors.FromFlat(clip(flat, b), dims...)
	case []int64:
		out, err = tensors.FromFlat(clip(flat, b), dims...)
	case []int8:
		out, err = tensors.FromFlat(clip(flat, b), dims...)
	case []float16.Float16:
		widened := make([]float32, len(flat))
		for ii, v := range flat {
			widened[ii] = v.Float32()
		}
		clipped := clip(widened, b)
		narrowed := make([]float16.Float16, len(clipped))
		for ii, v := range clipped {
			narrowed[ii] = float16.Fromfloat32(v)
		}
		out, err = tensors.FromFlat(narrowed, dims...)
	default:
		return nil, false
	}
	return out, err == nil
}

func reluKernel(ctx *Context) KernelStatus {
	x := ctx.Input(0)
	if x == nil || ctx.NumInputs() != 1 {
		return KernelStatusParamInvalid
	}
	y, ok := clipTensor(x, bounds{})
	if !ok {
		return KernelStatusParamInvalid
	}
	ctx.SetOutput(0, y)
	return KernelStatusOK
}

// clipBound reads a bound from the scalar input #idx, or else from the float attribute.
func clipBound(ctx *Context, idx int, attr string) (float64, bool) {
	if t := ctx.Input(idx); t != nil {
		values, err := t.AsFloat64s()
		if err != nil || len(values) != 1 {
			return 0, false
		}
		return values[0], true
	}
	v, found := ctx.Attr(attr)
	if !found {
		return 0, false
	}
	return v.Float()
}

func clipByValueKernel(ctx *Context) KernelStatus {
	x := ctx.Input(0)
	if x == nil {
		return KernelStatusParamInvalid
	}
	lower, ok := clipBound(ctx, 1, "clip_value_min")
	if !ok {
		return KernelStatusParamInvalid
	}
	upper, ok := clipBound(ctx, 2, "clip_value_max")
	if !ok || lower > upper {
		return KernelStatusParamInvalid
	}
	y, ok := clipTensor(x, bounds{lower: lower, upper: upper, hasUpper: true})
	if !ok {
		return KernelStatusInnerError
	}
	ctx.SetOutput(0, y)
	return KernelStatusOK
}
