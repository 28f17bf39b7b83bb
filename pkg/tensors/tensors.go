// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors holds host-side constant tensors: the values carried by constant nodes and
// attributes of the computation graph, and the buffers handed to CPU kernels.
package tensors

import (
	"fmt"
	"reflect"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/opfusion/pkg/shapes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Tensor is a dense host tensor: a shape plus a flat Go slice in row-major order.
type Tensor struct {
	shape shapes.Shape
	flat  any
}

// FromFlat creates a tensor from a flat slice and the dimensions. The dtype is taken from the
// slice element type. It returns an error if the size doesn't match.
func FromFlat[T any](flat []T, dimensions ...int) (*Tensor, error) {
	dtype := dtypes.FromGoType(reflect.TypeOf(flat).Elem())
	if dtype == dtypes.InvalidDType {
		return nil, errors.Errorf("tensors.FromFlat: unsupported element type %T", *new(T))
	}
	shape := shapes.Shape{DType: dtype, Dimensions: append([]int(nil), dimensions...)}
	if shape.IsUnknown() {
		return nil, errors.Errorf("tensors.FromFlat: constant tensor cannot have unknown dimensions %v", dimensions)
	}
	if shape.Size() != len(flat) {
		return nil, errors.Errorf("tensors.FromFlat: %d elements given for shape %s (size %d)", len(flat), shape, shape.Size())
	}
	return &Tensor{shape: shape, flat: append([]T(nil), flat...)}, nil
}

// FromVector creates a rank-1 tensor.
func FromVector[T any](values ...T) (*Tensor, error) {
	return FromFlat(values, len(values))
}

// Zeros creates a tensor of the given shape filled with zeros.
func Zeros(shape shapes.Shape) (*Tensor, error) {
	if !shape.Ok() || shape.IsUnknown() {
		return nil, errors.Errorf("tensors.Zeros: invalid shape %s", shape)
	}
	goType := shape.DType.GoType()
	if goType == nil {
		return nil, errors.Errorf("tensors.Zeros: dtype %s has no Go type", shape.DType)
	}
	flat := reflect.MakeSlice(reflect.SliceOf(goType), shape.Size(), shape.Size()).Interface()
	return &Tensor{shape: shape.Clone(), flat: flat}, nil
}

// Shape of the tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType of the tensor elements.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Size is the number of elements.
func (t *Tensor) Size() int { return t.shape.Size() }

// Flat returns the underlying flat slice (e.g. []float32). Changes are visible to the tensor.
func (t *Tensor) Flat() any { return t.flat }

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	v := reflect.ValueOf(t.flat)
	c := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
	reflect.Copy(c, v)
	return &Tensor{shape: t.shape.Clone(), flat: c.Interface()}
}

// Equal compares shape and contents.
func (t *Tensor) Equal(o *Tensor) bool {
	if t == nil || o == nil {
		return t == o
	}
	return t.shape.Equal(o.shape) && reflect.DeepEqual(t.flat, o.flat)
}

// AsInt64s converts an integer tensor to a []int64. Float tensors are rejected.
func (t *Tensor) AsInt64s() ([]int64, error) {
	out := make([]int64, 0, t.Size())
	switch flat := t.flat.(type) {
	case []int64:
		out = append(out, flat...)
	case []int32:
		for _, v := range flat {
			out = append(out, int64(v))
		}
	case []int16:
		for _, v := range flat {
			out = append(out, int64(v))
		}
	case []int8:
		for _, v := range flat {
			out = append(out, int64(v))
		}
	case []uint8:
		for _, v := range flat {
			out = append(out, int64(v))
		}
	case []uint32:
		for _, v := range flat {
			out = append(out, int64(v))
		}
	default:
		return nil, errors.Errorf("tensor of dtype %s cannot be converted to int64 values", t.DType())
	}
	return out, nil
}

// AsFloat64s converts a numeric tensor to []float64. Float16 values are widened.
func (t *Tensor) AsFloat64s() ([]float64, error) {
	out := make([]float64, 0, t.Size())
	switch flat := t.flat.(type) {
	case []float64:
		out = append(out, flat...)
	case []float32:
		for _, v := range flat {
			out = append(out, float64(v))
		}
	case []float16.Float16:
		for _, v := range flat {
			out = append(out, float64(v.Float32()))
		}
	default:
		ints, err := t.AsInt64s()
		if err != nil {
			return nil, errors.Errorf("tensor of dtype %s cannot be converted to float64 values", t.DType())
		}
		for _, v := range ints {
			out = append(out, float64(v))
		}
	}
	return out, nil
}

// String implements fmt.Stringer.
func (t *Tensor) String() string {
	if t == nil {
		return "<nil tensor>"
	}
	return fmt.Sprintf("%s%v", t.shape, t.flat)
}
