// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape, the shape/type descriptor of a node input or output.
//
// A Shape holds the element DType, the dimensions and the memory Format of a tensor flowing
// through an edge of the computation graph. Dimensions can be unknown at graph-optimization
// time, marked with UnknownDim; some fusions refuse to match nodes with such dimensions.
//
// DType is the enum from github.com/gomlx/gopjrt/dtypes.
//
// Example: `shapes.Make(dtypes.Float32, 1, 224, 224, 3).WithFormat(shapes.FormatNHWC)`
// prints as `(Float32)[1 224 224 3]{NHWC}`.
package shapes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// UnknownDim marks a dimension whose size is only known at runtime.
const UnknownDim = -1

// Format is the memory layout of a tensor.
type Format int

const (
	FormatND Format = iota
	FormatNCHW
	FormatNHWC
	FormatHWCN
	FormatNC1HWC0
	FormatFractalZ
)

var formatNames = [...]string{"ND", "NCHW", "NHWC", "HWCN", "NC1HWC0", "FRACTAL_Z"}

// String implements fmt.Stringer.
func (f Format) String() string {
	if f < 0 || int(f) >= len(formatNames) {
		return fmt.Sprintf("Format(%d)", int(f))
	}
	return formatNames[f]
}

// FormatFromString parses the names returned by Format.String. It returns false for unknown names.
func FormatFromString(name string) (Format, bool) {
	for ii, n := range formatNames {
		if strings.EqualFold(n, name) {
			return Format(ii), true
		}
	}
	return FormatND, false
}

// Shape of a tensor: element type, dimensions and memory format.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
	Format     Format
}

// Make returns a Shape with the given dtype and dimensions, in FormatND.
// Dimensions must be positive or UnknownDim.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}
	for _, dim := range dimensions {
		if dim <= 0 && dim != UnknownDim {
			exceptions.Panicf("shapes.Make(%s): invalid dimension %d", s, dim)
		}
	}
	return s
}

// Scalar returns a scalar shape of the given dtype.
func Scalar(dtype dtypes.DType) Shape {
	return Shape{DType: dtype}
}

// Invalid returns an invalid shape: Invalid().Ok() == false.
func Invalid() Shape {
	return Shape{DType: dtypes.InvalidDType}
}

// WithFormat returns a copy of the shape with the given format.
func (s Shape) WithFormat(format Format) Shape {
	c := s.Clone()
	c.Format = format
	return c
}

// Ok returns whether this is a valid Shape.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType }

// Rank of the shape, that is, the number of dimensions.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape is a valid scalar.
func (s Shape) IsScalar() bool { return s.Ok() && s.Rank() == 0 }

// IsUnknown returns whether any of the dimensions is UnknownDim.
func (s Shape) IsUnknown() bool {
	return slices.Contains(s.Dimensions, UnknownDim)
}

// Dim returns the dimension of the given axis. Negative axes count from the end.
func (s Shape) Dim(axis int) int {
	adjusted := axis
	if adjusted < 0 {
		adjusted += s.Rank()
	}
	if adjusted < 0 || adjusted >= s.Rank() {
		exceptions.Panicf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Dimensions[adjusted]
}

// Size returns the number of elements, or UnknownDim if any dimension is unknown.
func (s Shape) Size() int {
	size := 1
	for _, d := range s.Dimensions {
		if d == UnknownDim {
			return UnknownDim
		}
		size *= d
	}
	return size
}

// Clone returns a deep copy.
func (s Shape) Clone() Shape {
	c := s
	c.Dimensions = slices.Clone(s.Dimensions)
	return c
}

// Equal compares dtype, dimensions and format.
func (s Shape) Equal(s2 Shape) bool {
	return s.DType == s2.DType && s.Format == s2.Format && slices.Equal(s.Dimensions, s2.Dimensions)
}

// String implements fmt.Stringer.
func (s Shape) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "(%s)", s.DType)
	if s.Rank() > 0 {
		parts := make([]string, len(s.Dimensions))
		for ii, d := range s.Dimensions {
			if d == UnknownDim {
				parts[ii] = "?"
			} else {
				parts[ii] = fmt.Sprint(d)
			}
		}
		_, _ = fmt.Fprintf(&sb, "[%s]", strings.Join(parts, " "))
	}
	if s.Format != FormatND {
		_, _ = fmt.Fprintf(&sb, "{%s}", s.Format)
	}
	return sb.String()
}
