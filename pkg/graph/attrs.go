// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/opfusion/pkg/tensors"
)

// AttrKind enumerates the types an attribute value can take.
type AttrKind int

const (
	AttrKindInvalid AttrKind = iota
	AttrKindInt
	AttrKindFloat
	AttrKindString
	AttrKindBool
	AttrKindInts
	AttrKindFloats
	AttrKindStrings
	AttrKindBools
	AttrKindTensor
)

var attrKindNames = [...]string{"invalid", "int", "float", "string", "bool", "list(int)", "list(float)",
	"list(string)", "list(bool)", "tensor"}

// String implements fmt.Stringer.
func (k AttrKind) String() string {
	if k < 0 || int(k) >= len(attrKindNames) {
		return fmt.Sprintf("AttrKind(%d)", int(k))
	}
	return attrKindNames[k]
}

// AttrValue is a typed attribute value. Create it with one of the Attr* constructors.
type AttrValue struct {
	kind   AttrKind
	i      int64
	f      float64
	s      string
	b      bool
	ints   []int64
	floats []float64
	strs   []string
	bools  []bool
	tensor *tensors.Tensor
}

func AttrInt(v int64) AttrValue     { return AttrValue{kind: AttrKindInt, i: v} }
func AttrFloat(v float64) AttrValue { return AttrValue{kind: AttrKindFloat, f: v} }
func AttrString(v string) AttrValue { return AttrValue{kind: AttrKindString, s: v} }
func AttrBool(v bool) AttrValue     { return AttrValue{kind: AttrKindBool, b: v} }
func AttrInts(v ...int64) AttrValue { return AttrValue{kind: AttrKindInts, ints: slices.Clone(v)} }
func AttrFloats(v ...float64) AttrValue {
	return AttrValue{kind: AttrKindFloats, floats: slices.Clone(v)}
}
func AttrStrings(v ...string) AttrValue {
	return AttrValue{kind: AttrKindStrings, strs: slices.Clone(v)}
}
func AttrBools(v ...bool) AttrValue { return AttrValue{kind: AttrKindBools, bools: slices.Clone(v)} }

// AttrTensor holds a copy of the tensor.
func AttrTensor(t *tensors.Tensor) AttrValue {
	if t == nil {
		return AttrValue{}
	}
	return AttrValue{kind: AttrKindTensor, tensor: t.Clone()}
}

// Kind of the value. The zero AttrValue has AttrKindInvalid.
func (v AttrValue) Kind() AttrKind { return v.kind }

func (v AttrValue) Int() (int64, bool)     { return v.i, v.kind == AttrKindInt }
func (v AttrValue) Float() (float64, bool) { return v.f, v.kind == AttrKindFloat }
func (v AttrValue) Str() (string, bool)    { return v.s, v.kind == AttrKindString }
func (v AttrValue) Bool() (bool, bool)     { return v.b, v.kind == AttrKindBool }
func (v AttrValue) Ints() ([]int64, bool)  { return slices.Clone(v.ints), v.kind == AttrKindInts }
func (v AttrValue) Floats() ([]float64, bool) {
	return slices.Clone(v.floats), v.kind == AttrKindFloats
}
func (v AttrValue) Strings() ([]string, bool) { return slices.Clone(v.strs), v.kind == AttrKindStrings }
func (v AttrValue) Bools() ([]bool, bool)     { return slices.Clone(v.bools), v.kind == AttrKindBools }

// Tensor returns the tensor held by the value. The tensor must not be modified.
func (v AttrValue) Tensor() (*tensors.Tensor, bool) { return v.tensor, v.kind == AttrKindTensor }

// Equal compares kind and contents.
func (v AttrValue) Equal(o AttrValue) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case AttrKindInt:
		return v.i == o.i
	case AttrKindFloat:
		return v.f == o.f
	case AttrKindString:
		return v.s == o.s
	case AttrKindBool:
		return v.b == o.b
	case AttrKindInts:
		return slices.Equal(v.ints, o.ints)
	case AttrKindFloats:
		return slices.Equal(v.floats, o.floats)
	case AttrKindStrings:
		return slices.Equal(v.strs, o.strs)
	case AttrKindBools:
		return slices.Equal(v.bools, o.bools)
	case AttrKindTensor:
		return v.tensor.Equal(o.tensor)
	}
	return true
}

// String implements fmt.Stringer.
func (v AttrValue) String() string {
	switch v.kind {
	case AttrKindInt:
		return fmt.Sprint(v.i)
	case AttrKindFloat:
		return fmt.Sprint(v.f)
	case AttrKindString:
		return fmt.Sprintf("%q", v.s)
	case AttrKindBool:
		return fmt.Sprint(v.b)
	case AttrKindInts:
		return fmt.Sprint(v.ints)
	case AttrKindFloats:
		return fmt.Sprint(v.floats)
	case AttrKindStrings:
		return fmt.Sprintf("%q", v.strs)
	case AttrKindBools:
		return fmt.Sprint(v.bools)
	case AttrKindTensor:
		return v.tensor.String()
	}
	return "<invalid>"
}

// Attrs is an attribute dictionary that keeps insertion order.
type Attrs struct {
	keys   []string
	values map[string]AttrValue
}

// NewAttrs returns an empty dictionary.
func NewAttrs() *Attrs {
	return &Attrs{values: make(map[string]AttrValue)}
}

// Set inserts or replaces an attribute, and returns the dictionary for chaining.
func (a *Attrs) Set(name string, value AttrValue) *Attrs {
	if a.values == nil {
		a.values = make(map[string]AttrValue)
	}
	if _, found := a.values[name]; !found {
		a.keys = append(a.keys, name)
	}
	a.values[name] = value
	return a
}

// Get returns the attribute value and whether it exists.
func (a *Attrs) Get(name string) (AttrValue, bool) {
	if a == nil {
		return AttrValue{}, false
	}
	v, found := a.values[name]
	return v, found
}

// Has returns whether the attribute is set.
func (a *Attrs) Has(name string) bool {
	_, found := a.Get(name)
	return found
}

// Delete removes the attribute, and returns whether it existed.
func (a *Attrs) Delete(name string) bool {
	if a == nil {
		return false
	}
	if _, found := a.values[name]; !found {
		return false
	}
	delete(a.values, name)
	a.keys = slices.DeleteFunc(a.keys, func(k string) bool { return k == name })
	return true
}

// Keys in insertion order.
func (a *Attrs) Keys() []string {
	if a == nil {
		return nil
	}
	return slices.Clone(a.keys)
}

// Len returns the number of attributes.
func (a *Attrs) Len() int {
	if a == nil {
		return 0
	}
	return len(a.keys)
}

// Clone returns a deep copy. Cloning nil returns an empty dictionary.
func (a *Attrs) Clone() *Attrs {
	c := NewAttrs()
	if a == nil {
		return c
	}
	for _, k := range a.keys {
		c.Set(k, a.values[k])
	}
	return c
}

// String lists the attributes sorted by name.
func (a *Attrs) String() string {
	keys := a.Keys()
	slices.Sort(keys)
	parts := make([]string, len(keys))
	for ii, k := range keys {
		parts[ii] = fmt.Sprintf("%s=%s", k, a.values[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
