// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import "unique"

// OpType is an interned operator type name (e.g. "Conv2D").
//
// Two OpType values are equal if and only if their names are equal, but the comparison is a
// pointer comparison. The zero value is the invalid OpType.
type OpType struct {
	h unique.Handle[string]
}

// MakeOpType interns the operator type name.
func MakeOpType(name string) OpType {
	if name == "" {
		return OpType{}
	}
	return OpType{h: unique.Make(name)}
}

// OpTypes interns a list of names.
func OpTypes(names ...string) []OpType {
	types := make([]OpType, len(names))
	for ii, name := range names {
		types[ii] = MakeOpType(name)
	}
	return types
}

// IsValid returns false for the zero value.
func (t OpType) IsValid() bool { return t != OpType{} }

// String returns the operator type name, or "" for the invalid OpType.
func (t OpType) String() string {
	if !t.IsValid() {
		return ""
	}
	return t.h.Value()
}
