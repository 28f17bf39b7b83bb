// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package kernels is the dispatch surface of CPU fallback ("AICPU") kernels: operators without
// an accelerated implementation are executed by a Kernel registered under their operator type.
//
// The fusion passes never call kernels: a later compilation stage lowers the optimized graph to
// kernel invocations.
package kernels

import (
	"slices"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/opfusion/pkg/graph"
	"github.com/gomlx/opfusion/pkg/tensors"
)

// KernelStatus is returned by Kernel.Compute.
type KernelStatus int

//go:generate go tool enumer -type=KernelStatus -transform=snake-upper -output=gen_kernelstatus_enumer.go kernels.go

const (
	KernelStatusOK KernelStatus = iota
	KernelStatusParamInvalid
	KernelStatusInnerError
)

// Kernel computes one operator on host tensors.
type Kernel interface {
	// Compute reads the inputs and attributes of ctx and sets its outputs.
	Compute(ctx *Context) KernelStatus
}

// KernelFunc adapts a function to the Kernel interface.
type KernelFunc func(ctx *Context) KernelStatus

// Compute implements Kernel.
func (f KernelFunc) Compute(ctx *Context) KernelStatus { return f(ctx) }

// Context of one kernel invocation.
type Context struct {
	opType  string
	inputs  []*tensors.Tensor
	outputs []*tensors.Tensor
	attrs   *graph.Attrs
}

// NewContext creates the context to run a kernel over the inputs. attrs may be nil.
func NewContext(opType string, numOutputs int, attrs *graph.Attrs, inputs ...*tensors.Tensor) *Context {
	if attrs == nil {
		attrs = graph.NewAttrs()
	}
	return &Context{
		opType:  opType,
		inputs:  slices.Clone(inputs),
		outputs: make([]*tensors.Tensor, numOutputs),
		attrs:   attrs,
	}
}

// OpType of the operator being computed.
func (ctx *Context) OpType() string { return ctx.opType }

func (ctx *Context) NumInputs() int  { return len(ctx.inputs) }
func (ctx *Context) NumOutputs() int { return len(ctx.outputs) }

// Input returns input #idx, or nil if out of range.
func (ctx *Context) Input(idx int) *tensors.Tensor {
	if idx < 0 || idx >= len(ctx.inputs) {
		return nil
	}
	return ctx.inputs[idx]
}

// Output returns output #idx, or nil if out of range or not set.
func (ctx *Context) Output(idx int) *tensors.Tensor {
	if idx < 0 || idx >= len(ctx.outputs) {
		return nil
	}
	return ctx.outputs[idx]
}

// SetOutput sets output #idx, and returns false if idx is out of range.
func (ctx *Context) SetOutput(idx int, t *tensors.Tensor) bool {
	if idx < 0 || idx >= len(ctx.outputs) {
		return false
	}
	ctx.outputs[idx] = t
	return true
}

// Attr looks up an attribute of the operator.
func (ctx *Context) Attr(name string) (graph.AttrValue, bool) { return ctx.attrs.Get(name) }

// Registry of kernels by operator type name.
type Registry struct {
	mu      sync.RWMutex
	kernels map[string]Kernel
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{kernels: make(map[string]Kernel)}
}

// Register the kernel for the operator type. It panics if one is already registered.
func (r *Registry) Register(opType string, k Kernel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, found := r.kernels[opType]; found {
		exceptions.Panicf("kernels.Register: kernel for %q already registered", opType)
	}
	r.kernels[opType] = k
}

// Lookup returns the kernel of the operator type.
func (r *Registry) Lookup(opType string) (Kernel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, found := r.kernels[opType]
	return k, found
}

// OpTypes returns the operator types with a kernel, sorted.
func (r *Registry) OpTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.kernels))
	for name := range r.kernels {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Compute runs the kernel registered for ctx.OpType(). Unknown operator types return
// KernelStatusParamInvalid, and a kernel returning OK without setting all outputs is reported as
// KernelStatusInnerError.
func (r *Registry) Compute(ctx *Context) KernelStatus {
	k, found := r.Lookup(ctx.opType)
	if !found {
		return KernelStatusParamInvalid
	}
	st := k.Compute(ctx)
	if st == KernelStatusOK && slices.Contains(ctx.outputs, nil) {
		return KernelStatusInnerError
	}
	return st
}
