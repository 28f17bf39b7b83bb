// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package passes implements concrete fusion passes.
//
// They are registered explicitly by Register, usually from the program startup sequence:
//
//	reg := registry.New()
//	passes.Register(reg)
package passes

import (
	"fmt"
	"slices"

	"github.com/gomlx/opfusion/pkg/fusion"
	"github.com/gomlx/opfusion/pkg/graph"
	"github.com/gomlx/opfusion/pkg/registry"
	"github.com/gomlx/opfusion/pkg/rewrite"
)

// Names of the passes, as registered.
const (
	ConvClipByValueFusionName       = "ConvClipByValueFusionPass"
	BatchToSpaceNDConstToAttrName   = "BatchToSpaceNDConstToAttrPass"
	DequantLeakyReluQuantFusionName = "DequantLeakyReluQuantFusionPass"
	MatMulEltwiseFusionName         = "MatMulEltwiseFusionPass"
	TransposeReshapeFusionName      = "TransposeReshapeFusionPass"
)

// Register installs all the passes of this package in the registry.
func Register(r *registry.Registry) {
	r.Register(BatchToSpaceNDConstToAttrName, registry.CategoryGraph,
		func() fusion.Pass { return &BatchToSpaceNDConstToAttrPass{} })
	r.Register(TransposeReshapeFusionName, registry.CategoryGraph,
		func() fusion.Pass { return &TransposeReshapeFusionPass{} })
	r.Register(ConvClipByValueFusionName, registry.CategoryBuffer,
		func() fusion.Pass { return &ConvClipByValueFusionPass{} })
	r.Register(DequantLeakyReluQuantFusionName, registry.CategoryBuffer,
		func() fusion.Pass { return &DequantLeakyReluQuantFusionPass{} })
	r.Register(MatMulEltwiseFusionName, registry.CategoryBuffer,
		func() fusion.Pass { return &MatMulEltwiseFusionPass{} })
}

// freshName returns base, or base with a numeric suffix if a node already has that name.
func freshName(g *graph.Graph, base string) string {
	name := base
	for ii := 1; ; ii++ {
		if _, found := g.NodeByName(name); !found {
			return name
		}
		name = fmt.Sprintf("%s_%d", base, ii)
	}
}

// moveControlEdges gives the node "to" the control edges the replaced nodes have with nodes
// outside of the replaced set. The replaced nodes keep theirs until they are isolated.
func moveControlEdges(txn *rewrite.Txn, replaced []*graph.Node, to graph.NodeID) error {
	g := txn.Graph()
	ids := make([]graph.NodeID, len(replaced))
	for ii, n := range replaced {
		ids[ii] = n.ID()
	}
	for _, n := range replaced {
		for _, src := range n.ControlInputs() {
			if slices.Contains(ids, src) {
				continue
			}
			if _, _, found := g.ControlEdgePosition(src, to); found {
				continue
			}
			if err := txn.AddControlEdge(src, to); err != nil {
				return err
			}
		}
		for _, dst := range n.ControlOutputs() {
			if slices.Contains(ids, dst) {
				continue
			}
			if _, _, found := g.ControlEdgePosition(to, dst); found {
				continue
			}
			if err := txn.AddControlEdge(to, dst); err != nil {
				return err
			}
		}
	}
	return nil
}

// removeReplaced isolates the nodes and schedules their removal.
func removeReplaced(txn *rewrite.Txn, replaced ...*graph.Node) error {
	for _, n := range replaced {
		if err := txn.IsolateNode(n.ID()); err != nil {
			return err
		}
		if err := txn.RemoveNode(n.ID()); err != nil {
			return err
		}
	}
	return nil
}

// hasSingleConsumer returns whether the node's outputs feed exactly one node.
func hasSingleConsumer(g *graph.Graph, n *graph.Node) bool {
	return len(g.DataConsumers(n.ID())) == 1
}
