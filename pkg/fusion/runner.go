// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion

import (
	"slices"
	"sync/atomic"

	"github.com/gomlx/opfusion/pkg/graph"
	"github.com/gomlx/opfusion/pkg/matcher"
	"github.com/gomlx/opfusion/pkg/ops"
	"github.com/gomlx/opfusion/pkg/rewrite"
	"github.com/gomlx/opfusion/pkg/status"
	"github.com/gomlx/opfusion/pkg/support/sets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// State of a pass run.
type State int

//go:generate go tool enumer -type=State -trimprefix=State -output=gen_state_enumer.go runner.go

const (
	StateDefined State = iota
	StateMatching
	StateVerifying
	StateRewriting
	StateDone
)

// RunResult reports one run of a pass over one graph.
type RunResult struct {
	Pass   string
	Status status.Status

	// State is StateDone once Run returns. History lists the states went through, without
	// consecutive repetitions.
	State   State
	History []State

	// Matched counts the mappings handed to the pass, Effective the ones it fused, and Skipped
	// the mappings not handed to the pass because they touch consumed nodes.
	Matched, Effective, Skipped int

	// Fused lists, for each accepted mapping, the nodes returned by the pass.
	Fused [][]graph.NodeID
}

func (res *RunResult) enter(s State) {
	res.State = s
	if len(res.History) == 0 || res.History[len(res.History)-1] != s {
		res.History = append(res.History, s)
	}
}

// Options configures a Runner.
type Options struct {
	// Convention applies to passes that don't implement ConventionDeclarer.
	Convention Convention

	// MaxMappings caps the mappings matched per pattern. 0 means no limit.
	MaxMappings int
}

// Runner runs fusion passes. One Runner can be used concurrently on different graphs.
type Runner struct {
	ops      *ops.Registry
	matcher  *matcher.Matcher
	recorder *Recorder
	opts     Options
	scopeIDs atomic.Int64
}

// NewRunner creates a Runner. The recorder may be nil, in which case no statistics are kept.
func NewRunner(opsRegistry *ops.Registry, recorder *Recorder, opts Options) *Runner {
	return &Runner{
		ops:      opsRegistry,
		matcher:  matcher.New(matcher.Options{Ops: opsRegistry, MaxMappings: opts.MaxMappings}),
		recorder: recorder,
		opts:     opts,
	}
}

// Recorder returns the statistics recorder, possibly nil.
func (r *Runner) Recorder() *Recorder { return r.recorder }

// ConventionOf returns the verification convention that applies to the pass.
func (r *Runner) ConventionOf(p Pass) Convention {
	if d, ok := p.(ConventionDeclarer); ok {
		return d.VerifyConvention()
	}
	return r.opts.Convention
}

// Run runs the pass over the graph. The returned error is non-nil if the run ended with
// status.Failed or status.ParamInvalid, in which case mappings fused before the failure stay
// fused and the mapping being processed is rolled back.
func (r *Runner) Run(g *graph.Graph, p Pass) (*RunResult, error) {
	res := &RunResult{Pass: p.Name()}
	res.enter(StateDefined)
	graphPass, isGraph := p.(GraphPass)
	bufferPass, isBuffer := p.(BufferPass)
	if !isGraph && !isBuffer {
		return r.finish(g, res, status.Errorf(status.ParamInvalid, "pass %q is neither a GraphPass nor a BufferPass", p.Name()))
	}
	convention := r.ConventionOf(p)
	consumed := sets.Make[graph.NodeID]()

	for _, pat := range p.DefinePatterns() {
		res.enter(StateMatching)
		mappings, err := r.matcher.Match(g, pat)
		if err != nil {
			return r.finish(g, res, errors.WithMessagef(err, "pass %q", p.Name()))
		}
		for _, m := range mappings {
			res.enter(StateMatching)
			if isTaken(g, m, consumed, isBuffer) {
				res.Skipped++
				continue
			}
			res.enter(StateVerifying)
			res.Matched++
			ctx := &Context{Graph: g, Ops: r.ops, Txn: rewrite.Begin(g, r.ops), passName: p.Name(), consumed: consumed}
			var (
				st    status.Status
				nodes []graph.NodeID
			)
			if isGraph {
				st, nodes, err = graphPass.Fuse(ctx, m)
			} else {
				st, nodes, err = bufferPass.GetFusionNodes(ctx, m)
			}
			st, err = normalize(p.Name(), st, nodes, err, convention)
			if st != status.Success {
				if rbErr := ctx.Txn.Rollback(); rbErr != nil {
					return r.finish(g, res, rbErr)
				}
				if st == status.NotChanged {
					if klog.V(2).Enabled() {
						klog.Infof("%s: mapping %s not fused", p.Name(), m.Format(g))
					}
					continue
				}
				return r.finish(g, res, err)
			}

			res.enter(StateRewriting)
			if isBuffer {
				err = r.tagScope(ctx, m, nodes)
			} else {
				err = checkFused(ctx, nodes)
			}
			if err == nil {
				err = ctx.Txn.Commit()
			}
			if err != nil {
				if rbErr := ctx.Txn.Rollback(); rbErr != nil {
					klog.Errorf("%s: rollback after failure %v also failed: %+v", p.Name(), err, rbErr)
				}
				return r.finish(g, res, err)
			}
			consumed.Insert(m.All()...)
			consumed.Insert(nodes...)
			res.Effective++
			res.Fused = append(res.Fused, slices.Clone(nodes))
			if klog.V(2).Enabled() {
				klog.Infof("%s: fused %s into %v", p.Name(), m.Format(g), nodes)
			}
		}
	}
	return r.finish(g, res, nil)
}

// isTaken returns whether the mapping touches a node removed or consumed by an earlier mapping,
// or, for buffer passes, a node already in a fusion scope.
func isTaken(g *graph.Graph, m *matcher.Mapping, consumed sets.Set[graph.NodeID], isBuffer bool) bool {
	for _, id := range m.All() {
		n, found := g.Node(id)
		if !found || consumed.Has(id) {
			return true
		}
		if _, tagged := n.Attr(ScopeIDAttr); isBuffer && tagged {
			return true
		}
	}
	return false
}

// normalize applies the verification convention and makes sure failures carry an error.
func normalize(passName string, st status.Status, nodes []graph.NodeID, err error, convention Convention) (status.Status, error) {
	if err != nil {
		if code := status.Of(err); code != status.Failed || !st.IsError() {
			st = code
		}
		return st, status.Wrapf(err, st, "pass %q", passName)
	}
	switch st {
	case status.Success:
		if len(nodes) > 0 {
			return st, nil
		}
		if convention == ConventionEmptyIsNoOp {
			return status.NotChanged, nil
		}
		return status.Failed, status.Errorf(status.Failed,
			"pass %q returned SUCCESS without fusion nodes, which its verification convention (%s) doesn't allow",
			passName, convention)
	case status.NotChanged:
		return st, nil
	case status.Failed, status.ParamInvalid:
		return st, status.Errorf(st, "pass %q failed with %s", passName, st)
	}
	return status.Failed, status.Errorf(status.Failed, "pass %q returned unknown status %d", passName, int(st))
}

// checkFused verifies the nodes returned by a graph pass are live and not being removed.
func checkFused(ctx *Context, nodes []graph.NodeID) error {
	scheduled := ctx.Txn.Scheduled()
	for _, id := range nodes {
		if !ctx.Graph.Has(id) || slices.Contains(scheduled, id) {
			return status.Errorf(status.Failed, "pass %q returned node %s, which is not in the rewritten graph",
				ctx.passName, id)
		}
	}
	return nil
}

// tagScope discards any edit the buffer pass made, and tags the fusion nodes with a new scope.
func (r *Runner) tagScope(ctx *Context, m *matcher.Mapping, nodes []graph.NodeID) error {
	if ctx.Txn.Len() > 0 {
		if err := ctx.Txn.Rollback(); err != nil {
			return err
		}
		ctx.Txn = rewrite.Begin(ctx.Graph, r.ops)
	}
	mapped := m.All()
	for _, id := range nodes {
		if !slices.Contains(mapped, id) {
			return status.Errorf(status.Failed, "pass %q returned node %s, which is not part of the mapping", ctx.passName, id)
		}
	}
	scope := r.scopeIDs.Add(1)
	for _, id := range nodes {
		if err := ctx.Txn.SetAttr(id, ScopeIDAttr, graph.AttrInt(scope)); err != nil {
			return err
		}
		if err := ctx.Txn.SetAttr(id, ScopePassAttr, graph.AttrString(ctx.passName)); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) finish(g *graph.Graph, res *RunResult, err error) (*RunResult, error) {
	switch {
	case err != nil:
		res.Status = status.Of(err)
	case res.Effective > 0:
		res.Status = status.Success
	default:
		res.Status = status.NotChanged
	}
	res.enter(StateDone)
	if r.recorder != nil {
		r.recorder.Add(res.Pass, g.ID(), int64(res.Matched), int64(res.Effective))
	}
	klog.V(1).Infof("%s on graph %q: %s, %d matched, %d fused, %d skipped",
		res.Pass, g.Name(), res.Status, res.Matched, res.Effective, res.Skipped)
	return res, err
}
