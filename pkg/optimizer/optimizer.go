// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package optimizer runs all the registered fusion passes over graphs: graph passes first, then
// buffer passes, each category in registration order.
package optimizer

import (
	"github.com/gomlx/opfusion/internal/workerspool"
	"github.com/gomlx/opfusion/pkg/config"
	"github.com/gomlx/opfusion/pkg/fusion"
	"github.com/gomlx/opfusion/pkg/graph"
	"github.com/gomlx/opfusion/pkg/ops"
	"github.com/gomlx/opfusion/pkg/registry"
	"github.com/gomlx/opfusion/pkg/status"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Report of the optimization of one graph.
type Report struct {
	Graph string

	// Results of each pass run, in order.
	Results []*fusion.RunResult

	// Failures of passes skipped because of config.OnFailureSkip.
	Failures []error
}

// Effective returns the number of mappings fused by all passes.
func (r *Report) Effective() int {
	var total int
	for _, res := range r.Results {
		total += res.Effective
	}
	return total
}

// Changed returns whether any pass changed the graph.
func (r *Report) Changed() bool {
	return r.Effective() > 0
}

// Optimizer runs the passes of a registry. It can be used concurrently on different graphs.
type Optimizer struct {
	registry *registry.Registry
	runner   *fusion.Runner
	cfg      *config.Config
}

// New creates an Optimizer. A nil cfg uses config.Default.
func New(reg *registry.Registry, opsRegistry *ops.Registry, cfg *config.Config) (*Optimizer, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if reg == nil || opsRegistry == nil {
		return nil, status.Errorf(status.ParamInvalid, "optimizer.New: pass and ops registries are required")
	}
	runner := fusion.NewRunner(opsRegistry, fusion.NewRecorder(), fusion.Options{
		Convention:  cfg.VerifyConvention(),
		MaxMappings: cfg.MaxMappings,
	})
	return &Optimizer{registry: reg, runner: runner, cfg: cfg}, nil
}

// Recorder returns the statistics of all the passes run by the Optimizer.
func (o *Optimizer) Recorder() *fusion.Recorder { return o.runner.Recorder() }

// Config returns the configuration in use.
func (o *Optimizer) Config() *config.Config { return o.cfg }

// instantiate creates the pass of the entry, checking it implements its category's interface.
func instantiate(e registry.Entry) (fusion.Pass, error) {
	p := e.Factory()
	var ok bool
	switch e.Category {
	case registry.CategoryGraph:
		_, ok = p.(fusion.GraphPass)
	case registry.CategoryBuffer:
		_, ok = p.(fusion.BufferPass)
	}
	if !ok {
		return nil, status.Errorf(status.ParamInvalid, "pass %q registered as a %s pass doesn't implement it",
			e.Name, e.Category)
	}
	return p, nil
}

// Run runs the enabled passes over the graph.
//
// With config.OnFailureAbort, the first failing pass stops the optimization and its error is
// returned along with the partial report. With config.OnFailureSkip, failures are logged and
// listed in Report.Failures.
func (o *Optimizer) Run(g *graph.Graph) (*Report, error) {
	report := &Report{Graph: g.Name()}
	for _, category := range registry.Categories {
		for _, e := range o.registry.LookupByCategory(category) {
			if !o.cfg.IsEnabled(e.Name) {
				klog.V(2).Infof("graph %q: pass %q disabled", g.Name(), e.Name)
				continue
			}
			p, err := instantiate(e)
			if err == nil {
				var res *fusion.RunResult
				res, err = o.runner.Run(g, p)
				report.Results = append(report.Results, res)
			}
			if err == nil {
				continue
			}
			err = errors.WithMessagef(err, "graph %q", g.Name())
			if o.cfg.OnFailure == config.OnFailureAbort {
				return report, err
			}
			klog.Warningf("skipping failed pass: %v", err)
			report.Failures = append(report.Failures, err)
		}
	}
	if err := g.Validate(); err != nil {
		return report, status.Wrapf(err, status.Failed, "graph %q invalid after optimization", g.Name())
	}
	return report, nil
}

// RunAll optimizes independent graphs in parallel, one graph per worker, according to
// config.Config.Parallelism. The optional progress function is called after each graph is done,
// possibly concurrently.
//
// It returns one report per graph, and the error of the first graph (in the given order) that
// failed, if any.
func (o *Optimizer) RunAll(graphs []*graph.Graph, progress func(g *graph.Graph, report *Report)) ([]*Report, error) {
	reports := make([]*Report, len(graphs))
	errs := make([]error, len(graphs))
	pool := workerspool.NewWithParallelism(o.cfg.Parallelism)
	pool.ForEach(len(graphs), func(ii int) {
		reports[ii], errs[ii] = o.Run(graphs[ii])
		if progress != nil {
			progress(graphs[ii], reports[ii])
		}
	})
	for _, err := range errs {
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}
