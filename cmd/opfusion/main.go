// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// opfusion reads graphs from a YAML graph file, runs all the registered fusion passes over them
// and writes the optimized graphs back.
//
// Usage:
//
//	opfusion -in graphs.yaml -out fused.yaml [-config opfusion.yaml] [-stats]
//
// Without -config, the configuration is read from the file in $OPFUSION_CONFIG, or the
// defaults are used.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gomlx/opfusion/pkg/config"
	"github.com/gomlx/opfusion/pkg/fusion"
	"github.com/gomlx/opfusion/pkg/graph"
	"github.com/gomlx/opfusion/pkg/graphfile"
	"github.com/gomlx/opfusion/pkg/ops"
	"github.com/gomlx/opfusion/pkg/optimizer"
	"github.com/gomlx/opfusion/pkg/passes"
	"github.com/gomlx/opfusion/pkg/registry"
	"github.com/janpfeifer/must"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

var (
	flagIn          = flag.String("in", "", "YAML graph file to optimize. It may hold several graphs.")
	flagOut         = flag.String("out", "", "Where to write the optimized graphs. If empty, they are not written.")
	flagConfig      = flag.String("config", "", "YAML configuration file. Defaults to $"+config.EnvConfig+".")
	flagParallelism = flag.Int("parallelism", 0, "If set, overrides the number of graphs optimized in parallel.")
	flagStats       = flag.Bool("stats", true, "Print the statistics of each pass.")
	flagList        = flag.Bool("list", false, "List the registered passes and exit.")
	flagProgress    = flag.Bool("progress", true, "Display a progress bar while optimizing.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	reg := registry.New()
	passes.Register(reg)
	cfg := must.M1(loadConfig())
	if *flagList {
		listPasses(reg, cfg)
		return
	}
	if *flagIn == "" {
		klog.Errorf("Missing -in graph file. See 'opfusion -help'.")
		os.Exit(1)
	}
	if *flagParallelism != 0 {
		cfg.Parallelism = *flagParallelism
	}
	graphs := must.M1(graphfile.Load(*flagIn))
	klog.V(1).Infof("read %d graphs from %q", len(graphs), *flagIn)

	var bar *progressbar.ProgressBar
	if *flagProgress {
		bar = progressbar.Default(int64(len(graphs)), "optimizing")
	}
	opt, reports, err := optimize(reg, cfg, graphs, func(*graph.Graph, *optimizer.Report) {
		if bar != nil {
			_ = bar.Add(1)
		}
	})
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		klog.Exitf("Optimization failed: %+v", err)
	}

	if *flagStats {
		printReports(graphs, reports, opt.Recorder())
	}
	if *flagOut != "" {
		must.M(graphfile.Save(*flagOut, graphs...))
		klog.V(1).Infof("wrote %d graphs to %q", len(graphs), *flagOut)
	}
}

func loadConfig() (*config.Config, error) {
	if *flagConfig != "" {
		return config.Load(*flagConfig)
	}
	return config.FromEnv()
}

// optimize runs all the passes of the registry over the graphs, in place.
func optimize(reg *registry.Registry, cfg *config.Config, graphs []*graph.Graph,
	progress func(*graph.Graph, *optimizer.Report)) (*optimizer.Optimizer, []*optimizer.Report, error) {
	opt, err := optimizer.New(reg, ops.NewBuiltinRegistry(), cfg)
	if err != nil {
		return nil, nil, err
	}
	reports, err := opt.RunAll(graphs, progress)
	return opt, reports, err
}

func listPasses(reg *registry.Registry, cfg *config.Config) {
	table := newPlainTable(true)
	table.Row("pass", "category", "convention", "enabled")
	runner := fusion.NewRunner(ops.NewBuiltinRegistry(), nil, fusion.Options{Convention: cfg.VerifyConvention()})
	for _, cat := range registry.Categories {
		for _, e := range reg.LookupByCategory(cat) {
			table.Row(e.Name, cat.String(), runner.ConventionOf(e.Factory()).String(),
				fmt.Sprint(cfg.IsEnabled(e.Name)))
		}
	}
	fmt.Println(titleStyle.Render("Registered passes"))
	fmt.Println(table.Render())
}
