// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/opfusion/pkg/fusion"
	"github.com/gomlx/opfusion/pkg/graph"
	"github.com/gomlx/opfusion/pkg/optimizer"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == 1 {
				s = headerRowStyle
				return
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Left)
			} else {
				s = s.Align(lipgloss.Right)
			}
			return
		})
}

// printReports prints one table per graph, and the totals per pass.
func printReports(graphs []*graph.Graph, reports []*optimizer.Report, recorder *fusion.Recorder) {
	fmt.Print(renderReports(graphs, reports, recorder))
}

func renderReports(graphs []*graph.Graph, reports []*optimizer.Report, recorder *fusion.Recorder) string {
	var out string
	for ii, g := range graphs {
		report := reports[ii]
		if report == nil {
			continue
		}
		out += titleStyle.Render(fmt.Sprintf("Graph %q (%s nodes)", g.Name(), humanize.Comma(int64(g.NumNodes())))) + "\n"
		table := newPlainTable(true)
		table.Row("pass", "status", "matched", "fused", "skipped")
		for _, res := range report.Results {
			table.Row(res.Pass, res.Status.String(),
				humanize.Comma(int64(res.Matched)),
				humanize.Comma(int64(res.Effective)),
				humanize.Comma(int64(res.Skipped)))
		}
		out += table.Render() + "\n"
		for _, err := range report.Failures {
			out += fmt.Sprintf("  failure: %v\n", err)
		}
	}

	if recorder == nil {
		return out
	}
	out += titleStyle.Render("Totals") + "\n"
	table := newPlainTable(true)
	table.Row("pass", "matched", "fused")
	for _, pass := range recorder.Passes() {
		s := recorder.PassTotals(pass)
		table.Row(pass, humanize.Comma(s.Matched), humanize.Comma(s.Effective))
	}
	out += table.Render() + "\n"
	return out
}
