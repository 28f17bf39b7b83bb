// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fusion

import (
	"cmp"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// StatsKey identifies the statistics of one pass over one graph.
type StatsKey struct {
	Pass  string
	Graph uuid.UUID
}

// Stats counts the mappings a pass verified (Matched) and the ones it fused (Effective).
type Stats struct {
	Matched, Effective int64
}

// Recorder accumulates Stats per pass and graph. It is safe for concurrent use: one Recorder is
// shared by all the workers optimizing different graphs.
type Recorder struct {
	mu    sync.Mutex
	stats map[StatsKey]Stats
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{stats: make(map[StatsKey]Stats)}
}

// Add increments the counters of the pass for the graph.
func (r *Recorder) Add(pass string, graphID uuid.UUID, matched, effective int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := StatsKey{Pass: pass, Graph: graphID}
	s := r.stats[key]
	s.Matched += matched
	s.Effective += effective
	r.stats[key] = s
}

// Get returns the counters of the pass for the graph.
func (r *Recorder) Get(pass string, graphID uuid.UUID) Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats[StatsKey{Pass: pass, Graph: graphID}]
}

// PassTotals sums the counters of the pass over all graphs.
func (r *Recorder) PassTotals(pass string) Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total Stats
	for key, s := range r.stats {
		if key.Pass == pass {
			total.Matched += s.Matched
			total.Effective += s.Effective
		}
	}
	return total
}

// Passes lists the names of the passes with recorded statistics, sorted.
func (r *Recorder) Passes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for key := range r.stats {
		if !slices.Contains(names, key.Pass) {
			names = append(names, key.Pass)
		}
	}
	slices.Sort(names)
	return names
}

// Snapshot returns a copy of all counters.
func (r *Recorder) Snapshot() map[StatsKey]Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make(map[StatsKey]Stats, len(r.stats))
	for key, s := range r.stats {
		snapshot[key] = s
	}
	return snapshot
}

// SortedKeys returns the keys of a snapshot sorted by pass name and graph id.
func SortedKeys(snapshot map[StatsKey]Stats) []StatsKey {
	keys := make([]StatsKey, 0, len(snapshot))
	for key := range snapshot {
		keys = append(keys, key)
	}
	slices.SortFunc(keys, func(a, b StatsKey) int {
		if c := cmp.Compare(a.Pass, b.Pass); c != 0 {
			return c
		}
		return cmp.Compare(a.Graph.String(), b.Graph.String())
	})
	return keys
}

// Reset clears all counters.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = make(map[StatsKey]Stats)
}
