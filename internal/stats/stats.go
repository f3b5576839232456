// Package stats renders a periodic terminal table of per-worker counters,
// the console analogue of the bridge's Prometheus metrics.
package stats

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"text/tabwriter"
	"time"
)

// WorkerStats is one worker's running counters.
type WorkerStats struct {
	Accepted   uint64
	Rejected   uint64
	Stale      uint64
	Difficulty float64
	Family     string
	ConnectedAt time.Time
}

// Table accumulates per-worker counters and renders them on a ticker.
type Table struct {
	mu      sync.Mutex
	workers map[string]*WorkerStats
}

// NewTable builds an empty stats table.
func NewTable() *Table {
	return &Table{workers: make(map[string]*WorkerStats)}
}

// Accepted records an accepted share for worker.
func (t *Table) Accepted(worker, family string, difficulty float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w := t.get(worker, family)
	w.Accepted++
	w.Difficulty = difficulty
}

// Rejected records a rejected share for worker, categorized as stale or not.
func (t *Table) Rejected(worker, family string, stale bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w := t.get(worker, family)
	w.Rejected++
	if stale {
		w.Stale++
	}
}

func (t *Table) get(worker, family string) *WorkerStats {
	w, ok := t.workers[worker]
	if !ok {
		w = &WorkerStats{Family: family, ConnectedAt: time.Now()}
		t.workers[worker] = w
	}
	return w
}

// Remove drops a worker's row, called when its session closes.
func (t *Table) Remove(worker string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.workers, worker)
}

// Run renders the table to stdout every interval until ctx-like stop
// channel closes.
func (t *Table) Run(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.render()
		case <-stop:
			return
		}
	}
}

func (t *Table) render() {
	t.mu.Lock()
	names := make([]string, 0, len(t.workers))
	for name := range t.workers {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WORKER\tFAMILY\tDIFF\tACCEPTED\tREJECTED\tSTALE\tUPTIME")
	for _, name := range names {
		ws := t.workers[name]
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%d\t%d\t%d\t%s\n",
			name, ws.Family, ws.Difficulty, ws.Accepted, ws.Rejected, ws.Stale,
			time.Since(ws.ConnectedAt).Round(time.Second))
	}
	t.mu.Unlock()
	w.Flush()
}
