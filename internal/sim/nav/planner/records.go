package planner

import (
	"time"

	"voxelpath.ai/internal/sim/nav/cell"
)

// SearchRecord summarises one finished search.
type SearchRecord struct {
	Time      time.Time `json:"time"`
	Planner   string    `json:"planner"`
	Start     [3]int    `json:"start"`
	Goal      string    `json:"goal"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason"`
	Expanded  int       `json:"expanded"`
	ElapsedMs float64   `json:"elapsed_ms"`
	PathLen   int       `json:"path_len"`
	Cost      float64   `json:"cost"`
	Epsilon   float64   `json:"epsilon"`
}

// FailureRecord is one execution failure reported back to the planner.
type FailureRecord struct {
	Time     time.Time `json:"time"`
	Planner  string    `json:"planner"`
	Src      [3]int    `json:"src"`
	Dst      [3]int    `json:"dst"`
	Kind     string    `json:"kind"`
	Reason   string    `json:"reason"`
	Attempts int       `json:"attempts"`
}

// Recorder receives planner records. Implementations must not block.
type Recorder interface {
	RecordSearch(SearchRecord)
	RecordFailure(FailureRecord)
}

type multiRecorder []Recorder

// MultiRecorder fans records out to every non-nil recorder.
func MultiRecorder(rs ...Recorder) Recorder {
	out := make(multiRecorder, 0, len(rs))
	for _, r := range rs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func (m multiRecorder) RecordSearch(r SearchRecord) {
	for _, rec := range m {
		rec.RecordSearch(r)
	}
}

func (m multiRecorder) RecordFailure(r FailureRecord) {
	for _, rec := range m {
		rec.RecordFailure(r)
	}
}

func triple(c cell.Cell) [3]int { return [3]int{c.X, c.Y, c.Z} }
