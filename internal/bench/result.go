package bench

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/fxnlabs/gemmbench/internal/gpu"
)

// Result is the measurement of one successful shape. It is never modified
// after it has been recorded.
type Result struct {
	Shape      Shape           `json:"shape"`
	DType      gpu.ElementType `json:"dtype"`
	Iterations int             `json:"iterations"`
	// ElapsedMillis is the wall time of all timed calls together.
	ElapsedMillis float64 `json:"elapsedMillis"`
	AvgMillis     float64 `json:"avgMillis"`
	TOPS          float64 `json:"tops"`
}

// Failure records a shape that did not produce a measurement.
type Failure struct {
	Shape   Shape           `json:"shape"`
	DType   gpu.ElementType `json:"dtype"`
	Kind    gpu.Kind        `json:"kind"`
	Message string          `json:"error"`
	Err     error           `json:"-"`
}

func newFailure(shape Shape, dtype gpu.ElementType, err error) Failure {
	return Failure{Shape: shape, DType: dtype, Kind: gpu.KindOf(err), Message: err.Error(), Err: err}
}

// Outcome is one entry of the sweep: exactly one of Result and Failure is set.
type Outcome struct {
	Result  *Result  `json:"result,omitempty"`
	Failure *Failure `json:"failure,omitempty"`
}

// Report is the ordered record of a run. Outcomes are in sweep order.
type Report struct {
	RunID    uuid.UUID            `json:"runId"`
	Driver   string               `json:"driver"`
	Device   gpu.DeviceProperties `json:"device"`
	Options  Options              `json:"options"`
	Started  time.Time            `json:"started"`
	Finished time.Time            `json:"finished"`
	Outcomes []Outcome            `json:"outcomes"`
}

func newReport(driver string, opts Options, started time.Time) *Report {
	return &Report{
		RunID:   uuid.New(),
		Driver:  driver,
		Options: opts,
		Started: started,
	}
}

func (r *Report) addResult(res Result) {
	r.Outcomes = append(r.Outcomes, Outcome{Result: &res})
}

func (r *Report) addFailure(f Failure) {
	r.Outcomes = append(r.Outcomes, Outcome{Failure: &f})
}

// Results returns the successful measurements in sweep order.
func (r *Report) Results() []Result {
	var out []Result
	for _, o := range r.Outcomes {
		if o.Result != nil {
			out = append(out, *o.Result)
		}
	}
	return out
}

// Failures returns the failed shapes in sweep order.
func (r *Report) Failures() []Failure {
	var out []Failure
	for _, o := range r.Outcomes {
		if o.Failure != nil {
			out = append(out, *o.Failure)
		}
	}
	return out
}

// TopN returns up to n results ordered by TOPS, highest first. Equal TOPS
// keep sweep order. n <= 0 returns all results. The report is not modified.
func (r *Report) TopN(n int) []Result {
	return topN(r.Results(), n)
}

func topN(results []Result, n int) []Result {
	sorted := slices.Clone(results)
	slices.SortStableFunc(sorted, func(a, b Result) int {
		switch {
		case a.TOPS > b.TOPS:
			return -1
		case a.TOPS < b.TOPS:
			return 1
		default:
			return 0
		}
	})
	if n > 0 && n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted
}

// Summary aggregates the successful shapes only.
type Summary struct {
	Shapes    int     `json:"shapes"`
	Succeeded int     `json:"succeeded"`
	Failed    int     `json:"failed"`
	BestTOPS  float64 `json:"bestTops"`
	MeanTOPS  float64 `json:"meanTops"`
	Best      *Result `json:"best,omitempty"`
}

// Summary computes the end-of-run statistics.
func (r *Report) Summary() Summary {
	s := Summary{Shapes: len(r.Outcomes)}
	var total float64
	for _, o := range r.Outcomes {
		if o.Failure != nil {
			s.Failed++
			continue
		}
		s.Succeeded++
		total += o.Result.TOPS
		if s.Best == nil || o.Result.TOPS > s.Best.TOPS {
			best := *o.Result
			s.Best = &best
		}
	}
	if s.Best != nil {
		s.BestTOPS = s.Best.TOPS
		s.MeanTOPS = total / float64(s.Succeeded)
	}
	return s
}
