// Package suite carries the orchestration vocabulary shared by the
// conformance suites: pass/fail/skip outcomes, skip plumbing, and the subtest
// matrices the runner iterates.
package suite

import (
	"errors"
	"fmt"
	"log"
	"time"
)

type Outcome int

const (
	Pass Outcome = iota
	Fail
	Skip
)

func (o Outcome) String() string {
	switch o {
	case Pass:
		return "pass"
	case Fail:
		return "fail"
	case Skip:
		return "skip"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// errSkip marks conditions where a subtest declines to run: missing hardware
// capability, absent output. Skips are not failures.
var errSkip = errors.New("skip")

// Skipf builds a skip error.
func Skipf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errSkip}, args...)...)
}

// IsSkip reports whether err is a skip condition.
func IsSkip(err error) bool {
	return errors.Is(err, errSkip)
}

// Require turns a false condition into a skip, the way a test declines to run
// on hardware that lacks a capability.
func Require(cond bool, format string, args ...any) error {
	if cond {
		return nil
	}
	return Skipf(format, args...)
}

// Result is the record of one executed subtest.
type Result struct {
	Suite    string
	Name     string
	Outcome  Outcome
	Detail   string
	Duration time.Duration

	RefCRC   string
	OutCRC   string
	DumpPath string
}

// Recorder receives results as they are produced.
type Recorder interface {
	Record(Result) error
}

// Runner executes subtests, translating returned errors into outcomes and
// forwarding them to a recorder.
type Runner struct {
	Suite string
	Log   *log.Logger
	Rec   Recorder

	counts map[Outcome]int
}

func NewRunner(suiteName string, logger *log.Logger, rec Recorder) *Runner {
	return &Runner{Suite: suiteName, Log: logger, Rec: rec, counts: map[Outcome]int{}}
}

// Run executes one subtest. fn's nil return is a pass, a skip error is a
// skip, anything else a failure.
func (r *Runner) Run(name string, fn func() error) Result {
	return r.RunDetailed(name, func(*Result) error { return fn() })
}

// RunDetailed is Run for subtests that annotate their own record: fn may fill
// in checksums and dump paths on res before returning.
func (r *Runner) RunDetailed(name string, fn func(res *Result) error) Result {
	start := time.Now()
	res := Result{
		Suite: r.Suite,
		Name:  name,
	}
	err := fn(&res)
	res.Duration = time.Since(start)
	switch {
	case err == nil:
		res.Outcome = Pass
	case IsSkip(err):
		res.Outcome = Skip
		res.Detail = err.Error()
	default:
		res.Outcome = Fail
		res.Detail = err.Error()
	}
	r.counts[res.Outcome]++
	if r.Log != nil {
		if res.Detail != "" {
			r.Log.Printf("%s/%s: %s (%s)", r.Suite, name, res.Outcome, res.Detail)
		} else {
			r.Log.Printf("%s/%s: %s", r.Suite, name, res.Outcome)
		}
	}
	if r.Rec != nil {
		if err := r.Rec.Record(res); err != nil && r.Log != nil {
			r.Log.Printf("record %s/%s: %v", r.Suite, name, err)
		}
	}
	return res
}

// Counts reports how many subtests ended in each outcome.
func (r *Runner) Counts() (pass, fail, skip int) {
	return r.counts[Pass], r.counts[Fail], r.counts[Skip]
}
