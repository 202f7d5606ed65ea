// Package report renders grading events into human-readable artifacts.
//
// The grader drives a Sink through a fixed sequence of events:
//
//	BeginBatch
//	  BeginProject [BuildOutput] (BeginRun RunResult)* EndProject   (per project)
//	EndBatch
//
// Sinks never see projects out of order and are only called from one
// goroutine. Any error returned by a sink aborts the batch.
package report

import (
	"fmt"
	"time"

	"github.com/jvolcy/autograder/internal/analytics"
)

// Messages shown to graders for per-project failures.
const (
	MsgBuildSucceeded = "Compilation succeeded."
	MsgBuildFailed    = "Executable not found. Check compiler output."
)

// TimeoutMessage is the warning attached to a run that hit its deadline.
func TimeoutMessage(timeout time.Duration) string {
	return fmt.Sprintf("Maximum execution time of %g seconds exceeded.  Process forcefully terminated... output may be lost.",
		timeout.Seconds())
}

// BatchInfo describes the batch being graded.
type BatchInfo struct {
	ID            string
	SourceDir     string
	Language      string // display name, e.g. "C++"
	Tool          string
	IncludeSource bool
	TestData      []string
	StartedAt     time.Time
	Host          string
	Version       string
}

// Listing is the full text of one source file.
type Listing struct {
	Path   string
	Source []byte
}

// ProjectInfo describes one submission.
type ProjectInfo struct {
	Index    int
	Kind     string
	Path     string
	Label    string
	Sources  []string
	Metrics  []analytics.Metrics
	Listings []Listing
}

// BuildInfo is the outcome of compiling a project.
type BuildInfo struct {
	Output    []byte
	Truncated bool
	Succeeded bool
	Err       string
}

// RunInfo is the outcome of one run of a project.
type RunInfo struct {
	TestData  string
	Output    []byte
	Truncated bool
	Elapsed   time.Duration
	TimedOut  bool
	Timeout   time.Duration
	ExitCode  int
	Err       string
}

// BatchEnd closes a batch.
type BatchEnd struct {
	Count      int
	Language   string
	Tool       string
	FinishedAt time.Time
}

// Sink receives grading events in report order.
type Sink interface {
	BeginBatch(BatchInfo) error
	BeginProject(ProjectInfo) error
	BuildOutput(BuildInfo) error
	BeginRun(testData string) error
	RunResult(RunInfo) error
	EndProject(ProjectInfo) error
	EndBatch(BatchEnd) error
}

// Tee fans events out to every sink in order, stopping at the first error.
func Tee(sinks ...Sink) Sink {
	return tee(sinks)
}

type tee []Sink

func (t tee) each(fn func(Sink) error) error {
	for _, s := range t {
		if err := fn(s); err != nil {
			return err
		}
	}
	return nil
}

func (t tee) BeginBatch(b BatchInfo) error {
	return t.each(func(s Sink) error { return s.BeginBatch(b) })
}

func (t tee) BeginProject(p ProjectInfo) error {
	return t.each(func(s Sink) error { return s.BeginProject(p) })
}

func (t tee) BuildOutput(b BuildInfo) error {
	return t.each(func(s Sink) error { return s.BuildOutput(b) })
}

func (t tee) BeginRun(testData string) error {
	return t.each(func(s Sink) error { return s.BeginRun(testData) })
}

func (t tee) RunResult(r RunInfo) error {
	return t.each(func(s Sink) error { return s.RunResult(r) })
}

func (t tee) EndProject(p ProjectInfo) error {
	return t.each(func(s Sink) error { return s.EndProject(p) })
}

func (t tee) EndBatch(e BatchEnd) error {
	return t.each(func(s Sink) error { return s.EndBatch(e) })
}
