// summary.go collects grading events into a machine-readable Summary, used
// for history, uploads and NATS publishing.
package report

import (
	"time"

	"github.com/jvolcy/autograder/internal/analytics"
)

// Summary is the machine-readable form of a batch report.
type Summary struct {
	ID         string           `json:"id"`
	SourceDir  string           `json:"source_dir"`
	Language   string           `json:"language"`
	Tool       string           `json:"tool"`
	Host       string           `json:"host,omitempty"`
	Version    string           `json:"version"`
	TestData   []string         `json:"test_data"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Count      int              `json:"count"`
	Projects   []ProjectSummary `json:"projects"`
}

// ProjectSummary is one project's entry in a Summary.
type ProjectSummary struct {
	Label       string              `json:"label"`
	Path        string              `json:"path"`
	Kind        string              `json:"kind"`
	Metrics     []analytics.Metrics `json:"metrics,omitempty"`
	Built       bool                `json:"built"`
	BuildFailed bool                `json:"build_failed"`
	Runs        []RunSummary        `json:"runs"`
}

// RunSummary is one run's entry in a ProjectSummary.
type RunSummary struct {
	TestData  string  `json:"test_data,omitempty"`
	Seconds   float64 `json:"seconds"`
	TimedOut  bool    `json:"timed_out"`
	Truncated bool    `json:"truncated"`
	ExitCode  int     `json:"exit_code"`
	Output    string  `json:"output"`
	Error     string  `json:"error,omitempty"`
}

// TimedOutRuns counts the runs in s that hit their deadline.
func (s *Summary) TimedOutRuns() int {
	n := 0
	for _, p := range s.Projects {
		for _, r := range p.Runs {
			if r.TimedOut {
				n++
			}
		}
	}
	return n
}

// BuildFailures counts the projects in s that did not compile.
func (s *Summary) BuildFailures() int {
	n := 0
	for _, p := range s.Projects {
		if p.BuildFailed {
			n++
		}
	}
	return n
}

// Collector is a Sink that builds a Summary.
type Collector struct {
	summary  *Summary
	current  *ProjectSummary
	testData string
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{summary: &Summary{}}
}

// Summary returns the collected summary.
func (c *Collector) Summary() *Summary {
	return c.summary
}

func (c *Collector) BeginBatch(b BatchInfo) error {
	c.summary = &Summary{
		ID:        b.ID,
		SourceDir: b.SourceDir,
		Language:  b.Language,
		Tool:      b.Tool,
		Host:      b.Host,
		Version:   b.Version,
		TestData:  append([]string(nil), b.TestData...),
		StartedAt: b.StartedAt,
		Projects:  make([]ProjectSummary, 0),
	}
	return nil
}

func (c *Collector) BeginProject(p ProjectInfo) error {
	c.current = &ProjectSummary{
		Label:   p.Label,
		Path:    p.Path,
		Kind:    p.Kind,
		Metrics: append([]analytics.Metrics(nil), p.Metrics...),
		Runs:    make([]RunSummary, 0),
	}
	return nil
}

func (c *Collector) BuildOutput(b BuildInfo) error {
	if c.current != nil {
		c.current.Built = b.Succeeded
		c.current.BuildFailed = !b.Succeeded
	}
	return nil
}

func (c *Collector) BeginRun(testData string) error {
	c.testData = testData
	return nil
}

func (c *Collector) RunResult(r RunInfo) error {
	if c.current == nil {
		return nil
	}
	c.current.Runs = append(c.current.Runs, RunSummary{
		TestData:  c.testData,
		Seconds:   r.Elapsed.Seconds(),
		TimedOut:  r.TimedOut,
		Truncated: r.Truncated,
		ExitCode:  r.ExitCode,
		Output:    string(r.Output),
		Error:     r.Err,
	})
	return nil
}

func (c *Collector) EndProject(ProjectInfo) error {
	if c.current != nil {
		c.summary.Projects = append(c.summary.Projects, *c.current)
		c.current = nil
	}
	return nil
}

func (c *Collector) EndBatch(e BatchEnd) error {
	c.summary.Count = e.Count
	c.summary.FinishedAt = e.FinishedAt
	return nil
}
