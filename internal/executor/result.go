// result.go defines the request and result of a single bounded run.
package executor

import (
	"time"

	"github.com/jvolcy/autograder/internal/capture"
)

// Request describes one run of a command line under a time budget.
type Request struct {
	// Command is handed to the shell verbatim, so compiler or interpreter
	// flags embedded in it are honoured. Paths must be quoted with Quote.
	Command string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Stdin is the path of a file redirected to standard input. Empty means
	// the process reads from an empty stream.
	Stdin string

	// Env holds extra KEY=value pairs added to the inherited environment.
	Env []string

	// Timeout is the wall-clock budget. Zero still lets the process run for
	// one evaluation window (Executor.PollInterval).
	Timeout time.Duration

	// Limits bounds the captured output.
	Limits capture.Limits

	// Sweep is the path of an executable whose remaining instances are killed
	// by name after a timeout. Empty disables the sweep.
	Sweep string
}

// Result holds the outcome of a bounded run.
type Result struct {
	// Output is stdout and stderr merged, already truncated to Request.Limits.
	Output []byte `json:"output"`

	// Truncated is true when Output was cut to fit the limits.
	Truncated bool `json:"truncated"`

	// Elapsed is the wall-clock time from start until exit or deadline.
	Elapsed time.Duration `json:"elapsed"`

	// TimedOut is true when the deadline was reached and the process group
	// was forcibly terminated. Elapsed is then at least the timeout.
	TimedOut bool `json:"timed_out"`

	// Exited is true when the process finished on its own before the deadline.
	Exited bool `json:"exited"`

	// ExitCode is the exit status. -1 indicates death by signal or timeout.
	ExitCode int `json:"exit_code"`

	// PID is the process id of the shell, which is also the process group id.
	PID int `json:"pid"`

	// StartedAt is when the process was started.
	StartedAt time.Time `json:"started_at"`
}

// Seconds returns Elapsed in seconds.
func (r *Result) Seconds() float64 {
	return r.Elapsed.Seconds()
}
