// Package nats message types for NATS communication.
//
// Every message is wrapped in a MessageEnvelope. Payloads carry timings and
// verdict flags but never program output, which can be far larger than a
// NATS message may be.
package nats

import (
	"encoding/json"
	"time"

	"github.com/jvolcy/autograder/internal/report"
)

// Message types.
const (
	TypeBatchCompleted = "batch_completed"
)

// MessageEnvelope wraps all NATS messages with type information.
type MessageEnvelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp string          `json:"timestamp"`
}

// BatchCompletedMessage is published when a batch has been graded.
type BatchCompletedMessage struct {
	BatchID       string           `json:"batchId"`
	SourceDir     string           `json:"sourceDir"`
	Language      string           `json:"language"`
	Host          string           `json:"host,omitempty"`
	Version       string           `json:"version"`
	StartedAt     string           `json:"startedAt"`
	FinishedAt    string           `json:"finishedAt"`
	Count         int              `json:"count"`
	Timeouts      int              `json:"timeouts"`
	BuildFailures int              `json:"buildFailures"`
	Projects      []ProjectMessage `json:"projects"`
}

// ProjectMessage is one project of a BatchCompletedMessage.
type ProjectMessage struct {
	Label       string       `json:"label"`
	Path        string       `json:"path"`
	BuildFailed bool         `json:"buildFailed,omitempty"`
	Runs        []RunMessage `json:"runs"`
}

// RunMessage is one run of a ProjectMessage.
type RunMessage struct {
	TestData  string  `json:"testData,omitempty"`
	Seconds   float64 `json:"seconds"`
	TimedOut  bool    `json:"timedOut,omitempty"`
	Truncated bool    `json:"truncated,omitempty"`
	ExitCode  int     `json:"exitCode"`
	Error     string  `json:"error,omitempty"`
}

// NewBatchCompleted converts a summary into its NATS form.
func NewBatchCompleted(s *report.Summary) *BatchCompletedMessage {
	msg := &BatchCompletedMessage{
		BatchID:       s.ID,
		SourceDir:     s.SourceDir,
		Language:      s.Language,
		Host:          s.Host,
		Version:       s.Version,
		StartedAt:     s.StartedAt.UTC().Format(time.RFC3339),
		FinishedAt:    s.FinishedAt.UTC().Format(time.RFC3339),
		Count:         s.Count,
		Timeouts:      s.TimedOutRuns(),
		BuildFailures: s.BuildFailures(),
		Projects:      make([]ProjectMessage, 0, len(s.Projects)),
	}
	for _, p := range s.Projects {
		pm := ProjectMessage{
			Label:       p.Label,
			Path:        p.Path,
			BuildFailed: p.BuildFailed,
			Runs:        make([]RunMessage, 0, len(p.Runs)),
		}
		for _, r := range p.Runs {
			pm.Runs = append(pm.Runs, RunMessage{
				TestData:  r.TestData,
				Seconds:   r.Seconds,
				TimedOut:  r.TimedOut,
				Truncated: r.Truncated,
				ExitCode:  r.ExitCode,
				Error:     r.Error,
			})
		}
		msg.Projects = append(msg.Projects, pm)
	}
	return msg
}
