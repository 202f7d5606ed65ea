// console.go prints batch progress to a terminal.
package report

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
)

// Console prints one progress line per event. Program output is only shown
// when ShowOutput is set, trimmed to a small rectangle.
type Console struct {
	w          io.Writer
	ShowOutput bool

	header  *color.Color
	info    *color.Color
	timing  *color.Color
	failure *color.Color
}

// NewConsole creates a console sink. noColor disables ANSI colours.
func NewConsole(w io.Writer, noColor bool) *Console {
	c := &Console{
		w:       w,
		header:  color.New(color.FgBlue, color.Bold),
		info:    color.New(color.FgGreen),
		timing:  color.New(color.FgYellow),
		failure: color.New(color.FgRed, color.Bold),
	}
	if noColor {
		for _, col := range []*color.Color{c.header, c.info, c.timing, c.failure} {
			col.DisableColor()
		}
	}
	return c
}

func (c *Console) BeginBatch(b BatchInfo) error {
	_, err := c.header.Fprintf(c.w, "*** grading %s (%s) ***\n", b.SourceDir, b.Language)
	return err
}

func (c *Console) BeginProject(p ProjectInfo) error {
	_, err := c.header.Fprintf(c.w, "%s\n%s\n%s\n", separator, p.Path, separator)
	return err
}

func (c *Console) BuildOutput(b BuildInfo) error {
	if b.Succeeded {
		_, err := c.info.Fprintln(c.w, MsgBuildSucceeded)
		return err
	}
	if c.ShowOutput {
		if _, err := fmt.Fprintln(c.w, trimToRect(string(b.Output), 10, 100)); err != nil {
			return err
		}
	}
	_, err := c.failure.Fprintln(c.w, MsgBuildFailed)
	return err
}

func (c *Console) BeginRun(testData string) error {
	if testData == "" {
		return nil
	}
	_, err := c.info.Fprintf(c.w, "processing '%s'...\n", filepath.Base(testData))
	return err
}

func (c *Console) RunResult(r RunInfo) error {
	if c.ShowOutput && len(r.Output) > 0 {
		if _, err := fmt.Fprintln(c.w, trimToRect(string(r.Output), 10, 100)); err != nil {
			return err
		}
	}
	if r.Err != "" {
		if _, err := c.failure.Fprintln(c.w, r.Err); err != nil {
			return err
		}
	}
	if r.TimedOut {
		if _, err := c.failure.Fprintln(c.w, TimeoutMessage(r.Timeout)); err != nil {
			return err
		}
	}
	_, err := c.timing.Fprintf(c.w, "%0.4f secs.\n", r.Elapsed.Seconds())
	return err
}

func (c *Console) EndProject(ProjectInfo) error {
	return nil
}

func (c *Console) EndBatch(e BatchEnd) error {
	_, err := c.header.Fprintf(c.w, "**** %d project(s) processed. ****\n", e.Count)
	return err
}

// trimToRect keeps at most maxLines lines of at most maxCols runes each.
func trimToRect(s string, maxLines, maxCols int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	more := 0
	if len(lines) > maxLines {
		more = len(lines) - maxLines
		lines = lines[:maxLines]
	}
	for i, l := range lines {
		if r := []rune(l); len(r) > maxCols {
			lines[i] = string(r[:maxCols]) + "..."
		}
	}
	if more > 0 {
		lines = append(lines, fmt.Sprintf("... (%d more lines)", more))
	}
	return strings.Join(lines, "\n")
}
