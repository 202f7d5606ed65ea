// Package capture bounds captured program output before it reaches the report.
//
// Output is truncated from the head: the earliest bytes are kept and the rest
// of the stream is discarded once either the line bound or the byte bound is
// reached. Both bounds are evaluated in a single pass over the stream, so the
// result is the shortest of the two prefixes and the order in which the bounds
// are applied does not change the outcome.
package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// DefaultBytesPerLine is the byte allowance granted per permitted line when
// no explicit byte bound is configured.
const DefaultBytesPerLine = 40

// Limits bounds a captured segment. A negative value disables that bound.
type Limits struct {
	Lines int
	Bytes int
}

// DefaultLimits returns limits of lines lines and DefaultBytesPerLine bytes per line.
func DefaultLimits(lines int) Limits {
	if lines < 0 {
		return Limits{Lines: -1, Bytes: -1}
	}
	return Limits{Lines: lines, Bytes: lines * DefaultBytesPerLine}
}

// Head reads r and returns at most lim.Lines lines and at most lim.Bytes bytes
// from its start. A line is a newline-terminated segment; a final segment
// without a newline also counts as a line. The returned flag reports whether
// any input was dropped.
func Head(r io.Reader, lim Limits) ([]byte, bool, error) {
	br := bufio.NewReader(r)
	out := make([]byte, 0, initialCap(lim))
	lines := 0

	for {
		if lim.Bytes >= 0 && len(out) >= lim.Bytes {
			return out, hasMore(br), nil
		}
		if lim.Lines >= 0 && lines >= lim.Lines {
			return out, hasMore(br), nil
		}

		b, err := br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, false, nil
			}
			return out, false, fmt.Errorf("failed to read captured output: %w", err)
		}
		out = append(out, b)
		if b == '\n' {
			lines++
		}
	}
}

// HeadFile applies Head to the file at path.
func HeadFile(path string, lim Limits) ([]byte, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, fmt.Errorf("failed to open capture file: %w", err)
	}
	defer f.Close()
	return Head(f, lim)
}

// hasMore reports whether at least one more byte is available.
func hasMore(br *bufio.Reader) bool {
	_, err := br.Peek(1)
	return err == nil
}

func initialCap(lim Limits) int {
	if lim.Bytes >= 0 && lim.Bytes < 4096 {
		return lim.Bytes
	}
	return 4096
}
