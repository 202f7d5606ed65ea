package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvolcy/autograder/internal/config"
	"github.com/jvolcy/autograder/internal/grader"
	"github.com/jvolcy/autograder/internal/report"
)

// run executes the CLI with args and returns what it printed.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.Writer = &out
	cmd.ErrWriter = io.Discard
	err := cmd.Run(context.Background(), append([]string{"autograder"}, args...))
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "autograder "))
}

func TestInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grader.yaml")

	_, err := run(t, "init", "--language", "python", path)
	require.NoError(t, err)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "python", cfg.Language)
	assert.Equal(t, "submissions", cfg.SourceDir)
	assert.Equal(t, 3.0, cfg.MaxRunTime)

	_, err = run(t, "init", path)
	assert.Error(t, err, "existing file is not overwritten")
}

func TestRun_UnknownLanguageWritesNothing(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "report.html")

	_, err := run(t, "run", "--source-dir", dir, "--output", out, "--language", "cobol", "--quiet")

	var cfgErr *grader.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.NoFileExists(t, out)
}

func TestRun_PythonBatchWithHistory(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not installed")
	}

	dir := t.TempDir()
	src := filepath.Join(dir, "submissions")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "jones_hw2"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "smith_hw2.py"), []byte("print(input()[::-1])\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "jones_hw2", "main.py"), []byte("print('jones')\n"), 0o644))
	input := filepath.Join(dir, "in.txt")
	require.NoError(t, os.WriteFile(input, []byte("olleh\n"), 0o644))

	out := filepath.Join(dir, "report.html")
	summaryPath := filepath.Join(dir, "summary.json")
	t.Setenv("AUTOGRADER_DATA_DIR", filepath.Join(dir, "data"))

	_, err := run(t, "run",
		"--source-dir", src,
		"--source-filename", "main.py",
		"--output", out,
		"--language", "python",
		"--test-data", input,
		"--history",
		"--summary", summaryPath,
		"--quiet",
	)
	require.NoError(t, err)

	html, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(html), "hello")
	assert.Contains(t, string(html), "2 project(s) processed.")

	data, err := os.ReadFile(summaryPath)
	require.NoError(t, err)
	var summary report.Summary
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.Equal(t, 2, summary.Count)

	listing, err := run(t, "history", "list")
	require.NoError(t, err)
	assert.Contains(t, listing, summary.ID)

	stored, err := run(t, "history", "report", summary.ID)
	require.NoError(t, err)
	assert.Equal(t, string(html), stored)
}
