// interpreter.go verifies that the configured compiler or interpreter exists.
// The configured value is a command string that may carry flags
// ("g++ -Wall -std=c++17"), so only its first word is looked up in $PATH.
package executor

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/google/shlex"
	"github.com/puzpuzpuz/xsync/v3"
)

// Tool verification errors.
var (
	ErrEmptyTool    = errors.New("compiler/interpreter is not specified")
	ErrToolNotFound = errors.New("compiler/interpreter not found in PATH")
)

// ToolCache caches resolved tool paths to avoid repeated lookups.
type ToolCache struct {
	paths *xsync.MapOf[string, string]
}

// NewToolCache creates an empty tool path cache.
func NewToolCache() *ToolCache {
	return &ToolCache{
		paths: xsync.NewMapOf[string, string](),
	}
}

// Verify resolves the program named by the first word of command and returns
// its absolute path.
func (c *ToolCache) Verify(command string) (string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return "", fmt.Errorf("invalid tool command %q: %w", command, err)
	}
	if len(args) == 0 {
		return "", ErrEmptyTool
	}
	name := args[0]

	if path, ok := c.paths.Load(name); ok {
		return path, nil
	}

	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	c.paths.Store(name, path)

	return path, nil
}

// globalCache is the default cache for the package-level function.
var globalCache = NewToolCache()

// VerifyTool is a convenience function using a global cache.
func VerifyTool(command string) (string, error) {
	return globalCache.Verify(command)
}

// Quote returns s quoted for safe use as one word in a POSIX shell command line.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// CommandLine joins a tool command string with quoted arguments. The tool
// string itself is left unquoted so its flags reach the shell as separate words.
func CommandLine(tool string, args ...string) string {
	var b strings.Builder
	b.WriteString(tool)
	for _, a := range args {
		b.WriteByte(' ')
		b.WriteString(Quote(a))
	}
	return b.String()
}
