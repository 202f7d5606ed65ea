// interpreter_test.go tests tool verification and command line quoting.
package executor

import (
	"errors"
	"strings"
	"sync"
	"testing"
)

func TestVerifyTool_Sh(t *testing.T) {
	// sh should exist on any POSIX system
	path, err := VerifyTool("sh")
	if err != nil {
		t.Fatalf("expected sh to be found, got error: %v", err)
	}
	if !strings.HasSuffix(path, "sh") {
		t.Errorf("expected path ending in sh, got: %s", path)
	}
}

func TestVerifyTool_WithFlags(t *testing.T) {
	// Flags after the program name are ignored for lookup
	path, err := VerifyTool("sh -e -u")
	if err != nil {
		t.Fatalf("expected sh to be found, got error: %v", err)
	}
	if path == "" {
		t.Fatal("expected non-empty path")
	}
}

func TestVerifyTool_Empty(t *testing.T) {
	for _, cmd := range []string{"", "   "} {
		_, err := VerifyTool(cmd)
		if !errors.Is(err, ErrEmptyTool) {
			t.Errorf("VerifyTool(%q): expected ErrEmptyTool, got %v", cmd, err)
		}
	}
}

func TestVerifyTool_NotFound(t *testing.T) {
	_, err := VerifyTool("definitely-not-a-compiler-4711 -O2")
	if !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), "definitely-not-a-compiler-4711") {
		t.Errorf("expected tool name in error, got: %v", err)
	}
}

func TestToolCache_CachesPath(t *testing.T) {
	cache := NewToolCache()

	first, err := cache.Verify("sh")
	if err != nil {
		t.Fatalf("first lookup failed: %v", err)
	}
	second, err := cache.Verify("sh -c true")
	if err != nil {
		t.Fatalf("second lookup failed: %v", err)
	}
	if first != second {
		t.Errorf("expected cached path %q, got %q", first, second)
	}
	if _, ok := cache.paths.Load("sh"); !ok {
		t.Error("expected sh to be cached")
	}
}

func TestToolCache_Concurrent(t *testing.T) {
	cache := NewToolCache()
	var wg sync.WaitGroup
	errs := make(chan error, 20)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.Verify("sh"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent lookup failed: %v", err)
	}
}

func TestQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "'plain'"},
		{"with space", "'with space'"},
		{"it's", `'it'\''s'`},
		{"", "''"},
	}
	for _, tt := range tests {
		if got := Quote(tt.in); got != tt.want {
			t.Errorf("Quote(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestCommandLine(t *testing.T) {
	got := CommandLine("g++ -Wall", "-o", "/tmp/a out", "x.cpp")
	want := `g++ -Wall '-o' '/tmp/a out' 'x.cpp'`
	if got != want {
		t.Errorf("CommandLine = %s, want %s", got, want)
	}
}
