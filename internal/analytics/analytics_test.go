package analytics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cppSource = `#include <iostream>
// entry point
int main() {
    std::cout << "hi"; // greet // twice
    return 0;
}
`

const pythonSource = `"""Module docstring."""
import sys

COLOR = "#ff0000"  # red

class Greeter:
    '''Says hello.'''
    def greet(self):
        # comment
        print('#not a comment')

def main():
    Greeter().greet()
`

func TestCpp(t *testing.T) {
	m, err := Cpp(strings.NewReader(cppSource))
	require.NoError(t, err)
	assert.Equal(t, 6, m.Lines)
	// one '#include', two lines with '//'
	assert.Equal(t, 3, m.Comments)
}

func TestPython(t *testing.T) {
	m, err := Python(strings.NewReader(pythonSource))
	require.NoError(t, err)
	assert.Equal(t, 13, m.Lines)
	assert.Equal(t, 2, m.Comments)
	assert.Equal(t, 2, m.DocStrings)
	assert.Equal(t, 2, m.Defs)
	assert.Equal(t, 1, m.Classes)
}

func TestPython_OverlappingDelimiters(t *testing.T) {
	tests := []struct {
		line       string
		docStrings int
		comments   int
	}{
		{line: `x = ''''''`, docStrings: 2},
		{line: `s = """"`, docStrings: 1},
		{line: `'''''' """"""`, docStrings: 4},
		{line: `c = '##'  # note`, comments: 2},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			m, err := Python(strings.NewReader(tt.line + "\n"))
			require.NoError(t, err)
			assert.Equal(t, tt.docStrings, m.DocStrings)
			assert.Equal(t, tt.comments, m.Comments)
		})
	}
}

func TestCountOverlapping(t *testing.T) {
	assert.Equal(t, 4, countOverlapping(`''''''`, `'''`))
	assert.Equal(t, 2, countOverlapping(`""""`, `"""`))
	assert.Equal(t, 0, countOverlapping("abc", `"""`))
	assert.Equal(t, 1, countOverlapping(`"#`, `"#`))
}

func TestFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prog.py")
	require.NoError(t, os.WriteFile(path, []byte(pythonSource), 0o644))

	m, err := File("python", path)
	require.NoError(t, err)
	assert.Equal(t, path, m.Path)
	assert.Equal(t, 13, m.Lines)

	_, err = File("cobol", path)
	assert.Error(t, err)

	_, err = File("cpp", filepath.Join(dir, "missing.cpp"))
	assert.Error(t, err)
}
