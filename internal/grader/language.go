package grader

import (
	"path/filepath"
	"strings"

	"github.com/jvolcy/autograder/internal/discover"
)

// Language selects how projects are discovered, built and run.
type Language string

const (
	Unspecified Language = ""
	Cpp         Language = "cpp"
	Python      Language = "python"
)

// ParseLanguage maps a configured language name to a Language.
func ParseLanguage(s string) (Language, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "c++", "cpp", "cxx":
		return Cpp, nil
	case "python", "py":
		return Python, nil
	default:
		return Unspecified, &ConfigurationError{Field: "language", Value: s, Err: ErrUnsupportedLanguage}
	}
}

// DisplayName is the name shown in reports.
func (l Language) DisplayName() string {
	switch l {
	case Cpp:
		return "C++"
	case Python:
		return "Python"
	default:
		return "Not Specified"
	}
}

// profile captures everything that differs between languages.
type profile struct {
	lang Language

	// compiled languages are built once per project before any run
	compiled    bool
	compileExts []string

	// env is added to every run of a student program
	env []string

	find    func(b *Batch) ([]discover.Entry, error)
	members func(b *Batch, e discover.Entry) (sources []string, entry string, err error)
}

func profileFor(lang Language) (*profile, error) {
	switch lang {
	case Cpp:
		return cppProfile, nil
	case Python:
		return pythonProfile, nil
	default:
		return nil, &ConfigurationError{Field: "language", Value: string(lang), Err: ErrUnsupportedLanguage}
	}
}

var cppProfile = &profile{
	lang:        Cpp,
	compiled:    true,
	compileExts: []string{".cpp", ".cc"},
	find: func(b *Batch) ([]discover.Entry, error) {
		scan, err := discover.Find(b.SourceDir, discover.Extension(".cpp", ".cc"))
		if err != nil {
			return nil, err
		}
		return discover.Merge(scan), nil
	},
	members: func(_ *Batch, e discover.Entry) ([]string, string, error) {
		if e.Kind == discover.KindFile {
			return []string{e.Path}, e.Path, nil
		}
		sources, err := discover.Members(e.Path, ".cpp", ".cc", ".h", ".hpp")
		if err != nil {
			return nil, "", err
		}
		return sources, "", nil
	},
}

var pythonProfile = &profile{
	lang: Python,
	// Unbuffered output survives a forced kill.
	env: []string{"PYTHONUNBUFFERED=1"},
	find: func(b *Batch) ([]discover.Entry, error) {
		top, err := discover.FilesIn(b.SourceDir, discover.Extension(".py"))
		if err != nil {
			return nil, err
		}
		match := discover.Extension(".py")
		if b.SourceFilename != "" {
			match = discover.Filename(b.SourceFilename)
		}
		scan, err := discover.Find(b.SourceDir, match)
		if err != nil {
			return nil, err
		}
		return discover.Merge(&discover.Scan{Files: top, Dirs: scan.Dirs}), nil
	},
	members: func(b *Batch, e discover.Entry) ([]string, string, error) {
		if e.Kind == discover.KindFile {
			return []string{e.Path}, e.Path, nil
		}
		sources, err := discover.Members(e.Path, ".py")
		if err != nil {
			return nil, "", err
		}
		if b.SourceFilename != "" {
			return sources, filepath.Join(e.Path, b.SourceFilename), nil
		}
		if len(sources) == 0 {
			return sources, "", nil
		}
		return sources, sources[0], nil
	},
}
