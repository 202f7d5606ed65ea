// html.go renders the grading report as a single self-contained HTML page
// with a feedback text area per project.
package report

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Colours used for the different kinds of report text.
const (
	colorHeader    = "blue"
	colorSubHeader = "green"
	colorAnalytics = "orange"
	colorTiming    = "brown"
	colorOutput    = "black"
	colorError     = "red"
	colorFeedback  = "purple"
	colorLineNo    = "gray"
)

const separator = "======================================================="

// FeedbackField is the name of every feedback text area in the form.
const FeedbackField = "student"

// Create removes any existing report at path and creates a fresh one.
func Create(path string) (*os.File, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove old report %s: %w", path, err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create report %s: %w", path, err)
	}
	return f, nil
}

// HTML writes the report to an io.Writer owned by the caller.
type HTML struct {
	w    io.Writer
	info BatchInfo
	err  error
}

// NewHTML creates an HTML sink writing to w.
func NewHTML(w io.Writer) *HTML {
	return &HTML{w: w}
}

// printf writes formatted text, remembering the first write error.
func (h *HTML) printf(format string, args ...any) {
	if h.err != nil {
		return
	}
	_, h.err = fmt.Fprintf(h.w, format, args...)
}

func (h *HTML) font(face, color, text string) {
	h.printf(`<font face="%s" color="%s">%s</font>`, face, color, text)
}

func (h *HTML) errorMsg(msg string) {
	h.printf(`<font color="%s">%s</font><br>`+"\n", colorError, html.EscapeString(msg))
}

func (h *HTML) BeginBatch(b BatchInfo) error {
	h.info = b
	title := html.EscapeString(filepath.Base(b.SourceDir))
	h.printf(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>AutoGrader - %s</title>
</head>
<body style="background: white; font-family: Helvetica">
<form action="" method="POST">
<h1>%s</h1>
`, title, title)
	return h.err
}

func (h *HTML) BeginProject(p ProjectInfo) error {
	h.printf(`<font face="verdana" color="%s"><br>`+"\n%s<br>\n", colorHeader, separator)
	name := p.Path
	if p.Kind == "file" {
		name = filepath.Base(p.Path)
	}
	h.printf("<b>%s</b>", html.EscapeString(name))
	h.printf("<br>\n%s<br>\n</font>", separator)

	for _, m := range p.Metrics {
		h.font("verdana", colorHeader, html.EscapeString(filepath.Base(m.Path)))
		h.printf("<br>\n")
		h.printf(`<font face="courier" color="%s">Code Lines: %d<br>`+"\n~#Comments: %d", colorAnalytics, m.Lines, m.Comments)
		if h.info.Language == "Python" {
			h.printf("<br>\n~#DocStrs: %d<br>\n~#Defs: %d<br>\n~#Classes: %d", m.DocStrings, m.Defs, m.Classes)
		}
		h.printf("</font><br><br>\n")
	}

	for _, l := range p.Listings {
		name := html.EscapeString(filepath.Base(l.Path))
		h.font("courier", colorSubHeader, "-------------  BEGIN LISTING: "+name+" -------------")
		h.printf("<br>\n<pre>")
		for i, line := range strings.Split(strings.TrimRight(string(l.Source), "\n"), "\n") {
			h.printf(`<font color="%s">%4d</font>  %s`+"\n", colorLineNo, i+1, html.EscapeString(line))
		}
		h.printf("</pre>")
		h.font("courier", colorSubHeader, "-------------   END LISTING: "+name+" -------------")
		h.printf("<br>\n")
	}
	return h.err
}

func (h *HTML) BuildOutput(b BuildInfo) error {
	h.font("verdana", colorSubHeader, "<br>\n------------- compiler output -------------")
	h.printf("\n")
	h.output(b.Output, b.Truncated)
	if b.Err != "" {
		h.errorMsg(b.Err)
	}
	if b.Succeeded {
		h.errorMsg(MsgBuildSucceeded)
	} else {
		h.errorMsg(MsgBuildFailed)
	}
	return h.err
}

func (h *HTML) BeginRun(testData string) error {
	if testData == "" {
		return h.err
	}
	h.font("verdana", colorSubHeader, "<br>\n------------- "+html.EscapeString(filepath.Base(testData))+" -------------")
	h.printf("\n")
	return h.err
}

func (h *HTML) RunResult(r RunInfo) error {
	h.output(r.Output, r.Truncated)
	if r.Err != "" {
		h.errorMsg(r.Err)
	}
	if r.TimedOut {
		h.errorMsg(TimeoutMessage(r.Timeout))
	}
	h.font("verdana", colorTiming, fmt.Sprintf("[Execution Time: %0.4f sec.]", r.Elapsed.Seconds()))
	h.printf("<br>\n")
	return h.err
}

func (h *HTML) EndProject(p ProjectInfo) error {
	label := html.EscapeString(p.Label)
	h.font("courier", colorFeedback, "<br>Instructor Feedback for "+label)
	h.printf(`<br><textarea name="%s" rows=4 cols=80>%s`+"\nGrade: \nComments: </textarea><br><br>\n", FeedbackField, label)
	return h.err
}

func (h *HTML) EndBatch(e BatchEnd) error {
	h.printf(`<br><br><font color="%s"><b>**** %d project(s) processed. ****</b></font><br>`+"\n", colorError, e.Count)
	h.printf(`<br><font face="verdana">`)
	h.printf("Report Generator: AutoGrader v%s<br>\n", html.EscapeString(h.info.Version))
	h.printf("%s<br>\n", html.EscapeString(ToolLine(e.Language, e.Tool)))
	if h.info.Host != "" {
		h.printf("Host: %s<br>\n", html.EscapeString(h.info.Host))
	}
	h.printf("<br></font>\n")
	h.printf(`<input type="button" style="font-size:20px;width:250px" value="Download Feedback" onclick="downloadFeedback()">
<br><br></form>
<script type="text/javascript">
function downloadFeedback() {
  var areas = document.getElementsByName(%q);
  var text = "";
  for (var i = 0; i < areas.length; i++) {
    text += areas[i].value + "\n\n";
  }
  var link = document.createElement("a");
  link.href = "data:text/plain;charset=utf-8," + encodeURIComponent(text);
  link.download = "feedback.txt";
  link.click();
}
</script>
</body>
</html>
`, FeedbackField)
	return h.err
}

// ToolLine describes the compiler or interpreter used for the batch.
func ToolLine(language, tool string) string {
	switch language {
	case "C++":
		return "C++ Compiler: " + tool
	case "Python":
		return "Python Interpreter: " + tool
	default:
		return "Compiler/Interpreter: Not Specified"
	}
}

// output writes captured program output in a preformatted block.
func (h *HTML) output(out []byte, truncated bool) {
	h.printf(`<pre><font face="courier" color="%s">`, colorOutput)
	h.printf("%s", html.EscapeString(string(out)))
	if truncated {
		if len(out) > 0 && !bytes.HasSuffix(out, []byte("\n")) {
			h.printf("\n")
		}
		h.printf("[output truncated]")
	}
	h.printf("</font></pre>\n")
}
