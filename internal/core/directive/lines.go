package directive

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/artpar/octahe/internal/core/domain"
)

// Directive is one logical line of a specification.
type Directive struct {
	Verb   domain.Verb
	Value  string // Argument text after value typing
	Source string
	Line   int
}

// String renders the directive as it would appear in a file.
func (d Directive) String() string {
	return fmt.Sprintf("%s %s", d.Verb, d.Value)
}

// ReadFiles reads every path in order and returns their directives as if
// the files were concatenated.
func ReadFiles(paths []string) ([]Directive, error) {
	var all []Directive
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrFileRead, path, err)
		}
		all = append(all, ParseText(string(data), path)...)
	}
	return all, nil
}

// ParseText splits specification text into directives.
//
// Comments are stripped, a trailing " \" joins the following line, and blank
// lines are dropped. A line with no argument yields an empty Value.
func ParseText(text, source string) []Directive {
	var (
		directives []Directive
		pending    strings.Builder
		startLine  int
	)

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(stripComment(scanner.Text()))
		if pending.Len() == 0 {
			startLine = lineNo
		}

		if strings.HasSuffix(line, " \\") || line == "\\" {
			pending.WriteString(strings.TrimSpace(strings.TrimSuffix(line, "\\")))
			pending.WriteString(" ")
			continue
		}
		pending.WriteString(line)

		logical := strings.TrimSpace(pending.String())
		pending.Reset()
		if logical == "" {
			continue
		}
		directives = append(directives, splitVerb(logical, source, startLine))
	}

	if logical := strings.TrimSpace(pending.String()); logical != "" {
		directives = append(directives, splitVerb(logical, source, startLine))
	}
	return directives
}

func splitVerb(line, source string, lineNo int) Directive {
	verb, rest, _ := strings.Cut(line, " ")
	return Directive{
		Verb:   domain.ParseVerb(verb),
		Value:  TypeValue(strings.TrimSpace(rest)),
		Source: source,
		Line:   lineNo,
	}
}

// stripComment removes a "#" comment that starts the line or follows
// whitespace. A "#" inside a word, such as a URL fragment, is kept.
func stripComment(line string) string {
	for i, r := range line {
		if r != '#' {
			continue
		}
		if i == 0 || line[i-1] == ' ' || line[i-1] == '\t' {
			return line[:i]
		}
	}
	return line
}
