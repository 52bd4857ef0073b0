package directive

import (
	"fmt"
	"io"

	"github.com/mattn/go-shellwords"
	"github.com/spf13/pflag"
)

// Tokenize splits an argument string into words, honouring single and
// double quotes and backslash escapes. Environment references are left
// untouched.
func Tokenize(text string) ([]string, error) {
	p := shellwords.NewParser()
	p.ParseEnv = false
	p.ParseBacktick = false

	words, err := p.Parse(text)
	if err != nil {
		return nil, err
	}
	if p.Position != -1 {
		return nil, fmt.Errorf("unexpected shell operator at offset %d", p.Position)
	}
	return words, nil
}

// newFlagSet returns a silent flag set for a flag-bearing verb.
func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SetInterspersed(true)
	fs.Usage = func() {}
	return fs
}

// parseFlags tokenizes text and parses it with fs, returning the positional
// arguments.
func parseFlags(fs *pflag.FlagSet, text string) ([]string, error) {
	words, err := Tokenize(text)
	if err != nil {
		return nil, err
	}
	if err := fs.Parse(words); err != nil {
		return nil, err
	}
	return fs.Args(), nil
}
