package directive

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/artpar/octahe/internal/core/domain"
)

// Layer is one converted entry of a base image's history.
type Layer struct {
	Directive Directive
	NonFatal  bool // Unsupported layer kept as a tolerant RUN
}

var (
	buildArgsPrefix = regexp.MustCompile(`^\|\d+(\s+\S+=\S*)*\s+`)
	shellPrefixes   = []string{"/bin/sh -c ", "/bin/bash -c ", "/bin/sh -o pipefail -c "}
)

const (
	nopMarker      = "#(nop)"
	buildkitSuffix = "# buildkit"
)

// ExpandLayers converts the history of a base image, oldest layer first,
// into directives that precede the file's own steps.
//
// COPY and ADD layers are dropped with a warning since their content is
// not available. Metadata layers with a supported verb become that verb,
// shell layers become RUN, and anything else becomes a non-fatal RUN.
func ExpandLayers(img Image, history []string) ([]Layer, []string) {
	var (
		layers   []Layer
		warnings []string
	)

	for i, createdBy := range history {
		text := strings.TrimSpace(createdBy)
		if text == "" {
			continue
		}
		source := "FROM " + img.Ref

		verb, value, soft, ok := classifyLayer(text)
		if !ok {
			continue
		}
		if verb == domain.VerbCopy || verb == domain.VerbAdd {
			warnings = append(warnings, fmt.Sprintf("%s: layer %d: %s dropped, file content is not available", img.Ref, i, verb))
			continue
		}

		layers = append(layers, Layer{
			Directive: Directive{Verb: verb, Value: TypeValue(value), Source: source, Line: i + 1},
			NonFatal:  soft,
		})
	}
	return layers, warnings
}

// classifyLayer returns the verb and value a history entry stands for.
func classifyLayer(text string) (verb domain.Verb, value string, soft bool, ok bool) {
	text = strings.TrimSpace(strings.TrimSuffix(text, buildkitSuffix))

	if m := buildArgsPrefix.FindString(text); m != "" {
		return domain.VerbRun, stripShell(text[len(m):]), true, true
	}

	text = stripShell(text)
	if strings.HasPrefix(text, nopMarker) {
		text = strings.TrimSpace(strings.TrimPrefix(text, nopMarker))
		return classifyInstruction(text)
	}

	word, rest, _ := strings.Cut(text, " ")
	candidate := domain.ParseVerb(word)
	if word == strings.ToUpper(word) && (candidate.IsSupported() || isDockerfileVerb(candidate)) {
		if candidate == domain.VerbRun {
			return classifyLayer(strings.TrimSpace(rest))
		}
		return classifyInstruction(text)
	}

	if text == "" {
		return "", "", false, false
	}
	return domain.VerbRun, text, false, true
}

func classifyInstruction(text string) (domain.Verb, string, bool, bool) {
	word, rest, _ := strings.Cut(text, " ")
	verb := domain.ParseVerb(word)
	rest = strings.TrimSpace(rest)
	switch {
	case verb == domain.VerbCopy || verb == domain.VerbAdd:
		return verb, rest, false, true
	case verb.IsSupported():
		return verb, rest, false, true
	default:
		return domain.VerbRun, text, true, true
	}
}

func stripShell(text string) string {
	for _, prefix := range shellPrefixes {
		if strings.HasPrefix(text, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(text, prefix))
		}
	}
	return text
}

func isDockerfileVerb(v domain.Verb) bool {
	switch v {
	case domain.VerbVolume, domain.VerbOnBuild, "MAINTAINER":
		return true
	default:
		return false
	}
}
