package directive

import (
	"fmt"
	"strings"

	"github.com/artpar/octahe/internal/core/domain"
)

// Image is a base image named by a FROM directive.
type Image struct {
	Ref      string `json:"ref" yaml:"ref"`
	Platform string `json:"platform,omitempty" yaml:"platform,omitempty"`
	Name     string `json:"name" yaml:"name"`
}

// ParseFrom parses the arguments of FROM:
//
//	[--platform p] <image>[:tag] [AS name]
func ParseFrom(text string) (Image, error) {
	fs := newFlagSet("FROM")
	platform := fs.String("platform", "", "platform of the base image")

	args, err := parseFlags(fs, text)
	if err != nil {
		return Image{}, err
	}

	var img Image
	switch {
	case len(args) == 1:
		img = Image{Ref: args[0], Name: args[0]}
	case len(args) == 3 && strings.EqualFold(args[1], "AS"):
		img = Image{Ref: args[0], Name: args[2]}
	default:
		return Image{}, fmt.Errorf("expected <image> [AS name], got %q", text)
	}
	img.Platform = *platform
	return img, nil
}

// FromImages returns the base images of every FROM directive in order.
func FromImages(directives []Directive) ([]Image, error) {
	var images []Image
	for _, d := range directives {
		if d.Verb != domain.VerbFrom {
			continue
		}
		img, err := ParseFrom(d.Value)
		if err != nil {
			return nil, NewParseError(d, err.Error(), nil)
		}
		images = append(images, img)
	}
	return images, nil
}
