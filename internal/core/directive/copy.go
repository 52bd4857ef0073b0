package directive

import (
	"errors"

	"github.com/artpar/octahe/internal/core/domain"
)

var errCopyArgs = errors.New("at least one source and a destination are required")

// ParseCopy parses the arguments of COPY and ADD:
//
//	[--chown user[:group]] [--from stage] <src>... <dest>
func ParseCopy(text string) (domain.CopyPayload, error) {
	fs := newFlagSet("COPY")
	chown := fs.String("chown", "", "owner of the copied files")
	from := fs.String("from", "", "unused, accepted for compatibility")

	args, err := parseFlags(fs, text)
	if err != nil {
		return domain.CopyPayload{}, err
	}
	if len(args) < 2 {
		return domain.CopyPayload{}, errCopyArgs
	}

	return domain.CopyPayload{
		Sources:     args[:len(args)-1],
		Destination: args[len(args)-1],
		Owner:       *chown,
		From:        *from,
	}, nil
}
