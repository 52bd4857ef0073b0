package exec

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// Transfer is one local file and where it lands on the target.
type Transfer struct {
	Local  string
	Remote string
	Mode   os.FileMode
}

// PlanCopy expands COPY sources relative to baseDir and maps each file to
// its destination.
//
// A source may be a file, a directory (copied recursively), or a glob
// pattern. The destination is treated as a directory when it ends in "/"
// or names "." or "..", when more than one source is given, or when a
// source is a directory.
func PlanCopy(baseDir string, sources []string, dest string) ([]Transfer, error) {
	dirDest := IsDirPath(dest) || len(sources) > 1

	var transfers []Transfer
	for _, src := range sources {
		local := src
		if !filepath.IsAbs(local) {
			local = filepath.Join(baseDir, src)
		}

		matches, err := filepath.Glob(local)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrSourceMissing, src, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrSourceMissing, src)
		}
		if len(matches) > 1 {
			dirDest = true
		}
		sort.Strings(matches)

		for _, match := range matches {
			info, err := os.Stat(match)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrSourceMissing, match, err)
			}

			if !info.IsDir() {
				remote := dest
				if dirDest {
					remote = path.Join(dest, filepath.Base(match))
				}
				transfers = append(transfers, Transfer{Local: match, Remote: remote, Mode: info.Mode().Perm()})
				continue
			}

			err = filepath.WalkDir(match, func(p string, d fs.DirEntry, err error) error {
				if err != nil || d.IsDir() {
					return err
				}
				fi, err := d.Info()
				if err != nil {
					return err
				}
				rel, err := filepath.Rel(match, p)
				if err != nil {
					return err
				}
				transfers = append(transfers, Transfer{
					Local:  p,
					Remote: path.Join(dest, filepath.ToSlash(rel)),
					Mode:   fi.Mode().Perm(),
				})
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("walk %s: %w", match, err)
			}
		}
	}
	return transfers, nil
}

// IsDirPath reports whether dest can only name a directory.
func IsDirPath(dest string) bool {
	if strings.HasSuffix(dest, "/") {
		return true
	}
	base := path.Base(dest)
	return base == "." || base == ".."
}
