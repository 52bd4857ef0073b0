package unit

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path"
)

// Directory is where units are installed on a target.
const Directory = "/etc/systemd/system"

// Name returns the service unit name for an entry point.
// Pattern: octahe-{sha1(entrypoint)}.service
func Name(entrypoint string) string {
	sum := sha1.Sum([]byte(entrypoint))
	return fmt.Sprintf("octahe-%s.service", hex.EncodeToString(sum[:]))
}

// Path returns the installed location of a unit.
//
// Example:
//
//	Path("octahe-abc.service") // "/etc/systemd/system/octahe-abc.service"
func Path(name string) string {
	return path.Join(Directory, name)
}

// StartCommands return the commands that activate an installed unit.
func StartCommands(name string) []string {
	return []string{
		"systemctl daemon-reload",
		fmt.Sprintf("systemctl restart %s", name),
	}
}

// RemoveCommand stops and deletes a unit when it is present.
func RemoveCommand(name string) string {
	p := Path(name)
	return fmt.Sprintf(
		"if [ -f %[1]s ]; then systemctl stop %[2]s; rm -f %[1]s; systemctl daemon-reload; fi",
		p, name,
	)
}
