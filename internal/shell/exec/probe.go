package exec

import (
	"context"
	"strings"
)

// ProbeCommand gathers platform facts from a POSIX target.
const ProbeCommand = "uname -ms; systemctl --version; echo $PATH"

var unameArch = map[string]string{
	"x86_64":  "amd64",
	"amd64":   "amd64",
	"aarch64": "arm64",
	"arm64":   "arm64",
	"armv7l":  "arm/v7",
	"armv8l":  "arm/v8",
	"i686":    "386",
	"i386":    "386",
}

// ParseProbe extracts facts from the output of ProbeCommand.
//
// Example output:
//
//	Linux x86_64
//	systemd 249 (249.11-0ubuntu3)
//	+PAM +AUDIT ...
//	/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin
func ParseProbe(output string) map[string]string {
	facts := make(map[string]string)
	var lines []string
	for _, l := range splitLines(output) {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return facts
	}

	if fields := strings.Fields(lines[0]); len(fields) == 2 {
		osName := strings.ToLower(fields[0])
		arch, ok := unameArch[fields[1]]
		if !ok {
			arch = fields[1]
		}
		facts[FactTargetOS] = osName
		facts[FactTargetArch] = arch
		facts[FactTargetPlatform] = osName + "/" + arch
	}

	if v := systemdVersion(lines[1:]); v != "" {
		facts[FactSystemdVersion] = v
	}

	if last := lines[len(lines)-1]; strings.HasPrefix(last, "/") {
		facts[FactPath] = last
	}
	return facts
}

// systemdVersion finds the "systemd <version>" line of systemctl --version.
func systemdVersion(lines []string) string {
	for _, l := range lines {
		if fields := strings.Fields(l); len(fields) >= 2 && fields[0] == "systemd" {
			return fields[1]
		}
	}
	return ""
}

// probeShell runs ProbeCommand once and caches the result. A target whose
// probe exits non-zero still yields the facts that could be read.
func (s *shell) probeShell(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	cached := s.facts
	s.mu.Unlock()
	if cached != nil {
		return copyFacts(cached), nil
	}

	out, err := s.RunReturn(ctx, ProbeCommand, Settings{NonFatal: true})
	if err != nil {
		return nil, err
	}
	facts := ParseProbe(out)
	s.setFacts(facts)
	s.logger.Debug("probed target", "facts", facts)
	return copyFacts(facts), nil
}
