package directive

import (
	"strings"

	"github.com/artpar/octahe/internal/core/domain"
)

// Healthcheck defaults applied when a flag is omitted.
const (
	DefaultHealthInterval    = "30s"
	DefaultHealthTimeout     = "30s"
	DefaultHealthStartPeriod = "30s"
	DefaultHealthRetries     = 3
)

// ParseHealthcheck parses the arguments of HEALTHCHECK:
//
//	[--interval d] [--timeout d] [--start-period d] [--retries n] CMD <command>
//
// "HEALTHCHECK NONE" yields an empty command.
func ParseHealthcheck(text string) (domain.HealthcheckPayload, error) {
	options, command, _ := strings.Cut(text, "CMD")
	if strings.TrimSpace(options) == "NONE" {
		options = ""
	}

	fs := newFlagSet("HEALTHCHECK")
	interval := fs.String("interval", DefaultHealthInterval, "healthcheck interval")
	timeout := fs.String("timeout", DefaultHealthTimeout, "healthcheck timeout")
	startPeriod := fs.String("start-period", DefaultHealthStartPeriod, "healthcheck start period")
	retries := fs.Int("retries", DefaultHealthRetries, "retries before unhealthy")

	if _, err := parseFlags(fs, strings.TrimSpace(options)); err != nil {
		return domain.HealthcheckPayload{}, err
	}

	return domain.HealthcheckPayload{
		Interval:    *interval,
		Timeout:     *timeout,
		StartPeriod: *startPeriod,
		Retries:     *retries,
		Command:     strings.TrimSpace(command),
	}, nil
}
