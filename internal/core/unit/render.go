package unit

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"
)

// DefaultDocumentation is linked from every unit.
const DefaultDocumentation = "https://github.com/artpar/octahe"

// Config is everything a unit is rendered from.
type Config struct {
	Name          string // Unit name, defaults to Name(Command)
	Command       string
	Shell         string
	User          string
	Group         string
	KillSignal    string
	Workdir       string
	Environment   map[string]string
	Documentation []string
	Healthcheck   *Healthcheck
}

// Healthcheck is recorded on the unit for operators and tooling.
type Healthcheck struct {
	Command     string
	Interval    string
	Timeout     string
	StartPeriod string
	Retries     int
}

const unitTemplate = `[Unit]
Description={{.Name}} service
Documentation={{.Documentation}}
After=network-online.target systemd-udev-settle.service
{{- with .Healthcheck}}
X-Healthcheck={{.Command}}
X-HealthcheckInterval={{.Interval}}
X-HealthcheckTimeout={{.Timeout}}
X-HealthcheckStartPeriod={{.StartPeriod}}
X-HealthcheckRetries={{.Retries}}
{{- end}}

[Service]
Type=simple
{{- if .User}}
User={{.User}}
{{- end}}
{{- if .Group}}
Group={{.Group}}
{{- end}}
{{- if .KillSignal}}
KillSignal={{.KillSignal}}
{{- end}}
{{- if .Workdir}}
WorkingDirectory={{.Workdir}}
{{- end}}
{{- range .Environment}}
Environment={{.}}
{{- end}}
RemainAfterExit=yes
ExecStart={{.Shell}} {{.Command}}
Restart=always
Slice=octahe.slice
CPUAccounting=yes
BlockIOAccounting=yes
MemoryAccounting=yes
TasksAccounting=yes
PrivateTmp={{.PrivateTmp}}

[Install]
WantedBy=multi-user.target
`

var unitTmpl = template.Must(template.New("unit").Parse(unitTemplate))

type renderData struct {
	Name          string
	Documentation string
	Healthcheck   *Healthcheck
	User          string
	Group         string
	KillSignal    string
	Workdir       string
	Environment   []string
	Shell         string
	Command       string
	PrivateTmp    string
}

// Render produces the unit file text for cfg.
//
// Environment entries whose key is ESCALATEPW or starts with BUILD are
// omitted. PrivateTmp is disabled when the working directory is under a
// tmp directory.
func Render(cfg Config) (string, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return "", fmt.Errorf("render unit: empty command")
	}

	shell := cfg.Shell
	if shell == "" {
		shell = "/bin/sh -c"
	}

	docs := cfg.Documentation
	if len(docs) == 0 {
		docs = []string{DefaultDocumentation}
	}

	name := strings.TrimSuffix(cfg.Name, ".service")
	if name == "" {
		name = strings.TrimSuffix(Name(cfg.Command), ".service")
	}

	privateTmp := "yes"
	if strings.Contains(cfg.Workdir, "tmp") {
		privateTmp = "no"
	}

	data := renderData{
		Name:          name,
		Documentation: strings.Join(docs, " "),
		Healthcheck:   cfg.Healthcheck,
		User:          cfg.User,
		Group:         cfg.Group,
		KillSignal:    cfg.KillSignal,
		Workdir:       cfg.Workdir,
		Environment:   environmentLines(cfg.Environment),
		Shell:         shell,
		Command:       quoteExec(cfg.Command),
		PrivateTmp:    privateTmp,
	}

	var buf bytes.Buffer
	if err := unitTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render unit: %w", err)
	}
	return buf.String(), nil
}

func environmentLines(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		if k == "ESCALATEPW" || strings.HasPrefix(k, "BUILD") {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, quoteExec(k+"="+env[k]))
	}
	return lines
}

// quoteExec double-quotes a value for a systemd unit line.
func quoteExec(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", " ", "%", "%%")
	return `"` + r.Replace(s) + `"`
}
