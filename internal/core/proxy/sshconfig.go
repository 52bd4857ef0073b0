package proxy

import (
	"bytes"
	"fmt"
	"sort"
	"text/template"

	"github.com/artpar/octahe/internal/core/domain"
)

const clientConfigTemplate = `Host *
    GlobalKnownHostsFile /dev/null
    UserKnownHostsFile /dev/null
    StrictHostKeyChecking no
    Compression no
    TCPKeepAlive yes
    VerifyHostKeyDNS no
    ForwardX11 no
    ControlMaster auto
{{range .}}
# {{.Name}}
Host {{.Key}}
    HostName {{.Host}}
    Port {{.Port}}
{{- if .User}}
    User {{.User}}
{{- end}}
{{- if .Identity}}
    IdentitiesOnly yes
    IdentityFile {{.Identity}}
{{- end}}
{{- if .Via}}
    ProxyCommand ssh -F {{.Config}} -W %h:%p {{.Via}}
{{- end}}
{{end}}`

var clientConfig = template.Must(template.New("ssh_config").Parse(clientConfigTemplate))

type hostEntry struct {
	Name     string
	Key      string
	Host     string
	Port     int
	User     string
	Identity string
	Via      string
	Config   string
}

// RenderClientConfig renders an ssh client configuration with one Host
// stanza per remote target. Stanzas are keyed by HostKey(name) and sorted
// by target name. configPath is the location the file will be written to
// and is referenced by chained ProxyCommand lines.
func RenderClientConfig(targets map[string]domain.Target, configPath string) (string, error) {
	names := make([]string, 0, len(targets))
	for name, t := range targets {
		if t.IsLocal() || t.IsSerial() {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]hostEntry, 0, len(names))
	for _, name := range names {
		t := targets[name]
		entry := hostEntry{
			Name:     name,
			Key:      HostKey(name),
			Host:     t.Domain,
			Port:     t.Port,
			User:     t.User,
			Identity: t.Key,
			Config:   configPath,
		}
		if _, known := targets[t.ViaName]; known && t.HasVia() {
			entry.Via = HostKey(t.ViaName)
		}
		entries = append(entries, entry)
	}

	var buf bytes.Buffer
	if err := clientConfig.Execute(&buf, entries); err != nil {
		return "", fmt.Errorf("render ssh config: %w", err)
	}
	return buf.String(), nil
}
