package directive

import (
	"fmt"
	"strings"

	"github.com/docker/go-connections/nat"

	"github.com/artpar/octahe/internal/core/domain"
)

// ParseExpose parses the arguments of EXPOSE. All of the following forms
// are accepted:
//
//	EXPOSE 8080            port 8080/tcp
//	EXPOSE 8080/udp        port 8080/udp
//	EXPOSE 8080:9090/udp   port 8080 redirected to 9090, udp
//	EXPOSE 8080 9090/udp   port 8080 redirected to 9090, udp
func ParseExpose(text string) (domain.ExposePayload, error) {
	args, err := Tokenize(text)
	if err != nil {
		return domain.ExposePayload{}, err
	}
	if len(args) == 1 && strings.Contains(args[0], ":") {
		port, natPort, _ := strings.Cut(args[0], ":")
		args = []string{port, natPort}
	}
	if len(args) == 0 || len(args) > 2 {
		return domain.ExposePayload{}, fmt.Errorf("expected a port and an optional nat port, got %d arguments", len(args))
	}

	port, proto, err := splitProto(args[0])
	if err != nil {
		return domain.ExposePayload{}, err
	}
	payload := domain.ExposePayload{Port: port, Proto: proto}

	if len(args) == 2 {
		natPort, natProto, err := splitProto(args[1])
		if err != nil {
			return domain.ExposePayload{}, err
		}
		payload.NatPort = natPort
		if strings.Contains(args[1], "/") || !strings.Contains(args[0], "/") {
			payload.Proto = natProto
		}
	}
	return payload, nil
}

// splitProto parses "port[/proto]"; the protocol defaults to tcp.
func splitProto(s string) (int, string, error) {
	proto, portText := nat.SplitProtoPort(s)
	if portText == "" {
		return 0, "", fmt.Errorf("port is required in %q", s)
	}
	port, err := nat.ParsePort(portText)
	if err != nil {
		return 0, "", err
	}
	if port < 1 {
		return 0, "", fmt.Errorf("port %d out of range", port)
	}
	return port, strings.ToLower(proto), nil
}
