// Package directive parses octahe specification files into an ordered plan.
//
// A specification is a Dockerfile-like text file. Each logical line starts
// with a verb followed by its arguments:
//
//	FROM alpine:3.19
//	TO root@10.0.0.5 --via bastion.example.com
//	RUN apk add --no-cache curl
//	EXPOSE 8080:9090/udp
//	ENTRYPOINT ["/usr/local/bin/app", "--serve"]
//
// Parsing happens in three phases:
//
//  1. ReadFiles / ParseText turn text into raw Directives, joining
//     continuation lines and typing the argument value.
//  2. FromImages lists the base images named by FROM so the caller can
//     resolve their layer history; ExpandLayers converts that history
//     back into Directives.
//  3. Build combines file directives, expanded base-image layers and
//     command-line overrides into a Plan of typed steps and targets.
//
// This is part of the Functional Core - apart from ReadFiles, all functions
// are pure with no I/O.
package directive
