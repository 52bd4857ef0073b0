// Package unit renders systemd service units for entry points.
//
// A unit is named after the entry-point command it runs, so deploying and
// undeploying the same entry point always address the same unit:
//
//	Name("/usr/local/bin/app --serve") // "octahe-<sha1>.service"
//
// This is part of the Functional Core - all functions are pure with no I/O.
package unit
