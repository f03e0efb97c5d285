package main

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
	"strings"
)

// Set with -ldflags "-X main.Version=... -X main.Build=... -X main.BuildTime=...".
var (
	Version   = "dev"
	Build     = "unknown"
	BuildTime = ""
)

func printVersion(w io.Writer) {
	var head strings.Builder
	head.WriteString("appshell version " + Version)
	if Build != "" && Build != "unknown" {
		head.WriteString(" (build: " + Build + ")")
	}
	if BuildTime != "" {
		head.WriteString(" [" + BuildTime + "]")
	}

	lines := []string{
		head.String(),
		"Go version: " + runtime.Version(),
		"OS/Arch: " + runtime.GOOS + "/" + runtime.GOARCH,
	}
	if Version == "dev" {
		if rev := vcsRevision(); rev != "" {
			lines = append(lines, "Commit: "+rev)
		}
	}
	for _, line := range lines {
		_, _ = fmt.Fprintln(w, line)
	}
}

// vcsRevision returns the short commit the binary was built from, if the
// toolchain recorded one.
func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) > 7 {
			return s.Value[:7]
		}
	}
	return ""
}
