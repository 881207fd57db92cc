// Package version exposes the agentmesh build identity.
//
// The identity is stamped at build time via ldflags:
//
//	go build -ldflags "-X github.com/forgelabs-ai/agentmesh/version.version=1.0.0"
//
// Unstamped builds fall back to the module and VCS metadata recorded in the
// Go build info, so installed binaries still report something useful.
package version

import (
	"fmt"
	"runtime/debug"
	"strings"
)

const devVersion = "dev"

// shortCommitLen truncates VCS revisions to the familiar short-hash length.
const shortCommitLen = 7

// Stamped with -ldflags; see the package doc.
var (
	version   = devVersion
	gitCommit = ""
	buildDate = ""
)

// Info is a resolved build identity.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	Dirty     bool   `json:"dirty,omitempty"`
	BuildDate string `json:"buildDate,omitempty"`
}

// Get resolves the build identity from the stamped variables, filling gaps
// from the module's build info. A stamped commit takes precedence over VCS
// metadata, including its dirty flag.
func Get() Info {
	info := Info{
		Version:   version,
		Commit:    gitCommit,
		BuildDate: buildDate,
	}

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	if info.Version == devVersion && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	if info.Commit == "" {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				info.Commit = s.Value
				if len(info.Commit) > shortCommitLen {
					info.Commit = info.Commit[:shortCommitLen]
				}
			case "vcs.modified":
				info.Dirty = s.Value == "true"
			}
		}
	}
	return info
}

// GetVersion returns the version string alone.
func GetVersion() string {
	return Get().Version
}

// String renders the identity as a printable block for --version output.
func (i Info) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "agentmesh version %s", i.Version)
	if i.Commit != "" {
		fmt.Fprintf(&b, "\ncommit: %s", i.Commit)
		if i.Dirty {
			b.WriteString(" (dirty)")
		}
	}
	if i.BuildDate != "" {
		fmt.Fprintf(&b, "\nbuilt: %s", i.BuildDate)
	}
	return b.String()
}

// SlogAttrs returns the identity as alternating slog key/value args, for
// integrators that log the build identity at startup.
func (i Info) SlogAttrs() []any {
	attrs := []any{"version", i.Version}
	if i.Commit != "" {
		attrs = append(attrs, "commit", i.Commit)
	}
	if i.Dirty {
		attrs = append(attrs, "dirty", true)
	}
	if i.BuildDate != "" {
		attrs = append(attrs, "built", i.BuildDate)
	}
	return attrs
}
