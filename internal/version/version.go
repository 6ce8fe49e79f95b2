// Package version holds build metadata injected via ldflags:
//
//	-X github.com/kailas-cloud/postmap/internal/version.Version=v1.2.0
package version

import (
	"runtime/debug"
	"sync"
)

//nolint:gochecknoglobals // set via ldflags
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info is the resolved build metadata.
type Info struct {
	Version   string
	Commit    string
	Date      string
	GoVersion string
}

var (
	once     sync.Once
	resolved Info
)

// Get returns the ldflags values, filling gaps from the module build info
// that `go install` embeds.
func Get() Info {
	once.Do(func() {
		resolved = resolve(Version, Commit, Date, debug.ReadBuildInfo)
	})
	return resolved
}

func resolve(v, commit, date string, read func() (*debug.BuildInfo, bool)) Info {
	info := Info{Version: v, Commit: commit, Date: date}
	bi, ok := read()
	if !ok {
		return info
	}
	info.GoVersion = bi.GoVersion
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "unknown" {
				info.Commit = s.Value
			}
		case "vcs.time":
			if info.Date == "unknown" {
				info.Date = s.Value
			}
		}
	}
	return info
}
