// Package version reports the keyreply build.
package version

import (
	"fmt"
	"runtime/debug"
	"sync"
)

// Overridden with -ldflags "-X github.com/memohai/keyreply/internal/version.Version=...".
var (
	Version    = "dev"
	CommitHash = ""
	BuildTime  = ""
)

// Info is the build metadata shown by `keyreply version` and GET /ping.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
}

var readOnce sync.Once

func fillFromBuildInfo() {
	readOnce.Do(func() {
		if CommitHash != "" {
			return
		}
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				CommitHash = setting.Value
			case "vcs.time":
				BuildTime = setting.Value
			}
		}
	})
}

// Get returns the build metadata, reading VCS stamps when ldflags did not set them.
func Get() Info {
	fillFromBuildInfo()
	return Info{Version: Version, Commit: shortHash(CommitHash), BuildTime: BuildTime}
}

// String renders "version (commit)".
func (i Info) String() string {
	if i.Commit == "" {
		return i.Version
	}
	return fmt.Sprintf("%s (%s)", i.Version, i.Commit)
}

func shortHash(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}
