// Package version reports build-time versions of the service and its
// parse/transform engines.
package version

import (
	"runtime/debug"
)

// Set at build time:
//
//	go build -ldflags "-X github.com/therealutkarshpriyadarshi/logdebug/internal/version.Component=1.2.0 \
//	  -X github.com/therealutkarshpriyadarshi/logdebug/internal/version.Engine=1.2.0"
var (
	Component string
	Engine    string
)

const unknown = "dev"

// Info is the pair of versions served by the version endpoint
type Info struct {
	ComponentVersion string `json:"component_version"`
	EngineVersion    string `json:"engine_version"`
}

// Get returns the linked-in versions. Values not set at link time fall
// back to the module build information.
func Get() Info {
	return Info{
		ComponentVersion: resolve(Component),
		EngineVersion:    resolve(Engine),
	}
}

func resolve(linked string) string {
	if linked != "" {
		return linked
	}
	return fromBuildInfo(debug.ReadBuildInfo)
}

func fromBuildInfo(read func() (*debug.BuildInfo, bool)) string {
	info, ok := read()
	if !ok {
		return unknown
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		return v
	}

	var revision string
	var modified bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			modified = s.Value == "true"
		}
	}
	if revision == "" {
		return unknown
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}
	if modified {
		revision += "-dirty"
	}
	return revision
}
