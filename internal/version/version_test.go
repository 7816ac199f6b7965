package version

import (
	"runtime/debug"
	"testing"
)

func TestGet_Linked(t *testing.T) {
	oldComponent, oldEngine := Component, Engine
	defer func() { Component, Engine = oldComponent, oldEngine }()

	Component, Engine = "1.4.0", "0.9.1"
	info := Get()
	if info.ComponentVersion != "1.4.0" || info.EngineVersion != "0.9.1" {
		t.Errorf("Get() = %+v", info)
	}
}

func TestFromBuildInfo(t *testing.T) {
	tests := []struct {
		name string
		info *debug.BuildInfo
		ok   bool
		want string
	}{
		{
			name: "no build info",
			ok:   false,
			want: "dev",
		},
		{
			name: "module version",
			info: &debug.BuildInfo{Main: debug.Module{Version: "v1.2.3"}},
			ok:   true,
			want: "v1.2.3",
		},
		{
			name: "vcs revision",
			info: &debug.BuildInfo{
				Main: debug.Module{Version: "(devel)"},
				Settings: []debug.BuildSetting{
					{Key: "vcs.revision", Value: "0123456789abcdef0123"},
					{Key: "vcs.modified", Value: "true"},
				},
			},
			ok:   true,
			want: "0123456789ab-dirty",
		},
		{
			name: "devel without vcs",
			info: &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}},
			ok:   true,
			want: "dev",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fromBuildInfo(func() (*debug.BuildInfo, bool) { return tt.info, tt.ok })
			if got != tt.want {
				t.Errorf("fromBuildInfo() = %q, want %q", got, tt.want)
			}
		})
	}
}
