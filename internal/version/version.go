// Package version carries the build information of the inventory binaries.
package version

import (
	"fmt"
	"runtime"
	"strings"

	"evalgo.org/inventory/models"
)

// APIVersion is the prefix of the REST routes served by this build.
const APIVersion = "v1"

// Set at link time by cmd/inventory.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

type Info struct {
	Version    string         `json:"version"`
	Release    models.Version `json:"release"`
	APIVersion string         `json:"api_version"`
	BuildTime  string         `json:"build_time"`
	GitCommit  string         `json:"git_commit"`
	GoVersion  string         `json:"go_version"`
	Platform   string         `json:"platform"`
}

func Get() Info {
	return Info{
		Version:    Version,
		Release:    Release(Version),
		APIVersion: APIVersion,
		BuildTime:  BuildTime,
		GitCommit:  GitCommit,
		GoVersion:  runtime.Version(),
		Platform:   fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// Release parses a build version such as "v2.1.0-rc1" with the same rules
// as image versions. Development builds yield the zero Version.
func Release(build string) models.Version {
	v, err := models.ParseVersion(strings.TrimPrefix(build, "v"))
	if err != nil {
		return models.Version{}
	}
	return v
}

func (i Info) String() string {
	release := i.Release.String()
	if release == "" {
		release = i.Version
	}
	return fmt.Sprintf("inventory %s (%s, api %s) built at %s on %s",
		release,
		i.GitCommit,
		i.APIVersion,
		i.BuildTime,
		i.Platform,
	)
}
