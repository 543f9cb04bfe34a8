package version

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelease(t *testing.T) {
	tests := map[string]string{
		"v2.1.0":      "2.1.0",
		"2.1.0-rc1":   "2.1.0-rc1",
		"v1.0.0-RC_1": "1.0.0-RC_1",
		"dev":         "",
		"v1.2":        "",
	}
	for build, want := range tests {
		t.Run(build, func(t *testing.T) {
			assert.Equal(t, want, Release(build).String())
		})
	}
}

func TestInfo_String(t *testing.T) {
	info := Info{Version: "v3.0.1", Release: Release("v3.0.1"), APIVersion: APIVersion,
		GitCommit: "abc123", BuildTime: "2024-05-01", Platform: "linux/amd64"}
	assert.Equal(t, "inventory 3.0.1 (abc123, api v1) built at 2024-05-01 on linux/amd64", info.String())

	info.Version, info.Release = "dev", Release("dev")
	assert.Contains(t, info.String(), "inventory dev (")
}

func TestGet_JSON(t *testing.T) {
	data, err := json.Marshal(Get())
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "v1", raw["api_version"])
	assert.Contains(t, raw, "release")
}
