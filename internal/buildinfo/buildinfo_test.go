package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	tests := []struct {
		name      string
		version   string
		buildDate string
		want      Info
	}{
		{"injected", "v1.2.0", "2024-03-07", Info{Version: "v1.2.0", BuildDate: "2024-03-07"}},
		{"test binary has no module version", "", "", Info{Version: unknown, BuildDate: unknown}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldVersion, oldDate := version, buildDate
			version, buildDate = tt.version, tt.buildDate
			t.Cleanup(func() { version, buildDate = oldVersion, oldDate })

			got := Get()
			assert.Equal(t, tt.want.Version, got.Version)
			assert.Equal(t, tt.want.BuildDate, got.BuildDate)
			assert.NotEmpty(t, got.GoVersion)
		})
	}
}

func TestReleaseAndString(t *testing.T) {
	info := Info{Version: "v1.2.0", BuildDate: "2024-03-07", GoVersion: "go1.26"}
	assert.Equal(t, "biosig@v1.2.0", info.Release())
	assert.Equal(t, "biosig v1.2.0 (built 2024-03-07, go1.26)", info.String())
}
