package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/biosig-go/internal/conf"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := RootCommand(&conf.Settings{})

	names := make([]string, 0, len(root.Commands()))
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"acquire", "devices", "inspect", "export", "version"} {
		assert.Contains(t, names, want)
	}
	assert.NotNil(t, root.PersistentFlags().Lookup(ConfigFlag))
}

func TestVersionSkipsInitialization(t *testing.T) {
	// Invalid settings would fail validation if initialization ran
	root := RootCommand(&conf.Settings{})

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "biosig ")
}
