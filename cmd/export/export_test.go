package export

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/biosig-go/internal/acquisition"
	"github.com/tphakala/biosig-go/internal/conf"
	"github.com/tphakala/biosig-go/internal/logger"
	"github.com/tphakala/biosig-go/internal/recorder"
)

func recordSecond(t *testing.T) string {
	t.Helper()
	desc, err := acquisition.NewDescriptor(acquisition.ProducerConfig{SampleRate: 100},
		acquisition.BlockShape{Channels: 2, SamplesPerBlock: 50}, 0.001)
	require.NoError(t, err)

	base := filepath.Join(t.TempDir(), recorder.BaseName(time.Now(), 1))
	r := recorder.New(recorder.Options{Logger: logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)})
	require.NoError(t, r.Open(base, desc))
	for range 2 {
		_, err := r.WriteBlock(acquisition.NewSampleBlock(2, 50))
		require.NoError(t, err)
	}
	require.NoError(t, r.Close())
	return base
}

func TestExportCommand(t *testing.T) {
	first := recordSecond(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"default output", []string{first}, first[:len(first)-len(filepath.Ext(first))] + ".edf"},
		{"explicit output", []string{first, filepath.Join(t.TempDir(), "out.edf")}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := tt.want
			if want == "" {
				want = tt.args[1]
			}

			var out bytes.Buffer
			cmd := Command(&conf.Settings{})
			cmd.SetOut(&out)
			cmd.SetArgs(tt.args)
			require.NoError(t, cmd.Execute())

			assert.FileExists(t, want)
			assert.Contains(t, out.String(), "Wrote "+want+": 1 segments, 1 records, 100 samples")
		})
	}
}

func TestExportCommandRejectsInvertedRange(t *testing.T) {
	first := recordSecond(t)

	cmd := Command(&conf.Settings{})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{first, filepath.Join(t.TempDir(), "out.edf"), "--physmin", "10", "--physmax", "-10"})
	require.Error(t, cmd.Execute())
}
