package hub

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{in: "", want: LogOff},
		{in: "off", want: LogOff},
		{in: "NONE", want: LogOff},
		{in: "error", want: LogError},
		{in: " Info ", want: LogInfo},
		{in: "verbose", want: LogVerbose},
		{in: "debug", want: LogVerbose},
		{in: "trace", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLogLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDiagFollowsProcessLevel(t *testing.T) {
	t.Cleanup(func() { SetLogLevel(LogOff) })

	var buf bytes.Buffer
	d := diag{base: zerolog.New(&buf)}

	assert.Equal(t, LogOff, CurrentLogLevel())
	d.log().Error().Msg("hidden")
	assert.Empty(t, buf.String())

	SetLogLevel(LogError)
	d.log().Info().Msg("hidden")
	d.log().Error().Msg("shown-error")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown-error")

	SetLogLevel(LogVerbose)
	d.log().Debug().Msg("shown-debug")
	assert.Contains(t, buf.String(), "shown-debug")
	assert.Equal(t, "verbose", CurrentLogLevel().String())
}
