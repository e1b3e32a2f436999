package main

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/webull-go/webull-api-go/config"
)

func TestRootCmdRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "level", args: []string{"--level", "99"}},
		{name: "mode", args: []string{"--mode", "demo"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCmd()
			cmd.SetArgs(tt.args)
			cmd.SetOut(io.Discard)
			cmd.SetErr(io.Discard)
			assert.Error(t, cmd.Execute())
		})
	}
}

func TestRootCmdFlags(t *testing.T) {
	cmd := newRootCmd()
	for _, name := range []string{"mode", "device-file", "access-token", "tickers", "level", "debug", "push-url"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
	assert.Equal(t, string(config.ModeLive), cmd.Flags().Lookup("mode").DefValue)
	assert.Equal(t, "105", cmd.Flags().Lookup("level").DefValue)
}
