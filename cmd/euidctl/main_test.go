package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exitCode(err error) int {
	var coder *exitError
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return 0
}

func TestCompose(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
		code int
	}{
		{name: "company", args: []string{"--type", "COMPANY", "--seq", "12"}, want: "C00012"},
		{name: "secret government with jurisdiction", args: []string{"--type", "government", "--seq", "2", "--access", "secret", "--jurisdiction", "us", "--status", "historical"}, want: "SGUS00002H"},
		{name: "custom prefix", args: []string{"--type", "VESSEL", "--seq", "1", "--prefix", "VES=VESSEL"}, want: "VES00001"},
		{name: "unknown type", args: []string{"--type", "SPACESHIP", "--seq", "1"}, code: 1},
		{name: "sequence out of range", args: []string{"--type", "COMPANY", "--seq", "0"}, code: 1},
		{name: "jurisdiction on a company", args: []string{"--type", "COMPANY", "--seq", "1", "--jurisdiction", "US"}, code: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := run(append([]string{"compose"}, tt.args...), &out)
			if tt.code != 0 {
				require.Error(t, err)
				assert.Equal(t, tt.code, exitCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, strings.TrimSpace(out.String()))
		})
	}
}

func TestValidate(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"validate", "C00001", "I00002-C00001H"}, &out))
	assert.Equal(t, "C00001\tvalid\nI00002-C00001H\tvalid\n", out.String())

	out.Reset()
	err := run([]string{"validate", "C00001", "Y00001"}, &out)
	require.Error(t, err)
	assert.Equal(t, 1, exitCode(err))
	assert.Contains(t, out.String(), "Y00001\tinvalid")

	out.Reset()
	require.NoError(t, run([]string{"validate", "--json", "SC00003R"}, &out))
	var line map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &line))
	assert.Equal(t, "SC00003R", line["euid"])
	assert.Equal(t, true, line["isValid"])

	assert.Equal(t, 2, exitCode(run([]string{"validate"}, &out)))
}

func TestFormat(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"format", "KI00042R"}, &out))
	assert.Contains(t, out.String(), "entity type:  INDIVIDUAL")
	assert.Contains(t, out.String(), "access:       confidential")
	assert.Contains(t, out.String(), "status:       retired")

	err := run([]string{"format", "nope"}, &out)
	assert.Equal(t, 1, exitCode(err))
}

func TestUsage(t *testing.T) {
	var out bytes.Buffer
	assert.Equal(t, 2, exitCode(run(nil, &out)))
	assert.Equal(t, 2, exitCode(run([]string{"explode"}, &out)))
	require.NoError(t, run([]string{"help"}, &out))
}
