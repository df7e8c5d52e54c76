package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hashInput = `{"b": 1, "a": [true, null, "x"]}`

func TestHashFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "value.json", hashInput)

	out, err := executeCommand(t, "", "hash", path)
	require.NoError(t, err)
	assert.Equal(t, "7e2a283e\n", out)
}

func TestHashStdinCanonical(t *testing.T) {
	out, err := executeCommand(t, hashInput, "hash", "-", "--canonical")
	require.NoError(t, err)
	assert.Equal(t, "7e2a283e\n{\"a\":[true,null,\"x\"],\"b\":1}\n", out)
}

func TestHashJSONOutput(t *testing.T) {
	out, err := executeCommand(t, hashInput, "--format", "json", "hash", "-", "--canonical")
	require.NoError(t, err)

	var res HashResult
	resp := decodeResponse(t, out, &res)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "7e2a283e", res.Hash)
	assert.Equal(t, `{"a":[true,null,"x"],"b":1}`, res.Canonical)
}

func TestHashKeyOrderDoesNotMatter(t *testing.T) {
	out1, err := executeCommand(t, `{"x": 1, "y": {"b": 2, "a": 1}}`, "hash", "-")
	require.NoError(t, err)
	out2, err := executeCommand(t, `{"y": {"a": 1, "b": 2}, "x": 1}`, "hash", "-")
	require.NoError(t, err)
	assert.Equal(t, out1, out2)
}

func TestHashRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		stdin string
	}{
		{"not json", "{nope"},
		{"trailing data", `{} {}`},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := executeCommand(t, tt.stdin, "hash", "-")
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, out, "Error [E_INPUT]")
		})
	}
}
