package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	data := map[string]string{"result": "success"}
	err := formatter.Success(data, "ignored in json mode")
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{"result": "success"}, resp.Data)
	assert.NotContains(t, buf.String(), "ignored")
}

func TestOutputFormatter_JSONSuccessDoesNotEscapeHTML(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Success(map[string]string{"name": "<Aria & co>"}, ""))
	assert.Contains(t, buf.String(), "<Aria & co>")
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error(CodeSync, "sync failed", nil)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_SYNC", resp.Error.Code)
	assert.Equal(t, "sync failed", resp.Error.Message)
}

func TestOutputFormatter_JSONErrorWithDetails(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	details := map[string]string{"file": "backup.json", "version": "7"}
	err := formatter.Error(CodeInput, "document was written by a newer schema", details)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	err := formatter.Success(map[string]int{"pushed": 1}, "Synced alice: pushed 1, received 0")
	require.NoError(t, err)
	assert.Equal(t, "Synced alice: pushed 1, received 0\n", buf.String())
}

func TestOutputFormatter_TextSuccessFallsBackToData(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success("7e2a283e", ""))
	assert.Equal(t, "7e2a283e\n", buf.String())
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	err := formatter.Error(CodeStore, "store unavailable", "connection refused")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [E_STORE]: store unavailable")
	assert.NotContains(t, buf.String(), "Details")
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: true,
	}

	err := formatter.Error(CodeStore, "store unavailable", "connection refused")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [E_STORE]: store unavailable")
	assert.Contains(t, buf.String(), "Details: connection refused")
}

func TestOutputFormatter_Fail(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	cause := errors.New("dial tcp: connection refused")
	err := formatter.Fail(ExitFailure, CodeSync, "sync failed", cause)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "sync failed: dial tcp: connection refused", err.Error())

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_SYNC", resp.Error.Code)
	assert.Equal(t, "dial tcp: connection refused", resp.Error.Details)
}

func TestOutputFormatter_FailWithoutCause(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	err := formatter.Fail(ExitCommandError, CodeInput, "target version must be between 1 and 4", nil)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, "target version must be between 1 and 4", err.Error())
	assert.Contains(t, buf.String(), "Error [E_INPUT]")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	t.Run("quiet by default", func(t *testing.T) {
		buf := &bytes.Buffer{}
		formatter := &OutputFormatter{Format: "text", Writer: buf}
		formatter.VerboseLog("debug %d", 1)
		assert.Empty(t, buf.String())
	})

	t.Run("uses error writer", func(t *testing.T) {
		out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
		formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: errOut, Verbose: true}
		formatter.VerboseLog("migrated %s", "backup.json")
		assert.Empty(t, out.String())
		assert.Equal(t, "migrated backup.json\n", errOut.String())
	})

	t.Run("falls back to writer", func(t *testing.T) {
		buf := &bytes.Buffer{}
		formatter := &OutputFormatter{Format: "text", Writer: buf, Verbose: true}
		formatter.VerboseLog("hello")
		assert.Equal(t, "hello\n", buf.String())
	})
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain error", errors.New("boom"), ExitFailure},
		{"exit error", NewExitError(ExitCommandError, "bad flag"), ExitCommandError},
		{"wrapped exit error", fmt.Errorf("outer: %w", WrapExitError(ExitFailure, "inner", errors.New("x"))), ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestCLIResponse_JSON(t *testing.T) {
	resp := CLIResponse{Status: "ok", Data: map[string]int{"received": 2}}
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","data":{"received":2}}`, string(data))
}

func TestCLIError_JSON(t *testing.T) {
	resp := CLIResponse{Status: "error", Error: &CLIError{Code: CodeTestFailed, Message: "1 scenario failed"}}
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"error","error":{"code":"E_TEST_FAILED","message":"1 scenario failed"}}`, string(data))
}
