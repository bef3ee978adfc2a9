package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/compsearch/internal/config"
	"github.com/roach88/compsearch/internal/score"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	err := formatter.Success(map[string]int{"scored": 3}, func(w io.Writer) {
		t.Fatal("text renderer must not run in json mode")
	})
	require.NoError(t, err)

	var resp struct {
		Status string         `json:"status"`
		Data   map[string]int `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 3, resp.Data["scored"])
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success("ignored", func(w io.Writer) {
		fmt.Fprint(w, "rendered")
	}))
	assert.Equal(t, "rendered", buf.String())

	buf.Reset()
	require.NoError(t, formatter.Success("plain", nil))
	assert.Equal(t, "plain\n", buf.String())
}

func TestOutputFormatter_Error(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Error("E_STORE", "store unavailable", nil))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_STORE", resp.Error.Code)
	assert.Equal(t, "store unavailable", resp.Error.Message)

	buf.Reset()
	formatter.Format = "text"
	require.NoError(t, formatter.Error("E_STORE", "store unavailable", nil))
	assert.Equal(t, "Error [E_STORE]: store unavailable\n", buf.String())
}

func TestExitError(t *testing.T) {
	err := WrapExitError(ExitFailure, "expand failed", errors.New("disk full"))
	assert.Equal(t, "expand failed: disk full", err.Error())
	assert.Equal(t, "disk full", errors.Unwrap(err).Error())
	assert.Equal(t, "bad flag", NewExitError(ExitCommandError, "bad flag").Error())
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain", errors.New("boom"), ExitFailure},
		{"exit error", NewExitError(ExitCommandError, "x"), ExitCommandError},
		{"wrapped exit error", fmt.Errorf("outer: %w", NewExitError(ExitCommandError, "x")), ExitCommandError},
		{"configuration error", config.ValidationErrors{{Field: "expand.max_size"}}, ExitCommandError},
		{"weight error", &score.WeightError{Trait: "X", Message: "unknown trait"}, ExitCommandError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestWrapRunError(t *testing.T) {
	assert.Equal(t, ExitCommandError, wrapRunError("x", config.ValidationErrors{{Field: "f"}}).Code)
	assert.Equal(t, ExitFailure, wrapRunError("x", errors.New("io")).Code)
}
