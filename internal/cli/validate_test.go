package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateValidSchema(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(testOptions("text"))
	cmd.SetOut(buf)
	cmd.SetArgs([]string{shopSchemaDir})

	require.NoError(t, cmd.Execute())

	output := buf.String()
	assert.Contains(t, output, "✓ Schema valid")
	assert.Contains(t, output, "order (identity orderId)")
	assert.Contains(t, output, "customerId -> customer.customer")
	assert.Contains(t, output, "itemIds -> item.items")
}

func TestValidateValidSchemaJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(testOptions("json"))
	cmd.SetOut(buf)
	cmd.SetArgs([]string{shopSchemaDir})

	require.NoError(t, cmd.Execute())

	var resp struct {
		Status  string           `json:"status"`
		Data    ValidationResult `json:"data"`
		TraceID string           `json:"trace_id"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, "test-session-0001", resp.TraceID)

	names := make([]string, len(resp.Data.Caches))
	for i, c := range resp.Data.Caches {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"customer", "item", "order"}, names)
}

func TestValidateNonExistentDirectory(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(testOptions("text"))
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"/nonexistent/directory/path"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "E005")
	assert.Contains(t, buf.String(), "Error [E005]")
}

func TestValidateEmptyDirectory(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(testOptions("text"))
	cmd.SetOut(buf)
	cmd.SetArgs([]string{t.TempDir()})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "E003")
}

func TestValidateUnknownTarget(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(testOptions("text"))
	cmd.SetOut(buf)
	cmd.SetArgs([]string{invalidSchema})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	output := buf.String()
	assert.Contains(t, output, "✗ Validation failed")
	assert.Contains(t, output, `cache order: depends on unknown cache "customer"`)
}

func TestValidateUnknownTargetJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(testOptions("json"))
	cmd.SetOut(buf)
	cmd.SetArgs([]string{invalidSchema})

	err := cmd.Execute()
	require.Error(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidSchema, resp.Error.Code)
	require.Len(t, resp.Data.Errors, 1)
	assert.False(t, resp.Data.Valid)
}
