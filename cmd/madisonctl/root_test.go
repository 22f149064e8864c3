package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Argument validation runs before the database is opened, so these cases
// need no Postgres.
func runCLI(t *testing.T, args ...string) error {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1")
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	return cmd.Execute()
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	err := runCLI(t, "export", "doc-1", "--format", "xls")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "export format unsupported")
}

func TestExportRequiresDocumentID(t *testing.T) {
	err := runCLI(t, "export")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg(s)")
}

func TestMigrateRejectsUnknownDirection(t *testing.T) {
	err := runCLI(t, "migrate", "sideways")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid argument")
}

func TestReindexTakesNoArguments(t *testing.T) {
	err := runCLI(t, "reindex", "extra")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestCommandsRegistered(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"export", "reindex", "migrate"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}
