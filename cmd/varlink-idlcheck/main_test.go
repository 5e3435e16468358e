package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeIDLFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.varlink")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestCheckFile_AcceptsWellFormedInterface(t *testing.T) {
	path := writeIDLFile(t, `
interface org.example.demo

method Ping(message: string) -> (message: string)

error Failed (reason: string)
`)
	assert.NoError(t, checkFile(path))
}

func TestCheckFile_ReportsParseErrorForMalformedInterface(t *testing.T) {
	path := writeIDLFile(t, `not a varlink interface`)
	assert.Error(t, checkFile(path))
}

func TestCheckFile_ReportsMissingFile(t *testing.T) {
	err := checkFile(filepath.Join(t.TempDir(), "does-not-exist.varlink"))
	assert.Error(t, err)
}
