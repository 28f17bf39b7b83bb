// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fsutil

import (
	"os"
	"os/user"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandPath(t *testing.T) {
	usr, err := user.Current()
	require.NoError(t, err)

	got, err := ExpandPath("~/graphs.yaml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(usr.HomeDir, "graphs.yaml"), got)

	got, err = ExpandPath("~")
	require.NoError(t, err)
	assert.Equal(t, usr.HomeDir, got)

	got, err = ExpandPath("/tmp/x")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x", got)

	_, err = ExpandPath("~no_such_user_for_sure/x")
	require.Error(t, err)
}

func TestWriteAndReadFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "out.yaml")
	require.NoError(t, WriteFile(p, []byte("first")))
	require.NoError(t, WriteFile(p, []byte("second")))
	data, err := ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")

	_, err = ReadFile(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	require.Error(t, WriteFile(filepath.Join(dir, "no", "such", "dir.yaml"), nil))
}
