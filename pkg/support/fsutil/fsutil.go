// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fsutil holds the file system helpers used to read and write configuration and graph files.
package fsutil

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ExpandPath replaces a leading "~" or "~user" by the user's home directory.
// Other paths are returned unchanged.
func ExpandPath(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	userName, rest, _ := strings.Cut(p[1:], "/")
	var (
		usr *user.User
		err error
	)
	if userName == "" {
		usr, err = user.Current()
	} else {
		usr, err = user.Lookup(userName)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to lookup home directory for path %q", p)
	}
	return filepath.Join(usr.HomeDir, rest), nil
}

// ReadFile reads the file after expanding its path.
func ReadFile(p string) ([]byte, error) {
	expanded, err := ExpandPath(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(expanded)
	return data, errors.Wrapf(err, "failed to read %q", p)
}

// WriteFile writes data to a temporary file in the target directory and renames it over the
// target, so readers never see a partially written file.
func WriteFile(p string, data []byte) error {
	expanded, err := ExpandPath(p)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(expanded), "."+filepath.Base(expanded)+".*")
	if err != nil {
		return errors.Wrapf(err, "failed to create temporary file for %q", p)
	}
	tmpName := tmp.Name()
	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tmpName, 0o644)
	}
	if err == nil {
		err = os.Rename(tmpName, expanded)
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrapf(err, "failed to write %q", p)
	}
	return nil
}
