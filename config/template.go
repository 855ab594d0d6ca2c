package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

//go:embed config.properties
var template []byte

// Template returns the contents of the default config file.
func Template() []byte {
	return append([]byte(nil), template...)
}

// Materialize writes the default config file to path, unless a file
// exists there already and force is not set. It reports whether the
// file was written.
func Materialize(path string, force bool) (bool, error) {
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, flags, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create config file: %w", err)
	}

	if _, err := f.Write(template); err != nil {
		f.Close()
		return false, fmt.Errorf("failed to write config file: %w", err)
	}

	if err := f.Close(); err != nil {
		return false, fmt.Errorf("failed to write config file: %w", err)
	}

	return true, nil
}
