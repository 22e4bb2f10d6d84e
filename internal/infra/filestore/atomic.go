package filestore

import (
	"os"
	"path/filepath"
)

// EnsureParentDir creates the parent directory of filePath.
func EnsureParentDir(filePath string) error {
	return os.MkdirAll(filepath.Dir(filePath), 0o755)
}

// AtomicWrite replaces filePath with data via a synced temporary file and a
// rename, so readers observe either the old or the new document.
func AtomicWrite(filePath string, data []byte, perm os.FileMode) error {
	if err := EnsureParentDir(filePath); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(filePath), filepath.Base(filePath)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, filePath); err != nil {
		cleanup()
		return err
	}
	return nil
}

// ResolvePath expands a leading ~ and environment variables. An empty
// configured value falls back to defaultPath.
func ResolvePath(configured, defaultPath string) string {
	path := configured
	if path == "" {
		path = defaultPath
	}
	if path == "" {
		return path
	}

	if path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			switch {
			case len(path) == 1:
				path = home
			case path[1] == '/':
				path = filepath.Join(home, path[2:])
			}
		}
	}
	return os.ExpandEnv(path)
}
