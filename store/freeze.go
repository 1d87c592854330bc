package store

import (
	"io/fs"
	"os"
	"path/filepath"
)

// filepathWalkReadOnly strips write permission from every file and directory
// under root, applied bottom-up isn't required here since Chmod doesn't
// affect traversal, only future writes.
func filepathWalkReadOnly(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		mode := info.Mode().Perm() &^ 0o222
		if d.IsDir() {
			mode = info.Mode().Perm()&^0o222 | 0o111
		}
		return os.Chmod(path, mode)
	})
}
