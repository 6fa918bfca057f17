package duty

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// RestoreSnapshot copies the backed-up mesh configuration over the
// operational path. bluetooth-meshd has been seen losing its node directory
// across power cuts, so every boot starts from the known-good copy.
func RestoreSnapshot(backupDir, configDir string) error {
	info, err := os.Stat(backupDir)
	if err != nil {
		return fmt.Errorf("mesh configuration backup unavailable at %s: %w", backupDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("mesh configuration backup %s is not a directory", backupDir)
	}

	return filepath.WalkDir(backupDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(backupDir, path)
		if err != nil {
			return err
		}
		target := filepath.Join(configDir, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
