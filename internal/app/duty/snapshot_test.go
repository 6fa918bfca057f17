package duty

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRestoreSnapshotCopiesTree(t *testing.T) {
	backup := t.TempDir()
	config := t.TempDir()

	nodeDir := filepath.Join(backup, "76bd4f2372477600")
	if err := os.MkdirAll(nodeDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	files := map[string]string{
		filepath.Join(backup, "config_db.json"): `{"token":"76bd4f2372477600"}`,
		filepath.Join(nodeDir, "node.json"):     `{"unicastAddress":42}`,
	}
	for path, body := range files {
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}

	if err := RestoreSnapshot(backup, config); err != nil {
		t.Fatalf("restore: %v", err)
	}

	for path, want := range files {
		rel, _ := filepath.Rel(backup, path)
		got, err := os.ReadFile(filepath.Join(config, rel))
		if err != nil {
			t.Fatalf("read restored %s: %v", rel, err)
		}
		if string(got) != want {
			t.Fatalf("restored %s = %q, want %q", rel, got, want)
		}
	}
}

func TestRestoreSnapshotOverwritesStaleConfig(t *testing.T) {
	backup := t.TempDir()
	config := t.TempDir()

	if err := os.WriteFile(filepath.Join(backup, "config_db.json"), []byte("good"), 0o600); err != nil {
		t.Fatalf("write backup: %v", err)
	}
	if err := os.WriteFile(filepath.Join(config, "config_db.json"), []byte("stale and corrupt"), 0o600); err != nil {
		t.Fatalf("write stale: %v", err)
	}

	if err := RestoreSnapshot(backup, config); err != nil {
		t.Fatalf("restore: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(config, "config_db.json"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "good" {
		t.Fatalf("expected restore to overwrite, got %q", got)
	}
}

func TestRestoreSnapshotMissingBackup(t *testing.T) {
	if err := RestoreSnapshot(filepath.Join(t.TempDir(), "absent"), t.TempDir()); err == nil {
		t.Fatalf("expected an error for a missing backup directory")
	}
}

func TestRestoreSnapshotBackupMustBeDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "backup")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := RestoreSnapshot(file, t.TempDir()); err == nil {
		t.Fatalf("expected an error for a non-directory backup path")
	}
}
