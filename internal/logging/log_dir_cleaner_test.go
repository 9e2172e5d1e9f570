package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPruneLogDir(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]int
		limit   int64
		removed int
		gone    []string
		kept    []string
	}{
		{
			name:    "removes oldest first",
			files:   map[string]int{"aquila-auth-2025-01-01T00-00-00.000.log.gz": 60, "aquila-auth-2025-01-02T00-00-00.000.log": 60, LogFileName: 60},
			limit:   120,
			removed: 1,
			gone:    []string{"aquila-auth-2025-01-01T00-00-00.000.log.gz"},
			kept:    []string{"aquila-auth-2025-01-02T00-00-00.000.log", LogFileName},
		},
		{
			name:    "never removes the active file",
			files:   map[string]int{LogFileName: 200, "old.log": 50},
			limit:   100,
			removed: 1,
			gone:    []string{"old.log"},
			kept:    []string{LogFileName},
		},
		{
			name:    "ignores other files",
			files:   map[string]int{"session.bin": 500, "old.log": 10},
			limit:   100,
			removed: 0,
			kept:    []string{"session.bin", "old.log"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			// Files age in the order listed here, oldest first.
			ages := map[string]time.Time{}
			i := int64(1)
			for _, name := range []string{"old.log", "aquila-auth-2025-01-01T00-00-00.000.log.gz", "aquila-auth-2025-01-02T00-00-00.000.log", "session.bin", LogFileName} {
				ages[name] = time.Unix(i, 0)
				i++
			}
			for name, size := range tt.files {
				writeLogFile(t, filepath.Join(dir, name), size, ages[name])
			}

			removed, err := pruneLogDir(dir, tt.limit, filepath.Join(dir, LogFileName))
			if err != nil {
				t.Fatalf("pruneLogDir: %v", err)
			}
			if removed != tt.removed {
				t.Fatalf("removed %d, want %d", removed, tt.removed)
			}
			for _, name := range tt.gone {
				if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
					t.Errorf("%s should be removed: %v", name, err)
				}
			}
			for _, name := range tt.kept {
				if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
					t.Errorf("%s should remain: %v", name, err)
				}
			}
		})
	}
}

func TestPruneLogDirMissingDirectory(t *testing.T) {
	removed, err := pruneLogDir(filepath.Join(t.TempDir(), "absent"), 10, "")
	if err != nil || removed != 0 {
		t.Fatalf("got %d, %v", removed, err)
	}
}

func writeLogFile(t *testing.T, path string, size int, modTime time.Time) {
	t.Helper()

	if err := os.WriteFile(path, make([]byte, size), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := os.Chtimes(path, modTime, modTime); err != nil {
		t.Fatalf("set times: %v", err)
	}
}
