package storage

import (
	"os"
)

// DatabaseFileSize returns the size of a SQLite database including its
// WAL and shared-memory sidecar files. Missing files count as zero.
func DatabaseFileSize(path string) (int64, error) {
	var total int64
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		info, err := os.Stat(p)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if !info.IsDir() {
			total += info.Size()
		}
	}
	return total, nil
}
