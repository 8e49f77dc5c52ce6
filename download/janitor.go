package download

import (
	"os"
	"path/filepath"
	"time"

	"github.com/clipfetch/clipfetch/log"
)

// PurgeOldFiles removes files under dir whose modification time is older than
// maxAge. Directories are left alone. Returns the number of files removed.
func PurgeOldFiles(dir string, maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.LogNoRequestID("error listing download dir for cleanup", "dir", dir, "error", err)
		return 0
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(dir, e.Name())
			if err := os.Remove(path); err != nil {
				log.LogNoRequestID("error removing stale download", "path", path, "error", err)
				continue
			}
			removed++
		}
	}
	return removed
}

// StartJanitor purges dir every interval until stop is closed.
func StartJanitor(dir string, maxAge, interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := PurgeOldFiles(dir, maxAge); n > 0 {
					log.LogNoRequestID("purged stale downloads", "dir", dir, "count", n)
				}
			case <-stop:
				return
			}
		}
	}()
}
