package logging

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const retentionInterval = time.Minute

var retentionCancel context.CancelFunc

// startRetentionLocked replaces the running sweeper. writerMu must be held.
func startRetentionLocked(logDir string, maxTotalSizeMB int, active string) {
	stopRetentionLocked()

	dir := strings.TrimSpace(logDir)
	if maxTotalSizeMB <= 0 || dir == "" {
		return
	}
	limit := int64(maxTotalSizeMB) << 20

	ctx, cancel := context.WithCancel(context.Background())
	retentionCancel = cancel
	go func() {
		ticker := time.NewTicker(retentionInterval)
		defer ticker.Stop()
		for {
			if removed, err := pruneLogDir(filepath.Clean(dir), limit, active); err != nil {
				log.WithError(err).Warn("logging: log retention sweep failed")
			} else if removed > 0 {
				log.Debugf("logging: pruned %d rotated log file(s)", removed)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func stopRetentionLocked() {
	if retentionCancel != nil {
		retentionCancel()
		retentionCancel = nil
	}
}

type logEntry struct {
	path    string
	size    int64
	modTime time.Time
}

// pruneLogDir removes the oldest log files until the directory total is within
// limit. The active file is never removed.
func pruneLogDir(dir string, limit int64, active string) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if active != "" {
		active = filepath.Clean(active)
	}

	var (
		files []logEntry
		total int64
	)
	for _, entry := range entries {
		if entry.IsDir() || !isLogFileName(entry.Name()) {
			continue
		}
		info, errInfo := entry.Info()
		if errInfo != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, logEntry{path: filepath.Join(dir, entry.Name()), size: info.Size(), modTime: info.ModTime()})
		total += info.Size()
	}
	if total <= limit {
		return 0, nil
	}

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })

	removed := 0
	for _, f := range files {
		if total <= limit {
			break
		}
		if f.path == active {
			continue
		}
		if errRemove := os.Remove(f.path); errRemove != nil {
			log.WithError(errRemove).Warnf("logging: could not remove %s", filepath.Base(f.path))
			continue
		}
		total -= f.size
		removed++
	}
	return removed, nil
}

// isLogFileName matches active and lumberjack-rotated files, compressed or not.
func isLogFileName(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	return strings.HasSuffix(lower, ".log") || strings.HasSuffix(lower, ".log.gz")
}
