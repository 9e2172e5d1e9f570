package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// replaceCheckDelay lets an atomic rename settle before a Remove event is
// treated as a real deletion.
const replaceCheckDelay = 50 * time.Millisecond

// Watch implements Watcher. It reports removal of the session blob by another
// process, such as a second instance logging out. Renames caused by Save are
// recognised by re-checking the path after replaceCheckDelay.
func (f *FileStore) Watch(ctx context.Context) (<-chan struct{}, error) {
	if err := os.MkdirAll(f.dir, 0o700); err != nil {
		return nil, fmt.Errorf("session filestore: create dir failed: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("session filestore: create watcher failed: %w", err)
	}
	if err = watcher.Add(f.dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("session filestore: watch %s failed: %w", f.dir, err)
	}

	blob := filepath.Clean(f.BlobPath())
	out := make(chan struct{}, 1)
	go func() {
		defer close(out)
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != blob || event.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				time.Sleep(replaceCheckDelay)
				if _, statErr := os.Stat(blob); !errors.Is(statErr, os.ErrNotExist) {
					continue
				}
				log.Debugf("session blob removed (%s)", event.Op.String())
				select {
				case out <- struct{}{}:
				default:
				}
			case errWatch, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Errorf("session watcher error: %v", errWatch)
			}
		}
	}()
	return out, nil
}
