package batch

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow coalesces the burst of events a single file save produces
// before the pipeline re-runs for that file.
const debounceWindow = 500 * time.Millisecond

// Watch monitors newDir and re-runs fn for any file that is created or
// written, pairing it against oldDir the same way DiscoverPairs does. New
// subdirectories are added to the watch recursively. Blocks until ctx ends.
func Watch(ctx context.Context, oldDir, newDir, outDir string, fn Operation) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := addWatchRecursive(watcher, newDir); err != nil {
		return err
	}

	pending := make(map[string]*time.Timer)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if evt.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			info, err := os.Stat(evt.Name)
			if err != nil {
				continue
			}
			if info.IsDir() {
				if evt.Op&fsnotify.Create != 0 {
					_ = addWatchRecursive(watcher, evt.Name)
				}
				continue
			}

			name := evt.Name
			if timer, exists := pending[name]; exists {
				timer.Stop()
			}
			pending[name] = time.AfterFunc(debounceWindow, func() {
				runWatched(ctx, oldDir, newDir, outDir, name, fn)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if err != nil {
				log.Printf("[watch] watcher error: %v", err)
			}
		}
	}
}

func runWatched(ctx context.Context, oldDir, newDir, outDir, path string, fn Operation) {
	rel, err := filepath.Rel(newDir, path)
	if err != nil {
		return
	}

	pair := Pair{
		Name:      rel,
		OldPath:   filepath.Join(oldDir, rel),
		NewPath:   path,
		PatchPath: filepath.Join(outDir, rel+".pfc"),
	}

	outcome := runOne(ctx, pair, fn)
	switch outcome.Status {
	case Error:
		log.Printf("[watch] %s: %s", pair.Name, outcome.Message)
	case Skipped:
		log.Printf("[watch] %s skipped: %s", pair.Name, outcome.Message)
	default:
		log.Printf("[watch] %s patched in %v", pair.Name, outcome.Duration)
	}
}

func addWatchRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return watcher.Add(path)
	})
}
