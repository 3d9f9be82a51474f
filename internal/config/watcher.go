package config

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"unitforge/pkg/lifecycle"
	"unitforge/pkg/logx"
)

// Watcher observes a directory of spec files and reloads the ones that
// change. Reloads are debounced (editors fire several events per save)
// and skipped when the content hash is unchanged.
type Watcher struct {
	dir  string
	opts ResolveOptions
	log  logx.Logger

	mu       sync.Mutex
	lastHash map[string]uint64
}

func NewWatcher(dir string, opts ResolveOptions, log logx.Logger) *Watcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Watcher{
		dir:      dir,
		opts:     opts,
		log:      log,
		lastHash: map[string]uint64{},
	}
}

// LoadAll parses every spec file in the directory, in name order, and
// returns the combined definitions. A single bad file fails the whole
// load; partial deployment of a spec directory is worse than none.
func (w *Watcher) LoadAll() ([]lifecycle.Definition, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && specExt(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var defs []lifecycle.Definition
	for _, name := range names {
		path := filepath.Join(w.dir, name)
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		f, err := Parse(path, b)
		if err != nil {
			return nil, err
		}
		d, err := f.Resolve(w.opts)
		if err != nil {
			return nil, err
		}
		defs = append(defs, d...)

		w.mu.Lock()
		w.lastHash[path] = hashBytes(b)
		w.mu.Unlock()
	}
	return defs, nil
}

// Watch blocks until the context is done, calling onChange with the
// re-resolved definitions of each spec file that changes. A broken
// watcher is recreated with exponential backoff rather than surfaced;
// spec watching is a convenience, not a correctness requirement.
func (w *Watcher) Watch(ctx context.Context, onChange func(path string, defs []lifecycle.Definition)) error {
	const (
		backoffBase = 250 * time.Millisecond
		backoffMax  = 5 * time.Second
		settle      = 250 * time.Millisecond
	)
	backoff := backoffBase

	var (
		timerMu sync.Mutex
		pending = map[string]bool{}
		timer   *time.Timer
	)
	schedule := func(path string) {
		timerMu.Lock()
		defer timerMu.Unlock()
		pending[path] = true
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(settle, func() {
			timerMu.Lock()
			batch := pending
			pending = map[string]bool{}
			timerMu.Unlock()

			paths := make([]string, 0, len(batch))
			for p := range batch {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			for _, p := range paths {
				w.reload(p, onChange)
			}
		})
	}

	wait := func() bool {
		d := backoff
		if backoff < backoffMax {
			backoff *= 2
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(d):
			return true
		}
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		fw, err := fsnotify.NewWatcher()
		if err == nil {
			if err = fw.Add(w.dir); err != nil {
				_ = fw.Close()
			}
		}
		if err != nil {
			w.log.Warn("spec watch init failed", logx.String("dir", w.dir), logx.Err(err))
			if !wait() {
				return nil
			}
			continue
		}
		backoff = backoffBase
		w.log.Debug("spec watcher started", logx.String("dir", w.dir))

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = fw.Close()
				return nil
			case ev, ok := <-fw.Events:
				if !ok {
					broken = true
					break
				}
				if specExt(ev.Name) && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
					schedule(ev.Name)
				}
			case werr, ok := <-fw.Errors:
				if !ok {
					broken = true
					break
				}
				if werr != nil {
					w.log.Warn("spec watch error", logx.String("dir", w.dir), logx.Err(werr))
				}
			}
		}

		_ = fw.Close()
		if ctx.Err() != nil {
			return nil
		}
		w.log.Warn("spec watcher stopped; restarting", logx.String("dir", w.dir))
		if !wait() {
			return nil
		}
	}
}

func (w *Watcher) reload(path string, onChange func(string, []lifecycle.Definition)) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Deleted spec: forget its hash so a recreate always reloads.
			w.mu.Lock()
			delete(w.lastHash, path)
			w.mu.Unlock()
			return
		}
		w.log.Warn("spec read failed", logx.String("path", path), logx.Err(err))
		return
	}

	h := hashBytes(b)
	w.mu.Lock()
	unchanged := h != 0 && h == w.lastHash[path]
	w.mu.Unlock()
	if unchanged {
		w.log.Debug("spec unchanged; skipping", logx.String("path", path))
		return
	}

	f, err := Parse(path, b)
	if err != nil {
		w.log.Warn("spec parse failed", logx.String("path", path), logx.Err(err))
		return
	}
	defs, err := f.Resolve(w.opts)
	if err != nil {
		w.log.Warn("spec rejected", logx.String("path", path), logx.Err(err))
		return
	}

	w.mu.Lock()
	w.lastHash[path] = h
	w.mu.Unlock()

	w.log.Info("spec reloaded", logx.String("path", path), logx.Int("services", len(defs)))
	onChange(path, defs)
}

func specExt(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}
