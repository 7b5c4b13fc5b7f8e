package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/slipbox/internal/apperr"
	"github.com/starford/slipbox/internal/checksum"
	"github.com/starford/slipbox/internal/models"
)

const (
	fileExt        = ".json"
	tmpPrefix      = ".slipbox-tmp-"
	reloadDebounce = 50 * time.Millisecond
)

type document struct {
	Scope string        `json:"scope"`
	Notes []models.Note `json:"notes"`
}

// File is a Provider that keeps one JSON document per scope in a directory.
// Writes are atomic (temp file, fsync, rename). Changes made to a document
// by another process are picked up with fsnotify and delivered to
// subscribers; the provider's own writes are recognised by checksum and not
// echoed back.
type File struct {
	root   string
	logger *slog.Logger
	subs   subscribers

	mu      sync.Mutex
	written map[string]string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

var _ Provider = (*File)(nil)

// OpenFile opens a file provider rooted at dir, creating it if needed.
func OpenFile(dir string, logger *slog.Logger) (*File, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: mkdir root: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("storage: watcher: %w", err)
	}
	if err := w.Add(abs); err != nil {
		w.Close()
		return nil, fmt.Errorf("storage: watch %s: %w", abs, err)
	}

	f := &File{
		root:    abs,
		logger:  logger,
		written: make(map[string]string),
		watcher: w,
		done:    make(chan struct{}),
	}
	go f.watch()
	return f, nil
}

// Close stops the watcher.
func (f *File) Close() error {
	err := f.watcher.Close()
	<-f.done
	return err
}

func (f *File) path(scope string) (string, error) {
	if err := validScope(scope); err != nil {
		return "", err
	}
	return filepath.Join(f.root, scope+fileExt), nil
}

// read returns the notes of scope and the raw document bytes. A missing
// document is an empty scope.
func (f *File) read(scope string) ([]models.Note, []byte, error) {
	p, err := f.path(scope)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return []models.Note{}, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("storage: read %s: %w", scope, err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("storage: decode %s: %w", scope, err)
	}
	for i := range doc.Notes {
		n := &doc.Notes[i]
		if n.Links.Anterior == nil {
			n.Links.Anterior = models.IDSet{}
		}
		if n.Links.Posterior == nil {
			n.Links.Posterior = models.IDSet{}
		}
		if n.Tags == nil {
			n.Tags = []string{}
		}
	}
	return doc.Notes, data, nil
}

// Load returns every note of scope.
func (f *File) Load(_ context.Context, scope string) ([]models.Note, error) {
	notes, _, err := f.read(scope)
	return notes, err
}

// Subscribe registers fn for snapshots of scope written by other processes.
func (f *File) Subscribe(scope string, fn SnapshotFunc) (func(), error) {
	if err := validScope(scope); err != nil {
		return nil, err
	}
	return f.subs.add(scope, fn), nil
}

// mutate applies fn to the current document of scope and writes the result.
func (f *File) mutate(ctx context.Context, scope string, fn func([]models.Note) ([]models.Note, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	notes, _, err := f.read(scope)
	if err != nil {
		return err
	}
	notes, err = fn(notes)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(document{Scope: scope, Notes: notes}, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", scope, err)
	}
	p, _ := f.path(scope)
	if err := writeAtomic(p, data); err != nil {
		return err
	}
	f.written[scope] = checksum.Sum(data)
	return nil
}

func find(notes []models.Note, id string) int {
	return slices.IndexFunc(notes, func(n models.Note) bool { return n.ID == id })
}

// Create appends n to scope.
func (f *File) Create(ctx context.Context, scope string, n models.Note) error {
	return f.mutate(ctx, scope, func(notes []models.Note) ([]models.Note, error) {
		if find(notes, n.ID) >= 0 {
			return nil, fmt.Errorf("storage: create %s: duplicate id", n.ID)
		}
		n = n.Clone()
		if n.Links.Anterior == nil || n.Links.Posterior == nil {
			n.Links = models.NewLinks()
		}
		return append(notes, n), nil
	})
}

// UpdateContent replaces content and tags of id.
func (f *File) UpdateContent(ctx context.Context, scope, id, content string, tags []string) error {
	return f.mutate(ctx, scope, func(notes []models.Note) ([]models.Note, error) {
		i := find(notes, id)
		if i < 0 {
			return nil, fmt.Errorf("storage: update %s: %w", id, apperr.ErrNotFound)
		}
		notes[i].Content = content
		notes[i].Tags = nonNil(slices.Clone(tags))
		return notes, nil
	})
}

// Delete removes id and strips it from every other note.
func (f *File) Delete(ctx context.Context, scope, id string) error {
	return f.mutate(ctx, scope, func(notes []models.Note) ([]models.Note, error) {
		i := find(notes, id)
		if i < 0 {
			return nil, fmt.Errorf("storage: delete %s: %w", id, apperr.ErrNotFound)
		}
		notes = slices.Delete(notes, i, i+1)
		for _, n := range notes {
			n.Links.Anterior.Remove(id)
			n.Links.Posterior.Remove(id)
		}
		return notes, nil
	})
}

// Link records the link on both endpoints.
func (f *File) Link(ctx context.Context, scope, source, target string, dir models.Direction) error {
	if source == target || !dir.Valid() {
		return fmt.Errorf("storage: link %s -> %s: %w", source, target, apperr.ErrInvalidLink)
	}
	return f.setLink(ctx, scope, source, target, dir, true)
}

// Unlink removes the link from both endpoints.
func (f *File) Unlink(ctx context.Context, scope, source, target string, dir models.Direction) error {
	if !dir.Valid() {
		return fmt.Errorf("storage: unlink %s -> %s: %w", source, target, apperr.ErrInvalidLink)
	}
	return f.setLink(ctx, scope, source, target, dir, false)
}

func (f *File) setLink(ctx context.Context, scope, source, target string, dir models.Direction, add bool) error {
	from, to := orient(source, target, dir)
	return f.mutate(ctx, scope, func(notes []models.Note) ([]models.Note, error) {
		i, j := find(notes, from), find(notes, to)
		if i < 0 || j < 0 {
			return nil, fmt.Errorf("storage: link %s -> %s: %w", source, target, apperr.ErrNotFound)
		}
		if add {
			notes[i].Links.Posterior.Add(to)
			notes[j].Links.Anterior.Add(from)
		} else {
			notes[i].Links.Posterior.Remove(to)
			notes[j].Links.Anterior.Remove(from)
		}
		return notes, nil
	})
}

// watch turns directory events into snapshots for subscribed scopes until
// the watcher is closed. Bursts of events are coalesced per scope.
func (f *File) watch() {
	defer close(f.done)

	pending := make(map[string]struct{})
	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Base(ev.Name)
			if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileExt) {
				continue
			}
			scope := strings.TrimSuffix(name, fileExt)
			if !f.subs.has(scope) {
				continue
			}
			pending[scope] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				timerC = timer.C
			} else {
				timer.Reset(reloadDebounce)
			}

		case <-timerC:
			for scope := range pending {
				f.reload(scope)
			}
			clear(pending)

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Error("storage: watcher error", slog.String("error", err.Error()))
		}
	}
}

// reload publishes the document of scope unless it is the provider's own
// last write.
func (f *File) reload(scope string) {
	f.mu.Lock()
	notes, data, err := f.read(scope)
	own := data != nil && checksum.Sum(data) == f.written[scope]
	f.mu.Unlock()

	if err != nil {
		f.logger.Warn("storage: reload failed", slog.String("scope", scope), slog.String("error", err.Error()))
		return
	}
	if own {
		return
	}
	f.logger.Debug("storage: external change", slog.String("scope", scope), slog.Int("notes", len(notes)))
	f.subs.publish(scope, notes)
}

// writeAtomic writes data to path via temp file, fsync and rename.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}
