// Package freshness selects manifest entries whose public file was modified
// within a recent window.
package freshness

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/keithlinneman/s3deploy/internal/log"
	"github.com/keithlinneman/s3deploy/internal/xerrors"
)

// DefaultWindow is the 24 hour freshness window.
const DefaultWindow = 24 * time.Hour

var ErrMetadataUnavailable = errors.New("file metadata unavailable")

type Filter struct {
	fs     afero.Fs
	now    func() time.Time
	window time.Duration
}

type Option func(*Filter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(f *Filter) { f.now = now }
}

// WithWindow overrides DefaultWindow. Non-positive values are ignored.
func WithWindow(d time.Duration) Option {
	return func(f *Filter) {
		if d > 0 {
			f.window = d
		}
	}
}

func New(fsys afero.Fs, opts ...Option) *Filter {
	f := &Filter{fs: fsys, now: time.Now, window: DefaultWindow}
	for _, o := range opts {
		o(f)
	}
	return f
}

// PublicPath returns where the file for a manifest name lives.
func PublicPath(root, name string) string {
	return filepath.Join(root, "public", name)
}

// Modified maps each fresh regular file's manifest name to its local path.
// The first stat failure aborts the whole pass. Directories are skipped.
// A later duplicate name overwrites an earlier one.
func (f *Filter) Modified(ctx context.Context, root string, names []string) (map[string]string, error) {
	ctx = log.WithFields(ctx, "root", root)
	L := log.FromContext(ctx)
	now := f.now()
	out := make(map[string]string, len(names))

	for _, name := range names {
		if hasDotSegments(name) {
			L.Warn(ctx, "manifest entry has dot segments", "name", name)
		}
		p := PublicPath(root, name)
		info, err := f.fs.Stat(p)
		if err != nil {
			return nil, xerrors.Wrapf(xerrors.Mark(err, ErrMetadataUnavailable), "stat %s", p)
		}
		if !info.Mode().IsRegular() {
			L.Debug(ctx, "skipping non-regular file", "name", name, "mode", info.Mode().String())
			continue
		}
		if !f.fresh(now, info.ModTime()) {
			continue
		}
		out[name] = p
	}
	return out, nil
}

// fresh clamps clock skew (mtime in the future) to zero elapsed
func (f *Filter) fresh(now, mtime time.Time) bool {
	elapsed := now.Sub(mtime)
	if elapsed < 0 {
		elapsed = 0
	}
	return elapsed < f.window
}

// SortedNames returns the keys of a Modified result in lexicographic order.
func SortedNames(files map[string]string) []string {
	names := make([]string, 0, len(files))
	for n := range files {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// hasDotSegments reports whether any slash separated segment is "." or "..".
func hasDotSegments(name string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(name), "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}
