// Package fsres resolves resources against a directory tree.
//
// Locators are slash-separated paths relative to the root directory. A
// resource's name is its base name without extension. Handles are
// device/inode pairs on unix, so a file renamed or moved inside the root is
// found again by ResolveHandle.
package fsres

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/roach88/oproxy/internal/resource"
)

// Resolver resolves locators under Root.
type Resolver struct {
	root   string
	logger *slog.Logger
}

// New returns a resolver rooted at dir. The directory must exist.
func New(dir string, logger *slog.Logger) (*Resolver, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat root %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", abs)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{root: abs, logger: logger}, nil
}

// Root returns the absolute root directory.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve implements resource.Resolver.
func (r *Resolver) Resolve(locator string) (resource.Resource, bool) {
	rel, ok := r.clean(locator)
	if !ok {
		return nil, false
	}
	full := filepath.Join(r.root, filepath.FromSlash(rel))
	h, err := fileHandle(full)
	if err != nil {
		return nil, false
	}
	return &file{r: r, rel: rel, handle: h}, true
}

// ResolveHandle implements resource.Resolver by walking the root for a
// file with the same identity.
func (r *Resolver) ResolveHandle(handle string) (resource.Resource, bool) {
	if handle == "" {
		return nil, false
	}
	var found string
	errFound := errors.New("found")
	err := filepath.WalkDir(r.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		h, herr := fileHandle(p)
		if herr != nil || h != handle {
			return nil
		}
		rel, rerr := filepath.Rel(r.root, p)
		if rerr != nil {
			return nil
		}
		found = filepath.ToSlash(rel)
		return errFound
	})
	if err != nil && !errors.Is(err, errFound) {
		r.logger.Warn("walk failed while resolving handle", "handle", handle, "error", err)
	}
	if found == "" || found == "." {
		return nil, false
	}
	return &file{r: r, rel: found, handle: handle}, true
}

// clean normalizes a locator and rejects anything escaping the root.
func (r *Resolver) clean(locator string) (string, bool) {
	if locator == "" {
		return "", false
	}
	rel := path.Clean(strings.TrimPrefix(filepath.ToSlash(locator), "/"))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}

type file struct {
	r      *Resolver
	rel    string
	handle string
}

func (f *file) full() string {
	return filepath.Join(f.r.root, filepath.FromSlash(f.rel))
}

func (f *file) Valid() bool {
	h, err := fileHandle(f.full())
	return err == nil && h == f.handle
}

func (f *file) Name() string    { return resource.BaseName(f.rel) }
func (f *file) Locator() string { return f.rel }
func (f *file) Handle() string  { return f.handle }

func (f *file) Text() (string, error) {
	data, err := os.ReadFile(f.full())
	if err != nil {
		return "", fmt.Errorf("read %s: %w", f.rel, err)
	}
	return string(data), nil
}

func (f *file) Attr(name string) (any, bool) {
	switch name {
	case "name":
		return f.Name(), true
	case "locator":
		return f.rel, true
	case "ext":
		return strings.TrimPrefix(filepath.Ext(f.rel), "."), true
	}
	info, err := os.Stat(f.full())
	if err != nil {
		return nil, false
	}
	switch name {
	case "size":
		return info.Size(), true
	case "mod_time":
		return info.ModTime().Unix(), true
	case "is_dir":
		return info.IsDir(), true
	}
	return nil, false
}
