package assign

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// TemplateRegistry answers whether a named message template exists.
type TemplateRegistry interface {
	Exists(ctx context.Context, name string) (bool, error)
}

// DirRegistry treats every file in a directory as a template named after the
// file without its extension. The directory is indexed on first use; a
// missing directory holds no templates.
type DirRegistry struct {
	dir string

	once  sync.Once
	names map[string]bool
	err   error
}

// NewDirRegistry creates a registry over dir.
func NewDirRegistry(dir string) *DirRegistry {
	return &DirRegistry{dir: dir}
}

func (r *DirRegistry) load() {
	entries, err := os.ReadDir(r.dir)
	if errors.Is(err, fs.ErrNotExist) {
		r.names = map[string]bool{}
		return
	}
	if err != nil {
		r.err = fmt.Errorf("reading template dir: %w", err)
		return
	}
	r.names = make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		r.names[strings.ToLower(name)] = true
	}
}

// Exists reports whether a template file with the given base name exists.
// Names are matched case-insensitively.
func (r *DirRegistry) Exists(_ context.Context, name string) (bool, error) {
	r.once.Do(r.load)
	if r.err != nil {
		return false, r.err
	}
	return r.names[strings.ToLower(name)], nil
}
