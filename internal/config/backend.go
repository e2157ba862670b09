package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ConfigBackend is where `cadence config set` persists values.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	Delete(key string) error
}

// yamlFile is a YAML mapping read whole and rewritten whole on every change.
type yamlFile struct {
	path string
	data map[string]any
}

// readYAMLFile returns an empty mapping when path does not exist.
func readYAMLFile(path string) (*yamlFile, error) {
	f := &yamlFile{path: path, data: map[string]any{}}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return f, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &f.data); err != nil {
		return f, fmt.Errorf("parsing %s: %w", path, err)
	}
	if f.data == nil {
		f.data = map[string]any{}
	}
	return f, nil
}

func (f *yamlFile) write() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(f.path), err)
	}
	out, err := yaml.Marshal(f.data)
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, out, 0o600)
}

// fileBackend keeps flat `key: value` pairs in config.yaml under the
// platform config directory.
type fileBackend struct {
	file *yamlFile
}

func newPlatformBackend() ConfigBackend {
	return newFileBackend(configFilePath())
}

func newFileBackend(path string) *fileBackend {
	f, err := readYAMLFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] %v. Using default values.\n", err)
	}
	return &fileBackend{file: f}
}

func (b *fileBackend) GetString(key string) (string, bool, error) {
	v, ok := b.file.data[key]
	if !ok || v == nil {
		return "", false, nil
	}
	if s, ok := v.(string); ok {
		return s, true, nil
	}
	return fmt.Sprint(v), true, nil
}

func (b *fileBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.file.data[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch n := v.(type) {
	case int:
		return n, true, nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
		}
		return i, true, nil
	default:
		return 0, true, fmt.Errorf("%s: want an integer, got %v", key, v)
	}
}

func (b *fileBackend) SetString(key, val string) error {
	b.file.data[key] = val
	return b.file.write()
}

func (b *fileBackend) SetInt(key string, val int) error {
	b.file.data[key] = val
	return b.file.write()
}

func (b *fileBackend) Delete(key string) error {
	if _, ok := b.file.data[key]; !ok {
		return nil
	}
	delete(b.file.data, key)
	return b.file.write()
}
