package storage

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// FilesystemProvider is the default Provider backend. Keys map directly
// onto relative file paths under root, so a key of the form
// "category/session/000001_stage.json" produces exactly the
// human-readable, directly-inspectable directory layout this engine's
// checkpoint store is required to use.
type FilesystemProvider struct {
	root string
	mu   sync.Mutex
}

// NewFilesystemProvider creates a FilesystemProvider rooted at dir,
// creating it if necessary.
func NewFilesystemProvider(dir string) (*FilesystemProvider, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root %q: %w", dir, err)
	}
	return &FilesystemProvider{root: dir}, nil
}

func (f *FilesystemProvider) path(key string) string {
	return filepath.Join(f.root, filepath.FromSlash(key))
}

func (f *FilesystemProvider) Get(ctx context.Context, key string) (string, bool, error) {
	b, err := os.ReadFile(f.path(key))
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("storage: read %q: %w", key, err)
	}
	return string(b), true, nil
}

func (f *FilesystemProvider) Set(ctx context.Context, key string, value string) error {
	p := f.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir for %q: %w", key, err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, []byte(value), 0o644); err != nil {
		return fmt.Errorf("storage: write %q: %w", key, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return fmt.Errorf("storage: finalize %q: %w", key, err)
	}
	return nil
}

func (f *FilesystemProvider) Del(ctx context.Context, key string) error {
	if err := os.Remove(f.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: delete %q: %w", key, err)
	}
	return nil
}

func (f *FilesystemProvider) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(f.path(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (f *FilesystemProvider) ListPrefix(ctx context.Context, prefix string) ([]string, error) {
	root := f.path(prefix)
	var out []string
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipDir
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		if strings.HasSuffix(p, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("storage: list prefix %q: %w", prefix, err)
	}
	sort.Strings(out)
	return out, nil
}

// Sorted indexes are kept as a flat-text sidecar file under
// _indexes/<name>.idx, one "score\tkey" line per entry. This is
// sufficient for the data volumes a single engine instance handles and
// keeps the default backend dependency-free.

func (f *FilesystemProvider) indexPath(name string) string {
	return filepath.Join(f.root, "_indexes", name+".idx")
}

func (f *FilesystemProvider) readIndex(name string) (map[string]float64, error) {
	p := f.indexPath(name)
	file, err := os.Open(p)
	if os.IsNotExist(err) {
		return map[string]float64{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	entries := make(map[string]float64)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			continue
		}
		score, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			continue
		}
		entries[parts[1]] = score
	}
	return entries, scanner.Err()
}

func (f *FilesystemProvider) writeIndex(name string, entries map[string]float64) error {
	p := f.indexPath(name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	var b strings.Builder
	for key, score := range entries {
		fmt.Fprintf(&b, "%g\t%s\n", score, key)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

func (f *FilesystemProvider) AddToIndex(ctx context.Context, indexName, key string, score float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.readIndex(indexName)
	if err != nil {
		return fmt.Errorf("storage: read index %q: %w", indexName, err)
	}
	entries[key] = score
	return f.writeIndex(indexName, entries)
}

func (f *FilesystemProvider) RemoveFromIndex(ctx context.Context, indexName, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.readIndex(indexName)
	if err != nil {
		return fmt.Errorf("storage: read index %q: %w", indexName, err)
	}
	delete(entries, key)
	return f.writeIndex(indexName, entries)
}

func (f *FilesystemProvider) ListByScoreDesc(ctx context.Context, indexName string, limit int) ([]string, error) {
	f.mu.Lock()
	entries, err := f.readIndex(indexName)
	f.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("storage: read index %q: %w", indexName, err)
	}

	type scored struct {
		key   string
		score float64
	}
	all := make([]scored, 0, len(entries))
	for k, s := range entries {
		all = append(all, scored{k, s})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].score > all[j].score })

	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	out := make([]string, len(all))
	for i, s := range all {
		out[i] = s.key
	}
	return out, nil
}
