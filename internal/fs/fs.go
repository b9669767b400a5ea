package fs

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kakaiking/anita/internal/logger"
)

// FileInfo is the metadata surfaced for a single directory entry.
type FileInfo struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// FileSystem abstracts workspace file access so sessions can run against
// a real directory or an in-memory fake.
type FileSystem interface {
	// ReadFile reads the entire file.
	ReadFile(ctx context.Context, path string) ([]byte, error)
	// WriteFile writes data to a file, creating parent directories.
	WriteFile(ctx context.Context, path string, data []byte) error
	// Stat returns file metadata.
	Stat(ctx context.Context, path string) (*FileInfo, error)
	// ListDir lists direct children of a directory.
	ListDir(ctx context.Context, path string) ([]*FileInfo, error)
	// Exists reports whether a path exists.
	Exists(ctx context.Context, path string) (bool, error)
	// MkdirAll creates a directory and its parents.
	MkdirAll(ctx context.Context, path string, perm os.FileMode) error
	// FindByName returns workspace-relative paths of files whose base
	// name matches name. Used to suggest the intended target when a
	// write names a file that does not exist.
	FindByName(ctx context.Context, name string) ([]string, error)
}

// skipDirs are never descended into during a name search.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"dist":         true,
	"build":        true,
	".next":        true,
	"vendor":       true,
}

// WorkspaceFS is a FileSystem rooted at a workspace directory, with a
// directory listing cache invalidated by filesystem events.
type WorkspaceFS struct {
	root      string
	cache     map[string]*listCacheEntry
	cacheMu   sync.RWMutex
	cacheTTL  time.Duration
	cacheCap  int
	watcher   *fsnotify.Watcher
	stopWatch chan struct{}
}

type listCacheEntry struct {
	entries []*FileInfo
	loaded  time.Time
}

// NewWorkspaceFS creates a filesystem rooted at root. Listings are cached
// for ttl and dropped early when the watcher reports a change in the
// directory.
func NewWorkspaceFS(root string, ttl time.Duration, cacheCap int) *WorkspaceFS {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("workspace fs: file watcher unavailable: %v", err)
		watcher = nil
	}

	wfs := &WorkspaceFS{
		root:      root,
		cache:     make(map[string]*listCacheEntry),
		cacheTTL:  ttl,
		cacheCap:  cacheCap,
		watcher:   watcher,
		stopWatch: make(chan struct{}),
	}

	if watcher != nil {
		go wfs.watchEvents()
	}

	return wfs
}

// Root returns the workspace root directory.
func (wfs *WorkspaceFS) Root() string {
	return wfs.root
}

// Close stops the watcher goroutine.
func (wfs *WorkspaceFS) Close() error {
	close(wfs.stopWatch)
	if wfs.watcher != nil {
		return wfs.watcher.Close()
	}
	return nil
}

func (wfs *WorkspaceFS) watchEvents() {
	for {
		select {
		case <-wfs.stopWatch:
			return
		case event, ok := <-wfs.watcher.Events:
			if !ok {
				return
			}
			wfs.invalidate(filepath.Dir(event.Name))
		case err, ok := <-wfs.watcher.Errors:
			if !ok {
				return
			}
			logger.Error("workspace fs: watcher error: %v", err)
		}
	}
}

func (wfs *WorkspaceFS) invalidate(absDir string) {
	wfs.cacheMu.Lock()
	delete(wfs.cache, absDir)
	wfs.cacheMu.Unlock()
}

func (wfs *WorkspaceFS) abs(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(wfs.root, path)
}

func (wfs *WorkspaceFS) ReadFile(ctx context.Context, path string) ([]byte, error) {
	// Reads always go to disk; only listings are cached.
	return os.ReadFile(wfs.abs(path))
}

func (wfs *WorkspaceFS) WriteFile(ctx context.Context, path string, data []byte) error {
	abs := wfs.abs(path)

	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return err
	}

	wfs.invalidate(dir)
	wfs.watch(dir)
	return nil
}

func (wfs *WorkspaceFS) Stat(ctx context.Context, path string) (*FileInfo, error) {
	abs := wfs.abs(path)
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	return &FileInfo{
		Name:    filepath.Base(abs),
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}, nil
}

func (wfs *WorkspaceFS) ListDir(ctx context.Context, path string) ([]*FileInfo, error) {
	abs := wfs.abs(path)

	wfs.cacheMu.RLock()
	if entry, ok := wfs.cache[abs]; ok && time.Since(entry.loaded) < wfs.cacheTTL {
		wfs.cacheMu.RUnlock()
		return entry.entries, nil
	}
	wfs.cacheMu.RUnlock()

	dirEntries, err := os.ReadDir(abs)
	if err != nil {
		return nil, err
	}

	result := make([]*FileInfo, 0, len(dirEntries))
	for _, de := range dirEntries {
		info, err := de.Info()
		if err != nil {
			continue
		}
		result = append(result, &FileInfo{
			Name:    de.Name(),
			Path:    filepath.Join(path, de.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			IsDir:   de.IsDir(),
		})
	}

	wfs.storeListing(abs, result)
	wfs.watch(abs)
	return result, nil
}

func (wfs *WorkspaceFS) storeListing(abs string, entries []*FileInfo) {
	wfs.cacheMu.Lock()
	defer wfs.cacheMu.Unlock()

	if wfs.cacheCap > 0 && len(wfs.cache) >= wfs.cacheCap {
		var oldestKey string
		var oldest time.Time
		for key, entry := range wfs.cache {
			if oldestKey == "" || entry.loaded.Before(oldest) {
				oldestKey = key
				oldest = entry.loaded
			}
		}
		delete(wfs.cache, oldestKey)
	}

	wfs.cache[abs] = &listCacheEntry{entries: entries, loaded: time.Now()}
}

func (wfs *WorkspaceFS) watch(absDir string) {
	if wfs.watcher == nil {
		return
	}
	if err := wfs.watcher.Add(absDir); err != nil {
		logger.Warn("workspace fs: cannot watch %s: %v", absDir, err)
	}
}

func (wfs *WorkspaceFS) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(wfs.abs(path))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (wfs *WorkspaceFS) MkdirAll(ctx context.Context, path string, perm os.FileMode) error {
	return os.MkdirAll(wfs.abs(path), perm)
}

func (wfs *WorkspaceFS) FindByName(ctx context.Context, name string) ([]string, error) {
	var matches []string

	err := filepath.WalkDir(wfs.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() == name {
			rel, relErr := filepath.Rel(wfs.root, path)
			if relErr != nil {
				rel = path
			}
			matches = append(matches, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// MemFS is an in-memory FileSystem for tests.
type MemFS struct {
	files map[string][]byte
	dirs  map[string]bool
	mu    sync.RWMutex
}

func NewMemFS() *MemFS {
	return &MemFS{
		files: make(map[string][]byte),
		dirs:  map[string]bool{".": true},
	}
}

func (m *MemFS) ReadFile(ctx context.Context, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.files[normalize(path)]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

func (m *MemFS) WriteFile(ctx context.Context, path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path = normalize(path)
	m.files[path] = data
	for dir := filepath.Dir(path); dir != "." && dir != "/" && dir != ""; dir = filepath.Dir(dir) {
		m.dirs[dir] = true
	}
	return nil
}

func (m *MemFS) Stat(ctx context.Context, path string) (*FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	path = normalize(path)
	if m.dirs[path] {
		return &FileInfo{Name: filepath.Base(path), Path: path, IsDir: true, ModTime: time.Now()}, nil
	}
	data, ok := m.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return &FileInfo{
		Name:    filepath.Base(path),
		Path:    path,
		Size:    int64(len(data)),
		ModTime: time.Now(),
	}, nil
}

func (m *MemFS) ListDir(ctx context.Context, path string) ([]*FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	path = normalize(path)
	if !m.dirs[path] {
		return nil, os.ErrNotExist
	}

	prefix := ""
	if path != "." {
		prefix = path + "/"
	}

	seen := make(map[string]bool)
	var entries []*FileInfo
	for filePath, data := range m.files {
		if prefix != "" && !strings.HasPrefix(filePath, prefix) {
			continue
		}
		rel := strings.TrimPrefix(filePath, prefix)
		if idx := strings.IndexByte(rel, '/'); idx >= 0 {
			sub := rel[:idx]
			subPath := sub
			if prefix != "" {
				subPath = prefix + sub
			}
			if !seen[subPath] {
				seen[subPath] = true
				entries = append(entries, &FileInfo{Name: sub, Path: subPath, IsDir: true, ModTime: time.Now()})
			}
			continue
		}
		if !seen[filePath] {
			seen[filePath] = true
			entries = append(entries, &FileInfo{
				Name:    rel,
				Path:    filePath,
				Size:    int64(len(data)),
				ModTime: time.Now(),
			})
		}
	}
	return entries, nil
}

func (m *MemFS) Exists(ctx context.Context, path string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	path = normalize(path)
	if _, ok := m.files[path]; ok {
		return true, nil
	}
	return m.dirs[path], nil
}

func (m *MemFS) MkdirAll(ctx context.Context, path string, perm os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path = normalize(path)
	for dir := path; dir != "." && dir != "/" && dir != ""; dir = filepath.Dir(dir) {
		m.dirs[dir] = true
	}
	return nil
}

func (m *MemFS) FindByName(ctx context.Context, name string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []string
	for filePath := range m.files {
		if filepath.Base(filePath) == name {
			matches = append(matches, filePath)
		}
	}
	return matches, nil
}

func normalize(path string) string {
	path = filepath.ToSlash(path)
	path = strings.TrimPrefix(path, "./")
	if path == "" {
		return "."
	}
	return strings.TrimSuffix(path, "/")
}
