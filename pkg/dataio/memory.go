package dataio

import (
	"sort"
	"strings"
	"sync"

	"delta/pkg/actions"
	"delta/pkg/iface"
)

type memFile struct {
	content []byte
	modTime int64
}

// MemEngine is an in-memory engine. Put-if-absent runs under one lock, so
// concurrent committers race exactly like they would against an object store
// with conditional puts.
type MemEngine struct {
	mu    sync.Mutex
	files map[string]*memFile
	dirs  map[string]bool
	now   int64
}

func NewMemEngine() *MemEngine {
	return &MemEngine{
		files: make(map[string]*memFile),
		dirs:  make(map[string]bool),
	}
}

func (e *MemEngine) tick() int64 {
	e.now++
	return e.now
}

func parentDir(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return ""
	}
	return path[:idx]
}

func (e *MemEngine) ListFrom(startPath string) ([]iface.FileStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	dir := parentDir(startPath)
	if !e.dirs[dir] {
		return nil, iface.ErrFileNotFound
	}
	var result []iface.FileStatus
	for path, file := range e.files {
		if parentDir(path) != dir || path < startPath {
			continue
		}
		result = append(result, iface.FileStatus{
			Path:    path,
			Size:    int64(len(file.content)),
			ModTime: file.modTime,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Path < result[j].Path })
	return result, nil
}

func (e *MemEngine) ReadJSON(files []iface.FileStatus, projection actions.Projection) (iface.BatchIterator, error) {
	e.mu.Lock()
	raws := make([][]byte, 0, len(files))
	for _, file := range files {
		mf, ok := e.files[file.Path]
		if !ok {
			e.mu.Unlock()
			return nil, iface.ErrFileNotFound
		}
		raws = append(raws, mf.content)
	}
	e.mu.Unlock()

	batches := make([]*iface.Batch, 0, len(files))
	for i, file := range files {
		batch, err := decodeBatch(file, raws[i], projection)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return &batchIterator{batches: batches}, nil
}

func (e *MemEngine) WriteJSONAtomically(path string, iter actions.Iterator, overwrite bool) error {
	content, err := encodeAll(iter)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.files[path]; exists && !overwrite {
		return iface.ErrFileAlreadyExists
	}
	e.files[path] = &memFile{content: content, modTime: e.tick()}
	e.dirs[parentDir(path)] = true
	return nil
}

func (e *MemEngine) Mkdirs(path string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dirs[path] = true
	return true, nil
}

func (e *MemEngine) ReadFile(path string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f, ok := e.files[path]
	if !ok {
		return nil, iface.ErrFileNotFound
	}
	return f.content, nil
}

func (e *MemEngine) WriteFile(path string, content []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.files[path] = &memFile{content: content, modTime: e.tick()}
	e.dirs[parentDir(path)] = true
	return nil
}

// SetModTime overrides a file's modification time, tests use it to control
// non-ICT commit timestamps.
func (e *MemEngine) SetModTime(path string, modTime int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if f, ok := e.files[path]; ok {
		f.modTime = modTime
	}
}

// Exists reports whether a path holds a file.
func (e *MemEngine) Exists(path string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.files[path]
	return ok
}
