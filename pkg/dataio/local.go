package dataio

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"delta/pkg/actions"
	"delta/pkg/iface"
)

// LocalEngine serves a table rooted on the local filesystem. Commit atomicity
// comes from hard-linking a fully written temp file into place: link fails
// when the target exists.
type LocalEngine struct{}

func NewLocalEngine() *LocalEngine {
	return &LocalEngine{}
}

func (e *LocalEngine) ListFrom(startPath string) ([]iface.FileStatus, error) {
	dir := filepath.Dir(startPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, iface.ErrFileNotFound
		}
		return nil, errors.Wrapf(err, "listing %s", dir)
	}
	var result []iface.FileStatus
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		full := filepath.Join(dir, entry.Name())
		if full < startPath {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, errors.Wrapf(err, "stat %s", full)
		}
		result = append(result, iface.FileStatus{
			Path:    full,
			Size:    info.Size(),
			ModTime: info.ModTime().UnixMilli(),
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Path < result[j].Path })
	return result, nil
}

func (e *LocalEngine) ReadJSON(files []iface.FileStatus, projection actions.Projection) (iface.BatchIterator, error) {
	batches := make([]*iface.Batch, 0, len(files))
	for _, file := range files {
		raw, err := os.ReadFile(file.Path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, iface.ErrFileNotFound
			}
			return nil, errors.Wrapf(err, "reading %s", file.Path)
		}
		batch, err := decodeBatch(file, raw, projection)
		if err != nil {
			return nil, errors.Wrapf(err, "decoding %s", file.Path)
		}
		batches = append(batches, batch)
	}
	return &batchIterator{batches: batches}, nil
}

func (e *LocalEngine) WriteJSONAtomically(path string, iter actions.Iterator, overwrite bool) error {
	content, err := encodeAll(iter)
	if err != nil {
		return err
	}
	if overwrite {
		return errors.Wrapf(os.WriteFile(path, content, 0o644), "writing %s", path)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), fmt.Sprintf(".%s.tmp-*", filepath.Base(path)))
	if err != nil {
		return errors.Wrapf(err, "creating temp for %s", path)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err = tmp.Write(content); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "writing temp for %s", path)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "syncing temp for %s", path)
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrapf(err, "closing temp for %s", path)
	}
	if err = os.Link(tmpName, path); err != nil {
		if os.IsExist(err) {
			return iface.ErrFileAlreadyExists
		}
		return errors.Wrapf(err, "linking %s", path)
	}
	return nil
}

// ReadFile reads a raw object, checksum records go through this.
func (e *LocalEngine) ReadFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, iface.ErrFileNotFound
		}
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return raw, nil
}

// WriteFile writes a raw object, last writer wins.
func (e *LocalEngine) WriteFile(path string, content []byte) error {
	return errors.Wrapf(os.WriteFile(path, content, 0o644), "writing %s", path)
}

func (e *LocalEngine) Mkdirs(path string) (bool, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return false, errors.Wrapf(err, "mkdirs %s", path)
	}
	return true, nil
}
